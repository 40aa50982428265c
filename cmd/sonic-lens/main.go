package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	soniclens "github.com/vincentchyu/sonic-lens"
	"github.com/vincentchyu/sonic-lens/cache"
	"github.com/vincentchyu/sonic-lens/config"
	requestid "github.com/vincentchyu/sonic-lens/pkg/request-id"
	"github.com/vincentchyu/sonic-lens/store"
)

var (
	// CLI flags
	configFlag         string
	addrFlag           string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set at build time
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML config file (optional)")
	flag.StringVar(&addrFlag, "addr", "", "Address to listen on (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load configuration")
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if logFilenameFlag != "" {
		cfg.Log.File = logFilenameFlag
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := openCache(ctx, cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Cache.Provider).Msg("Cannot open cache")
	}
	executor, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Cannot open store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := soniclens.NewMetrics(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot register metrics")
	}

	dispatcher, err := soniclens.New(soniclens.Config{
		Executor:        executor,
		Cache:           provider,
		AllowedHosts:    cfg.Access.AllowedHosts,
		Logger:          &log.Logger,
		SyncCacheWrites: cfg.Cache.SyncWrites,
		CacheNamespace:  cfg.Cache.Namespace,
		Metrics:         metrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot create dispatcher")
	}

	if sweeper, ok := provider.(cache.Sweeper); ok && cfg.Cache.SweepInterval > 0 {
		go sweep(ctx, sweeper, cfg.Cache.SweepInterval)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiHandler(cfg.Server, dispatcher),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	ops := &http.Server{
		Addr:    cfg.Server.OpsAddr,
		Handler: opsHandler(reg),
	}

	go serve(ops, "ops")
	go serve(server, "api")
	log.Info().Str("addr", cfg.Server.Addr).Str("ops", cfg.Server.OpsAddr).Str("store", cfg.Store.Driver).Str("cache", cfg.Cache.Provider).Msg("Serving")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown")
	}
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ops server shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Pending cache writes were not drained")
	}
	if err := provider.Close(); err != nil {
		log.Error().Err(err).Msg("Cache close")
	}
	if err := executor.Close(); err != nil {
		log.Error().Err(err).Msg("Store close")
	}
}

func setupLogging(cfg config.LogConfig) {
	logLevel, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	if cfg.Format == "json" {
		logOutputs = append(logOutputs, os.Stdout)
	} else {
		logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	}
	if cfg.File != "" {
		if logFileOutput, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Provider, error) {
	switch cfg.Provider {
	case "memory":
		return cache.NewMemCache(), nil
	case "redis":
		return cache.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisPrefix)
	default:
		path := cfg.SQLitePath
		if path == "memory" {
			path = cache.MemoryDSN
		}
		return cache.NewSQLiteCache(path)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Executor, error) {
	if cfg.Driver == "d1" {
		return store.NewD1Executor(store.D1Config{
			AccountID:  cfg.D1AccountID,
			DatabaseID: cfg.D1DatabaseID,
			APIToken:   cfg.D1APIToken,
			BaseURL:    cfg.D1BaseURL,
			Timeout:    cfg.Timeout,
			Logger:     &log.Logger,
		})
	}
	path := cfg.SQLitePath
	if path == "memory" {
		path = ""
	}
	executor, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := executor.Migrate(ctx); err != nil {
			executor.Close()
			return nil, err
		}
	}
	return executor, nil
}

// apiHandler wraps the dispatcher with the transport middleware stack.
func apiHandler(cfg config.ServerConfig, dispatcher http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("request_id", requestid.FromContext(r.Context())).
			Msg("Access")
	}))
	r.Use(middleware.Recoverer)
	if cfg.HandlerTimeout > 0 {
		r.Use(middleware.Timeout(cfg.HandlerTimeout))
	}
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}
	r.Handle("/*", dispatcher)
	return r
}

// opsHandler serves health and metrics outside the referer gate.
func opsHandler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func serve(server *http.Server, name string) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Str("server", name).Msg("Listen failed")
	}
}

func sweep(ctx context.Context, sweeper cache.Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Cache sweep failed")
				continue
			}
			log.Trace().Int64("removed", n).Msg("Cache sweep")
		}
	}
}
