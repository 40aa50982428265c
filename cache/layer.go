// Package cache implements the cache-aside layer in front of the API handlers
// together with the stores it persists responses to.
package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	cachekey "github.com/vincentchyu/sonic-lens/pkg/cache-key"
	serializer "github.com/vincentchyu/sonic-lens/pkg/response-serializer"
	tee "github.com/vincentchyu/sonic-lens/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

const defaultWriteTimeout = 5 * time.Second

type LayerConfig struct {
	// Storage for cache entries.
	Provider Provider
	// Optional key namespace, see cachekey.CacheKeyer.
	Namespace string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Persist responses before returning from the handler instead of in the background.
	SyncWrites bool
	// Upper bound for a single store write. Defaults to five seconds.
	WriteTimeout time.Duration
	// Optional callback invoked with the outcome of every request.
	OnStatus func(CacheStatus)
	// Clock, defaults to time.Now.
	Now func() time.Time
}

// Layer wraps handlers with cache-aside behaviour.
// Only responses with status 200 are stored; everything else passes through untouched.
type Layer struct {
	provider     Provider
	keyer        cachekey.CacheKeyer
	log          zerolog.Logger
	syncWrites   bool
	writeTimeout time.Duration
	onStatus     func(CacheStatus)
	now          func() time.Time
	pending      sync.WaitGroup
}

func NewLayer(config LayerConfig) (*Layer, error) {
	if config.Provider == nil {
		return nil, errors.New("cache layer needs a provider")
	}
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "cache").Logger()

	l := &Layer{
		provider:     config.Provider,
		keyer:        cachekey.NewCacheKeyer(config.Namespace),
		log:          logger,
		syncWrites:   config.SyncWrites,
		writeTimeout: config.WriteTimeout,
		onStatus:     config.OnStatus,
		now:          config.Now,
	}
	if l.writeTimeout <= 0 {
		l.writeTimeout = defaultWriteTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Wrap returns a handler serving next through the cache.
// Fresh stored responses are replayed without invoking next. On a miss the
// response of next is sent to the client and, if its status is exactly 200,
// tagged with `Cache-Control: public, max-age=<ttl>` and stored.
func (l *Layer) Wrap(ttl time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cs CacheStatus
		defer func() {
			if l.onStatus != nil {
				l.onStatus(cs)
			}
		}()

		key := l.keyer.Key(r)
		logger := l.log.With().Str("key", key).Logger()

		stored, reason := l.lookup(r.Context(), logger, key)
		if reason == "" {
			cs.Hit()
			cs.Status(stored.Status)
			logger.Trace().Msg("Cache HIT")
			l.replay(w, stored, cs)
			return
		}
		cs.Forward(reason)
		logger.Trace().Str("reason", string(reason)).Msg("Cache MISS")

		rs := tee.NewResponseSaver(w, func(status int, h http.Header) {
			if status == http.StatusOK {
				h.Set("Cache-Control", PublicMaxAge(ttl))
			}
			cs.Status(status)
			// the header goes out before the write, so a 200 announces the store attempt
			sent := cs
			if status == http.StatusOK {
				sent.Stored()
			}
			h.Set(CacheStatusHeader, sent.String())
		})
		next.ServeHTTP(rs, r)
		rs.Finish()

		if rs.StatusCode() != http.StatusOK {
			logger.Trace().Int("status", rs.StatusCode()).Msg("Not caching non-200 response")
			return
		}
		sRes := serializer.StoredResponse{
			Status:   rs.StatusCode(),
			Header:   rs.SentHeader(),
			Body:     rs.Body(),
			StoredAt: l.now(),
			TTL:      ttl,
		}
		if l.persist(r.Context(), logger, key, sRes) {
			cs.Stored()
		}
	})
}

// lookup returns a fresh stored response, or the reason the request has to be forwarded.
// Store and decoding errors count as a miss.
func (l *Layer) lookup(ctx context.Context, logger zerolog.Logger, key string) (serializer.StoredResponse, FwdReason) {
	entry, ok, err := l.provider.Get(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not read from cache")
		return serializer.StoredResponse{}, FwdReasonMiss
	}
	if !ok {
		return serializer.StoredResponse{}, FwdReasonUriMiss
	}
	stored, err := serializer.BytesToStoredResponse(entry.Bytes)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not decode cached response")
		return serializer.StoredResponse{}, FwdReasonMiss
	}
	return stored, ""
}

func (l *Layer) replay(w http.ResponseWriter, stored serializer.StoredResponse, cs CacheStatus) {
	for name, values := range stored.Header {
		w.Header()[name] = values
	}
	w.Header().Set(CacheStatusHeader, cs.String())
	w.WriteHeader(stored.Status)
	if _, err := w.Write(stored.Body); err != nil {
		l.log.Debug().Err(err).Msg("Could not write cached response")
	}
}

// persist serializes the response and writes it to the provider, in the
// background unless sync writes are configured. It reports whether the
// write was performed or scheduled.
func (l *Layer) persist(ctx context.Context, logger zerolog.Logger, key string, sRes serializer.StoredResponse) bool {
	bts, err := serializer.StoredResponseToBytes(sRes)
	if err != nil {
		logger.Error().Err(err).Msg("Could not serialize response")
		return false
	}
	expires := sRes.Expires()
	if maxAge, ok := ParseCacheControl(sRes.Header.Get("Cache-Control")).MaxAge(); ok {
		expires = sRes.StoredAt.Add(maxAge)
	}
	entry := Entry{Key: key, Expires: expires, Bytes: bts}

	// the client may be gone by the time the write runs
	ctx = context.WithoutCancel(ctx)
	if l.syncWrites {
		return l.write(ctx, logger, entry)
	}
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.write(ctx, logger, entry)
	}()
	return true
}

func (l *Layer) write(ctx context.Context, logger zerolog.Logger, entry Entry) bool {
	ctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()
	if err := l.provider.Put(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("Could not write to cache")
		return false
	}
	logger.Trace().Time("expires", entry.Expires).Msg("Cache STORE")
	return true
}

// Drain blocks until all background writes have completed or ctx is done.
func (l *Layer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
