// Package soniclens serves listening-history analytics behind a referer
// allow-list and a response cache.
package soniclens

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vincentchyu/sonic-lens/cache"
	accessgate "github.com/vincentchyu/sonic-lens/pkg/access-gate"
	"github.com/vincentchyu/sonic-lens/pkg/router"
	"github.com/vincentchyu/sonic-lens/store"
)

type Config struct {
	// Query backend for the API handlers.
	Executor store.Executor
	// Storage for cached responses.
	Cache cache.Provider
	// Referer substrings that are let through.
	AllowedHosts []string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Persist cached responses before answering the client.
	SyncCacheWrites bool
	// Optional prefix for cache keys.
	CacheNamespace string
	// Optional Prometheus collectors.
	Metrics *Metrics
	// Clock, defaults to time.Now.
	Now func() time.Time
}

// New wires the gate, the routes and the cache layer into a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Executor == nil {
		return nil, errors.New("no query executor configured")
	}
	if config.Cache == nil {
		return nil, errors.New("no cache provider configured")
	}
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	layer, err := cache.NewLayer(cache.LayerConfig{
		Provider:   config.Cache,
		Namespace:  config.CacheNamespace,
		Logger:     &logger,
		SyncWrites: config.SyncCacheWrites,
		OnStatus: func(cs cache.CacheStatus) {
			config.Metrics.observeCache(cs.Result())
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}

	api := &API{
		exec: config.Executor,
		now:  now,
		log:  logger.With().Str("component", "api").Logger(),
	}
	rt := router.New()
	api.routes(rt, layer)

	return &Dispatcher{
		gate:    accessgate.New(config.AllowedHosts...),
		router:  rt,
		layer:   layer,
		log:     logger,
		metrics: config.Metrics,
		now:     now,
	}, nil
}
