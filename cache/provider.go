package cache

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("cache provider closed")

// Provider is a store of serialized responses.
// It stores and retrieves []byte values, which represent HTTP responses,
// and keeps track of their expiration times.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Get returns the entry stored under key.
	// The boolean is false when no entry exists or the entry has expired.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put stores the entry, replacing any previous entry with the same key.
	Put(ctx context.Context, entry Entry) error
	Close() error
}

// Sweeper is implemented by providers that need expired entries removed explicitly.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Option configures a provider.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock a provider judges expiry by.
// It has to be the clock of the Layer writing the entries, since that clock sets Entry.Expires.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Entry struct {
	Key     string
	Expires time.Time
	Bytes   []byte
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.Expires)
}
