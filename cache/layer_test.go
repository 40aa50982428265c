package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var quiet = zerolog.Nop()

func newTestLayer(t *testing.T, provider Provider, sync bool) *Layer {
	t.Helper()
	l, err := NewLayer(LayerConfig{Provider: provider, Logger: &quiet, SyncWrites: sync})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLayerReturnsResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello world"))
	})
	rr := httptest.NewRecorder()

	newTestLayer(t, NewMemCache(), true).Wrap(time.Minute, handler).
		ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if body, err := io.ReadAll(rr.Result().Body); err != nil || string(body) != "Hello world" {
		t.Fatalf("Body is %s", body)
	}
}

func TestLayerReturnsSecondRequestFromCache(t *testing.T) {
	var handleCount int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Header().Add("content-type", "text/test")
		w.Write([]byte("Hello world"))
	})
	mw := newTestLayer(t, NewMemCache(), true).Wrap(time.Minute, handler)
	rr := httptest.NewRecorder()

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/stats", nil))
	mw.ServeHTTP(rr, httptest.NewRequest("GET", "/api/stats", nil))

	if handleCount != 1 {
		t.Fatalf("Next handler called %d times", handleCount)
	}
	if body, err := io.ReadAll(rr.Result().Body); err != nil || string(body) != "Hello world" {
		t.Fatalf("Body is %s", body)
	}
	if ct := rr.Result().Header.Get("content-type"); ct != "text/test" {
		t.Fatalf("Content-Type header is %s", ct)
	}
	if cc := rr.Result().Header.Get("Cache-Control"); cc != "public, max-age=60" {
		t.Fatalf("Cache-Control header is %s", cc)
	}
	if cs := rr.Result().Header.Get(CacheStatusHeader); cs != "sonic-lens; hit" {
		t.Fatalf("Cache-Status header is %s", cs)
	}
}

func TestCacheOnlySuccess(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError, http.StatusCreated} {
		var handleCount int
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleCount++
			w.WriteHeader(status)
			w.Write([]byte("Nope"))
		})
		store := NewMemCache()
		mw := newTestLayer(t, store, true).Wrap(time.Minute, handler)

		for i := 0; i < 2; i++ {
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, httptest.NewRequest("GET", "/api/track", nil))
			if rr.Code != status {
				t.Fatalf("Status is %d, want %d", rr.Code, status)
			}
			if cc := rr.Header().Get("Cache-Control"); cc != "" {
				t.Fatalf("Cache-Control set on %d: %s", status, cc)
			}
		}
		if handleCount != 2 {
			t.Fatalf("Status %d: next handler called %d times", status, handleCount)
		}
		if store.Len() != 0 {
			t.Fatalf("Status %d: %d entries stored", status, store.Len())
		}
	}
}

func TestKeyIncludesQuery(t *testing.T) {
	var handleCount int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte(r.URL.RawQuery))
	})
	mw := newTestLayer(t, NewMemCache(), true).Wrap(time.Minute, handler)

	for _, target := range []string{"/api/recent-plays?limit=1", "/api/recent-plays?limit=2", "/api/recent-plays?limit=1"} {
		mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", target, nil))
	}
	if handleCount != 2 {
		t.Fatalf("Next handler called %d times", handleCount)
	}
}

func TestEntriesExpire(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	l, err := NewLayer(LayerConfig{Provider: NewMemCache(WithClock(clock)), Logger: &quiet, SyncWrites: true, Now: clock})
	if err != nil {
		t.Fatal(err)
	}
	var handleCount int
	mw := l.Wrap(10*time.Second, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("fresh"))
	}))

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/recent-plays", nil))
	now = now.Add(9 * time.Second)
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/recent-plays", nil))
	if handleCount != 1 {
		t.Fatalf("Handler called %d times before expiry", handleCount)
	}
	now = now.Add(time.Second)
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/recent-plays", nil))
	if handleCount != 2 {
		t.Fatalf("Handler called %d times after expiry", handleCount)
	}
}

func TestLayerAndStoreShareClock(t *testing.T) {
	clock := func() time.Time { return time.Now().Add(-time.Hour) }
	l, err := NewLayer(LayerConfig{Provider: NewMemCache(WithClock(clock)), Logger: &quiet, SyncWrites: true, Now: clock})
	if err != nil {
		t.Fatal(err)
	}
	var handleCount int
	mw := l.Wrap(10*time.Second, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("ok"))
	}))

	for i := 0; i < 2; i++ {
		mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/recent-plays", nil))
	}
	if handleCount != 1 {
		t.Fatalf("Next handler called %d times with a clock an hour behind", handleCount)
	}
}

func TestMissHeaderAnnouncesStore(t *testing.T) {
	for status, want := range map[int]string{
		http.StatusOK:       "sonic-lens; fwd=uri-miss; fwd-status=200; stored",
		http.StatusNotFound: "sonic-lens; fwd=uri-miss; fwd-status=404",
	} {
		mw := newTestLayer(t, NewMemCache(), true).Wrap(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, httptest.NewRequest("GET", "/api/track", nil))
		if cs := rr.Header().Get(CacheStatusHeader); cs != want {
			t.Fatalf("Status %d: Cache-Status header is %s", status, cs)
		}
	}
}

func TestBackgroundWritesAreDrained(t *testing.T) {
	var handleCount int
	store := NewMemCache()
	mw := newTestLayer(t, store, false)
	h := mw.Wrap(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("Hello world"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mw.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("Stored %d entries", store.Len())
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if handleCount != 1 {
		t.Fatalf("Next handler called %d times", handleCount)
	}
}

// blockingProvider holds every Put until released.
type blockingProvider struct {
	*MemCache
	release chan struct{}
}

func (b blockingProvider) Put(ctx context.Context, entry Entry) error {
	<-b.release
	return b.MemCache.Put(ctx, entry)
}

func TestDrainRespectsContext(t *testing.T) {
	store := blockingProvider{MemCache: NewMemCache(), release: make(chan struct{})}
	l := newTestLayer(t, store, false)
	l.Wrap(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("slow"))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain returned %v", err)
	}
	close(store.release)
	if err := l.Drain(context.Background()); err != nil {
		t.Fatalf("Drain returned %v", err)
	}
}

type failingProvider struct{}

func (failingProvider) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("read failed")
}
func (failingProvider) Put(context.Context, Entry) error { return errors.New("write failed") }
func (failingProvider) Close() error                     { return nil }

func TestStoreErrorsAreNotSurfaced(t *testing.T) {
	var handleCount int
	var results []string
	l, err := NewLayer(LayerConfig{
		Provider:   failingProvider{},
		Logger:     &quiet,
		SyncWrites: true,
		OnStatus:   func(cs CacheStatus) { results = append(results, cs.Result()) },
	})
	if err != nil {
		t.Fatal(err)
	}
	mw := l.Wrap(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("ok"))
	}))
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
			t.Fatalf("Got %d %s", rr.Code, rr.Body.String())
		}
	}
	if handleCount != 2 {
		t.Fatalf("Next handler called %d times", handleCount)
	}
	if len(results) != 2 || results[0] != ResultMiss {
		t.Fatalf("Results %v", results)
	}
}

func TestOnStatusResults(t *testing.T) {
	var mu sync.Mutex
	var results []string
	l, err := NewLayer(LayerConfig{
		Provider:   NewMemCache(),
		Logger:     &quiet,
		SyncWrites: true,
		OnStatus: func(cs CacheStatus) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, cs.Result())
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ok := l.Wrap(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	missing := l.Wrap(time.Minute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/a", nil))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/a", nil))
	missing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/b", nil))

	want := []string{ResultStore, ResultHit, ResultSkip}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("Results %v, want %v", results, want)
		}
	}
}

func TestLayerNeedsProvider(t *testing.T) {
	if _, err := NewLayer(LayerConfig{}); err == nil {
		t.Fatalf("Expected error")
	}
}
