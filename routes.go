package soniclens

import (
	"net/http"
	"time"

	"github.com/vincentchyu/sonic-lens/cache"
	"github.com/vincentchyu/sonic-lens/pkg/router"
)

// cachedEndpoint is a GET route served through the cache layer.
type cachedEndpoint struct {
	template string
	ttl      time.Duration
	handle   func(r *http.Request) (any, error)
}

func (a *API) endpoints() []cachedEndpoint {
	return []cachedEndpoint{
		{"/api/dashboard/stats", 300 * time.Second, a.stats},
		{"/api/dashboard/play-counts-by-source", 300 * time.Second, a.playCountsBySource},
		{"/api/dashboard/trend", 60 * time.Second, a.trend},
		{"/api/dashboard/top-artists/:type", 300 * time.Second, a.topArtists},
		{"/api/dashboard/top-albums", 300 * time.Second, a.topAlbums},
		{"/api/dashboard/top-genres", 300 * time.Second, a.topGenres},
		{"/api/recent-plays", 10 * time.Second, a.recentPlays},
		{"/api/track", 3600 * time.Second, a.track},
		{"/api/track-play-counts", 300 * time.Second, a.trackPlayCounts},
		{"/api/track-play-counts/period", 300 * time.Second, a.trackPlayCountsByPeriod},
		{"/api/unscrobbled-records/count", 10 * time.Second, a.unscrobbledCount},
		{"/api/unscrobbled-records", 10 * time.Second, a.unscrobbledRecords},
	}
}

// routes registers the public API on rt. Preflight handling goes first so it
// intercepts every OPTIONS request under /api/.
func (a *API) routes(rt *router.Router, layer *cache.Layer) {
	rt.Options("/api/.*", http.HandlerFunc(preflight))
	for _, e := range a.endpoints() {
		rt.Get(e.template, layer.Wrap(e.ttl, a.endpoint(e.handle)))
	}
	rt.Post("/api/unscrobbled-records/sync", http.HandlerFunc(notSupported))
	rt.Post("/api/favorite", http.HandlerFunc(notSupported))
}
