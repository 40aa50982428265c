package soniclens

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vincentchyu/sonic-lens/cache"
	accessgate "github.com/vincentchyu/sonic-lens/pkg/access-gate"
	requestid "github.com/vincentchyu/sonic-lens/pkg/request-id"
	"github.com/vincentchyu/sonic-lens/pkg/router"
)

// corsHeaders are merged onto every response.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type",
	"Access-Control-Max-Age":       "86400",
}

// Labels used for requests that never reached a route.
const (
	routeRejected  = "rejected"
	routeUnmatched = "unmatched"
)

// Dispatcher checks the referer, routes the request and adds CORS headers.
type Dispatcher struct {
	gate    accessgate.Gate
	router  *router.Router
	layer   *cache.Layer
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time
}

// ServeHTTP implements the http.Handler interface.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := d.now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	for name, value := range corsHeaders {
		ww.Header().Set(name, value)
	}
	route := d.dispatch(ww, r)
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	d.metrics.observeRequest(route, status, d.now().Sub(start))
	d.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("route", route).
		Int("status", status).
		Str("cache", ww.Header().Get(cache.CacheStatusHeader)).
		Str("ip", r.RemoteAddr).
		Str("request_id", requestid.FromContext(r.Context())).
		Msg("Request")
}

// dispatch serves the request and returns the route label for logs and metrics.
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request) string {
	if err := d.gate.Check(r.Header.Get("Referer")); err != nil {
		d.metrics.observeRejection(accessgate.Reason(err))
		writeJSON(w, http.StatusForbidden, errorBody{Error: "Forbidden: " + err.Error()})
		return routeRejected
	}
	m, ok := d.router.Match(r.Method, r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not Found"})
		return routeUnmatched
	}
	m.Handler.ServeHTTP(w, r.WithContext(router.WithParams(r.Context(), m.Params)))
	return m.Route.Method + " " + m.Route.Template
}

// Routes lists the registered routes in match order.
func (d *Dispatcher) Routes() []router.Route {
	return d.router.Routes()
}

// Shutdown waits for pending cache writes.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.layer.Drain(ctx)
}
