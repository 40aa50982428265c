// Package router dispatches requests to handlers by method and path template.
//
// Bindings are kept in registration order and the first compatible binding wins.
// Overlapping templates are allowed on purpose: a wildcard binding registered
// early intercepts everything it matches, registered late it acts as a fallback.
//
// A Router must be fully registered before it starts serving.
// Match only reads the binding list, so it is safe for concurrent use afterwards.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	pattern "github.com/vincentchyu/sonic-lens/pkg/route-pattern"
)

// MethodAll is the sentinel method that matches any request method.
const MethodAll = "ALL"

var ErrUnsupportedMethod = errors.New("unsupported route method")

var supportedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodOptions: true,
	MethodAll:          true,
}

// Route describes a registered binding.
type Route struct {
	Method   string
	Template string
}

type binding struct {
	route   Route
	pattern *pattern.Pattern
	handler http.Handler
}

// Match is the result of a successful lookup.
type Match struct {
	Route   Route
	Handler http.Handler
	Params  pattern.Params
}

type Router struct {
	bindings []binding
}

func New() *Router {
	return &Router{}
}

// Register compiles the template and appends the binding.
// Duplicate routes are not detected; the earliest registration wins at match time.
func (rt *Router) Register(method, template string, handler http.Handler) error {
	if !supportedMethods[method] {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %s %s", method, template)
	}
	p, err := pattern.Compile(template)
	if err != nil {
		return err
	}
	rt.bindings = append(rt.bindings, binding{
		route:   Route{Method: method, Template: template},
		pattern: p,
		handler: handler,
	})
	return nil
}

// Get registers a GET binding. It panics on an invalid template.
func (rt *Router) Get(template string, handler http.Handler) {
	rt.mustRegister(http.MethodGet, template, handler)
}

// Post registers a POST binding. It panics on an invalid template.
func (rt *Router) Post(template string, handler http.Handler) {
	rt.mustRegister(http.MethodPost, template, handler)
}

// Options registers an OPTIONS binding. It panics on an invalid template.
func (rt *Router) Options(template string, handler http.Handler) {
	rt.mustRegister(http.MethodOptions, template, handler)
}

// All registers a binding for every method. It panics on an invalid template.
func (rt *Router) All(template string, handler http.Handler) {
	rt.mustRegister(MethodAll, template, handler)
}

func (rt *Router) mustRegister(method, template string, handler http.Handler) {
	if err := rt.Register(method, template, handler); err != nil {
		panic(err)
	}
}

// Match finds the first binding compatible with method whose pattern matches path.
func (rt *Router) Match(method, path string) (Match, bool) {
	for _, b := range rt.bindings {
		if b.route.Method != method && b.route.Method != MethodAll {
			continue
		}
		if params, ok := b.pattern.Match(path); ok {
			return Match{Route: b.route, Handler: b.handler, Params: params}, true
		}
	}
	return Match{}, false
}

// Routes lists the bindings in registration order.
func (rt *Router) Routes() []Route {
	routes := make([]Route, 0, len(rt.bindings))
	for _, b := range rt.bindings {
		routes = append(routes, b.route)
	}
	return routes
}

type contextKey struct{}

// WithParams returns a context carrying the captured path parameters.
func WithParams(ctx context.Context, params pattern.Params) context.Context {
	return context.WithValue(ctx, contextKey{}, params)
}

// ParamsFromContext returns the parameters stored by WithParams, or nil.
func ParamsFromContext(ctx context.Context) pattern.Params {
	params, _ := ctx.Value(contextKey{}).(pattern.Params)
	return params
}

// Param returns a single captured parameter of the request, or an empty string.
func Param(r *http.Request, name string) string {
	return ParamsFromContext(r.Context())[name]
}
