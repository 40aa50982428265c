// Package accessgate implements the referer allow-list that guards the public API.
package accessgate

import (
	"errors"
	"strings"
)

var (
	ErrMissingOrigin = errors.New("missing referer")
	ErrInvalidOrigin = errors.New("invalid referer")
)

// Gate admits requests whose origin contains one of the allowed hosts.
//
// Matching is a plain substring test against the whole header value,
// so "https://vincent.chyu.org.example.net" passes for "vincent.chyu.org".
// Exact host matching would need the parsed URL and is not done here.
type Gate struct {
	hosts []string
}

// New returns a gate for the given hosts. Empty entries are ignored
// because they would match every origin.
func New(allowed ...string) Gate {
	hosts := make([]string, 0, len(allowed))
	for _, h := range allowed {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return Gate{hosts: hosts}
}

// Check returns ErrMissingOrigin for an empty origin, ErrInvalidOrigin when no
// allowed host is contained in it, and nil otherwise.
func (g Gate) Check(origin string) error {
	if origin == "" {
		return ErrMissingOrigin
	}
	for _, h := range g.hosts {
		if strings.Contains(origin, h) {
			return nil
		}
	}
	return ErrInvalidOrigin
}

func (g Gate) Allowed(origin string) bool {
	return g.Check(origin) == nil
}

// Hosts returns a copy of the allow-list.
func (g Gate) Hosts() []string {
	return append([]string(nil), g.hosts...)
}

// Reason is the short label used in logs and metrics for a rejection.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingOrigin):
		return "missing"
	case errors.Is(err, ErrInvalidOrigin):
		return "invalid"
	default:
		return ""
	}
}
