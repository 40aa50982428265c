package cachekey

import (
	"net/http"
	"net/url"
	"strings"
)

const namespaceSeparator = "|"

// CacheKeyer derives storage keys from requests.
// The key is the absolute request URL, so method, headers and body never
// take part in it and two requests differing only in query order are distinct.
type CacheKeyer struct {
	// Optional prefix separating several deployments sharing one store.
	Namespace string
}

func NewCacheKeyer(namespace string) CacheKeyer {
	return CacheKeyer{Namespace: namespace}
}

// Key returns the cache key for the request.
func (c CacheKeyer) Key(r *http.Request) string {
	key := RequestURL(r).String()
	if c.Namespace != "" {
		key = c.Namespace + namespaceSeparator + key
	}
	return key
}

// URLFromKey strips the namespace from a key and parses the request URL back.
func (c CacheKeyer) URLFromKey(key string) (*url.URL, error) {
	if c.Namespace != "" {
		key = strings.TrimPrefix(key, c.Namespace+namespaceSeparator)
	}
	return url.Parse(key)
}

// RequestURL reconstructs the absolute URL a client used for r.
// Server-side requests carry only the path in r.URL, so scheme and host
// are taken from the connection and the Host header.
func RequestURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     strings.ToLower(host),
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
}
