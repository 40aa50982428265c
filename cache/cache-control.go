package cache

import (
	"strconv"
	"strings"
	"time"
)

type CacheControl struct {
	m map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.m[directive]
	return val, ok
}

// MaxAge returns the max-age directive as a duration.
// The boolean is false when the directive is absent or malformed.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	val, ok := c.m["max-age"]
	if !ok {
		return 0, false
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ParseCacheControl splits a Cache-Control header into its directives.
// Directive names are lowercased, quoted values are unquoted.
func ParseCacheControl(header string) CacheControl {
	m := make(map[string]string)
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name, val, _ := strings.Cut(directive, "=")
		m[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return CacheControl{m}
}

// PublicMaxAge formats the header value attached to cacheable responses.
func PublicMaxAge(ttl time.Duration) string {
	return "public, max-age=" + strconv.FormatInt(int64(ttl/time.Second), 10)
}
