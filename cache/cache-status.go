package cache

import "fmt"

// CacheStatusHeader is the response header carrying the outcome (RFC 9211).
const CacheStatusHeader = "Cache-Status"

const cacheName = "sonic-lens"

type FwdReason string

const (
	// The cache did not contain a fresh response for the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// A stored response existed but could not be read back.
	FwdReasonMiss FwdReason = "miss"
)

// Result labels used for logs and metrics.
const (
	ResultHit   = "hit"
	ResultStore = "store"
	ResultSkip  = "skip"
	ResultMiss  = "miss"
)

type CacheStatus struct {
	hit       bool
	fwdReason FwdReason
	stored    bool
	status    int
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.hit = true
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// Stored records that the forwarded response was handed to the store.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

// Status records the status code returned by the handler.
func (cs *CacheStatus) Status(code int) {
	cs.status = code
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// Result returns a single label: hit, store, skip (not cacheable) or miss
// (cacheable but not stored).
func (cs CacheStatus) Result() string {
	switch {
	case cs.hit:
		return ResultHit
	case cs.stored:
		return ResultStore
	case cs.status != 200:
		return ResultSkip
	default:
		return ResultMiss
	}
}

func (cs CacheStatus) String() string {
	status := cacheName + "; hit"
	if !cs.hit {
		status = fmt.Sprintf("%s; fwd=%s", cacheName, cs.fwdReason)
		if cs.status != 0 {
			status = fmt.Sprintf("%s; fwd-status=%d", status, cs.status)
		}
		if cs.stored {
			status += "; stored"
		}
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
