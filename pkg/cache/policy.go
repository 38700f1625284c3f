package cache

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotCacheable marks a response the policy refuses to store. The wrapped
// message names the failing gate.
var ErrNotCacheable = errors.New("response not cacheable")

// cacheableContentTypes are the content-type prefixes a response may carry
// to be stored. An absent content-type passes the gate.
var cacheableContentTypes = []string{
	"text/",
	"application/json",
	"application/xhtml",
}

// Policy decides whether a response may be stored at all. Freshness is a
// separate concern (Entry.Classify); this gate runs once, at write time.
type Policy struct {
	// CacheableStatus is the set of storable status codes. Entries must
	// lie in [200, 400): redirects at most, never client or server errors.
	CacheableStatus map[int]bool

	// MaxBytes caps the uncompressed body size. Zero means no cap.
	MaxBytes int

	// RespectPrivate treats Cache-Control: private as non-cacheable.
	RespectPrivate bool
}

// DefaultCacheableStatus returns the default storable set, 200 through 299.
func DefaultCacheableStatus() []int {
	codes := make([]int, 0, 100)
	for c := 200; c < 300; c++ {
		codes = append(codes, c)
	}
	return codes
}

// StatusSet converts a code list into the set form Policy consumes.
func StatusSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

// Cacheable returns nil when the response may be stored, or ErrNotCacheable
// wrapped with the reason. Order of gates: status set, 204, cache-control
// directives, content type, size.
func (p *Policy) Cacheable(status int, header http.Header, size int) error {
	if !p.CacheableStatus[status] {
		return fmt.Errorf("%w: status %d outside cacheable set", ErrNotCacheable, status)
	}
	if status == http.StatusNoContent {
		return fmt.Errorf("%w: 204 responses carry no body", ErrNotCacheable)
	}

	cc := header.Get("Cache-Control")
	if hasDirective(cc, "no-store") {
		return fmt.Errorf("%w: cache-control no-store", ErrNotCacheable)
	}
	if p.RespectPrivate && hasDirective(cc, "private") {
		return fmt.Errorf("%w: cache-control private", ErrNotCacheable)
	}

	if ct := strings.ToLower(header.Get("Content-Type")); ct != "" {
		allowed := false
		for _, prefix := range cacheableContentTypes {
			if strings.HasPrefix(ct, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: content-type %s", ErrNotCacheable, ct)
		}
	}

	if p.MaxBytes > 0 && size > p.MaxBytes {
		return fmt.Errorf("%w: body %d bytes exceeds limit %d", ErrNotCacheable, size, p.MaxBytes)
	}
	return nil
}

// TTLPolicy resolves the freshness window for a new entry.
type TTLPolicy struct {
	// Default is the fixed TTL used when header-derived TTLs are disabled
	// or absent.
	Default time.Duration

	// Min and Max clamp header-derived TTLs, so an origin cannot force
	// per-second refetching or year-long staleness.
	Min time.Duration
	Max time.Duration

	// RespectHeaders enables deriving the TTL from Cache-Control max-age
	// or Expires. The origin header wins over Default.
	RespectHeaders bool
}

// Resolve returns the TTL for a response stored at now.
func (p *TTLPolicy) Resolve(header http.Header, now time.Time) time.Duration {
	if !p.RespectHeaders {
		return p.Default
	}

	if d, ok := maxAge(header.Get("Cache-Control")); ok {
		return p.clamp(d)
	}

	if expiresStr := header.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			return p.clamp(expires.Sub(now))
		}
	}

	return p.clamp(p.Default)
}

func (p *TTLPolicy) clamp(d time.Duration) time.Duration {
	if p.Min > 0 && d < p.Min {
		return p.Min
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// maxAge extracts the max-age directive value from a Cache-Control header.
func maxAge(cc string) (time.Duration, bool) {
	if cc == "" {
		return 0, false
	}
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		value, found := strings.CutPrefix(directive, "max-age=")
		if !found {
			continue
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// hasDirective reports whether a Cache-Control header contains the named
// directive, ignoring any "=value" suffix.
func hasDirective(cc, name string) bool {
	if cc == "" {
		return false
	}
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		if directive == name || strings.HasPrefix(directive, name+"=") {
			return true
		}
	}
	return false
}
