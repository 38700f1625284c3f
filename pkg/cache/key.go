package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// KeyInput carries everything the key builder may vary on.
type KeyInput struct {
	// Method is the HTTP method (upper-cased during key construction).
	Method string

	// URL is the full request URL.
	URL string

	// Body is the raw request body, hashed into the key for methods
	// that carry one (POST, PUT, PATCH).
	Body []byte

	// UserAgent participates in the key when VaryUserAgent is set.
	UserAgent string

	// Cookie is the raw Cookie header value, hashed into the key when
	// VaryCookies is set.
	Cookie string

	// Namespace isolates keys of unrelated cache instances.
	Namespace string

	// Version isolates keys across cache format generations; bumping it
	// orphans all previous entries without deleting them.
	Version string

	VaryUserAgent bool
	VaryCookies   bool
}

// KeyBuilder derives a cache key from a request. A replacement builder
// must be pure: identical input always yields an identical key.
type KeyBuilder func(KeyInput) string

// BuildKey is the default key builder.
// Format: ver:{v}|ns:{ns}|m:{METHOD}|u:{scheme://host/path}|q:{query}|b:{sha256}|ua:{ua}|ck:{sha256}
//
// Scheme and host are lower-cased; path, trailing slash and query-parameter
// order are kept as-is, so URLs differing only in parameter order map to
// distinct keys. Optional fields appear only when present.
//
// Example:
//
//	ver:v1|ns:default|m:GET|u:https://example.com/api/items|q:page=2
func BuildKey(in KeyInput) string {
	parts := make([]string, 0, 8)
	parts = append(parts,
		"ver:"+in.Version,
		"ns:"+in.Namespace,
		"m:"+strings.ToUpper(in.Method),
		"u:"+normalizeURL(in.URL),
	)

	if q := rawQuery(in.URL); q != "" {
		parts = append(parts, "q:"+q)
	}

	// Hash the body rather than embedding it, to bound key size.
	if methodHasBody(in.Method) && len(in.Body) > 0 {
		parts = append(parts, "b:"+digest(in.Body))
	}

	if in.VaryUserAgent {
		parts = append(parts, "ua:"+in.UserAgent)
	}
	if in.VaryCookies && in.Cookie != "" {
		parts = append(parts, "ck:"+digest([]byte(in.Cookie)))
	}

	return strings.Join(parts, "|")
}

// normalizeURL lower-cases scheme and host and strips the query string.
// An unparseable URL is used verbatim so key construction never fails.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(strings.ToLower(u.Scheme))
		b.WriteString("://")
	}
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(u.Path)
	return b.String()
}

func rawQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.RawQuery
}

func methodHasBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
