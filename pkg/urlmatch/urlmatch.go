// Package urlmatch decides which URLs are eligible for caching, using
// glob patterns matched against the full request URL.
//
// Exclude patterns always win over include patterns. When no include
// patterns are configured the default policy applies: cache everything,
// or nothing, depending on how the rules were built.
package urlmatch

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Rules holds compiled include/exclude globs.
type Rules struct {
	include []glob.Glob
	exclude []glob.Glob

	// cacheByDefault applies when no include pattern is configured.
	cacheByDefault bool
}

// New compiles the pattern lists. Patterns use glob syntax where '*'
// matches any run of characters including '/', mirroring shell-style URL
// filters like "*/api/*" or "https://example.com/*".
func New(include, exclude []string, cacheByDefault bool) (*Rules, error) {
	r := &Rules{cacheByDefault: cacheByDefault}

	for _, p := range include {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile cache pattern %q: %w", p, err)
		}
		r.include = append(r.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		r.exclude = append(r.exclude, g)
	}
	return r, nil
}

// Allow reports whether the URL may be cached.
func (r *Rules) Allow(url string) bool {
	for _, g := range r.exclude {
		if g.Match(url) {
			return false
		}
	}
	if len(r.include) > 0 {
		for _, g := range r.include {
			if g.Match(url) {
				return true
			}
		}
		return false
	}
	return r.cacheByDefault
}
