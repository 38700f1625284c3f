package urlmatch

import "testing"

func TestAllowByDefault(t *testing.T) {
	r, err := New(nil, nil, true)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !r.Allow("https://example.com/anything") {
		t.Error("no patterns with cacheByDefault=true should allow everything")
	}

	r, err = New(nil, nil, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if r.Allow("https://example.com/anything") {
		t.Error("no patterns with cacheByDefault=false should allow nothing")
	}
}

func TestIncludePatterns(t *testing.T) {
	r, err := New([]string{"*/api/*", "https://cdn.example.com/*"}, nil, true)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/api/items", true},
		{"https://example.com/api/items?page=2", true},
		{"https://cdn.example.com/assets/app.js", true},
		{"https://example.com/admin", false},
		{"https://other.com/static", false},
	}

	for _, tt := range tests {
		if got := r.Allow(tt.url); got != tt.want {
			t.Errorf("Allow(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestExcludeWinsOverInclude(t *testing.T) {
	r, err := New([]string{"*/api/*"}, []string{"*/api/private/*"}, true)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if !r.Allow("https://example.com/api/items") {
		t.Error("included URL should be allowed")
	}
	if r.Allow("https://example.com/api/private/keys") {
		t.Error("exclude must take precedence over include")
	}
}

func TestExcludeWithDefaultAllow(t *testing.T) {
	r, err := New(nil, []string{"*/login*", "*token*"}, true)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if !r.Allow("https://example.com/docs") {
		t.Error("unexcluded URL should be allowed")
	}
	if r.Allow("https://example.com/login?next=/") {
		t.Error("excluded URL must not be allowed")
	}
	if r.Allow("https://example.com/oauth?token=abc") {
		t.Error("excluded URL must not be allowed")
	}
}

func TestBadPattern(t *testing.T) {
	if _, err := New([]string{"[unterminated"}, nil, true); err == nil {
		t.Error("New() should reject an invalid glob")
	}
	if _, err := New(nil, []string{"[unterminated"}, true); err == nil {
		t.Error("New() should reject an invalid exclude glob")
	}
}
