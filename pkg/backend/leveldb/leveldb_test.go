package leveldb

import (
	"context"
	"errors"
	"testing"
	"time"

	goleveldb "github.com/syndtr/goleveldb/leveldb"

	"github.com/crawlworks/fetchcache/pkg/backend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.SweepInterval = 0
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig("/tmp/db"), false},
		{"missing path", Config{}, true},
		{"negative sweep interval", Config{Path: "/tmp/db", SweepInterval: -time.Second}, true},
		{"sweeper disabled", Config{Path: "/tmp/db"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %q, want %q", got, "payload")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "absent")
	if !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := Config{Path: dir}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Set(ctx, "k1", []byte("survives"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen New() error = %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != "survives" {
		t.Errorf("Get() after reopen = %q, want %q", got, "survives")
	}
}

func TestExpiryOnRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := s.Get(ctx, "k1"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}

	// The read drops the expired record from disk.
	if _, err := s.db.Get([]byte(entryPrefix+"k1"), nil); err != goleveldb.ErrNotFound {
		t.Errorf("raw record after expired read: err = %v, want leveldb.ErrNotFound", err)
	}
}

func TestNoExpiryWhenTTLZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := s.Get(ctx, "k1"); err != nil {
		t.Errorf("Get() error = %v, want entry without expiry", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete() of absent key error = %v", err)
	}
}

func TestDeletePattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"ns:a|1", "ns:a|2", "ns:b|1"} {
		if err := s.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}

	n, err := s.DeletePattern(ctx, "ns:a*")
	if err != nil {
		t.Fatalf("DeletePattern() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeletePattern() = %d, want 2", n)
	}

	if _, err := s.Get(ctx, "ns:b|1"); err != nil {
		t.Errorf("Get(ns:b|1) error = %v, want survivor", err)
	}
}

func TestDeletePatternBadPattern(t *testing.T) {
	s := newTestStore(t)

	_, err := s.DeletePattern(context.Background(), "[unterminated")
	if err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	for _, k := range []string{"a", "b", "c"} {
		if _, err := s.Get(ctx, k); !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("Get(%q) after clear error = %v, want ErrNotFound", k, err)
		}
	}
}

func TestSweeperRemovesExpired(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SweepInterval = 20 * time.Millisecond
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Set(ctx, "short", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := s.db.Get([]byte(entryPrefix+"short"), nil); err == goleveldb.ErrNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove expired entry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := s.db.Get([]byte(entryPrefix+"forever"), nil); err != nil {
		t.Errorf("sweeper removed entry without expiry: %v", err)
	}
}

func TestCorruptValueTreatedAsMissing(t *testing.T) {
	s := newTestStore(t)

	// A record too short to carry an expiry prefix.
	if err := s.db.Put([]byte(entryPrefix+"bad"), []byte("xy"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := s.Get(context.Background(), "bad"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Get() error = %v, want ErrClosed", err)
	}
	if err := s.Set(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Set() error = %v, want ErrClosed", err)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("HealthCheck() error = %v, want ErrClosed", err)
	}
}
