package stats

import (
	"sync"
	"testing"
)

func TestCounters(t *testing.T) {
	s := New()

	s.RecordRequest()
	s.RecordRequest()
	s.RecordHit(100)
	s.RecordMiss()
	s.RecordError()
	s.RecordWrite(250)

	snap := s.Snapshot()

	if snap.Requests != 2 {
		t.Errorf("Requests = %d, want 2", snap.Requests)
	}
	if snap.Hits != 1 {
		t.Errorf("Hits = %d, want 1", snap.Hits)
	}
	if snap.Misses != 1 {
		t.Errorf("Misses = %d, want 1", snap.Misses)
	}
	if snap.Errors != 1 {
		t.Errorf("Errors = %d, want 1", snap.Errors)
	}
	if snap.Writes != 1 {
		t.Errorf("Writes = %d, want 1", snap.Writes)
	}
	if snap.BytesSaved != 100 {
		t.Errorf("BytesSaved = %d, want 100", snap.BytesSaved)
	}
	if snap.BytesWritten != 250 {
		t.Errorf("BytesWritten = %d, want 250", snap.BytesWritten)
	}
}

func TestHitRate(t *testing.T) {
	s := New()

	if rate := s.Snapshot().HitRate; rate != 0 {
		t.Errorf("HitRate with no traffic = %f, want 0", rate)
	}

	for i := 0; i < 3; i++ {
		s.RecordHit(1)
	}
	s.RecordMiss()

	snap := s.Snapshot()
	if snap.HitRate != 0.75 {
		t.Errorf("HitRate = %f, want 0.75", snap.HitRate)
	}
	if snap.MissRate != 0.25 {
		t.Errorf("MissRate = %f, want 0.25", snap.MissRate)
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.RecordHit(10)
	s.RecordMiss()
	s.RecordWrite(5)

	s.Reset()

	snap := s.Snapshot()
	if snap.Hits != 0 || snap.Misses != 0 || snap.Writes != 0 || snap.BytesSaved != 0 {
		t.Errorf("counters not zeroed after Reset: %+v", snap)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	s := New()

	const goroutines = 16
	const perGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.RecordRequest()
				s.RecordHit(1)
				s.RecordMiss()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	want := int64(goroutines * perGoroutine)
	if snap.Requests != want {
		t.Errorf("Requests = %d, want %d", snap.Requests, want)
	}
	if snap.Hits != want {
		t.Errorf("Hits = %d, want %d", snap.Hits, want)
	}
	if snap.BytesSaved != want {
		t.Errorf("BytesSaved = %d, want %d", snap.BytesSaved, want)
	}
}

func TestInstancesIndependent(t *testing.T) {
	a := New()
	b := New()

	a.RecordHit(1)

	if b.Snapshot().Hits != 0 {
		t.Error("instances must not share counters")
	}
}
