package features

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestObserveIntervalAndFirstSeen(t *testing.T) {
	s := NewWindowStore(WindowConfig{})

	st := s.Observe("10.0.0.1", base)
	if !st.FirstSeen || st.SinceLast != 0 || st.Count != 1 {
		t.Fatalf("first observation = %+v", st)
	}

	st = s.Observe("10.0.0.1", base.Add(3*time.Second))
	if st.FirstSeen {
		t.Errorf("second observation should not be first seen")
	}
	if st.SinceLast != 3 {
		t.Errorf("SinceLast = %v, want 3", st.SinceLast)
	}
	if st.Count != 2 || st.Count10s != 2 || st.Count1s != 1 {
		t.Errorf("counts = %d/%d/%d", st.Count, st.Count10s, st.Count1s)
	}
	if st.Span != 3 || st.MeanInterval != 3 || st.MinInterval != 3 || st.IntervalStdDev != 0 {
		t.Errorf("interval stats = %+v", st)
	}
}

func TestObserveClockSkewGivesZeroInterval(t *testing.T) {
	s := NewWindowStore(WindowConfig{})
	s.Observe("k", base.Add(10*time.Second))
	st := s.Observe("k", base)
	if st.SinceLast != 0 {
		t.Errorf("SinceLast = %v, want 0 for out-of-order instant", st.SinceLast)
	}
	entries := s.Entries("k")
	if len(entries) != 2 || !entries[0].Equal(base) {
		t.Errorf("entries not kept ordered: %v", entries)
	}
}

func TestWindowRetention(t *testing.T) {
	s := NewWindowStore(WindowConfig{})
	key := "203.0.113.9"

	var last time.Time
	for i := 0; i < 100; i++ {
		last = base.Add(time.Duration(i*10) * time.Second)
		s.Observe(key, last)
	}

	cutoff := last.Add(-DefaultRetention)
	for _, ts := range s.Entries(key) {
		if ts.Before(cutoff) {
			t.Fatalf("entry %v older than retention relative to %v", ts, last)
		}
	}
	// 300s window at 10s spacing keeps 31 instants (both ends inclusive)
	if got := len(s.Entries(key)); got != 31 {
		t.Errorf("retained = %d, want 31", got)
	}
}

func TestWindowRetentionFollowsLatestInstant(t *testing.T) {
	s := NewWindowStore(WindowConfig{})
	latest := base.Add(1000 * time.Second)
	s.Observe("a", latest)

	st := s.Observe("a", base.Add(100*time.Second))
	if st.Count != 0 || st.SinceLast != 0 {
		t.Errorf("stale instant stats = %+v", st)
	}
	s.Observe("a", base.Add(800*time.Second))
	s.Observe("a", base.Add(600*time.Second))

	entries := s.Entries("a")
	for _, ts := range entries {
		if ts.Before(latest.Add(-DefaultRetention)) {
			t.Errorf("entry %v older than retention relative to %v", ts, latest)
		}
	}
	if len(entries) != 2 || !entries[0].Equal(base.Add(800*time.Second)) || !entries[1].Equal(latest) {
		t.Errorf("entries = %v", entries)
	}
}

func TestWindowMaxEntries(t *testing.T) {
	s := NewWindowStore(WindowConfig{MaxEntries: 50})
	for i := 0; i < 200; i++ {
		st := s.Observe("k", base.Add(time.Duration(i)*time.Millisecond))
		if st.Count > 50 {
			t.Fatalf("count %d exceeds cap", st.Count)
		}
	}
	entries := s.Entries("k")
	if len(entries) != 50 {
		t.Fatalf("retained = %d, want 50", len(entries))
	}
	if want := base.Add(199 * time.Millisecond); !entries[len(entries)-1].Equal(want) {
		t.Errorf("newest entry dropped")
	}
}

func TestWindowSourceBoundAcrossShards(t *testing.T) {
	s := NewWindowStore(WindowConfig{MaxSources: 10, Shards: 4})
	for i := 0; i < 500; i++ {
		s.Observe(fmt.Sprintf("10.1.%d.%d", i/256, i%256), base)
	}
	// each of the 4 shards holds at most ceil(10/4) = 3 sources
	if got := s.Len(); got > 12 {
		t.Errorf("Len = %d, want at most 12", got)
	}
}

func TestWindowSourceEviction(t *testing.T) {
	s := NewWindowStore(WindowConfig{MaxSources: 3, Shards: 1})

	s.Observe("a", base)
	s.Observe("b", base)
	s.Observe("c", base)
	s.Observe("a", base.Add(time.Second)) // a becomes most recent
	s.Observe("d", base)                  // evicts b

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if s.Entries("b") != nil {
		t.Errorf("least recently used source was not evicted")
	}
	if len(s.Entries("a")) != 2 {
		t.Errorf("recently used source lost its window")
	}
	if st := s.Observe("b", base.Add(time.Minute)); !st.FirstSeen {
		t.Errorf("evicted source should be first seen again")
	}
}

func TestBurstFlag(t *testing.T) {
	s := NewWindowStore(WindowConfig{BurstThreshold: 5})
	var st WindowStats
	for i := 0; i < 5; i++ {
		st = s.Observe("k", base.Add(time.Duration(i)*100*time.Millisecond))
	}
	if !st.Burst {
		t.Errorf("expected burst after 5 requests in 10s: %+v", st)
	}
}

func TestObserveConcurrentSources(t *testing.T) {
	s := NewWindowStore(WindowConfig{Shards: 4})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := fmt.Sprintf("10.0.0.%d", w)
			for i := 0; i < 500; i++ {
				s.Observe(key, base.Add(time.Duration(i)*time.Millisecond))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		if got := len(s.Entries(fmt.Sprintf("10.0.0.%d", w))); got != 500 {
			t.Errorf("source %d retained %d, want 500", w, got)
		}
	}
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Reset left %d sources", s.Len())
	}
}
