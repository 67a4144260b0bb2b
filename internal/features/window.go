package features

import (
	"container/list"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	DefaultRetention      = 300 * time.Second
	DefaultMaxEntries     = 10000
	DefaultMaxSources     = 100000
	DefaultShards         = 32
	DefaultBurstThreshold = 20
)

// WindowConfig bounds the per-source sliding windows
type WindowConfig struct {
	Retention  time.Duration
	MaxEntries int
	MaxSources int
	Shards     int
	// BurstThreshold is the 10 second request count that raises burst_flag
	BurstThreshold int
}

func (c *WindowConfig) setDefaults() {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxSources <= 0 {
		c.MaxSources = DefaultMaxSources
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.Shards > c.MaxSources {
		c.Shards = c.MaxSources
	}
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = DefaultBurstThreshold
	}
}

// WindowStats is the time-window view of one source right after an observation
type WindowStats struct {
	SinceLast      float64
	Count          int
	Count60s       int
	Count10s       int
	Count1s        int
	Rate           float64
	MeanInterval   float64
	MinInterval    float64
	IntervalStdDev float64
	Span           float64
	Burst          bool
	FirstSeen      bool
}

type sourceWindow struct {
	key   string
	times []time.Time
}

type windowShard struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
}

// WindowStore owns the sliding windows of every source. Keys are spread over
// shards by FNV hash; each shard has its own lock and least-recently-used
// eviction once it holds its share of MaxSources (rounded up). Eviction is
// per shard: with a skewed hash a source can be evicted while the store holds
// fewer than MaxSources keys, and the evicted source is the least recently
// used of its shard, not of the whole store. The store never holds more than
// Shards * ceil(MaxSources/Shards) sources.
type WindowStore struct {
	cfg    WindowConfig
	shards []*windowShard
}

// NewWindowStore creates an empty store; zero config fields take defaults
func NewWindowStore(cfg WindowConfig) *WindowStore {
	cfg.setDefaults()
	perShard := (cfg.MaxSources + cfg.Shards - 1) / cfg.Shards
	s := &WindowStore{
		cfg:    cfg,
		shards: make([]*windowShard, cfg.Shards),
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{
			items:    make(map[string]*list.Element),
			order:    list.New(),
			capacity: perShard,
		}
	}
	return s
}

func (s *WindowStore) shardFor(key string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Observe records one request instant for key and returns the window statistics.
// Interval, append, eviction and the snapshot happen under one shard lock.
func (s *WindowStore) Observe(key string, t time.Time) WindowStats {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var stats WindowStats
	w := sh.get(key)
	if w == nil {
		w = &sourceWindow{key: key}
		sh.put(w)
		stats.FirstSeen = true
	}

	if n := len(w.times); n > 0 {
		if d := t.Sub(w.times[n-1]).Seconds(); d > 0 {
			stats.SinceLast = d
		}
	}

	latest := t
	if n := len(w.times); n > 0 && w.times[n-1].After(t) {
		latest = w.times[n-1]
	}
	cutoff := latest.Add(-s.cfg.Retention)
	// an instant already outside the window is reported but not retained
	if !t.Before(cutoff) {
		w.insert(t)
	}
	w.evict(cutoff, s.cfg.MaxEntries)
	s.fill(&stats, w.times, t)
	return stats
}

// Len is the number of tracked sources
func (s *WindowStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total
}

// Entries returns a copy of the instants currently retained for key
func (s *WindowStore) Entries(key string) []time.Time {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	el, ok := sh.items[key]
	if !ok {
		return nil
	}
	times := el.Value.(*sourceWindow).times
	out := make([]time.Time, len(times))
	copy(out, times)
	return out
}

// Reset drops every tracked source
func (s *WindowStore) Reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.items = make(map[string]*list.Element)
		sh.order.Init()
		sh.mu.Unlock()
	}
}

func (s *WindowStore) fill(stats *WindowStats, times []time.Time, t time.Time) {
	stats.Count = countSince(times, t, s.cfg.Retention)
	stats.Count60s = countSince(times, t, time.Minute)
	stats.Count10s = countSince(times, t, 10*time.Second)
	stats.Count1s = countSince(times, t, time.Second)
	stats.Rate = float64(stats.Count) / s.cfg.Retention.Seconds()
	stats.Burst = stats.Count10s >= s.cfg.BurstThreshold

	if len(times) == 0 {
		return
	}
	stats.Span = times[len(times)-1].Sub(times[0]).Seconds()
	if len(times) < 2 {
		return
	}

	n := float64(len(times) - 1)
	sum, shortest := 0.0, math.MaxFloat64
	for i := 1; i < len(times); i++ {
		d := times[i].Sub(times[i-1]).Seconds()
		sum += d
		if d < shortest {
			shortest = d
		}
	}
	mean := sum / n
	variance := 0.0
	for i := 1; i < len(times); i++ {
		d := times[i].Sub(times[i-1]).Seconds() - mean
		variance += d * d
	}
	stats.MeanInterval = mean
	stats.MinInterval = shortest
	stats.IntervalStdDev = math.Sqrt(variance / n)
}

// countSince counts retained instants in [t-d, t]
func countSince(times []time.Time, t time.Time, d time.Duration) int {
	from := t.Add(-d)
	lo := sort.Search(len(times), func(i int) bool { return !times[i].Before(from) })
	hi := sort.Search(len(times), func(i int) bool { return times[i].After(t) })
	if hi < lo {
		return 0
	}
	return hi - lo
}

// insert keeps times ordered; out-of-order instants land in place
func (w *sourceWindow) insert(t time.Time) {
	n := len(w.times)
	if n == 0 || !t.Before(w.times[n-1]) {
		w.times = append(w.times, t)
		return
	}
	i := sort.Search(n, func(i int) bool { return w.times[i].After(t) })
	w.times = append(w.times, time.Time{})
	copy(w.times[i+1:], w.times[i:])
	w.times[i] = t
}

func (w *sourceWindow) evict(cutoff time.Time, maxEntries int) {
	drop := sort.Search(len(w.times), func(i int) bool { return !w.times[i].Before(cutoff) })
	if over := len(w.times) - drop - maxEntries; over > 0 {
		drop += over
	}
	if drop > 0 {
		w.times = append(w.times[:0], w.times[drop:]...)
	}
}

func (sh *windowShard) get(key string) *sourceWindow {
	el, ok := sh.items[key]
	if !ok {
		return nil
	}
	sh.order.MoveToFront(el)
	return el.Value.(*sourceWindow)
}

func (sh *windowShard) put(w *sourceWindow) {
	if len(sh.items) >= sh.capacity {
		if oldest := sh.order.Back(); oldest != nil {
			sh.order.Remove(oldest)
			delete(sh.items, oldest.Value.(*sourceWindow).key)
		}
	}
	sh.items[w.key] = sh.order.PushFront(w)
}
