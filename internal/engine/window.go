package engine

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Entry is one occurrence recorded in a sliding window.
type Entry struct {
	Value     string
	Num       float64
	HasNum    bool
	Timestamp time.Time
}

type window struct {
	mu      sync.Mutex
	entries []Entry
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// WindowStore holds the per-(rule, resource) sliding windows of one detector
// process. Keys are sharded so concurrent message handlers only contend when
// they touch the same shard; updates for a single key serialize on the
// window's own lock, which keeps appends in event-arrival order.
type WindowStore struct {
	shards [shardCount]*shard
	maxAge time.Duration

	gcTicker *time.Ticker
	stopGC   chan struct{}
	gcMu     sync.Mutex
}

// NewWindowStore creates a store whose GC drops windows idle longer than
// maxAge. maxAge should comfortably exceed the largest rule window.
func NewWindowStore(maxAge time.Duration) *WindowStore {
	ws := &WindowStore{maxAge: maxAge}
	for i := range ws.shards {
		ws.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return ws
}

func (ws *WindowStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return ws.shards[h.Sum32()%shardCount]
}

// Update appends an entry to the window for key, evicts entries older than
// the window duration and returns a snapshot of what remains. Append, evict
// and snapshot happen under one lock so the count a caller computes is
// consistent with what it just appended.
func (ws *WindowStore) Update(key string, e Entry, windowDur time.Duration) []Entry {
	s := ws.shardFor(key)

	s.mu.Lock()
	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	s.mu.Unlock()

	cutoff := e.Timestamp.Add(-windowDur)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, e)

	// Entries arrive in order per key, so live entries are a suffix.
	keep := 0
	for keep < len(w.entries) && !w.entries[keep].Timestamp.After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.entries = append([]Entry(nil), w.entries[keep:]...)
	}

	snapshot := make([]Entry, len(w.entries))
	copy(snapshot, w.entries)
	return snapshot
}

// StartGC begins periodically dropping idle windows.
func (ws *WindowStore) StartGC(interval time.Duration, onSweep func(totalEntries int)) {
	ws.gcMu.Lock()
	defer ws.gcMu.Unlock()

	if ws.gcTicker != nil {
		return
	}

	ws.gcTicker = time.NewTicker(interval)
	ws.stopGC = make(chan struct{})

	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-ticker.C:
				total := ws.GC(time.Now())
				if onSweep != nil {
					onSweep(total)
				}
			case <-stop:
				return
			}
		}
	}(ws.gcTicker, ws.stopGC)
}

// StopGC halts the background sweep.
func (ws *WindowStore) StopGC() {
	ws.gcMu.Lock()
	defer ws.gcMu.Unlock()

	if ws.gcTicker != nil {
		ws.gcTicker.Stop()
		ws.gcTicker = nil
	}
	if ws.stopGC != nil {
		close(ws.stopGC)
		ws.stopGC = nil
	}
}

// GC removes windows whose newest entry is older than maxAge and returns the
// number of entries still held.
func (ws *WindowStore) GC(now time.Time) int {
	cutoff := now.Add(-ws.maxAge)
	total := 0

	for _, s := range ws.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			w.mu.Lock()
			n := len(w.entries)
			stale := n == 0 || w.entries[n-1].Timestamp.Before(cutoff)
			w.mu.Unlock()

			if stale {
				delete(s.windows, key)
			} else {
				total += n
			}
		}
		s.mu.Unlock()
	}

	return total
}

// Len returns the number of live windows, for tests and stats.
func (ws *WindowStore) Len() int {
	n := 0
	for _, s := range ws.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}
