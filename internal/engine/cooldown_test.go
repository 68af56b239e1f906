package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownTracker_AcquireStartsInterval(t *testing.T) {
	tracker := NewCooldownTracker(16, time.Hour)
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	cooldown := 5 * time.Minute

	assert.True(t, tracker.TryAcquire("k", cooldown, base))

	assert.False(t, tracker.TryAcquire("k", cooldown, base.Add(time.Minute)))
	assert.False(t, tracker.TryAcquire("k", cooldown, base.Add(cooldown-time.Second)))
	assert.True(t, tracker.TryAcquire("k", cooldown, base.Add(cooldown)))
}

func TestCooldownTracker_PerKey(t *testing.T) {
	tracker := NewCooldownTracker(16, time.Hour)
	base := time.Now()

	assert.True(t, tracker.TryAcquire("a", time.Minute, base))
	assert.False(t, tracker.TryAcquire("a", time.Minute, base))
	assert.True(t, tracker.TryAcquire("b", time.Minute, base))
}

func TestCooldownTracker_Bounded(t *testing.T) {
	tracker := NewCooldownTracker(2, time.Hour)
	base := time.Now()

	assert.True(t, tracker.TryAcquire("a", time.Hour, base))
	assert.True(t, tracker.TryAcquire("b", time.Hour, base))
	assert.True(t, tracker.TryAcquire("c", time.Hour, base)) // evicts "a"

	assert.True(t, tracker.TryAcquire("a", time.Hour, base))
	assert.False(t, tracker.TryAcquire("c", time.Hour, base))
}

// Concurrent acquisitions of one key inside a single cooldown interval must
// grant exactly one.
func TestCooldownTracker_ConcurrentSingleWinner(t *testing.T) {
	tracker := NewCooldownTracker(16, time.Hour)
	base := time.Now()

	var acquired atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if tracker.TryAcquire("k", time.Hour, base) {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), acquired.Load())
}
