package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowStore_UpdateEvicts(t *testing.T) {
	ws := NewWindowStore(30 * time.Minute)
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	ws.Update("k", Entry{Value: "a", Timestamp: base}, time.Minute)
	ws.Update("k", Entry{Value: "b", Timestamp: base.Add(30 * time.Second)}, time.Minute)
	entries := ws.Update("k", Entry{Value: "c", Timestamp: base.Add(90 * time.Second)}, time.Minute)

	// "a" fell out of the minute window.
	assert.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Value)
	assert.Equal(t, "c", entries[1].Value)
}

func TestWindowStore_SnapshotIsCopy(t *testing.T) {
	ws := NewWindowStore(30 * time.Minute)
	base := time.Now()

	snap := ws.Update("k", Entry{Value: "a", Timestamp: base}, time.Minute)
	snap[0].Value = "mutated"

	entries := ws.Update("k", Entry{Value: "b", Timestamp: base}, time.Minute)
	assert.Equal(t, "a", entries[0].Value)
}

func TestWindowStore_KeysIndependent(t *testing.T) {
	ws := NewWindowStore(30 * time.Minute)
	base := time.Now()

	for i := 0; i < 5; i++ {
		ws.Update("k1", Entry{Timestamp: base}, time.Minute)
	}
	entries := ws.Update("k2", Entry{Timestamp: base}, time.Minute)
	assert.Len(t, entries, 1)
}

func TestWindowStore_GC(t *testing.T) {
	ws := NewWindowStore(10 * time.Minute)
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		ws.Update(fmt.Sprintf("stale-%d", i), Entry{Timestamp: base}, time.Minute)
	}
	ws.Update("fresh", Entry{Timestamp: base.Add(15 * time.Minute)}, time.Minute)
	assert.Equal(t, 5, ws.Len())

	total := ws.GC(base.Add(16 * time.Minute))
	assert.Equal(t, 1, ws.Len())
	assert.Equal(t, 1, total)
}
