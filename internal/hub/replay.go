package hub

import (
	"sync"

	"github.com/poll-broadcaster/backend/internal/model"
)

// defaultReplaySize bounds how many recent log events are kept for replay
// when an operator reattaches.
const defaultReplaySize = 200

// replayRing is a thread-safe circular buffer of the most recent log events.
// When full, the oldest event is discarded to make room.
type replayRing struct {
	mu       sync.RWMutex
	events   []model.LogEvent
	start    int
	count    int
	capacity int
}

func newReplayRing(capacity int) *replayRing {
	if capacity <= 0 {
		capacity = defaultReplaySize
	}
	return &replayRing{
		events:   make([]model.LogEvent, capacity),
		capacity: capacity,
	}
}

// Append adds an event, evicting the oldest if the ring is full.
func (r *replayRing) Append(ev model.LogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.capacity {
		r.events[(r.start+r.count)%r.capacity] = ev
		r.count++
		return
	}
	r.events[r.start] = ev
	r.start = (r.start + 1) % r.capacity
}

// Snapshot returns a copy of the buffered events, oldest first.
func (r *replayRing) Snapshot() []model.LogEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}
	out := make([]model.LogEvent, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.events[(r.start+i)%r.capacity]
	}
	return out
}

// Len returns the number of buffered events.
func (r *replayRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
