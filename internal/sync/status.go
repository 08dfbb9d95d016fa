package sync

import (
	"sync"

	"github.com/openmined/s3sync/internal/sync/transfer"
)

const statusEventBufferSize = 16

// StatusEvent is either a run state change (Progress is nil) or a progress
// update for one path.
type StatusEvent struct {
	RunID    string
	Folder   string
	State    State
	Progress *transfer.Progress
}

// StatusBus fans run events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type StatusBus struct {
	mu     sync.RWMutex
	subs   []chan *StatusEvent
	closed bool
}

func NewStatusBus() *StatusBus {
	return &StatusBus{subs: make([]chan *StatusEvent, 0)}
}

// Subscribe returns a channel for receiving status events
func (b *StatusBus) Subscribe() <-chan *StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *StatusEvent, statusEventBufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel
func (b *StatusBus) Unsubscribe(ch <-chan *StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			close(sub)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

func (b *StatusBus) Publish(event *StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
			// full, drop rather than stall the run
		}
	}
}

func (b *StatusBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
	b.closed = true
}
