package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeKind names the mutation that produced a FolderChanged event.
type ChangeKind string

const (
	FolderAdded     ChangeKind = "added"
	FolderRemoved   ChangeKind = "removed"
	FolderUpdated   ChangeKind = "updated"
	FolderRefreshed ChangeKind = "refreshed"
)

// FolderChanged is published after a successful mutating operation on a
// tracked folder. Subscribers re-read the registry to render new state.
type FolderChanged struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	OldName string     `json:"old_name,omitempty"`
	Kind    ChangeKind `json:"kind"`
	At      time.Time  `json:"at"`
}

// Bus fans FolderChanged events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan FolderChanged]struct{}
	buffer int
	logger *Logger
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int, logger *Logger) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[chan FolderChanged]struct{}),
		buffer: buffer,
		logger: logger.WithField("component", "event_bus"),
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan FolderChanged, func()) {
	ch := make(chan FolderChanged, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps and delivers an event to every subscriber.
func (b *Bus) Publish(ev FolderChanged) FolderChanged {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.WithFields(map[string]interface{}{
				"event": string(ev.Kind),
				"name":  ev.Name,
			}).Warn("Subscriber buffer full, event dropped")
		}
	}

	return ev
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
