package broadcast

import (
	"context"
	"sync"

	"devconnect/api/internal/collab"
)

// Subscriber hands out per-session event streams to the websocket gateway.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (*Subscription, error)
}

type Subscription struct {
	Events <-chan collab.Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// LocalBus fans events out to subscribers of the same process. A subscriber
// whose buffer is full misses the event.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan collab.Event]struct{}
	buffer int
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBus{subs: make(map[string]map[chan collab.Event]struct{}), buffer: buffer}
}

func (b *LocalBus) Name() string { return "local" }

func (b *LocalBus) Deliver(_ context.Context, event collab.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, sessionID string) (*Subscription, error) {
	ch := make(chan collab.Event, b.buffer)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan collab.Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	return &Subscription{Events: ch, cancel: func() {
		b.mu.Lock()
		delete(b.subs[sessionID], ch)
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
		b.mu.Unlock()
		close(ch)
	}}, nil
}

// Subscribers returns how many streams are open for sessionID.
func (b *LocalBus) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
