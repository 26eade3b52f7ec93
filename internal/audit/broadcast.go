package audit

import (
	"sync"

	"github.com/tkingovr/agent-governor/api"
)

const subscriberBuffer = 100

// Broadcaster fans written entries out to live subscribers. Slow
// subscribers miss entries rather than block writers.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[int]chan *api.AuditEntry
	nextSub int
	closed  bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan *api.AuditEntry)}
}

func (b *Broadcaster) Subscribe() (<-chan *api.AuditEntry, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *api.AuditEntry, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(e *api.AuditEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}
