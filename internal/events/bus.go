package events

import "sync"

// Bus is a process-local publish/subscribe signal for raw result payloads,
// keyed by session. Any code path that obtains a payload — the webhook
// receiver, the entry-URL consumer — can raise it, so a session waiting in
// the same process hears about the result without waiting for a store poll.
//
// Publishing never blocks: each subscription is buffered one deep and a
// subscriber that already has an undelivered payload is skipped. Losing a
// duplicate notification is fine because the durable store carries the same
// event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan []byte
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan []byte)}
}

// Publish delivers payload to every current subscriber of the session.
func (b *Bus) Publish(sessionID string, payload []byte) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe registers interest in a session's payloads. The returned cancel
// func detaches the subscription; it is safe to call more than once.
func (b *Bus) Subscribe(sessionID string) (<-chan []byte, func()) {
	if b == nil {
		ch := make(chan []byte)
		return ch, func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 1)
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan []byte)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subs[sessionID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}
