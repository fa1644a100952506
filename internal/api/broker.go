package api

import (
	"sync"
)

// PlanEvent is a broker message about one user's plan.
type PlanEvent struct {
	Type string
	Data map[string]any
}

// Broker fans plan events out to in-process subscribers, keyed by user.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan PlanEvent]struct{} // userID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan PlanEvent]struct{}{}}
}

func (b *Broker) Subscribe(userID string) chan PlanEvent {
	ch := make(chan PlanEvent, 8)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = map[chan PlanEvent]struct{}{}
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(userID string, ch chan PlanEvent) {
	b.mu.Lock()
	if m := b.subs[userID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, userID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(userID string, evt PlanEvent) {
	b.mu.Lock()
	m := b.subs[userID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
