package pointwallet

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventFundsUpdated         EventType = "wallet-update-funds"
	EventTxHashAdded          EventType = "wallet-update-txHashArr"
	EventAddressLoaded        EventType = "wallet-address-loaded"
	EventFundsReceived        EventType = "wallet-received-funds"
	EventConfirmationRequest  EventType = "confirmation-request"
	EventConfirmationResolved EventType = "confirmation-resolved"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Notifier receives balance, transaction and confirmation events.
type Notifier interface {
	Publish(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Publish(e Event) { f(e) }

const subscriberBuffer = 64

// Hub fans events out to subscribers. Slow subscribers drop events rather
// than stall the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

type Subscription struct {
	C <-chan Event

	ch   chan Event
	hub  *Hub
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: map[*Subscription]struct{}{}}
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			slog.Warn("event dropped for slow subscriber", "type", e.Type)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
