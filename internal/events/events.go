// Package events fans orchestrator activity out to live subscribers.
package events

import (
	"sync"
	"time"
)

// Kind classifies an event
type Kind string

const (
	DevicesFound  Kind = "devices_found"
	WorkerStarted Kind = "worker_started"
	WorkerStopped Kind = "worker_stopped"
	JobLeased     Kind = "job_leased"
	JobSucceeded  Kind = "job_succeeded"
	JobFailed     Kind = "job_failed"
	JobAbandoned  Kind = "job_abandoned"
	WorkerError   Kind = "worker_error"
	JobsImported  Kind = "jobs_imported"
	LeasesExpired Kind = "leases_expired"
)

// Event is one thing that happened in the orchestrator
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Device  string    `json:"device,omitempty"`
	JobID   int64     `json:"job_id,omitempty"`
	Number  string    `json:"number,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Sink accepts events. Publish must not block.
type Sink interface {
	Publish(e Event)
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(Event) {}

const defaultHistory = 100

// Hub broadcasts events to subscribers and keeps a short history.
// Subscribers that fall behind are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
	history []Event
	limit   int
	now     func() time.Time
}

// NewHub creates a hub remembering the last history events
func NewHub(history int) *Hub {
	if history <= 0 {
		history = defaultHistory
	}
	return &Hub{
		clients: make(map[chan Event]struct{}),
		limit:   history,
		now:     time.Now,
	}
}

// Publish records e and delivers it to every subscriber
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, e)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}

	for client := range h.clients {
		select {
		case client <- e:
		default:
			close(client)
			delete(h.clients, client)
		}
	}
}

// Subscribe registers a listener with the given buffer. The returned
// function unsubscribes; the channel is closed afterwards or when the
// subscriber is dropped.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	client := make(chan Event, buffer)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	return client, h.unsubscriber(client)
}

// SubscribeWithHistory is Subscribe plus a copy of the history taken under
// the same lock, so every event is either in the history or on the channel
// and none is in both.
func (h *Hub) SubscribeWithHistory(buffer int) ([]Event, <-chan Event, func()) {
	client := make(chan Event, buffer)

	h.mu.Lock()
	history := make([]Event, len(h.history))
	copy(history, h.history)
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	return history, client, h.unsubscriber(client)
}

func (h *Hub) unsubscriber(client chan Event) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
		})
	}
}

// Recent returns the remembered events, oldest first
func (h *Hub) Recent() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribers returns the number of live subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
