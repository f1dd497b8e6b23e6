// Package events implements the EventEmitter port (spec §4.8): the core
// never talks to the SSE transport directly, it emits typed events through
// a Manager that logs every emission and forwards it to subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType is the closed vocabulary the execution engine emits. Unlike
// the teacher's portfolio-domain event set, this list is exactly the
// seven names spec §4.8 names — no ad-hoc event types are added.
type EventType string

const (
	OrderCreated       EventType = "order_created"
	OrderCancelled     EventType = "order_cancelled"
	OrderFilled        EventType = "order_filled"
	OrderListUpdate    EventType = "order_list_update"
	PendingOrderChanged EventType = "pending_order_changed"
	PositionUpdated    EventType = "position_updated"
	BatchSummary       EventType = "batch_summary"
)

// Event is one emitted occurrence, timestamped and attributed to the
// module that raised it.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber receives every emitted Event. The SSE transport (internal/server)
// registers one; the Manager itself never depends on the transport package.
type Subscriber func(Event)

// Manager handles event emission, logging, and fan-out to subscribers.
// Emission is always non-fatal: a panicking or slow subscriber must never
// abort the business operation that triggered the emit (spec §4.8).
type Manager struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewManager creates a new event manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a subscriber that receives every future emission.
// Used by the SSE stream handler to fan events out to connected clients.
func (m *Manager) Subscribe(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// Emit emits an event. Callers must only invoke this after the owning DB
// commit has succeeded (spec §4.8) — the Manager itself has no notion of
// transactions and will not hold up or roll back anything.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("event emitted")

	m.mu.RLock()
	subs := append([]Subscriber(nil), m.subscribers...)
	m.mu.RUnlock()

	for _, sub := range subs {
		m.safeDeliver(sub, event)
	}
}

// safeDeliver recovers from a panicking subscriber so one broken SSE
// client can never take down an order-path emit.
func (m *Manager) safeDeliver(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("event subscriber panicked, dropping delivery")
		}
	}()
	sub(event)
}
