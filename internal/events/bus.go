package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventUserRegistered   EventType = "USER_REGISTERED"
	EventUsernameChanged  EventType = "USERNAME_CHANGED"
	EventPasswordChanged  EventType = "PASSWORD_CHANGED"
	EventAccountDeleted   EventType = "ACCOUNT_DELETED"
	EventUserSubscribed   EventType = "USER_SUBSCRIBED"
	EventLicenseGenerated EventType = "LICENSE_GENERATED"
	EventLicenseDeleted   EventType = "LICENSE_DELETED"
	EventLicenseValidated EventType = "LICENSE_VALIDATED"
	EventStatsUpdated     EventType = "STATS_UPDATED"
)

// StatsEvents lists the event types that change the global counters
var StatsEvents = []EventType{
	EventUserRegistered,
	EventAccountDeleted,
	EventLicenseGenerated,
	EventLicenseDeleted,
	EventLicenseValidated,
	EventStatsUpdated,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Publisher is implemented by anything that accepts events
type Publisher interface {
	Publish(event Event)
}

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for the given event types
func (eb *EventBus) Subscribe(subscriber Subscriber, types ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range types {
		eb.subscribers[t] = append(eb.subscribers[t], subscriber)
	}
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run on their own
// goroutines so a slow consumer never blocks the publishing request.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// New builds an event of type t with the given payload
func New(t EventType, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}
