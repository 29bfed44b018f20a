// Package eventlog holds the in-memory security event buffer and its Kafka
// intake. The buffer is the classifier's working set: a bounded ring of
// recent events that also backs the prior-activity context lookups.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

// Buffer is a bounded ring of security events. Once capacity is reached the
// oldest event is evicted on every append.
type Buffer struct {
	mu       sync.RWMutex
	events   []*schema.SecurityEvent
	byID     map[uuid.UUID]*schema.SecurityEvent
	capacity int

	processed map[uuid.UUID]bool
}

// NewBuffer creates a buffer holding at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		byID:      make(map[uuid.UUID]*schema.SecurityEvent),
		capacity:  capacity,
		processed: make(map[uuid.UUID]bool),
	}
}

// Add appends an event. Duplicate IDs are rejected so a replayed Kafka
// message cannot be classified twice.
func (b *Buffer) Add(event schema.SecurityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byID[event.ID]; exists {
		return fmt.Errorf("duplicate event: %s", event.ID)
	}

	e := event
	b.events = append(b.events, &e)
	b.byID[e.ID] = &e

	if len(b.events) > b.capacity {
		evicted := b.events[0]
		b.events = b.events[1:]
		delete(b.byID, evicted.ID)
		delete(b.processed, evicted.ID)
	}
	return nil
}

// Get returns a copy of the event with the given ID.
func (b *Buffer) Get(id uuid.UUID) (*schema.SecurityEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	out := *e
	return &out, true
}

// Recent returns copies of events created within the window before now,
// oldest first.
func (b *Buffer) Recent(window time.Duration, now time.Time) []schema.SecurityEvent {
	cutoff := now.Add(-window)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []schema.SecurityEvent
	for _, e := range b.events {
		if e.CreatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	return out
}

// Unprocessed returns copies of events in the window that have not been
// classified yet, oldest first.
func (b *Buffer) Unprocessed(window time.Duration, now time.Time) []schema.SecurityEvent {
	cutoff := now.Add(-window)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []schema.SecurityEvent
	for _, e := range b.events {
		if e.CreatedAt.After(cutoff) && !b.processed[e.ID] {
			out = append(out, *e)
		}
	}
	return out
}

// MarkProcessed records that an event has been through classification.
func (b *Buffer) MarkProcessed(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byID[id]; ok {
		b.processed[id] = true
	}
}

// CountsFor returns the prior-activity counts used as classification
// context: events sharing the given IP and events sharing the given type,
// within the window, excluding the event itself.
func (b *Buffer) CountsFor(event schema.SecurityEvent, window time.Duration, now time.Time) (byIP, byType int) {
	cutoff := now.Add(-window)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, e := range b.events {
		if e.ID == event.ID || !e.CreatedAt.After(cutoff) {
			continue
		}
		if event.IPAddress != "" && e.IPAddress == event.IPAddress {
			byIP++
		}
		if e.Type == event.Type {
			byType++
		}
	}
	return byIP, byType
}

// LinkIncident sets the incident back-reference on an event. The reference
// is set-once; relinking an already linked event is an error.
func (b *Buffer) LinkIncident(eventID uuid.UUID, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[eventID]
	if !ok {
		return fmt.Errorf("event not found: %s", eventID)
	}
	if e.IncidentID != "" {
		return fmt.Errorf("event %s already linked to incident %s", eventID, e.IncidentID)
	}
	e.IncidentID = code
	return nil
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
