// Package alerts derives prioritized, deduplicated operational notifications
// from catalog and order state.
package alerts

import (
	"fmt"
	"time"

	"storefront-triage/internal/schema"
)

// Priority represents notification priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns a comparable ordering for priorities (higher sorts first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// EntityType identifies what a notification refers to.
type EntityType string

const (
	EntityProduct EntityType = "product"
	EntityOrder   EntityType = "order"
	EntitySystem  EntityType = "system"
)

// Notification is a deduplicated, user-facing alert. Its ID is a
// deterministic function of (type, source entity), so the same condition
// always maps to the same notification across evaluation cycles.
type Notification struct {
	ID               string                  `json:"id"`
	Type             schema.NotificationType `json:"type"`
	Priority         Priority                `json:"priority"`
	Message          string                  `json:"message"`
	Read             bool                    `json:"read"`
	CreatedAt        time.Time               `json:"created_at"`
	SourceEntityID   string                  `json:"source_entity_id"`
	SourceEntityType EntityType              `json:"source_entity_type"`
	Payload          schema.Payload          `json:"payload"`
}

// Candidate is a notification candidate produced by one rule evaluation
// cycle. Candidates carry no read/created state; the reconciler supplies it.
type Candidate struct {
	ID               string
	Type             schema.NotificationType
	Priority         Priority
	Message          string
	SourceEntityID   string
	SourceEntityType EntityType
	Payload          schema.Payload
}

// NotificationID builds the deterministic id for a (type, entity) pair.
func NotificationID(t schema.NotificationType, sourceEntityID string) string {
	return fmt.Sprintf("%s:%s", t, sourceEntityID)
}
