// Package incident owns the security incident state machine and its
// append-only, audit-grade timeline.
package incident

import (
	"time"

	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an incident.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// order gives each status its position in the forward-only lifecycle.
func (s Status) order() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInvestigating:
		return 1
	case StatusContained:
		return 2
	case StatusResolved:
		return 3
	case StatusClosed:
		return 4
	}
	return -1
}

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	return s.order() >= 0
}

// Priority is the operator-facing triage band, derived from severity.
type Priority string

const (
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
	PriorityP4 Priority = "p4"
)

// PriorityFor maps a severity to its triage band.
func PriorityFor(sev schema.EventSeverity) Priority {
	switch sev {
	case schema.SeverityCritical:
		return PriorityP1
	case schema.SeverityHigh:
		return PriorityP2
	case schema.SeverityMedium:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// Timeline entry actions written by the manager itself. Operators and the
// gatekeeper append their own actions ("action_taken", "note", ...).
const (
	ActionCreated      = "incident_created"
	ActionStatusChange = "status_change"
	ActionReopened     = "reopened"
	ActionTaken        = "action_taken"
)

// ActorSystem is the actor recorded on manager-generated entries.
const ActorSystem = "system"

// TimelineEntry is one audit record. Entries are append-only: no edits, no
// deletes, chronological order guaranteed by the per-incident lock.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// Incident is a formally tracked security response case.
type Incident struct {
	ID          uuid.UUID            `json:"id"`
	Code        string               `json:"incident_id"` // human-facing, e.g. INC-2026-0001
	Severity    schema.EventSeverity `json:"severity"`
	Status      Status               `json:"status"`
	Priority    Priority             `json:"priority"`
	RiskScore   int                  `json:"risk_score"`
	ThreatType  string               `json:"threat_type"`
	Indicators  []string             `json:"indicators"`
	Timeline    []TimelineEntry      `json:"timeline"`
	EventID     uuid.UUID            `json:"event_id"` // triggering security event
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time           `json:"closed_at,omitempty"`
	ReopenCount int                  `json:"reopen_count"`
}

// hasActionTaken reports whether any containment action is on the timeline.
func (i *Incident) hasActionTaken() bool {
	for _, e := range i.Timeline {
		if e.Action == ActionTaken {
			return true
		}
	}
	return false
}
