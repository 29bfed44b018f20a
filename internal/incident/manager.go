package incident

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"storefront-triage/internal/classify"
	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a lookup by unknown id or code.
	ErrNotFound = errors.New("incident not found")

	// ErrIllegalTransition indicates a status move the lifecycle forbids.
	// Returned, not panicked: the current status can change between an
	// operator's CanTransition check and the transition itself.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// AuditSink receives every timeline append for durable storage. Failures
// are the sink's problem (it logs and retries); the in-memory timeline is
// authoritative.
type AuditSink interface {
	WriteTimelineEntry(incidentID uuid.UUID, code string, entry TimelineEntry)
}

// Archiver receives incidents when they reach closed, for cold storage.
type Archiver interface {
	ArchiveIncident(inc Incident)
}

// Linker sets the incident back-reference on the triggering security event.
// The assignment happens exactly once per event.
type Linker interface {
	LinkIncident(eventID uuid.UUID, code string) error
}

// entry pairs an incident with its append lock. The lock serializes
// timeline writes and state transitions per incident; writes to different
// incidents proceed concurrently.
type entry struct {
	mu  sync.Mutex
	inc Incident
}

// Manager owns all incidents and is their only mutation path.
type Manager struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]*entry
	byCode    map[string]uuid.UUID

	seqMu   sync.Mutex
	seqYear int
	seq     int

	sink     AuditSink // optional
	archiver Archiver  // optional
	linker   Linker    // optional
}

// NewManager creates an incident manager.
func NewManager() *Manager {
	return &Manager{
		incidents: make(map[uuid.UUID]*entry),
		byCode:    make(map[string]uuid.UUID),
	}
}

// SetAuditSink attaches a durable audit sink.
func (m *Manager) SetAuditSink(sink AuditSink) { m.sink = sink }

// SetArchiver attaches a cold archiver for closed incidents.
func (m *Manager) SetArchiver(a Archiver) { m.archiver = a }

// SetLinker attaches the event back-reference writer.
func (m *Manager) SetLinker(l Linker) { m.linker = l }

// nextCode allocates the next human-facing incident code. The sequence is
// monotonic within a year and never reused, so codes allocated on the same
// day are strictly increasing.
func (m *Manager) nextCode(now time.Time) string {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()

	year := now.Year()
	if year != m.seqYear {
		m.seqYear = year
		m.seq = 0
	}
	m.seq++
	return fmt.Sprintf("INC-%d-%04d", year, m.seq)
}

// CreateIncident opens a new incident from a classified security event.
// It seeds indicators from the classification, writes the creation timeline
// entry, and back-links the triggering event.
func (m *Manager) CreateIncident(event *schema.SecurityEvent, cls classify.Classification, now time.Time) *Incident {
	id := uuid.New()
	code := m.nextCode(now)

	indicators := make([]string, len(cls.Indicators))
	copy(indicators, cls.Indicators)

	e := &entry{
		inc: Incident{
			ID:         id,
			Code:       code,
			Severity:   cls.Severity,
			Status:     StatusOpen,
			Priority:   PriorityFor(cls.Severity),
			RiskScore:  cls.RiskScore,
			ThreatType: cls.ThreatType,
			Indicators: indicators,
			EventID:    event.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
			Timeline: []TimelineEntry{{
				Timestamp: now,
				Action:    ActionCreated,
				Actor:     ActorSystem,
				Details:   fmt.Sprintf("created from event %s (%s, score %d)", event.ID, event.Type, cls.RiskScore),
			}},
		},
	}

	m.mu.Lock()
	m.incidents[id] = e
	m.byCode[code] = id
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.WriteTimelineEntry(id, code, e.inc.Timeline[0])
	}

	if m.linker != nil {
		if err := m.linker.LinkIncident(event.ID, code); err != nil {
			slog.Warn("failed to back-link event to incident",
				"event_id", event.ID, "incident", code, "error", err)
		}
	}

	slog.Info("incident created",
		"incident", code,
		"severity", cls.Severity,
		"priority", e.inc.Priority,
		"risk_score", cls.RiskScore,
		"threat_type", cls.ThreatType)

	return cloneIncident(&e.inc)
}

// Get returns a copy of an incident by internal id.
func (m *Manager) Get(id uuid.UUID) (*Incident, error) {
	m.mu.RLock()
	e, ok := m.incidents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneIncident(&e.inc), nil
}

// GetByCode returns a copy of an incident by human-facing code.
func (m *Manager) GetByCode(code string) (*Incident, error) {
	m.mu.RLock()
	id, ok := m.byCode[code]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return m.Get(id)
}

// Filter defines filters for listing incidents.
type Filter struct {
	Status   *Status
	Severity *schema.EventSeverity
	Since    *time.Time
	Limit    int
}

func (f *Filter) matches(inc *Incident) bool {
	if f.Status != nil && inc.Status != *f.Status {
		return false
	}
	if f.Severity != nil && inc.Severity != *f.Severity {
		return false
	}
	if f.Since != nil && inc.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// List returns incidents matching the filter, newest first.
func (m *Manager) List(filter Filter) []*Incident {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.incidents))
	for _, e := range m.incidents {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var results []*Incident
	for _, e := range entries {
		e.mu.Lock()
		if filter.matches(&e.inc) {
			results = append(results, cloneIncident(&e.inc))
		}
		e.mu.Unlock()
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if filter.Limit > 0 && filter.Limit < len(results) {
		results = results[:filter.Limit]
	}
	return results
}

// CanTransition reports whether moving an incident from its current status
// to target is permitted, without applying it. Reopen is not covered here;
// it has its own operation.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	return to.order() > from.order() && to != StatusOpen
}

// Transition moves an incident forward through the lifecycle. Guards:
// contained requires an action-taken timeline entry, closed requires the
// incident to already be resolved. Legality is re-checked under the entry
// lock; a stale CanTransition result from a concurrent operator yields
// ErrIllegalTransition.
func (m *Manager) Transition(id uuid.UUID, to Status, actor, details string) (*Incident, error) {
	m.mu.RLock()
	e, ok := m.incidents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	inc := &e.inc

	if !CanTransition(inc.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s on %s", ErrIllegalTransition, inc.Status, to, inc.Code)
	}

	switch to {
	case StatusContained:
		if !inc.hasActionTaken() {
			return nil, fmt.Errorf("incident %s: cannot contain without an action-taken entry", inc.Code)
		}
	case StatusClosed:
		if inc.ResolvedAt == nil {
			return nil, fmt.Errorf("incident %s: cannot close before resolution", inc.Code)
		}
	}

	now := time.Now()
	from := inc.Status
	inc.Status = to
	inc.UpdatedAt = now
	if to == StatusResolved || (to == StatusClosed && inc.ResolvedAt == nil) {
		inc.ResolvedAt = &now
	}
	if to == StatusClosed {
		inc.ClosedAt = &now
	}

	m.appendLocked(e, TimelineEntry{
		Timestamp: now,
		Action:    ActionStatusChange,
		Actor:     actor,
		Details:   fmt.Sprintf("%s -> %s: %s", from, to, details),
	})

	slog.Info("incident status changed", "incident", inc.Code, "from", from, "to", to, "actor", actor)

	if to == StatusClosed && m.archiver != nil {
		m.archiver.ArchiveIncident(*cloneIncident(inc))
	}

	return cloneIncident(inc), nil
}

// Reopen moves a closed incident back to open. A reason is mandatory and
// lands on the timeline; this is the single permitted backward move.
func (m *Manager) Reopen(id uuid.UUID, actor, reason string) (*Incident, error) {
	if reason == "" {
		return nil, fmt.Errorf("reopen requires a reason")
	}

	m.mu.RLock()
	e, ok := m.incidents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	inc := &e.inc

	if inc.Status != StatusClosed {
		return nil, fmt.Errorf("incident %s: only closed incidents can reopen (status %s)", inc.Code, inc.Status)
	}

	now := time.Now()
	inc.Status = StatusOpen
	inc.UpdatedAt = now
	// Re-arm the resolve/close guards for the new pass.
	inc.ResolvedAt = nil
	inc.ClosedAt = nil
	inc.ReopenCount++

	m.appendLocked(e, TimelineEntry{
		Timestamp: now,
		Action:    ActionReopened,
		Actor:     actor,
		Details:   reason,
	})

	slog.Warn("incident reopened", "incident", inc.Code, "actor", actor, "reason", reason)
	return cloneIncident(inc), nil
}

// AppendTimeline adds an evidence or action entry to an incident. The entry
// is timestamped under the per-incident lock so concurrent appends land in
// true chronological order.
func (m *Manager) AppendTimeline(id uuid.UUID, action, actor, details string) (*Incident, error) {
	if action == ActionCreated || action == ActionStatusChange || action == ActionReopened {
		return nil, fmt.Errorf("action %q is reserved for the lifecycle manager", action)
	}

	m.mu.RLock()
	e, ok := m.incidents[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m.appendLocked(e, TimelineEntry{
		Timestamp: time.Now(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	})
	e.inc.UpdatedAt = e.inc.Timeline[len(e.inc.Timeline)-1].Timestamp

	return cloneIncident(&e.inc), nil
}

// RecordAction marks an incident as having had remediation taken against
// it. The contain transition guard looks for this entry.
func (m *Manager) RecordAction(id uuid.UUID, actor, details string) error {
	if actor == "" {
		actor = ActorSystem
	}
	_, err := m.AppendTimeline(id, ActionTaken, actor, details)
	return err
}

// appendLocked appends to the timeline; callers hold e.mu.
func (m *Manager) appendLocked(e *entry, te TimelineEntry) {
	e.inc.Timeline = append(e.inc.Timeline, te)
	if m.sink != nil {
		m.sink.WriteTimelineEntry(e.inc.ID, e.inc.Code, te)
	}
}

// Stats returns incident counts by status and severity.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.incidents))
	for _, e := range m.incidents {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	byStatus := make(map[string]int)
	bySeverity := make(map[string]int)
	for _, e := range entries {
		e.mu.Lock()
		byStatus[string(e.inc.Status)]++
		bySeverity[string(e.inc.Severity)]++
		e.mu.Unlock()
	}

	return map[string]interface{}{
		"total":       len(entries),
		"by_status":   byStatus,
		"by_severity": bySeverity,
	}
}

// cloneIncident deep-copies an incident so callers can never mutate the
// timeline behind the manager's back.
func cloneIncident(inc *Incident) *Incident {
	out := *inc
	out.Indicators = append([]string(nil), inc.Indicators...)
	out.Timeline = append([]TimelineEntry(nil), inc.Timeline...)
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		out.ResolvedAt = &t
	}
	if inc.ClosedAt != nil {
		t := *inc.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}
