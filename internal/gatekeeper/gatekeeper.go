// Package gatekeeper decides whether proposed remediation actions run
// autonomously or wait for human approval, and drives their execution.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"storefront-triage/internal/alerts"
	"storefront-triage/internal/classify"
	"storefront-triage/internal/config"
	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

// ActionType identifies a remediation action category.
type ActionType string

const (
	ActionBlockIP        ActionType = "block_ip"
	ActionSuspendUser    ActionType = "suspend_user"
	ActionUpdateRule     ActionType = "update_rule"
	ActionConfigChange   ActionType = "config_change"
	ActionRestartService ActionType = "restart_service"
	ActionDeploy         ActionType = "deploy"
)

// IsValid checks whether the action type is known.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionBlockIP, ActionSuspendUser, ActionUpdateRule,
		ActionConfigChange, ActionRestartService, ActionDeploy:
		return true
	}
	return false
}

// RequiresApproval reports whether the action type always needs a human
// decision regardless of classifier confidence.
func (a ActionType) RequiresApproval() bool {
	switch a {
	case ActionConfigChange, ActionRestartService, ActionDeploy:
		return true
	}
	return false
}

// ActionStatus tracks an action through its decision and execution lifecycle.
type ActionStatus string

const (
	StatusAutoApproved    ActionStatus = "auto_approved"
	StatusPendingApproval ActionStatus = "pending_approval"
	StatusApproved        ActionStatus = "approved"
	StatusDenied          ActionStatus = "denied"
	StatusExecuted        ActionStatus = "executed"
	StatusFailed          ActionStatus = "failed"
)

// Decision records how an action was approved or denied.
type Decision struct {
	Approved               bool       `json:"approved"`
	Reason                 string     `json:"reason"`
	Confidence             float64    `json:"confidence"`
	RequiresHumanApproval  bool       `json:"requires_human_approval"`
	DecidedBy              string     `json:"decided_by"`
	DecidedAt              time.Time  `json:"decided_at"`
}

// Action is a proposed remediation tied to an incident.
type Action struct {
	ID          uuid.UUID    `json:"id"`
	Type        ActionType   `json:"type"`
	Description string       `json:"description"`
	Target      string       `json:"target"`
	IncidentID  uuid.UUID    `json:"incident_id"`
	Status      ActionStatus `json:"status"`
	Decision    Decision     `json:"decision"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ExecutedAt  *time.Time   `json:"executed_at,omitempty"`
}

// Proposal describes a candidate action before the gate decides on it.
type Proposal struct {
	Type        ActionType
	Description string
	Target      string
	IncidentID  uuid.UUID
}

// Executor carries out an approved action. Implementations must honor the
// context deadline.
type Executor interface {
	Execute(ctx context.Context, action Action) error
}

// Notifier surfaces execution failures to operators.
type Notifier interface {
	PushSystem(id string, priority alerts.Priority, message string, payload schema.SystemPayload, now time.Time)
}

// Recorder appends an action-taken entry to an incident timeline. Wired to
// the incident manager so contain/resolve guards can see remediation history.
type Recorder interface {
	RecordAction(incidentID uuid.UUID, actor, details string) error
}

// Gatekeeper holds proposed actions and applies the autonomy policy.
type Gatekeeper struct {
	mu      sync.RWMutex
	actions map[uuid.UUID]*Action

	cfg      config.AutonomyConfig
	executor Executor
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a gatekeeper with the given autonomy policy.
func New(cfg config.AutonomyConfig, executor Executor, notifier Notifier, recorder Recorder) *Gatekeeper {
	return &Gatekeeper{
		actions:  make(map[uuid.UUID]*Action),
		cfg:      cfg,
		executor: executor,
		notifier: notifier,
		recorder: recorder,
		logger:   slog.Default().With("component", "gatekeeper"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// threshold returns the auto-approval confidence floor for an action type.
func (g *Gatekeeper) threshold(t ActionType) float64 {
	if v, ok := g.cfg.Thresholds[string(t)]; ok {
		return v
	}
	return g.cfg.DefaultThreshold
}

// Decide records the proposal and either auto-approves it or queues it for
// a human. Auto-approval requires an autonomous action type and classifier
// confidence at or above the per-type threshold.
func (g *Gatekeeper) Decide(p Proposal, cls classify.Classification, now time.Time) (*Action, error) {
	if !p.Type.IsValid() {
		return nil, fmt.Errorf("unknown action type: %s", p.Type)
	}

	action := &Action{
		ID:          uuid.New(),
		Type:        p.Type,
		Description: p.Description,
		Target:      p.Target,
		IncidentID:  p.IncidentID,
		CreatedAt:   now,
	}

	floor := g.threshold(p.Type)
	switch {
	case p.Type.RequiresApproval():
		action.Status = StatusPendingApproval
		action.Decision = Decision{
			Reason:                fmt.Sprintf("%s always requires approval", p.Type),
			Confidence:            cls.Confidence,
			RequiresHumanApproval: true,
		}
	case cls.Confidence >= floor:
		action.Status = StatusAutoApproved
		action.Decision = Decision{
			Approved:   true,
			Reason:     fmt.Sprintf("confidence %.2f meets threshold %.2f", cls.Confidence, floor),
			Confidence: cls.Confidence,
			DecidedBy:  "system",
			DecidedAt:  now,
		}
	default:
		action.Status = StatusPendingApproval
		action.Decision = Decision{
			Reason:                fmt.Sprintf("confidence %.2f below threshold %.2f", cls.Confidence, floor),
			Confidence:            cls.Confidence,
			RequiresHumanApproval: true,
		}
	}

	g.mu.Lock()
	g.actions[action.ID] = action
	g.mu.Unlock()

	g.logger.Info("action decided",
		"action_id", action.ID,
		"type", action.Type,
		"incident_id", action.IncidentID,
		"status", action.Status,
		"confidence", cls.Confidence)

	out := *action
	return &out, nil
}

// Get returns a copy of the action with the given ID.
func (g *Gatekeeper) Get(id uuid.UUID) (*Action, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.actions[id]
	if !ok {
		return nil, fmt.Errorf("action not found: %s", id)
	}
	out := *a
	return &out, nil
}

// Filter selects actions for listing.
type Filter struct {
	Status     *ActionStatus
	IncidentID *uuid.UUID
	Limit      int
}

// List returns actions matching the filter, newest first.
func (g *Gatekeeper) List(filter Filter) []*Action {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Action
	for _, a := range g.actions {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.IncidentID != nil && a.IncidentID != *filter.IncidentID {
			continue
		}
		c := *a
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// SubmitApproval records a human decision on a pending action. Submitting a
// decision for an action that has already been decided is a no-op that
// returns the existing action, so duplicate form posts stay harmless.
func (g *Gatekeeper) SubmitApproval(id uuid.UUID, approved bool, reason, approver string, now time.Time) (*Action, error) {
	if approver == "" {
		return nil, fmt.Errorf("approver is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.actions[id]
	if !ok {
		return nil, fmt.Errorf("action not found: %s", id)
	}

	if a.Status != StatusPendingApproval {
		out := *a
		return &out, nil
	}

	a.Decision.Approved = approved
	a.Decision.Reason = reason
	a.Decision.DecidedBy = approver
	a.Decision.DecidedAt = now
	if approved {
		a.Status = StatusApproved
	} else {
		a.Status = StatusDenied
	}

	g.logger.Info("approval recorded",
		"action_id", a.ID,
		"approved", approved,
		"approver", approver)

	out := *a
	return &out, nil
}

// Resubmit moves a failed action back into its approved state so the next
// cycle retries it. Only failed actions can be resubmitted.
func (g *Gatekeeper) Resubmit(id uuid.UUID) (*Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.actions[id]
	if !ok {
		return nil, fmt.Errorf("action not found: %s", id)
	}
	if a.Status != StatusFailed {
		return nil, fmt.Errorf("only failed actions can be resubmitted, current status: %s", a.Status)
	}

	if a.Decision.RequiresHumanApproval && a.Decision.DecidedBy != "" {
		a.Status = StatusApproved
	} else {
		a.Status = StatusAutoApproved
	}
	a.LastError = ""

	g.logger.Info("action resubmitted", "action_id", a.ID, "type", a.Type)

	out := *a
	return &out, nil
}

// ExecutePending runs every approved action that has not executed yet.
// Each execution gets a bounded timeout and one automatic retry before the
// action is marked failed and a high-priority notification is raised.
func (g *Gatekeeper) ExecutePending(ctx context.Context) {
	g.mu.RLock()
	var ready []uuid.UUID
	for id, a := range g.actions {
		if a.Status == StatusAutoApproved || a.Status == StatusApproved {
			ready = append(ready, id)
		}
	}
	g.mu.RUnlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })

	for _, id := range ready {
		if ctx.Err() != nil {
			return
		}
		g.executeOne(ctx, id)
	}
}

func (g *Gatekeeper) executeOne(ctx context.Context, id uuid.UUID) {
	g.mu.Lock()
	a, ok := g.actions[id]
	if !ok || (a.Status != StatusAutoApproved && a.Status != StatusApproved) {
		g.mu.Unlock()
		return
	}
	if a.Decision.RequiresHumanApproval && a.Decision.DecidedBy == "" {
		g.mu.Unlock()
		panic(fmt.Sprintf("executing action %s without a recorded approver", a.ID))
	}
	snapshot := *a
	g.mu.Unlock()

	attempts := 1
	err := g.runExecutor(ctx, snapshot)
	if err != nil {
		g.logger.Warn("action execution failed, retrying once",
			"action_id", snapshot.ID, "type", snapshot.Type, "error", err)
		if sleepErr := g.sleep(ctx, g.cfg.RetryDelay); sleepErr != nil {
			return
		}
		attempts++
		err = g.runExecutor(ctx, snapshot)
	}

	now := time.Now().UTC()

	g.mu.Lock()
	a, ok = g.actions[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	a.Attempts += attempts
	if err != nil {
		a.Status = StatusFailed
		a.LastError = err.Error()
	} else {
		a.Status = StatusExecuted
		a.ExecutedAt = &now
	}
	result := *a
	g.mu.Unlock()

	if err != nil {
		g.logger.Error("action execution failed permanently",
			"action_id", result.ID, "type", result.Type, "error", err)
		if g.notifier != nil {
			g.notifier.PushSystem(
				fmt.Sprintf("system:action-failed-%s", result.ID),
				alerts.PriorityHigh,
				fmt.Sprintf("Remediation %s failed: %s", result.Type, err),
				schema.SystemPayload{
					Component: "gatekeeper",
					Reference: result.ID.String(),
					Detail:    err.Error(),
				},
				now,
			)
		}
		return
	}

	g.logger.Info("action executed",
		"action_id", result.ID, "type", result.Type, "incident_id", result.IncidentID)

	if g.recorder != nil {
		details := fmt.Sprintf("%s: %s", result.Type, result.Description)
		if recErr := g.recorder.RecordAction(result.IncidentID, result.Decision.DecidedBy, details); recErr != nil {
			g.logger.Warn("failed to record action on incident timeline",
				"action_id", result.ID, "incident_id", result.IncidentID, "error", recErr)
		}
	}
}

func (g *Gatekeeper) runExecutor(ctx context.Context, a Action) error {
	execCtx, cancel := context.WithTimeout(ctx, g.cfg.ExecutorTimeout)
	defer cancel()
	return g.executor.Execute(execCtx, a)
}

// Stats returns action counts grouped by status.
func (g *Gatekeeper) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := map[string]int{"total": len(g.actions)}
	for _, a := range g.actions {
		stats[string(a.Status)]++
	}
	return stats
}
