// Package engine runs the periodic triage cycle: it pulls catalog and order
// snapshots, reconciles the notification center, classifies fresh security
// events, opens incidents, and drives approved remediation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"storefront-triage/internal/alerts"
	"storefront-triage/internal/catalog"
	"storefront-triage/internal/classify"
	"storefront-triage/internal/config"
	"storefront-triage/internal/eventlog"
	"storefront-triage/internal/gatekeeper"
	"storefront-triage/internal/incident"
	"storefront-triage/internal/metrics"
	"storefront-triage/internal/schema"
)

// Deps bundles the components the engine drives each cycle.
type Deps struct {
	Store      catalog.Store
	Validator  *schema.Validator
	Center     *alerts.Center
	Classifier *classify.Classifier
	Incidents  *incident.Manager
	Gate       *gatekeeper.Gatekeeper
	Buffer     *eventlog.Buffer
}

// Status is a point-in-time snapshot of engine health.
type Status struct {
	Degraded          bool      `json:"degraded"`
	LastCycle         time.Time `json:"last_cycle,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	Cycles            int64     `json:"cycles"`
	OpenNotifications int       `json:"open_notifications"`
	BufferedEvents    int       `json:"buffered_events"`
}

// Engine owns the evaluation loop.
type Engine struct {
	cfg    config.EngineConfig
	deps   Deps
	logger *slog.Logger

	mu        sync.RWMutex
	degraded  bool
	lastCycle time.Time
	lastError string
	cycles    int64

	// watchlist holds IPs already tied to an incident.
	watchlist map[string]bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates an engine. Call Start to begin the loop.
func New(cfg config.EngineConfig, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		logger:    slog.Default().With("component", "engine"),
		watchlist: make(map[string]bool),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic loop in a goroutine.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	// A cycle runs immediately on start so the console is populated
	// before the first tick.
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// Stop halts the loop and waits for the in-flight cycle to finish.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stop) })
	<-e.done
}

// RunCycle executes one full evaluation pass. A panic inside the cycle is
// recovered: the engine marks itself degraded, raises a system notification,
// and the next tick starts clean.
func (e *Engine) RunCycle(ctx context.Context) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation cycle panicked",
				"panic", r, "stack", string(debug.Stack()))
			e.setDegraded(fmt.Sprintf("cycle panic: %v", r))
			e.deps.Center.PushSystem(
				"system:engine-degraded",
				alerts.PriorityHigh,
				"Evaluation degraded: the last cycle did not complete",
				schema.SystemPayload{
					Component: "engine",
					Detail:    fmt.Sprint(r),
				},
				time.Now().UTC(),
			)
			metrics.ObserveCycle(time.Since(start), metrics.OutcomeError)
		}
	}()

	now := time.Now().UTC()

	reconcileErr := e.reconcileNotifications(ctx, now)
	e.classifyEvents(ctx, now)
	e.deps.Gate.ExecutePending(ctx)

	e.mu.Lock()
	e.degraded = reconcileErr != nil
	e.lastError = ""
	if reconcileErr != nil {
		e.lastError = reconcileErr.Error()
	}
	e.lastCycle = now
	e.cycles++
	e.mu.Unlock()

	outcome := metrics.OutcomeSuccess
	if reconcileErr != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveCycle(time.Since(start), outcome)
}

// reconcileNotifications fetches snapshots, validates them, and feeds the
// rule results into the notification center. A fetch failure leaves the
// center untouched; reconciling against an empty snapshot would wrongly
// resolve every open notification.
func (e *Engine) reconcileNotifications(ctx context.Context, now time.Time) error {
	products, err := e.deps.Store.ListProducts(ctx)
	if err != nil {
		e.logger.Warn("skipping rule evaluation, product fetch failed", "error", err)
		return fmt.Errorf("product fetch: %w", err)
	}
	orders, err := e.deps.Store.ListOrders(ctx)
	if err != nil {
		e.logger.Warn("skipping rule evaluation, order fetch failed", "error", err)
		return fmt.Errorf("order fetch: %w", err)
	}

	validProducts := products[:0:0]
	for i := range products {
		if err := e.deps.Validator.ValidateProduct(&products[i]); err != nil {
			e.logger.Warn("skipping malformed product record",
				"product_id", products[i].ID, "error", err)
			continue
		}
		validProducts = append(validProducts, products[i])
	}

	validOrders := orders[:0:0]
	for i := range orders {
		if err := e.deps.Validator.ValidateOrder(&orders[i]); err != nil {
			e.logger.Warn("skipping malformed order record",
				"order_id", orders[i].ID, "error", err)
			continue
		}
		validOrders = append(validOrders, orders[i])
	}

	candidates := alerts.Evaluate(validProducts, validOrders, now)
	e.deps.Center.Reconcile(candidates, now)

	open := e.deps.Center.Open()
	metrics.SetOpenNotifications(len(open))
	return nil
}

// classifyEvents scores every unprocessed event in the lookback window.
// A classifier error or timeout never escalates: the event is surfaced as a
// system notification and marked processed so it is not retried forever.
func (e *Engine) classifyEvents(ctx context.Context, now time.Time) {
	events := e.deps.Buffer.Unprocessed(e.cfg.EventWindow, now)

	for i := range events {
		event := events[i]

		byIP, byType := e.deps.Buffer.CountsFor(event, e.cfg.EventWindow, now)
		evCtx := classify.Context{
			PriorEventsFromIP:   byIP,
			PriorEventsFromType: byType,
			WatchlistedIP:       event.IPAddress != "" && e.isWatchlisted(event.IPAddress),
		}

		cls, err := e.deps.Classifier.Classify(ctx, &event, evCtx)
		e.deps.Buffer.MarkProcessed(event.ID)

		if err != nil {
			metrics.ObserveClassification(metrics.OutcomeError)
			e.logger.Error("classification failed",
				"event_id", event.ID, "type", event.Type, "error", err)
			e.deps.Center.PushSystem(
				fmt.Sprintf("system:classify-failed-%s", event.ID),
				alerts.PriorityHigh,
				fmt.Sprintf("Classification failed for event %s, manual review needed", event.ID),
				schema.SystemPayload{
					Component: "classifier",
					Reference: event.ID.String(),
					Detail:    err.Error(),
				},
				now,
			)
			continue
		}

		metrics.ObserveClassification(metrics.OutcomeSuccess)

		if !cls.ShouldCreateIncident {
			continue
		}

		inc := e.deps.Incidents.CreateIncident(&event, cls, now)
		metrics.ObserveIncidentCreated(string(inc.Severity))
		if event.IPAddress != "" {
			e.addWatchlist(event.IPAddress)
		}

		e.logger.Info("incident opened",
			"code", inc.Code,
			"event_id", event.ID,
			"risk_score", cls.RiskScore,
			"severity", inc.Severity)

		e.proposeRemediation(&event, inc, cls, now)
	}
}

// proposeRemediation maps the classified threat onto a remediation action
// and hands it to the gatekeeper.
func (e *Engine) proposeRemediation(event *schema.SecurityEvent, inc *incident.Incident, cls classify.Classification, now time.Time) {
	p, ok := proposalFor(event, inc, cls)
	if !ok {
		return
	}

	action, err := e.deps.Gate.Decide(p, cls, now)
	if err != nil {
		e.logger.Error("failed to record proposed action",
			"incident", inc.Code, "type", p.Type, "error", err)
		return
	}
	metrics.ObserveActionDecision(string(action.Status))
}

// proposalFor picks the action type for a threat. Actions that need a
// target the event cannot supply fall back to a rule update.
func proposalFor(event *schema.SecurityEvent, inc *incident.Incident, cls classify.Classification) (gatekeeper.Proposal, bool) {
	var (
		actionType gatekeeper.ActionType
		target     string
	)

	switch cls.ThreatType {
	case "credential_attack", "injection", "abuse":
		actionType, target = gatekeeper.ActionBlockIP, event.IPAddress
	case "access_violation", "exfiltration":
		actionType, target = gatekeeper.ActionSuspendUser, event.Actor
	case "suspicious_activity":
		actionType, target = gatekeeper.ActionUpdateRule, event.Type
	default:
		return gatekeeper.Proposal{}, false
	}

	if target == "" {
		actionType, target = gatekeeper.ActionUpdateRule, event.Type
	}

	return gatekeeper.Proposal{
		Type:        actionType,
		Description: fmt.Sprintf("%s response for %s (%s)", cls.ThreatType, inc.Code, target),
		Target:      target,
		IncidentID:  inc.ID,
	}, true
}

func (e *Engine) isWatchlisted(ip string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.watchlist[ip]
}

func (e *Engine) addWatchlist(ip string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchlist[ip] = true
}

func (e *Engine) setDegraded(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.degraded = true
	e.lastError = reason
}

// Status reports engine health for the status endpoint.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Status{
		Degraded:          e.degraded,
		LastCycle:         e.lastCycle,
		LastError:         e.lastError,
		Cycles:            e.cycles,
		OpenNotifications: len(e.deps.Center.Open()),
		BufferedEvents:    e.deps.Buffer.Len(),
	}
}
