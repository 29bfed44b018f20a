package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-triage/internal/alerts"
	"storefront-triage/internal/catalog"
	"storefront-triage/internal/classify"
	"storefront-triage/internal/config"
	"storefront-triage/internal/eventlog"
	"storefront-triage/internal/gatekeeper"
	"storefront-triage/internal/incident"
	"storefront-triage/internal/schema"

	"github.com/google/uuid"
)

var engNow = time.Now().UTC()

// ---------------------------------------------------------------------------
// Doubles
// ---------------------------------------------------------------------------

type failingStore struct {
	products error
	orders   error
	inner    *catalog.MemoryStore
}

func (f *failingStore) ListProducts(ctx context.Context) ([]schema.Product, error) {
	if f.products != nil {
		return nil, f.products
	}
	return f.inner.ListProducts(ctx)
}

func (f *failingStore) ListOrders(ctx context.Context) ([]schema.Order, error) {
	if f.orders != nil {
		return nil, f.orders
	}
	return f.inner.ListOrders(ctx)
}

type fixedScorer struct {
	score int
	err   error
}

func (s *fixedScorer) Score(_ *schema.SecurityEvent, _ classify.Context) (int, []string, float64, error) {
	if s.err != nil {
		return 0, nil, 0, s.err
	}
	return s.score, []string{"fixed"}, 0.9, nil
}

type noopExecutor struct {
	mu    sync.Mutex
	calls int
}

func (n *noopExecutor) Execute(_ context.Context, _ gatekeeper.Action) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

type testRig struct {
	engine    *Engine
	store     *catalog.MemoryStore
	center    *alerts.Center
	incidents *incident.Manager
	gate      *gatekeeper.Gatekeeper
	buffer    *eventlog.Buffer
	executor  *noopExecutor
}

func newRig(t *testing.T, scorer classify.Scorer) *testRig {
	t.Helper()

	store := catalog.NewMemoryStore()
	center := alerts.NewCenter()
	incidents := incident.NewManager()
	buffer := eventlog.NewBuffer(100)
	incidents.SetLinker(buffer)

	executor := &noopExecutor{}
	gate := gatekeeper.New(config.AutonomyConfig{
		DefaultThreshold: 0.85,
		Thresholds:       map[string]float64{"block_ip": 0.80},
		ExecutorTimeout:  time.Second,
		RetryDelay:       time.Millisecond,
	}, executor, center, incidents)

	classifier := classify.New(scorer, classify.Config{
		IncidentScoreCutoff: 70,
		Timeout:             time.Second,
	})

	eng := New(config.EngineConfig{
		Interval:    5 * time.Second,
		EventWindow: 15 * time.Minute,
	}, Deps{
		Store:      store,
		Validator:  schema.NewValidator(),
		Center:     center,
		Classifier: classifier,
		Incidents:  incidents,
		Gate:       gate,
		Buffer:     buffer,
	})

	return &testRig{
		engine:    eng,
		store:     store,
		center:    center,
		incidents: incidents,
		gate:      gate,
		buffer:    buffer,
		executor:  executor,
	}
}

// ---------------------------------------------------------------------------
// Full cycle
// ---------------------------------------------------------------------------

func TestCycleOpensNotifications(t *testing.T) {
	rig := newRig(t, &fixedScorer{score: 10})
	rig.store.SetProducts([]schema.Product{
		{ID: "4", Name: "Widget", Stock: 0, MinStock: 8},
	})
	rig.store.SetOrders([]schema.Order{
		{
			ID:          "7",
			OrderNumber: "TT-2024-002",
			Status:      schema.OrderPending,
			CreatedAt:   engNow.Add(-time.Minute),
		},
	})

	rig.engine.RunCycle(context.Background())

	open := rig.center.Open()
	if len(open) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(open))
	}

	st := rig.engine.Status()
	if st.Degraded {
		t.Errorf("healthy cycle must not be degraded: %s", st.LastError)
	}
	if st.Cycles != 1 {
		t.Errorf("expected 1 cycle, got %d", st.Cycles)
	}
}

func TestCycleSkipsMalformedRecords(t *testing.T) {
	rig := newRig(t, &fixedScorer{score: 10})
	rig.store.SetProducts([]schema.Product{
		{ID: "", Name: "Broken", Stock: 0, MinStock: 8},  // missing id
		{ID: "ok", Name: "Good", Stock: 0, MinStock: 8},
	})
	rig.store.SetOrders([]schema.Order{
		{ID: "bad", OrderNumber: "not valid!!", Status: schema.OrderPending, CreatedAt: engNow},
	})

	rig.engine.RunCycle(context.Background())

	open := rig.center.Open()
	if len(open) != 1 {
		t.Fatalf("only the valid product should alert, got %d", len(open))
	}
	if open[0].ID != "out_of_stock:ok" {
		t.Errorf("unexpected notification: %s", open[0].ID)
	}
}

func TestCycleFetchFailureKeepsState(t *testing.T) {
	rig := newRig(t, &fixedScorer{score: 10})
	rig.store.SetProducts([]schema.Product{
		{ID: "4", Name: "Widget", Stock: 0, MinStock: 8},
	})
	rig.engine.RunCycle(context.Background())
	if len(rig.center.Open()) != 1 {
		t.Fatal("setup: expected 1 open notification")
	}

	// Swap in a failing store; the open set must survive.
	rig.engine.deps.Store = &failingStore{products: errors.New("connection refused"), inner: rig.store}
	rig.engine.RunCycle(context.Background())

	if len(rig.center.Open()) != 1 {
		t.Error("fetch failure must not resolve open notifications")
	}
	st := rig.engine.Status()
	if !st.Degraded {
		t.Error("fetch failure must mark the engine degraded")
	}
	if !strings.Contains(st.LastError, "connection refused") {
		t.Errorf("status should carry the cause: %q", st.LastError)
	}
}

// ---------------------------------------------------------------------------
// Classification path
// ---------------------------------------------------------------------------

func TestCycleEscalatesHighRiskEvent(t *testing.T) {
	rig := newRig(t, &fixedScorer{score: 82})
	event := schema.SecurityEvent{
		ID:        uuid.New(),
		Type:      "brute_force",
		Severity:  schema.SeverityMedium,
		IPAddress: "203.0.113.10",
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	rig.buffer.Add(event) //nolint:errcheck

	rig.engine.RunCycle(context.Background())

	incidents := rig.incidents.List(incident.Filter{})
	if len(incidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(incidents))
	}
	inc := incidents[0]
	if inc.EventID != event.ID {
		t.Error("incident must reference the triggering event")
	}

	// Back-link set on the event.
	linked, _ := rig.buffer.Get(event.ID)
	if linked.IncidentID != inc.Code {
		t.Errorf("event back-link missing: %q", linked.IncidentID)
	}

	// A remediation was proposed, auto-approved (0.9 >= 0.80), and executed.
	rig.engine.RunCycle(context.Background())
	rig.executor.mu.Lock()
	calls := rig.executor.calls
	rig.executor.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected the block action to execute once, got %d", calls)
	}

	// The same event is not classified twice.
	if got := rig.incidents.List(incident.Filter{}); len(got) != 1 {
		t.Errorf("event reclassified: %d incidents", len(got))
	}
}

func TestCycleLowRiskEventNoIncident(t *testing.T) {
	rig := newRig(t, &fixedScorer{score: 15})
	rig.buffer.Add(schema.SecurityEvent{
		ID:        uuid.New(),
		Type:      "failed_login",
		Severity:  schema.SeverityLow,
		IPAddress: "203.0.113.10",
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}) //nolint:errcheck

	rig.engine.RunCycle(context.Background())

	if got := rig.incidents.List(incident.Filter{}); len(got) != 0 {
		t.Fatalf("low risk event must not escalate, got %d incidents", len(got))
	}
}

func TestCycleClassifierFailureFailsSafe(t *testing.T) {
	rig := newRig(t, &fixedScorer{err: errors.New("model offline")})
	event := schema.SecurityEvent{
		ID:        uuid.New(),
		Type:      "brute_force",
		Severity:  schema.SeverityMedium,
		IPAddress: "203.0.113.10",
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	rig.buffer.Add(event) //nolint:errcheck

	rig.engine.RunCycle(context.Background())

	// No incident, but a system notification flagging the failure.
	if got := rig.incidents.List(incident.Filter{}); len(got) != 0 {
		t.Fatalf("classifier failure must not escalate, got %d incidents", len(got))
	}

	open := rig.center.Open()
	if len(open) != 1 || open[0].Type != schema.NotifySystem {
		t.Fatalf("expected one system notification, got %d", len(open))
	}
	if open[0].Priority != alerts.PriorityHigh {
		t.Errorf("analysis failure should surface high priority, got %s", open[0].Priority)
	}
}

// ---------------------------------------------------------------------------
// Degradation and recovery
// ---------------------------------------------------------------------------

func TestCycleRecoversFromPanic(t *testing.T) {
	rig := newRig(t, &fixedScorer{score: 10})

	// Force a panic inside the cycle path by feeding Reconcile duplicate
	// candidates through a poisoned store double.
	rig.engine.deps.Store = duplicatingStore{}

	rig.engine.RunCycle(context.Background())

	st := rig.engine.Status()
	if !st.Degraded {
		t.Fatal("panicked cycle must mark the engine degraded")
	}
	found := false
	for _, n := range rig.center.Open() {
		if n.ID == "system:engine-degraded" {
			found = true
		}
	}
	if !found {
		t.Error("degraded cycle must raise the engine-degraded notification")
	}

	// Next cycle with a healthy store runs clean.
	rig.engine.deps.Store = catalog.NewMemoryStore()
	rig.engine.RunCycle(context.Background())
	if rig.engine.Status().Degraded {
		t.Error("engine must recover on the next healthy cycle")
	}
}

// duplicatingStore yields two identical products, which produces duplicate
// notification ids and trips the reconcile invariant.
type duplicatingStore struct{}

func (duplicatingStore) ListProducts(_ context.Context) ([]schema.Product, error) {
	p := schema.Product{ID: "dup", Name: "Dup", Stock: 0, MinStock: 1}
	return []schema.Product{p, p}, nil
}

func (duplicatingStore) ListOrders(_ context.Context) ([]schema.Order, error) {
	return nil, nil
}
