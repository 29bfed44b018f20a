package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-triage/internal/schema"
)

// StateStore persists operator-driven notification state (read marks and
// dismissal suppressions) so they survive process restarts. All methods are
// best-effort from the Center's point of view: failures are logged, never
// fatal to an evaluation cycle.
type StateStore interface {
	Load(ctx context.Context) (read []string, dismissed []string, err error)
	MarkRead(ctx context.Context, ids ...string) error
	ClearRead(ctx context.Context, ids ...string) error
	MarkDismissed(ctx context.Context, ids ...string) error
	ClearDismissed(ctx context.Context, ids ...string) error
}

// Center owns the set of currently open notifications. It is the only
// mutation path for that set: the engine feeds it candidate batches through
// Reconcile, operators act on it through MarkRead/MarkAllRead/Dismiss, and
// the classifier/gatekeeper surface failures through PushSystem. Direct
// writes from anywhere else would break the dedup and suppression
// guarantees, so nothing escapes by reference.
type Center struct {
	mu         sync.RWMutex
	open       map[string]*Notification
	suppressed map[string]bool // dismissed ids, held until the condition clears
	readSeed   map[string]bool // persisted read marks applied on (re)creation
	store      StateStore      // nil means memory-only
	persistCh  chan persistFn  // serialized state-store writes
}

type persistFn func(context.Context, StateStore) error

// systemID reports whether an id belongs to the system notification family.
// System ids never appear in candidate batches, so their suppressions are
// held until the process restarts (or forever, with a state store).
func systemID(id string) bool {
	return strings.HasPrefix(id, string(schema.NotifySystem)+":")
}

// NewCenter creates a notification center with no persisted state.
func NewCenter() *Center {
	return &Center{
		open:       make(map[string]*Notification),
		suppressed: make(map[string]bool),
		readSeed:   make(map[string]bool),
	}
}

// NewCenterWithStore creates a notification center backed by a state store.
// Previously persisted read marks and suppressions are loaded immediately.
func NewCenterWithStore(ctx context.Context, store StateStore) *Center {
	c := NewCenter()
	c.store = store
	c.persistCh = make(chan persistFn, 64)
	go c.persistLoop()

	read, dismissed, err := store.Load(ctx)
	if err != nil {
		slog.Warn("failed to load notification state, starting empty", "error", err)
		return c
	}
	for _, id := range read {
		c.readSeed[id] = true
	}
	for _, id := range dismissed {
		c.suppressed[id] = true
	}
	slog.Info("notification state loaded", "read", len(read), "dismissed", len(dismissed))
	return c
}

// Reconcile replaces the rule-derived portion of the open set with the
// given candidate batch. Candidates whose deterministic id matches an open
// notification keep their read flag and creation time; everything else is
// opened fresh at now. Rule-derived notifications absent from the batch are
// dropped (their condition resolved). System notifications are untouched:
// they are pushed and dismissed explicitly, never re-derived, and their
// dismissals are never lifted here.
//
// A duplicate id within one batch is a programming error and panics.
func (c *Center) Reconcile(candidates []Candidate, now time.Time) {
	c.mu.Lock()

	present := make(map[string]bool, len(candidates))
	next := make(map[string]*Notification, len(candidates))

	// Carry system notifications across cycles untouched.
	for id, n := range c.open {
		if n.Type == schema.NotifySystem {
			next[id] = n
		}
	}

	for _, cand := range candidates {
		if present[cand.ID] {
			c.mu.Unlock()
			panic(fmt.Sprintf("alerts: duplicate notification id in one cycle: %s", cand.ID))
		}
		present[cand.ID] = true

		if c.suppressed[cand.ID] {
			// Dismissed and the condition never cleared; stay silent.
			continue
		}

		if prev, ok := c.open[cand.ID]; ok {
			// Re-affirm: refresh derived fields, preserve operator state.
			prev.Priority = cand.Priority
			prev.Message = cand.Message
			prev.Payload = cand.Payload
			next[cand.ID] = prev
			continue
		}

		next[cand.ID] = &Notification{
			ID:               cand.ID,
			Type:             cand.Type,
			Priority:         cand.Priority,
			Message:          cand.Message,
			Read:             c.readSeed[cand.ID],
			CreatedAt:        now,
			SourceEntityID:   cand.SourceEntityID,
			SourceEntityType: cand.SourceEntityType,
			Payload:          cand.Payload,
		}
	}

	// Lift suppressions whose condition cleared: the next occurrence is a
	// genuine false->true transition and must open again. System ids are
	// never candidates, so absence from the batch says nothing about them;
	// their dismissals stand until an explicit re-push after a restart.
	var lifted []string
	for id := range c.suppressed {
		if systemID(id) {
			continue
		}
		if !present[id] {
			delete(c.suppressed, id)
			lifted = append(lifted, id)
		}
	}

	// Forget read marks for resolved notifications so a re-trigger opens unread.
	var cleared []string
	for id, n := range c.open {
		if n.Type == schema.NotifySystem {
			continue
		}
		if _, stillOpen := next[id]; !stillOpen {
			if c.readSeed[id] {
				delete(c.readSeed, id)
				cleared = append(cleared, id)
			}
		}
	}

	c.open = next

	if len(lifted) > 0 || len(cleared) > 0 {
		c.persist(func(ctx context.Context, s StateStore) error {
			if len(lifted) > 0 {
				if err := s.ClearDismissed(ctx, lifted...); err != nil {
					return err
				}
			}
			if len(cleared) > 0 {
				return s.ClearRead(ctx, cleared...)
			}
			return nil
		})
	}
	c.mu.Unlock()
}

// PushSystem opens a system notification (priority high unless stated
// otherwise by the caller). Pushing an id that is already open or was
// dismissed is a no-op: operators silence a failure class once.
func (c *Center) PushSystem(id string, priority Priority, message string, payload schema.SystemPayload, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppressed[id] {
		return
	}
	if _, ok := c.open[id]; ok {
		return
	}

	c.open[id] = &Notification{
		ID:               id,
		Type:             schema.NotifySystem,
		Priority:         priority,
		Message:          message,
		CreatedAt:        now,
		SourceEntityID:   payload.Reference,
		SourceEntityType: EntitySystem,
		Payload:          payload,
	}
}

// Open returns the open set in contract order: priority descending, then
// creation time descending (newest first), with id as a final deterministic
// tie-break. The returned slice holds copies.
func (c *Center) Open() []Notification {
	c.mu.RLock()
	out := make([]Notification, 0, len(c.open))
	for _, n := range c.open {
		out = append(out, *n)
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of an open notification by id.
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.open[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// MarkRead acknowledges a single open notification.
func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	n, ok := c.open[id]
	if ok {
		n.Read = true
		c.readSeed[id] = true
		c.persist(func(ctx context.Context, s StateStore) error {
			return s.MarkRead(ctx, id)
		})
	}
	c.mu.Unlock()
	return ok
}

// MarkAllRead acknowledges the entire currently-open set. Notifications not
// currently open are unaffected.
func (c *Center) MarkAllRead() int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.open))
	for id, n := range c.open {
		if !n.Read {
			n.Read = true
			c.readSeed[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		c.persist(func(ctx context.Context, s StateStore) error {
			return s.MarkRead(ctx, ids...)
		})
	}
	c.mu.Unlock()
	return len(ids)
}

// Dismiss removes a notification and suppresses its id until the underlying
// condition clears and re-triggers. This is the only user-driven removal
// path; the other is the condition resolving during Reconcile.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	_, ok := c.open[id]
	if ok {
		delete(c.open, id)
		delete(c.readSeed, id)
		c.suppressed[id] = true
		c.persist(func(ctx context.Context, s StateStore) error {
			if err := s.ClearRead(ctx, id); err != nil {
				return err
			}
			return s.MarkDismissed(ctx, id)
		})
	}
	c.mu.Unlock()
	return ok
}

// Stats returns open-set counts by type and priority.
func (c *Center) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byType := make(map[string]int)
	byPriority := make(map[string]int)
	unread := 0
	for _, n := range c.open {
		byType[string(n.Type)]++
		byPriority[string(n.Priority)]++
		if !n.Read {
			unread++
		}
	}

	return map[string]interface{}{
		"total":       len(c.open),
		"unread":      unread,
		"by_type":     byType,
		"by_priority": byPriority,
		"suppressed":  len(c.suppressed),
	}
}

// persist queues a state-store write. Callers hold c.mu, so queue order is
// mutation order. The enqueue never blocks; an overflowing queue drops the
// write (the store is best-effort by contract).
func (c *Center) persist(fn persistFn) {
	if c.store == nil {
		return
	}
	select {
	case c.persistCh <- fn:
	default:
		slog.Warn("notification state write dropped, persistence queue full")
	}
}

// persistLoop applies queued writes one at a time, so a dismissal and a
// later suppression lift can never land in the store reversed.
func (c *Center) persistLoop() {
	for fn := range c.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := fn(ctx, c.store)
		cancel()
		if err != nil {
			slog.Warn("failed to persist notification state", "error", err)
		}
	}
}
