package ruletable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const persistTimeout = 10 * time.Second

// Table is the authoritative rule set. Matching goes through Snapshot and
// never takes a lock; mutations are serialized by mu.
type Table struct {
	logger    *slog.Logger
	persister Persister

	mu      sync.Mutex
	nextSeq uint64
	current atomic.Pointer[Snapshot]
	ready   atomic.Bool

	queue *opQueue

	dirtyMu sync.Mutex
	dirty   map[string]struct{}
}

// New returns an empty table. A nil persister makes every mutation
// memory-only and completes its Pending immediately.
func New(logger *slog.Logger, persister Persister) *Table {
	t := &Table{
		logger:    logger,
		persister: persister,
		queue:     newOpQueue(),
		dirty:     make(map[string]struct{}),
	}
	t.current.Store(emptySnapshot())
	return t
}

// Load replaces the table contents with rules read from the store. Rules that
// fail to compile are skipped and reported in the returned error; the rest
// are published. Stored creation order is kept when it is unique.
func (t *Table) Load(rules []Rule) error {
	var errs []error

	entries := make([]*entry, 0, len(rules))
	for _, rule := range rules {
		e, err := compile(rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].rule.Seq < entries[j].rule.Seq
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	var maxSeq uint64
	for _, e := range entries {
		maxSeq = max(maxSeq, e.rule.Seq)
	}

	byID := make(map[string]*entry, len(entries))
	usedSeq := make(map[uint64]bool, len(entries))
	var enabled []*entry
	var renumbered []string

	for _, e := range entries {
		if _, dup := byID[e.rule.ID]; dup {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", e.rule.ID))
			continue
		}
		if e.rule.Seq == 0 || usedSeq[e.rule.Seq] {
			maxSeq++
			e.rule.Seq = maxSeq
			renumbered = append(renumbered, e.rule.ID)
		}
		usedSeq[e.rule.Seq] = true
		byID[e.rule.ID] = e
		if e.rule.Enabled {
			enabled = append(enabled, e)
		}
	}

	sort.Slice(enabled, func(i, j int) bool {
		return less(enabled[i], enabled[j])
	})

	t.nextSeq = maxSeq
	t.publish(enabled, byID)
	t.ready.Store(true)

	// the store holds the old order for these; let reconciliation rewrite them
	for _, id := range renumbered {
		t.markDirty(id)
	}

	t.logger.Info("Rule table loaded",
		"rules", len(byID),
		"enabled", len(enabled),
		"skipped", len(rules)-len(byID),
	)

	return errors.Join(errs...)
}

// Ready reports whether the initial rule set has been loaded.
func (t *Table) Ready() bool {
	return t.ready.Load()
}

// Snapshot returns the current immutable view. Callers keep it for one
// matching decision.
func (t *Table) Snapshot() *Snapshot {
	return t.current.Load()
}

func (t *Table) List() []Rule {
	return t.Snapshot().Rules()
}

func (t *Table) Get(id string) (Rule, error) {
	rule, ok := t.Snapshot().Rule(id)
	if !ok {
		return Rule{}, ErrRuleNotFound
	}
	return rule, nil
}

// Upsert compiles rule and publishes it, creating it when rule.ID is empty or
// unknown. On update the creation order and time are kept. A compile failure
// leaves the table untouched and returns a *pattern.PatternError.
func (t *Table) Upsert(rule Rule) (Rule, *Pending, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	e, err := compile(rule)
	if err != nil {
		return Rule{}, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rule = t.putLocked(e, rule)
	return rule, t.enqueue(op{kind: opUpsert, id: rule.ID, rule: rule}), nil
}

// Update replaces an existing rule with change(prev). Unlike Upsert it never
// creates a rule: an ID that is missing, or deleted concurrently, yields
// ErrRuleNotFound and leaves the table untouched.
func (t *Table) Update(id string, change func(prev Rule) Rule) (Rule, *Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.current.Load().byID[id]
	if !ok {
		return Rule{}, nil, ErrRuleNotFound
	}

	rule := change(prev.rule)
	rule.ID = id

	e, err := compile(rule)
	if err != nil {
		return Rule{}, nil, err
	}

	rule = t.putLocked(e, rule)
	return rule, t.enqueue(op{kind: opUpsert, id: rule.ID, rule: rule}), nil
}

// putLocked publishes e as rule, keeping Seq and CreatedAt of the rule it
// replaces. t.mu must be held.
func (t *Table) putLocked(e *entry, rule Rule) Rule {
	now := time.Now().UTC()

	cur := t.current.Load()
	byID := cur.cloneIndex()
	enabled := cur.enabled

	if prev, ok := cur.byID[rule.ID]; ok {
		rule.Seq = prev.rule.Seq
		rule.CreatedAt = prev.rule.CreatedAt
		if prev.rule.Enabled {
			enabled = removeSorted(enabled, prev)
		}
	} else {
		t.nextSeq++
		rule.Seq = t.nextSeq
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	e.rule = rule
	byID[rule.ID] = e
	if rule.Enabled {
		enabled = insertSorted(enabled, e)
	}

	t.publish(enabled, byID)
	return rule
}

func (t *Table) Delete(id string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	prev, ok := cur.byID[id]
	if !ok {
		return nil, ErrRuleNotFound
	}

	byID := cur.cloneIndex()
	delete(byID, id)

	enabled := cur.enabled
	if prev.rule.Enabled {
		enabled = removeSorted(enabled, prev)
	}

	t.publish(enabled, byID)

	return t.enqueue(op{kind: opDelete, id: id}), nil
}

// SetEnabled flips the enabled flag without recompiling. Setting the state a
// rule already has publishes nothing and persists nothing.
func (t *Table) SetEnabled(id string, enabled bool) (Rule, *Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	prev, ok := cur.byID[id]
	if !ok {
		return Rule{}, nil, ErrRuleNotFound
	}
	if prev.rule.Enabled == enabled {
		return prev.rule, completed(nil), nil
	}

	rule := prev.rule
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()

	next := prev.withRule(rule)
	byID := cur.cloneIndex()
	byID[id] = next

	view := cur.enabled
	if enabled {
		view = insertSorted(view, next)
	} else {
		view = removeSorted(view, prev)
	}

	t.publish(view, byID)

	return rule, t.enqueue(op{kind: opToggle, id: id, enabled: enabled}), nil
}

// publish must be called with mu held.
func (t *Table) publish(enabled []*entry, byID map[string]*entry) {
	version := t.current.Load().version + 1
	t.current.Store(&Snapshot{
		version: version,
		enabled: enabled,
		byID:    byID,
	})
	t.logger.Debug("Rule snapshot published", "version", version, "rules", len(byID), "enabled", len(enabled))
}

// enqueue must be called with mu held so queue order equals publish order.
func (t *Table) enqueue(o op) *Pending {
	if t.persister == nil {
		return completed(nil)
	}
	o.pending = newPending()
	t.queue.push(o)
	return o.pending
}

// Run executes queued persistence calls until ctx is done, then drains what
// is left. Calls are not cancelled by ctx; each gets its own timeout.
func (t *Table) Run(ctx context.Context) error {
	if t.persister == nil {
		<-ctx.Done()
		return nil
	}

	base := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			if left := t.queue.len(); left > 0 {
				t.logger.Info("Draining persistence queue", "pending", left)
			}
			t.process(base, t.queue.take())
			return nil
		case <-t.queue.wake:
			t.process(base, t.queue.take())
		}
	}
}

func (t *Table) process(ctx context.Context, ops []op) {
	for _, o := range ops {
		opCtx, cancel := context.WithTimeout(ctx, persistTimeout)
		err := t.execute(opCtx, o)
		cancel()

		if err != nil {
			t.logger.Warn("Rule persistence failed",
				"op", o.kind.String(),
				"rule_id", o.id,
				"error", err,
			)
		}
		o.pending.finish(err)
	}
}

func (t *Table) execute(ctx context.Context, o op) error {
	var err error

	switch o.kind {
	case opUpsert:
		err = t.persister.PersistUpsert(ctx, o.rule)
	case opDelete:
		err = t.persister.PersistDelete(ctx, o.id)
	case opToggle:
		err = t.persister.PersistToggle(ctx, o.id, o.enabled)
	case opReconcile:
		return t.reconcile(ctx)
	}

	switch {
	case err != nil:
		t.markDirty(o.id)
	case o.kind == opUpsert || o.kind == opDelete:
		// both write the whole record for this id
		t.clearDirty(o.id)
	}

	return err
}

// Reconcile rewrites every rule whose persistence failed from the live
// table. It runs on the persistence goroutine, after everything queued
// before it, so it never writes state older than what is already queued.
func (t *Table) Reconcile(ctx context.Context) error {
	if t.persister == nil || t.DirtyCount() == 0 {
		return nil
	}

	t.mu.Lock()
	pending := t.enqueue(op{kind: opReconcile})
	t.mu.Unlock()

	return pending.Wait(ctx)
}

func (t *Table) reconcile(ctx context.Context) error {
	snap := t.Snapshot()
	var errs []error

	for _, id := range t.DirtyIDs() {
		var err error
		if rule, ok := snap.Rule(id); ok {
			err = t.persister.PersistUpsert(ctx, rule)
		} else {
			err = t.persister.PersistDelete(ctx, id)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", id, err))
			continue
		}
		t.clearDirty(id)
	}

	if len(errs) == 0 {
		t.logger.Info("Rule store reconciled", "version", snap.Version())
	}

	return errors.Join(errs...)
}

func (t *Table) markDirty(id string) {
	if id == "" {
		return
	}
	t.dirtyMu.Lock()
	t.dirty[id] = struct{}{}
	t.dirtyMu.Unlock()
}

func (t *Table) clearDirty(id string) {
	t.dirtyMu.Lock()
	delete(t.dirty, id)
	t.dirtyMu.Unlock()
}

// DirtyCount is the number of rules whose stored copy may differ from the
// live table.
func (t *Table) DirtyCount() int {
	t.dirtyMu.Lock()
	defer t.dirtyMu.Unlock()
	return len(t.dirty)
}

func (t *Table) DirtyIDs() []string {
	t.dirtyMu.Lock()
	ids := make([]string, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}
	t.dirtyMu.Unlock()

	sort.Strings(ids)
	return ids
}
