package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// ORIGIN SWAP MANAGER
// =============================================================================
//
// Replaces the origin product on necessity rows with another product of the
// same group. The first origin ever replaced is kept on the row so UndoSwap
// restores it exactly, however many swaps happened in between.
//
// Group-wide and single-school swaps both run swapOne through RunBatch; the
// count of ids is the only difference. Swaps never touch status, and never
// touch the generic product of an existing substitution - re-saving with the
// new origin's default is up to the caller.
//
// A swapped necessity leaves the substitution that covered it under its old
// origin: its line is dropped there (the row is deleted when no line is
// left), so the re-save under the new origin is the only one that covers it.

type SwapManager struct {
	store       Store
	catalog     Catalog
	logger      *zap.Logger
	concurrency int
	now         func() time.Time

	// lines serializes the read-modify-write of covering substitutions; a
	// group-wide swap releases many lines of one row concurrently.
	lines sync.Mutex
}

func NewSwapManager(store Store, catalog Catalog, logger *zap.Logger, concurrency int, now func() time.Time) *SwapManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &SwapManager{store: store, catalog: catalog, logger: logger, concurrency: concurrency, now: now}
}

// SwapOrigin sets newOrigin as the origin of every listed necessity.
// An unknown target fails the whole call before any row is read.
func (m *SwapManager) SwapOrigin(ctx context.Context, role Role, ids []NecessityID, newOrigin ProductID) (BatchResult[NecessityID], error) {
	if len(ids) == 0 {
		return BatchResult[NecessityID]{Operation: "swap_origin"}, &ValidationError{Field: "necessity_ids", Message: "at least one necessity is required"}
	}
	target, err := m.catalog.OriginProduct(ctx, newOrigin)
	if err != nil {
		return BatchResult[NecessityID]{Operation: "swap_origin"}, err
	}
	res := RunBatch(ctx, "swap_origin", ids, m.concurrency, func(ctx context.Context, id NecessityID) error {
		return m.swapOne(ctx, role, id, target)
	})
	return res, nil
}

func (m *SwapManager) swapOne(ctx context.Context, role Role, id NecessityID, target OriginProduct) error {
	rec, err := m.store.GetNecessity(ctx, id)
	if err != nil {
		return err
	}
	if !role.CanEdit(rec.Status) {
		return &StageLockedError{RecordID: string(id), Role: role, Status: rec.Status}
	}
	if target.GroupID != rec.ProductGroupID {
		return &CrossGroupSwapError{
			NecessityID: id,
			RecordGroup: rec.ProductGroupID,
			TargetGroup: target.GroupID,
			Target:      target.ID,
		}
	}
	if target.ID == rec.Origin.ID {
		return errNoop
	}

	updated := rec.Clone()
	switch {
	case updated.SwappedOrigin == nil:
		prev := rec.Origin
		updated.SwappedOrigin = &prev
	case updated.SwappedOrigin.ID == target.ID:
		// Swapping back to the first origin is the same as an undo.
		updated.SwappedOrigin = nil
	}
	updated.Origin = target.ProductRef
	if err := m.moveNecessity(ctx, role, rec, updated); err != nil {
		return err
	}
	m.logger.Debug("origin swapped",
		zap.String("necessity_id", string(id)),
		zap.String("from", string(rec.Origin.ID)),
		zap.String("to", string(target.ID)))
	return nil
}

// UndoSwap restores the retained origin. Rows that were never swapped are
// skipped.
func (m *SwapManager) UndoSwap(ctx context.Context, role Role, ids []NecessityID) (BatchResult[NecessityID], error) {
	if len(ids) == 0 {
		return BatchResult[NecessityID]{Operation: "undo_swap"}, &ValidationError{Field: "necessity_ids", Message: "at least one necessity is required"}
	}
	return RunBatch(ctx, "undo_swap", ids, m.concurrency, func(ctx context.Context, id NecessityID) error {
		return m.undoOne(ctx, role, id)
	}), nil
}

func (m *SwapManager) undoOne(ctx context.Context, role Role, id NecessityID) error {
	rec, err := m.store.GetNecessity(ctx, id)
	if err != nil {
		return err
	}
	if rec.SwappedOrigin == nil {
		return errNoop
	}
	if !role.CanEdit(rec.Status) {
		return &StageLockedError{RecordID: string(id), Role: role, Status: rec.Status}
	}
	updated := rec.Clone()
	updated.Origin = *rec.SwappedOrigin
	updated.SwappedOrigin = nil
	return m.moveNecessity(ctx, role, rec, updated)
}

// moveNecessity releases rec's lines from the substitutions covering it and
// writes updated. A covering substitution the role cannot edit locks the
// whole move.
func (m *SwapManager) moveNecessity(ctx context.Context, role Role, rec, updated NecessityRecord) error {
	m.lines.Lock()
	defer m.lines.Unlock()

	covering, err := m.covering(ctx, rec)
	if err != nil {
		return err
	}
	for _, sub := range covering {
		if !role.CanEdit(sub.Status) {
			return &StageLockedError{RecordID: string(sub.ID), Role: role, Status: sub.Status}
		}
	}
	for _, sub := range covering {
		err := dropLines(ctx, m.store, sub, func(l LineItem) bool { return l.NecessityID == rec.ID }, m.now())
		if err != nil {
			return err
		}
		m.logger.Debug("line released by swap",
			zap.String("necessity_id", string(rec.ID)),
			zap.String("substitution_id", string(sub.ID)))
	}
	return m.store.UpdateNecessity(ctx, updated, rec.Status)
}

// covering lists the substitutions with a line for rec.
func (m *SwapManager) covering(ctx context.Context, rec NecessityRecord) ([]SubstitutionRecord, error) {
	subs, err := m.store.ListSubstitutions(ctx, Filter{
		ProductGroupID:  rec.ProductGroupID,
		SupplyWeek:      rec.SupplyWeek,
		ConsumptionWeek: rec.ConsumptionWeek,
		SchoolID:        rec.SchoolID,
	})
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, s := range subs {
		if _, ok := s.Line(rec.ID); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// GroupMembers returns the ids a group-wide swap applies to: the role's
// editable necessities under key and weeks.
func (m *SwapManager) GroupMembers(ctx context.Context, role Role, key ConsolidationKey, supplyWeek, consumptionWeek string) ([]NecessityID, error) {
	recs, err := m.store.ListNecessities(ctx, Filter{
		OriginProductID: key.OriginProductID,
		ProductGroupID:  key.ProductGroupID,
		SupplyWeek:      supplyWeek,
		ConsumptionWeek: consumptionWeek,
		Statuses:        role.EditableStatuses(),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]NecessityID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// SwapGroup swaps every member of a consolidated group.
func (m *SwapManager) SwapGroup(ctx context.Context, role Role, key ConsolidationKey, supplyWeek, consumptionWeek string, newOrigin ProductID) (BatchResult[NecessityID], error) {
	ids, err := m.GroupMembers(ctx, role, key, supplyWeek, consumptionWeek)
	if err != nil {
		return BatchResult[NecessityID]{Operation: "swap_origin"}, err
	}
	return m.SwapOrigin(ctx, role, ids, newOrigin)
}
