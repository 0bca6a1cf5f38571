package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// SUBSTITUTION EDITOR - create-or-update by key, line adjustments
// =============================================================================
//
// A save resolves the generic product (explicit choice, else the origin's
// default), recomputes every line with Convert and writes the row guarded by
// the status that was read. Lines whose quantity was overridden with
// AdjustLine keep the override as long as the generic product is unchanged.
//
// Individual overrides take a school out of the consolidated row for the same
// key: the consolidated row loses that school's line, and is deleted when no
// line is left.

// SaveRequest selects the key to save and the generic product to use.
type SaveRequest struct {
	Key SubstitutionKey
	// Empty means the origin's default generic product.
	GenericProductID ProductID
}

func (r SaveRequest) validate() error {
	k := r.Key
	switch {
	case k.OriginProductID == "":
		return &ValidationError{Field: "origin_product_id", Message: "origin product is required"}
	case k.ProductGroupID == "":
		return &ValidationError{Field: "product_group_id", Message: "product group is required"}
	case k.SupplyWeek == "":
		return &ValidationError{Field: "supply_week", Message: "supply week is required"}
	case !k.Scope.Valid():
		return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", k.Scope)}
	case k.Scope == ScopeIndividual && k.SchoolID == "":
		return &ValidationError{Field: "school_id", Message: "individual substitutions need a school"}
	case k.Scope == ScopeConsolidated && k.SchoolID != "":
		return &ValidationError{Field: "school_id", Message: "consolidated substitutions cover every school"}
	}
	return nil
}

type SubstitutionEditor struct {
	store    Store
	resolver *Resolver
	machine  *StateMachine
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewSubstitutionEditor(store Store, resolver *Resolver, machine *StateMachine, logger *zap.Logger, now func() time.Time, newID func() string) *SubstitutionEditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubstitutionEditor{store: store, resolver: resolver, machine: machine, logger: logger, now: now, newID: newID}
}

// Save creates the substitution for req.Key or updates the existing one.
func (e *SubstitutionEditor) Save(ctx context.Context, role Role, req SaveRequest) (SubstitutionRecord, error) {
	if err := req.validate(); err != nil {
		return SubstitutionRecord{}, err
	}
	key := req.Key

	existing, found, err := findSubstitution(ctx, e.store, key)
	if err != nil {
		return SubstitutionRecord{}, err
	}
	if found && !role.CanEdit(existing.Status) {
		return SubstitutionRecord{}, &StageLockedError{RecordID: string(existing.ID), Role: role, Status: existing.Status}
	}
	if !found && role != RoleNutritionist {
		return SubstitutionRecord{}, &StageLockedError{RecordID: keyLabel(key), Role: role, Status: StatusCreated}
	}

	opt, err := e.resolver.Resolve(ctx, key.OriginProductID, req.GenericProductID)
	if err != nil {
		return SubstitutionRecord{}, err
	}

	members, err := e.members(ctx, role, key)
	if err != nil {
		return SubstitutionRecord{}, err
	}
	if len(members) == 0 {
		return SubstitutionRecord{}, &ValidationError{
			Field:   "key",
			Message: fmt.Sprintf("no editable necessities for %s", keyLabel(key)),
		}
	}

	var prior *SubstitutionRecord
	if found && existing.Generic.ID == opt.Product.ID {
		prior = &existing
	}
	lines, err := buildLines(members, opt, prior)
	if err != nil {
		return SubstitutionRecord{}, err
	}

	if key.Scope == ScopeIndividual {
		if err := e.detachFromConsolidated(ctx, role, key); err != nil {
			return SubstitutionRecord{}, err
		}
	}

	now := e.now()
	var rec SubstitutionRecord
	if found {
		rec = existing.Clone()
		rec.Generic = opt.Product
		rec.ConversionFactor = opt.ConversionFactor
		rec.Origin = members[0].Origin
		rec.Lines = lines
		rec.UpdatedAt = now
		if err := e.store.UpdateSubstitution(ctx, rec, existing.Status); err != nil {
			return SubstitutionRecord{}, err
		}
	} else {
		rec = SubstitutionRecord{
			ID:               SubstitutionID(e.newID()),
			Origin:           members[0].Origin,
			Generic:          opt.Product,
			ConversionFactor: opt.ConversionFactor,
			GroupKey:         key.ConsolidationKey,
			SupplyWeek:       key.SupplyWeek,
			ConsumptionWeek:  key.ConsumptionWeek,
			Scope:            key.Scope,
			SchoolID:         key.SchoolID,
			Lines:            lines,
			Status:           StatusNutritionistPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := e.store.CreateSubstitution(ctx, rec); err != nil {
			return SubstitutionRecord{}, err
		}
	}

	if err := e.machine.Begin(ctx, rec.NecessityIDs()); err != nil {
		return SubstitutionRecord{}, err
	}

	e.logger.Debug("substitution saved",
		zap.String("substitution_id", string(rec.ID)),
		zap.String("scope", string(rec.Scope)),
		zap.String("generic_product_id", string(rec.Generic.ID)),
		zap.Int("lines", len(rec.Lines)),
		zap.Bool("created", !found))
	return rec, nil
}

// members lists the necessities a save under key covers. Necessities that
// already have a line in a substitution under another key are left out: a
// consolidated save skips schools with their own individual substitution,
// and a necessity keeps the line it has until a swap releases it. An
// individual save may take its school's line from the consolidated row of
// the same key, which detachFromConsolidated then drops.
func (e *SubstitutionEditor) members(ctx context.Context, role Role, key SubstitutionKey) ([]NecessityRecord, error) {
	necessities, err := e.store.ListNecessities(ctx, Filter{
		OriginProductID: key.OriginProductID,
		ProductGroupID:  key.ProductGroupID,
		SupplyWeek:      key.SupplyWeek,
		ConsumptionWeek: key.ConsumptionWeek,
		SchoolID:        key.SchoolID,
		Statuses:        role.EditableStatuses(),
	})
	if err != nil || len(necessities) == 0 {
		return nil, err
	}

	subs, err := e.store.ListSubstitutions(ctx, Filter{
		ProductGroupID:  key.ProductGroupID,
		SupplyWeek:      key.SupplyWeek,
		ConsumptionWeek: key.ConsumptionWeek,
		SchoolID:        key.SchoolID,
	})
	if err != nil {
		return nil, err
	}
	taken := make(map[NecessityID]bool)
	for _, s := range subs {
		sk := s.Key()
		if sk == key {
			continue
		}
		if key.Scope == ScopeIndividual && sk.Scope == ScopeConsolidated && sk.ConsolidationKey == key.ConsolidationKey {
			continue
		}
		for _, l := range s.Lines {
			taken[l.NecessityID] = true
		}
	}
	out := necessities[:0]
	for _, n := range necessities {
		if !taken[n.ID] {
			out = append(out, n)
		}
	}
	return out, nil
}

func (e *SubstitutionEditor) detachFromConsolidated(ctx context.Context, role Role, key SubstitutionKey) error {
	ck := key
	ck.Scope = ScopeConsolidated
	ck.SchoolID = ""
	cons, found, err := findSubstitution(ctx, e.store, ck)
	if err != nil || !found {
		return err
	}
	if !role.CanEdit(cons.Status) {
		return &StageLockedError{RecordID: string(cons.ID), Role: role, Status: cons.Status}
	}
	return dropLines(ctx, e.store, cons, func(l LineItem) bool { return l.SchoolID == key.SchoolID }, e.now())
}

// dropLines removes the lines matching drop from sub, guarded by the status
// that was read. A substitution left without lines is deleted.
func dropLines(ctx context.Context, store Store, sub SubstitutionRecord, drop func(LineItem) bool, now time.Time) error {
	kept := make([]LineItem, 0, len(sub.Lines))
	for _, l := range sub.Lines {
		if !drop(l) {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(sub.Lines) {
		return nil
	}
	if len(kept) == 0 {
		return store.DeleteSubstitution(ctx, sub.ID, sub.Status)
	}
	updated := sub.Clone()
	updated.Lines = kept
	updated.UpdatedAt = now
	return store.UpdateSubstitution(ctx, updated, sub.Status)
}

// buildLines converts every member. Overrides from prior survive when the
// line still exists.
func buildLines(members []NecessityRecord, opt GenericOption, prior *SubstitutionRecord) ([]LineItem, error) {
	lines := make([]LineItem, 0, len(members))
	for _, n := range members {
		line := LineItem{
			NecessityID:    n.ID,
			SchoolID:       n.SchoolID,
			SchoolName:     n.SchoolName,
			RouteID:        n.RouteID,
			OriginQuantity: n.RequestedQuantity,
		}
		if prior != nil {
			if old, ok := prior.Line(n.ID); ok && old.Adjusted {
				line.GenericQuantity = old.GenericQuantity
				line.Adjusted = true
				lines = append(lines, line)
				continue
			}
		}
		q, err := Convert(n.RequestedQuantity, opt.ConversionFactor)
		if err != nil {
			var cf *ConversionFactorError
			if errors.As(err, &cf) {
				cf.GenericProductID = opt.Product.ID
			}
			return nil, err
		}
		line.GenericQuantity = q
		lines = append(lines, line)
	}
	return lines, nil
}

// AdjustLine overrides the generic quantity of one line.
func (e *SubstitutionEditor) AdjustLine(ctx context.Context, role Role, id SubstitutionID, necessity NecessityID, quantity int64) (SubstitutionRecord, error) {
	if quantity < 0 {
		return SubstitutionRecord{}, &ValidationError{Field: "generic_quantity", Message: "must not be negative"}
	}
	sub, err := e.store.GetSubstitution(ctx, id)
	if err != nil {
		return SubstitutionRecord{}, err
	}
	if !role.CanEdit(sub.Status) {
		return SubstitutionRecord{}, &StageLockedError{RecordID: string(id), Role: role, Status: sub.Status}
	}

	updated := sub.Clone()
	idx := -1
	for i, l := range updated.Lines {
		if l.NecessityID == necessity {
			idx = i
			break
		}
	}
	if idx < 0 {
		return SubstitutionRecord{}, &NotFoundError{Kind: "line", ID: string(necessity)}
	}
	updated.Lines[idx].GenericQuantity = quantity
	updated.Lines[idx].Adjusted = true
	updated.UpdatedAt = e.now()
	if err := e.store.UpdateSubstitution(ctx, updated, sub.Status); err != nil {
		return SubstitutionRecord{}, err
	}
	return updated, nil
}

// StartKeys groups the CREATED necessities matching filter into the
// consolidated keys a first save would use.
func (e *SubstitutionEditor) StartKeys(ctx context.Context, filter Filter) ([]SubstitutionKey, error) {
	filter.Statuses = []Status{StatusCreated}
	necessities, err := e.store.ListNecessities(ctx, filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[SubstitutionKey]bool)
	var keys []SubstitutionKey
	for _, n := range necessities {
		k := SubstitutionKey{
			ConsolidationKey: n.Key(),
			SupplyWeek:       n.SupplyWeek,
			ConsumptionWeek:  n.ConsumptionWeek,
			Scope:            ScopeConsolidated,
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func keyLabel(k SubstitutionKey) string {
	label := fmt.Sprintf("%s/%s@%s", k.OriginProductID, k.ProductGroupID, k.SupplyWeek)
	if k.SchoolID != "" {
		label += "#" + string(k.SchoolID)
	}
	return label
}
