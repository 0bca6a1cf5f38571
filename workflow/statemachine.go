/*
statemachine.go - Approval state machine

PURPOSE:
  The single authority for status changes of substitutions and the
  necessities they cover. Every transition is a named Action with exactly one
  predecessor state, one successor state and one owning role.

TRANSITIONS:
  ┌──────────────────────────────────────────────────────────────────────┐
  │ CREATED ──begin──▶ NUTRITIONIST_PENDING ──confirm──▶ NUTRITIONIST_   │
  │                          ▲                            CONFIRMED      │
  │                          │ reject                        │ release   │
  │                          │                               ▼           │
  │                    COORDINATION_PENDING ◀────────────────┘           │
  │                          │ approve                                   │
  │                          ▼                                           │
  │             COORDINATION_CONFIRMED ──forward (implicit)──▶           │
  │             LOGISTICS_PENDING ──confirm_logistics──▶                 │
  │             LOGISTICS_CONFIRMED ──print──▶ PRINT_RELEASED            │
  └──────────────────────────────────────────────────────────────────────┘

  begin happens implicitly on the first substitution save and only applies
  to necessities. forward happens implicitly right after approve.

GUARDS:
  confirm and release require a chosen generic product. release also requires
  that every school line under the consolidation key is covered by a saved
  substitution. A failed guard is a ValidationError; the record is untouched.

REPLAYS:
  Applying an action to a record that is not in the predecessor state fails
  with *TransitionError. Nothing is tolerant of replays or out-of-order calls.
*/
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Action string

const (
	ActionBegin            Action = "begin"
	ActionConfirm          Action = "confirm"
	ActionRelease          Action = "release"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionForward          Action = "forward"
	ActionConfirmLogistics Action = "confirm_logistics"
	ActionPrint            Action = "print"
)

// Transition is one edge of the state machine.
type Transition struct {
	Action Action
	From   Status
	To     Status
	Role   Role
}

var transitions = map[Action]Transition{
	ActionBegin:            {ActionBegin, StatusCreated, StatusNutritionistPending, RoleNutritionist},
	ActionConfirm:          {ActionConfirm, StatusNutritionistPending, StatusNutritionistConfirmed, RoleNutritionist},
	ActionRelease:          {ActionRelease, StatusNutritionistConfirmed, StatusCoordinationPending, RoleNutritionist},
	ActionApprove:          {ActionApprove, StatusCoordinationPending, StatusCoordinationConfirmed, RoleCoordination},
	ActionReject:           {ActionReject, StatusCoordinationPending, StatusNutritionistPending, RoleCoordination},
	ActionForward:          {ActionForward, StatusCoordinationConfirmed, StatusLogisticsPending, RoleSystem},
	ActionConfirmLogistics: {ActionConfirmLogistics, StatusLogisticsPending, StatusLogisticsConfirmed, RoleLogistics},
	ActionPrint:            {ActionPrint, StatusLogisticsConfirmed, StatusPrintReleased, RoleLogistics},
}

// TransitionFor returns the edge for an action.
func TransitionFor(a Action) (Transition, bool) {
	t, ok := transitions[a]
	return t, ok
}

// Allowed reports whether from -> to is an edge: the immediate successor, or
// the single rejection path back to NUTRITIONIST_PENDING.
func Allowed(from, to Status) bool {
	if next, ok := from.Next(); ok && next == to {
		return true
	}
	return from == StatusCoordinationPending && to == StatusNutritionistPending
}

// =============================================================================
// STATE MACHINE
// =============================================================================

type StateMachine struct {
	Store   Store
	Logger  *zap.Logger
	Metrics *Metrics
}

func NewStateMachine(store Store, logger *zap.Logger, metrics *Metrics) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{Store: store, Logger: logger, Metrics: metrics}
}

// Apply performs action on a substitution as role, then mirrors the status
// change onto the necessities it covers.
func (m *StateMachine) Apply(ctx context.Context, role Role, action Action, id SubstitutionID, note string) error {
	err := m.apply(ctx, role, action, id, note)
	m.Metrics.observeTransition(action, err)
	if err != nil {
		m.Logger.Debug("transition rejected",
			zap.String("action", string(action)),
			zap.String("substitution_id", string(id)),
			zap.Error(err))
		return err
	}
	m.Logger.Debug("transition applied",
		zap.String("action", string(action)),
		zap.String("substitution_id", string(id)),
		zap.String("role", string(role)))
	return nil
}

func (m *StateMachine) apply(ctx context.Context, role Role, action Action, id SubstitutionID, note string) error {
	t, ok := transitions[action]
	if !ok || action == ActionBegin {
		return &ValidationError{Field: "action", Message: fmt.Sprintf("action %q does not apply to substitutions", action)}
	}
	if !Allowed(t.From, t.To) {
		return fmt.Errorf("action %s: %s -> %s is not an edge of the workflow", action, t.From, t.To)
	}
	if role != t.Role {
		return &StageLockedError{RecordID: string(id), Role: role, Status: t.From}
	}

	sub, err := m.Store.GetSubstitution(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status != t.From {
		return &TransitionError{RecordID: string(id), From: t.From, To: t.To, Current: sub.Status}
	}
	if err := m.guard(ctx, t, sub); err != nil {
		return err
	}

	if t.Action != ActionReject {
		note = ""
	}
	if err := m.Store.SetSubstitutionStatus(ctx, id, t.From, t.To, note); err != nil {
		return err
	}
	m.mirror(ctx, sub.NecessityIDs(), t.From, t.To)
	return nil
}

func (m *StateMachine) guard(ctx context.Context, t Transition, sub SubstitutionRecord) error {
	switch t.Action {
	case ActionConfirm, ActionRelease:
		if !sub.HasGeneric() {
			return &ValidationError{
				Field:   "generic_product_id",
				Message: fmt.Sprintf("substitution %s has no generic product", sub.ID),
			}
		}
		if len(sub.Lines) == 0 {
			return &ValidationError{Field: "lines", Message: fmt.Sprintf("substitution %s has no school lines", sub.ID)}
		}
	}
	if t.Action == ActionRelease {
		complete, err := m.keyComplete(ctx, sub)
		if err != nil {
			return err
		}
		if !complete {
			return &ValidationError{
				Field:   "lines",
				Message: fmt.Sprintf("not every school line of %s / %s has a saved substitution", sub.GroupKey.OriginProductID, sub.GroupKey.ProductGroupID),
			}
		}
	}
	return nil
}

// keyComplete checks that every nutritionist-stage necessity under the
// substitution's key is covered by a substitution with a generic product.
func (m *StateMachine) keyComplete(ctx context.Context, sub SubstitutionRecord) (bool, error) {
	keyFilter := Filter{
		OriginProductID: sub.GroupKey.OriginProductID,
		ProductGroupID:  sub.GroupKey.ProductGroupID,
		SupplyWeek:      sub.SupplyWeek,
		ConsumptionWeek: sub.ConsumptionWeek,
	}
	nf := keyFilter
	nf.Statuses = []Status{StatusCreated, StatusNutritionistPending, StatusNutritionistConfirmed}
	necessities, err := m.Store.ListNecessities(ctx, nf)
	if err != nil {
		return false, err
	}
	sf := keyFilter
	sf.Statuses = []Status{StatusNutritionistPending, StatusNutritionistConfirmed}
	subs, err := m.Store.ListSubstitutions(ctx, sf)
	if err != nil {
		return false, err
	}
	covered := coverage(subs)
	for _, n := range necessities {
		if !covered[n.ID] {
			return false, nil
		}
	}
	return true, nil
}

// coverage marks necessities that have a line in a substitution with a
// generic product.
func coverage(subs []SubstitutionRecord) map[NecessityID]bool {
	out := make(map[NecessityID]bool)
	for _, s := range subs {
		if !s.HasGeneric() {
			continue
		}
		for _, l := range s.Lines {
			out[l.NecessityID] = true
		}
	}
	return out
}

// mirror moves covered necessities along with their substitution. A
// necessity that is no longer in the predecessor state is logged and left
// alone; the substitution is the record of truth for the stage.
func (m *StateMachine) mirror(ctx context.Context, ids []NecessityID, from, to Status) {
	for _, nid := range ids {
		err := m.Store.SetNecessityStatus(ctx, nid, from, to)
		if err != nil {
			m.Logger.Warn("necessity status not mirrored",
				zap.String("necessity_id", string(nid)),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Error(err))
		}
	}
}

// Begin moves freshly covered necessities out of CREATED. Necessities that
// already left CREATED are not touched.
func (m *StateMachine) Begin(ctx context.Context, ids []NecessityID) error {
	for _, nid := range ids {
		err := m.Store.SetNecessityStatus(ctx, nid, StatusCreated, StatusNutritionistPending)
		var terr *TransitionError
		if errors.As(err, &terr) {
			continue
		}
		if err != nil {
			m.Metrics.observeTransition(ActionBegin, err)
			return err
		}
		m.Metrics.observeTransition(ActionBegin, nil)
	}
	return nil
}
