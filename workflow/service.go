/*
service.go - Workflow facade

PURPOSE:
  Wires the components together and exposes the role-scoped operations the
  HTTP layer calls. Single-record operations fail fast with the specific
  error; bulk operations always return a BatchResult and summarize it with
  BatchResult.Err (nil, *PartialBatchFailure or *BatchFailedError).

USAGE:
  svc := workflow.NewService(workflow.Dependencies{
      Store:   sqliteStore,
      Catalog: cat,
      Logger:  logger,
  })

  res, err := svc.Release(ctx, workflow.RoleNutritionist, ids)
  var partial *workflow.PartialBatchFailure
  if errors.As(err, &partial) {
      // some released, some did not; res.Items has the per-id errors
  }

SEE ALSO:
  - statemachine.go: transition rules
  - batch.go: partial-failure combinator
*/
package workflow

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dependencies configures a Service. Store and Catalog are required.
type Dependencies struct {
	Store    Store
	Catalog  Catalog
	Calendar Calendar
	Exporter Exporter
	Logger   *zap.Logger
	Metrics  *Metrics
	// Concurrency bounds bulk fan-out. <= 0 means unbounded.
	Concurrency int
	Clock       func() time.Time
	NewID       func() string
}

type Service struct {
	store       Store
	catalog     Catalog
	calendar    Calendar
	logger      *zap.Logger
	metrics     *Metrics
	concurrency int

	resolver *Resolver
	machine  *StateMachine
	editor   *SubstitutionEditor
	swaps    *SwapManager
	print    *PrintGate
	query    *QueryService
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	calendar := deps.Calendar
	if calendar == nil {
		calendar = StoreCalendar{Store: deps.Store}
	}

	resolver := NewResolver(deps.Catalog)
	machine := NewStateMachine(deps.Store, logger, deps.Metrics)
	return &Service{
		store:       deps.Store,
		catalog:     deps.Catalog,
		calendar:    calendar,
		logger:      logger,
		metrics:     deps.Metrics,
		concurrency: deps.Concurrency,
		resolver:    resolver,
		machine:     machine,
		editor:      NewSubstitutionEditor(deps.Store, resolver, machine, logger, clock, newID),
		swaps:       NewSwapManager(deps.Store, deps.Catalog, logger, deps.Concurrency, clock),
		print:       NewPrintGate(deps.Store, machine, deps.Exporter, logger, deps.Metrics, deps.Concurrency, clock),
		query:       NewQueryService(deps.Store, resolver),
	}
}

// Query exposes the read side.
func (s *Service) Query() *QueryService { return s.query }

// summarize logs and counts a finished batch and returns its summary error.
func summarize[K comparable](s *Service, res BatchResult[K]) (BatchResult[K], error) {
	observeBatch(s.metrics, res)
	fields := []zap.Field{
		zap.String("operation", res.Operation),
		zap.Int("success", res.SuccessCount),
		zap.Int("failure", res.FailureCount),
		zap.Int("skipped", res.SkippedCount),
	}
	err := res.Err()
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Info("batch completed", fields...)
	return res, err
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

func (s *Service) SaveSubstitution(ctx context.Context, role Role, req SaveRequest) (SubstitutionRecord, error) {
	rec, err := s.editor.Save(ctx, role, req)
	if err != nil {
		s.logFailure("save substitution", err)
	}
	return rec, err
}

func (s *Service) AdjustLine(ctx context.Context, role Role, id SubstitutionID, necessity NecessityID, quantity int64) (SubstitutionRecord, error) {
	return s.editor.AdjustLine(ctx, role, id, necessity, quantity)
}

// StartAdjustments saves a consolidated substitution with the default generic
// product for every key that still has CREATED necessities under filter.
func (s *Service) StartAdjustments(ctx context.Context, role Role, filter Filter) (BatchResult[SubstitutionKey], error) {
	if role != RoleNutritionist {
		return BatchResult[SubstitutionKey]{Operation: "start"}, &StageLockedError{RecordID: "start", Role: role, Status: StatusCreated}
	}
	keys, err := s.editor.StartKeys(ctx, filter)
	if err != nil {
		return BatchResult[SubstitutionKey]{Operation: "start"}, err
	}
	if len(keys) == 0 {
		return BatchResult[SubstitutionKey]{Operation: "start"}, &ValidationError{Field: "filter", Message: "no necessities waiting to be started"}
	}
	res := RunBatch(ctx, "start", keys, s.concurrency, func(ctx context.Context, k SubstitutionKey) error {
		_, err := s.editor.Save(ctx, role, SaveRequest{Key: k})
		return err
	})
	return summarize(s, res)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Service) applyAll(ctx context.Context, role Role, action Action, ids []SubstitutionID, note string) (BatchResult[SubstitutionID], error) {
	res := RunBatch(ctx, string(action), ids, s.concurrency, func(ctx context.Context, id SubstitutionID) error {
		if action == ActionApprove {
			return s.approve(ctx, role, id)
		}
		return s.machine.Apply(ctx, role, action, id, note)
	})
	return summarize(s, res)
}

// visible lists the ids of the substitutions in status that role sees under
// filter. An empty list is ErrNoSubstitutionsFound.
func (s *Service) visible(ctx context.Context, role Role, filter Filter, status Status) ([]SubstitutionID, error) {
	filter.Statuses = []Status{status}
	subs, err := s.query.Substitutions(ctx, role, filter)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubstitutionsFound
	}
	ids := make([]SubstitutionID, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return ids, nil
}

func requireIDs(ids []SubstitutionID) error {
	if len(ids) == 0 {
		return &ValidationError{Field: "substitution_ids", Message: "at least one substitution is required"}
	}
	return nil
}

// Confirm moves one substitution to NUTRITIONIST_CONFIRMED.
func (s *Service) Confirm(ctx context.Context, role Role, id SubstitutionID) error {
	return s.machine.Apply(ctx, role, ActionConfirm, id, "")
}

func (s *Service) ConfirmMany(ctx context.Context, role Role, ids []SubstitutionID) (BatchResult[SubstitutionID], error) {
	if err := requireIDs(ids); err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionConfirm)}, err
	}
	return s.applyAll(ctx, role, ActionConfirm, ids, "")
}

// ConfirmAll confirms every NUTRITIONIST_PENDING substitution under filter.
func (s *Service) ConfirmAll(ctx context.Context, role Role, filter Filter) (BatchResult[SubstitutionID], error) {
	ids, err := s.visible(ctx, role, filter, StatusNutritionistPending)
	if err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionConfirm)}, err
	}
	return s.applyAll(ctx, role, ActionConfirm, ids, "")
}

// Release sends substitutions to coordination.
func (s *Service) Release(ctx context.Context, role Role, ids []SubstitutionID) (BatchResult[SubstitutionID], error) {
	if err := requireIDs(ids); err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionRelease)}, err
	}
	return s.applyAll(ctx, role, ActionRelease, ids, "")
}

// Approve confirms one substitution at coordination and forwards it to
// logistics.
func (s *Service) Approve(ctx context.Context, role Role, id SubstitutionID) error {
	return s.approve(ctx, role, id)
}

// approve runs approve then forward. A row left in COORDINATION_CONFIRMED by a
// forward that failed after its approval committed only gets the forward.
func (s *Service) approve(ctx context.Context, role Role, id SubstitutionID) error {
	err := s.machine.Apply(ctx, role, ActionApprove, id, "")
	var terr *TransitionError
	if errors.As(err, &terr) && terr.Current == StatusCoordinationConfirmed {
		s.logger.Info("resuming forward of approved substitution", zap.String("substitution_id", string(id)))
		err = nil
	}
	if err != nil {
		return err
	}
	return s.machine.Apply(ctx, RoleSystem, ActionForward, id, "")
}

// Reject sends one substitution back to the nutritionist. Quantities edited
// at coordination are kept; reason is stored on the record.
func (s *Service) Reject(ctx context.Context, role Role, id SubstitutionID, reason string) error {
	return s.machine.Apply(ctx, role, ActionReject, id, reason)
}

func (s *Service) RejectMany(ctx context.Context, role Role, ids []SubstitutionID, reason string) (BatchResult[SubstitutionID], error) {
	if err := requireIDs(ids); err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionReject)}, err
	}
	return s.applyAll(ctx, role, ActionReject, ids, reason)
}

// ApproveAll approves every substitution the role sees under filter, which
// includes approved rows still waiting to be forwarded.
func (s *Service) ApproveAll(ctx context.Context, role Role, filter Filter) (BatchResult[SubstitutionID], error) {
	filter.Statuses = nil
	subs, err := s.query.Substitutions(ctx, role, filter)
	if err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionApprove)}, err
	}
	if len(subs) == 0 {
		return BatchResult[SubstitutionID]{Operation: string(ActionApprove)}, ErrNoSubstitutionsFound
	}
	ids := make([]SubstitutionID, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return s.applyAll(ctx, role, ActionApprove, ids, "")
}

// ApproveMany approves the listed substitutions.
func (s *Service) ApproveMany(ctx context.Context, role Role, ids []SubstitutionID) (BatchResult[SubstitutionID], error) {
	if err := requireIDs(ids); err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionApprove)}, err
	}
	return s.applyAll(ctx, role, ActionApprove, ids, "")
}

func (s *Service) ConfirmLogistics(ctx context.Context, role Role, id SubstitutionID) error {
	return s.machine.Apply(ctx, role, ActionConfirmLogistics, id, "")
}

func (s *Service) ConfirmLogisticsMany(ctx context.Context, role Role, ids []SubstitutionID) (BatchResult[SubstitutionID], error) {
	if err := requireIDs(ids); err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionConfirmLogistics)}, err
	}
	return s.applyAll(ctx, role, ActionConfirmLogistics, ids, "")
}

func (s *Service) ConfirmLogisticsAll(ctx context.Context, role Role, filter Filter) (BatchResult[SubstitutionID], error) {
	ids, err := s.visible(ctx, role, filter, StatusLogisticsPending)
	if err != nil {
		return BatchResult[SubstitutionID]{Operation: string(ActionConfirmLogistics)}, err
	}
	return s.applyAll(ctx, role, ActionConfirmLogistics, ids, "")
}

// =============================================================================
// ORIGIN SWAPS
// =============================================================================

func (s *Service) SwapOrigin(ctx context.Context, role Role, ids []NecessityID, newOrigin ProductID) (BatchResult[NecessityID], error) {
	res, err := s.swaps.SwapOrigin(ctx, role, ids, newOrigin)
	if err != nil {
		return res, err
	}
	return summarize(s, res)
}

func (s *Service) SwapGroup(ctx context.Context, role Role, key ConsolidationKey, supplyWeek, consumptionWeek string, newOrigin ProductID) (BatchResult[NecessityID], error) {
	res, err := s.swaps.SwapGroup(ctx, role, key, supplyWeek, consumptionWeek, newOrigin)
	if err != nil {
		return res, err
	}
	return summarize(s, res)
}

func (s *Service) UndoSwap(ctx context.Context, role Role, ids []NecessityID) (BatchResult[NecessityID], error) {
	res, err := s.swaps.UndoSwap(ctx, role, ids)
	if err != nil {
		return res, err
	}
	return summarize(s, res)
}

// =============================================================================
// PRINT
// =============================================================================

func (s *Service) MarkPrinted(ctx context.Context, role Role, filter Filter) (BatchResult[SubstitutionID], error) {
	res, err := s.print.MarkPrinted(ctx, role, filter)
	if err != nil {
		return res, err
	}
	return summarize(s, res)
}

func (s *Service) Manifest(ctx context.Context, filter Filter, mode ManifestMode, statuses []Status) (Manifest, error) {
	return s.print.Manifest(ctx, filter, mode, statuses)
}

func (s *Service) Export(ctx context.Context, w io.Writer, filter Filter, mode ManifestMode, statuses []Status) error {
	return s.print.Export(ctx, w, filter, mode, statuses)
}

// =============================================================================
// CATALOG AND CALENDAR
// =============================================================================

func (s *Service) GenericOptions(ctx context.Context, origin ProductID) ([]GenericOption, error) {
	if origin == "" {
		return nil, &ValidationError{Field: "origin_product_id", Message: "origin product is required"}
	}
	return s.catalog.GenericOptions(ctx, origin)
}

func (s *Service) ConsumptionWeekFor(ctx context.Context, supplyWeek string) (string, error) {
	return s.calendar.ConsumptionWeekFor(ctx, supplyWeek)
}

func (s *Service) SupplyWeekFor(ctx context.Context, consumptionWeek string) (string, error) {
	return s.calendar.SupplyWeekFor(ctx, consumptionWeek)
}

func (s *Service) logFailure(op string, err error) {
	if IsClientError(err) || IsConflict(err) || IsNotFound(err) {
		s.logger.Debug(op+" rejected", zap.Error(err))
		return
	}
	s.logger.Error(op+" failed", zap.Error(err))
}
