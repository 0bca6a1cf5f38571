/*
print.go - Print release gate and delivery manifests

PURPOSE:
  The terminal stage. MarkPrinted moves LOGISTICS_CONFIRMED substitutions to
  PRINT_RELEASED; Manifest projects substitutions into printable sections.

IDEMPOTENCY:
  MarkPrinted only selects rows still in LOGISTICS_CONFIRMED, and a row that
  another call released in the meantime fails the transition guard and is
  counted as skipped. Calling it again with the same filter therefore reports
  zero affected rows instead of counting them twice.

PROJECTIONS:
  ModeBySchool - one section per school, lines kept as saved
  ModeByGroup  - one section per product group, quantities of the same
                 generic product and unit summed across schools

  Both are pure functions of the flattened line list. Every line appears in
  exactly one school section, and exactly once in the Sources of one group
  section.
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type ManifestMode string

const (
	ModeBySchool ManifestMode = "school"
	ModeByGroup  ManifestMode = "group"
)

func ParseManifestMode(v string) (ManifestMode, error) {
	switch m := ManifestMode(v); m {
	case ModeBySchool, ModeByGroup:
		return m, nil
	case "":
		return ModeBySchool, nil
	}
	return "", &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown manifest mode %q", v)}
}

// exportableStatuses are the stages a manifest may be built from.
var exportableStatuses = []Status{StatusLogisticsConfirmed, StatusPrintReleased}

// =============================================================================
// MANIFEST TYPES
// =============================================================================

// ManifestLine is one school line of one substitution.
type ManifestLine struct {
	SubstitutionID  SubstitutionID
	NecessityID     NecessityID
	SchoolID        SchoolID
	SchoolName      string
	RouteID         RouteID
	GroupID         GroupID
	Origin          ProductRef
	Generic         ProductRef
	OriginQuantity  decimal.Decimal
	GenericQuantity int64
	SupplyWeek      string
	ConsumptionWeek string
	Status          Status
}

type SchoolManifest struct {
	SchoolID   SchoolID
	SchoolName string
	RouteID    RouteID
	Lines      []ManifestLine
}

// GroupItem is the summed quantity of one generic product within a group.
type GroupItem struct {
	Product         ProductRef
	GenericQuantity int64
	OriginQuantity  decimal.Decimal
	SchoolCount     int
}

type GroupManifest struct {
	GroupID GroupID
	Items   []GroupItem
	Sources []ManifestLine
}

type Manifest struct {
	Mode        ManifestMode
	Statuses    []Status
	GeneratedAt time.Time
	Schools     []SchoolManifest
	Groups      []GroupManifest
}

// LineCount counts the lines the manifest accounts for.
func (m Manifest) LineCount() int {
	n := 0
	for _, s := range m.Schools {
		n += len(s.Lines)
	}
	for _, g := range m.Groups {
		n += len(g.Sources)
	}
	return n
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// ManifestLines flattens substitutions into one line per school line item.
func ManifestLines(subs []SubstitutionRecord) []ManifestLine {
	var out []ManifestLine
	for _, s := range subs {
		for _, l := range s.Lines {
			out = append(out, ManifestLine{
				SubstitutionID:  s.ID,
				NecessityID:     l.NecessityID,
				SchoolID:        l.SchoolID,
				SchoolName:      l.SchoolName,
				RouteID:         l.RouteID,
				GroupID:         s.GroupKey.ProductGroupID,
				Origin:          s.Origin,
				Generic:         s.Generic,
				OriginQuantity:  l.OriginQuantity,
				GenericQuantity: l.GenericQuantity,
				SupplyWeek:      s.SupplyWeek,
				ConsumptionWeek: s.ConsumptionWeek,
				Status:          s.Status,
			})
		}
	}
	return out
}

// ProjectBySchool builds one section per school. Quantities are not merged.
func ProjectBySchool(lines []ManifestLine) []SchoolManifest {
	col := newCollator()
	index := make(map[SchoolID]int)
	var out []SchoolManifest
	for _, l := range lines {
		i, ok := index[l.SchoolID]
		if !ok {
			i = len(out)
			index[l.SchoolID] = i
			out = append(out, SchoolManifest{SchoolID: l.SchoolID, SchoolName: l.SchoolName, RouteID: l.RouteID})
		}
		out[i].Lines = append(out[i].Lines, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return col.less(out[i].SchoolName, out[j].SchoolName, string(out[i].SchoolID), string(out[j].SchoolID))
	})
	for i := range out {
		sortLines(col, out[i].Lines)
	}
	return out
}

type itemKey struct {
	product ProductID
	unit    string
}

// ProjectByGroup builds one section per product group, summing quantities of
// the same generic product and unit across schools.
func ProjectByGroup(lines []ManifestLine) []GroupManifest {
	col := newCollator()
	index := make(map[GroupID]int)
	items := make(map[GroupID]map[itemKey]*GroupItem)
	schools := make(map[GroupID]map[itemKey]map[SchoolID]struct{})
	var out []GroupManifest

	for _, l := range lines {
		i, ok := index[l.GroupID]
		if !ok {
			i = len(out)
			index[l.GroupID] = i
			out = append(out, GroupManifest{GroupID: l.GroupID})
			items[l.GroupID] = make(map[itemKey]*GroupItem)
			schools[l.GroupID] = make(map[itemKey]map[SchoolID]struct{})
		}
		out[i].Sources = append(out[i].Sources, l)

		k := itemKey{product: l.Generic.ID, unit: l.Generic.Unit}
		it, ok := items[l.GroupID][k]
		if !ok {
			it = &GroupItem{Product: l.Generic, OriginQuantity: decimal.Zero}
			items[l.GroupID][k] = it
			schools[l.GroupID][k] = make(map[SchoolID]struct{})
		}
		it.GenericQuantity += l.GenericQuantity
		it.OriginQuantity = it.OriginQuantity.Add(l.OriginQuantity)
		schools[l.GroupID][k][l.SchoolID] = struct{}{}
	}

	for i := range out {
		g := &out[i]
		for k, it := range items[g.GroupID] {
			it.SchoolCount = len(schools[g.GroupID][k])
			g.Items = append(g.Items, *it)
		}
		sort.Slice(g.Items, func(a, b int) bool {
			return col.less(g.Items[a].Product.Name, g.Items[b].Product.Name,
				string(g.Items[a].Product.ID)+"|"+g.Items[a].Product.Unit,
				string(g.Items[b].Product.ID)+"|"+g.Items[b].Product.Unit)
		})
		sortLines(col, g.Sources)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

func sortLines(col *collator, lines []ManifestLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if a.Generic.Name != b.Generic.Name {
			return col.less(a.Generic.Name, b.Generic.Name, "", "")
		}
		if a.SchoolName != b.SchoolName {
			return col.less(a.SchoolName, b.SchoolName, "", "")
		}
		return a.NecessityID < b.NecessityID
	})
}

// collator orders display names the way Brazilian Portuguese readers expect:
// "Álvares" sorts next to "Alves", not after "Zé", and "R-9" before "R-10".
// Not safe for concurrent use, so each projection builds its own.
type collator struct {
	c *collate.Collator
}

func newCollator() *collator {
	return &collator{c: collate.New(language.BrazilianPortuguese, collate.IgnoreCase, collate.Numeric)}
}

// less compares names, falling back to ids when names collate equal.
func (c *collator) less(nameA, nameB, idA, idB string) bool {
	if r := c.c.CompareString(nameA, nameB); r != 0 {
		return r < 0
	}
	return idA < idB
}

// SortNames orders names and ids with the pt-BR collation.
func SortNames[S ~string](names []S) {
	col := newCollator()
	sort.SliceStable(names, func(i, j int) bool {
		a, b := string(names[i]), string(names[j])
		return col.less(a, b, a, b)
	})
}

// =============================================================================
// PRINT GATE
// =============================================================================

type PrintGate struct {
	store       Store
	machine     *StateMachine
	exporter    Exporter
	logger      *zap.Logger
	metrics     *Metrics
	concurrency int
	now         func() time.Time
}

func NewPrintGate(store Store, machine *StateMachine, exporter Exporter, logger *zap.Logger, metrics *Metrics, concurrency int, now func() time.Time) *PrintGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrintGate{
		store:       store,
		machine:     machine,
		exporter:    exporter,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
		now:         now,
	}
}

// MarkPrinted releases every LOGISTICS_CONFIRMED substitution matching
// filter. The filter's Statuses are ignored. Applied() on the result is the
// affected count.
func (g *PrintGate) MarkPrinted(ctx context.Context, role Role, filter Filter) (BatchResult[SubstitutionID], error) {
	if role != RoleLogistics {
		return BatchResult[SubstitutionID]{Operation: "print"}, &StageLockedError{RecordID: "print", Role: role, Status: StatusLogisticsConfirmed}
	}
	filter.Statuses = []Status{StatusLogisticsConfirmed}
	subs, err := g.store.ListSubstitutions(ctx, filter)
	if err != nil {
		return BatchResult[SubstitutionID]{Operation: "print"}, err
	}
	ids := make([]SubstitutionID, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}

	res := RunBatch(ctx, "print", ids, g.concurrency, func(ctx context.Context, id SubstitutionID) error {
		err := g.machine.Apply(ctx, role, ActionPrint, id, "")
		if errors.Is(err, ErrInvalidStateTransition) {
			return errNoop
		}
		return err
	})
	g.metrics.observePrinted(res.Applied())
	g.logger.Info("print released",
		zap.Int("affected", res.Applied()),
		zap.Int("skipped", res.SkippedCount),
		zap.Int("failed", res.FailureCount))
	return res, nil
}

// Manifest builds the printable projection. statuses must be a subset of
// LOGISTICS_CONFIRMED and PRINT_RELEASED; empty means PRINT_RELEASED.
func (g *PrintGate) Manifest(ctx context.Context, filter Filter, mode ManifestMode, statuses []Status) (Manifest, error) {
	if mode != ModeBySchool && mode != ModeByGroup {
		return Manifest{}, &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown manifest mode %q", mode)}
	}
	if len(statuses) == 0 {
		statuses = []Status{StatusPrintReleased}
	}
	for _, s := range statuses {
		if !containsStatus(exportableStatuses, s) {
			return Manifest{}, &ValidationError{
				Field:   "status",
				Message: fmt.Sprintf("records in %s cannot be printed", s),
			}
		}
	}
	filter.Statuses = statuses
	subs, err := g.store.ListSubstitutions(ctx, filter)
	if err != nil {
		return Manifest{}, err
	}

	lines := ManifestLines(subs)
	if filter.SchoolID != "" || filter.RouteID != "" {
		kept := lines[:0]
		for _, l := range lines {
			if (filter.SchoolID == "" || l.SchoolID == filter.SchoolID) && (filter.RouteID == "" || l.RouteID == filter.RouteID) {
				kept = append(kept, l)
			}
		}
		lines = kept
	}
	m := Manifest{Mode: mode, Statuses: statuses, GeneratedAt: g.now()}
	switch mode {
	case ModeBySchool:
		m.Schools = ProjectBySchool(lines)
	case ModeByGroup:
		m.Groups = ProjectByGroup(lines)
	}
	return m, nil
}

// Export renders the manifest through the configured Exporter.
func (g *PrintGate) Export(ctx context.Context, w io.Writer, filter Filter, mode ManifestMode, statuses []Status) error {
	if g.exporter == nil {
		return &ValidationError{Field: "export", Message: "no exporter configured"}
	}
	m, err := g.Manifest(ctx, filter, mode, statuses)
	if err != nil {
		return err
	}
	return g.exporter.Export(ctx, w, m)
}
