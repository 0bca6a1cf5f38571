/*
Package sqlite provides a SQLite-backed implementation of workflow.Store.

PURPOSE:
  Persists necessity and substitution rows. The workflow only ever asks for
  single-row writes, so each method is one statement, or one transaction for
  a substitution and its line items.

INTERFACES IMPLEMENTED:
  workflow.Store:    necessity and substitution rows
  workflow.Calendar: supply week <-> consumption week, derived from the
                     necessities that were loaded

COMPARE-AND-SET:
  Status changes and content edits are written as
    UPDATE ... WHERE id = ? AND status = ?
  and a zero row count is turned into *workflow.TransitionError (or
  *workflow.NotFoundError when the row does not exist). This is the only
  serialization point between concurrent requests.

KEY TABLES:
  necessities:        one demand line per school, origin product and week
  substitutions:      one row per substitution key (unique index)
  substitution_lines: per-school line items, cascade-deleted with the parent

WAL MODE:
  File databases are opened with WAL so readers don't block the writer.
  ":memory:" databases are limited to one connection, since every
  connection would otherwise get its own empty database.

USAGE:
  store, err := sqlite.New("./data/necessities.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := workflow.NewService(workflow.Dependencies{Store: store, Calendar: store, ...})

SEE ALSO:
  - workflow/store.go: interface definitions
  - workflow/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/merenda/necessity-workflow/workflow"
)

// Store implements workflow.Store and workflow.Calendar using SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return workflow.StoreError("ping", s.db.PingContext(ctx))
}

// Reset deletes all rows. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return workflow.StoreError("reset", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"substitution_lines", "substitutions", "necessities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return workflow.StoreError("reset "+table, err)
		}
	}
	return workflow.StoreError("reset", tx.Commit())
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS necessities (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		school_name TEXT NOT NULL DEFAULT '',
		route_id TEXT NOT NULL DEFAULT '',
		origin_product_id TEXT NOT NULL,
		origin_product_name TEXT NOT NULL DEFAULT '',
		origin_product_unit TEXT NOT NULL DEFAULT '',
		product_group_id TEXT NOT NULL,
		requested_quantity TEXT NOT NULL,
		previous_adjusted_quantity TEXT,
		supply_week TEXT NOT NULL DEFAULT '',
		consumption_week TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		swapped_origin_product_id TEXT,
		swapped_origin_product_name TEXT,
		swapped_origin_product_unit TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_necessities_key
		ON necessities(origin_product_id, product_group_id, supply_week, consumption_week);
	CREATE INDEX IF NOT EXISTS idx_necessities_status
		ON necessities(status);
	CREATE INDEX IF NOT EXISTS idx_necessities_supply_week
		ON necessities(supply_week, consumption_week);

	CREATE TABLE IF NOT EXISTS substitutions (
		id TEXT PRIMARY KEY,
		origin_product_id TEXT NOT NULL,
		origin_product_name TEXT NOT NULL DEFAULT '',
		origin_product_unit TEXT NOT NULL DEFAULT '',
		generic_product_id TEXT NOT NULL DEFAULT '',
		generic_product_name TEXT NOT NULL DEFAULT '',
		generic_product_unit TEXT NOT NULL DEFAULT '',
		conversion_factor TEXT NOT NULL,
		group_origin_product_id TEXT NOT NULL,
		product_group_id TEXT NOT NULL,
		supply_week TEXT NOT NULL,
		consumption_week TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		school_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		status_note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One substitution per key; school_id is '' for consolidated rows
	CREATE UNIQUE INDEX IF NOT EXISTS idx_substitutions_key
		ON substitutions(group_origin_product_id, product_group_id, supply_week, consumption_week, scope, school_id);
	CREATE INDEX IF NOT EXISTS idx_substitutions_status
		ON substitutions(status);

	CREATE TABLE IF NOT EXISTS substitution_lines (
		substitution_id TEXT NOT NULL REFERENCES substitutions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		necessity_id TEXT NOT NULL,
		school_id TEXT NOT NULL,
		school_name TEXT NOT NULL DEFAULT '',
		route_id TEXT NOT NULL DEFAULT '',
		origin_quantity TEXT NOT NULL,
		generic_quantity INTEGER NOT NULL,
		adjusted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (substitution_id, necessity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_substitution_lines_school
		ON substitution_lines(school_id, route_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES
// =============================================================================

type necessityRow struct {
	ID                       string              `db:"id"`
	SchoolID                 string              `db:"school_id"`
	SchoolName               string              `db:"school_name"`
	RouteID                  string              `db:"route_id"`
	OriginProductID          string              `db:"origin_product_id"`
	OriginProductName        string              `db:"origin_product_name"`
	OriginProductUnit        string              `db:"origin_product_unit"`
	ProductGroupID           string              `db:"product_group_id"`
	RequestedQuantity        decimal.Decimal     `db:"requested_quantity"`
	PreviousAdjustedQuantity decimal.NullDecimal `db:"previous_adjusted_quantity"`
	SupplyWeek               string              `db:"supply_week"`
	ConsumptionWeek          string              `db:"consumption_week"`
	Status                   string              `db:"status"`
	SwappedOriginProductID   sql.NullString      `db:"swapped_origin_product_id"`
	SwappedOriginProductName sql.NullString      `db:"swapped_origin_product_name"`
	SwappedOriginProductUnit sql.NullString      `db:"swapped_origin_product_unit"`
	UpdatedAt                string              `db:"updated_at"`
}

func toNecessityRow(n workflow.NecessityRecord) necessityRow {
	row := necessityRow{
		ID:                string(n.ID),
		SchoolID:          string(n.SchoolID),
		SchoolName:        n.SchoolName,
		RouteID:           string(n.RouteID),
		OriginProductID:   string(n.Origin.ID),
		OriginProductName: n.Origin.Name,
		OriginProductUnit: n.Origin.Unit,
		ProductGroupID:    string(n.ProductGroupID),
		RequestedQuantity: n.RequestedQuantity,
		SupplyWeek:        n.SupplyWeek,
		ConsumptionWeek:   n.ConsumptionWeek,
		Status:            string(n.Status),
		UpdatedAt:         formatTime(n.UpdatedAt),
	}
	if n.PreviousAdjustedQuantity != nil {
		row.PreviousAdjustedQuantity = decimal.NullDecimal{Decimal: *n.PreviousAdjustedQuantity, Valid: true}
	}
	if n.SwappedOrigin != nil {
		row.SwappedOriginProductID = sql.NullString{String: string(n.SwappedOrigin.ID), Valid: true}
		row.SwappedOriginProductName = sql.NullString{String: n.SwappedOrigin.Name, Valid: true}
		row.SwappedOriginProductUnit = sql.NullString{String: n.SwappedOrigin.Unit, Valid: true}
	}
	return row
}

func (r necessityRow) record() workflow.NecessityRecord {
	n := workflow.NecessityRecord{
		ID:                workflow.NecessityID(r.ID),
		SchoolID:          workflow.SchoolID(r.SchoolID),
		SchoolName:        r.SchoolName,
		RouteID:           workflow.RouteID(r.RouteID),
		Origin:            workflow.ProductRef{ID: workflow.ProductID(r.OriginProductID), Name: r.OriginProductName, Unit: r.OriginProductUnit},
		ProductGroupID:    workflow.GroupID(r.ProductGroupID),
		RequestedQuantity: r.RequestedQuantity,
		SupplyWeek:        r.SupplyWeek,
		ConsumptionWeek:   r.ConsumptionWeek,
		Status:            workflow.Status(r.Status),
		UpdatedAt:         parseTime(r.UpdatedAt),
	}
	if r.PreviousAdjustedQuantity.Valid {
		prev := r.PreviousAdjustedQuantity.Decimal
		n.PreviousAdjustedQuantity = &prev
	}
	if r.SwappedOriginProductID.Valid {
		n.SwappedOrigin = &workflow.ProductRef{
			ID:   workflow.ProductID(r.SwappedOriginProductID.String),
			Name: r.SwappedOriginProductName.String,
			Unit: r.SwappedOriginProductUnit.String,
		}
	}
	return n
}

type substitutionRow struct {
	ID                   string          `db:"id"`
	OriginProductID      string          `db:"origin_product_id"`
	OriginProductName    string          `db:"origin_product_name"`
	OriginProductUnit    string          `db:"origin_product_unit"`
	GenericProductID     string          `db:"generic_product_id"`
	GenericProductName   string          `db:"generic_product_name"`
	GenericProductUnit   string          `db:"generic_product_unit"`
	ConversionFactor     decimal.Decimal `db:"conversion_factor"`
	GroupOriginProductID string          `db:"group_origin_product_id"`
	ProductGroupID       string          `db:"product_group_id"`
	SupplyWeek           string          `db:"supply_week"`
	ConsumptionWeek      string          `db:"consumption_week"`
	Scope                string          `db:"scope"`
	SchoolID             string          `db:"school_id"`
	Status               string          `db:"status"`
	StatusNote           string          `db:"status_note"`
	CreatedAt            string          `db:"created_at"`
	UpdatedAt            string          `db:"updated_at"`
}

func toSubstitutionRow(s workflow.SubstitutionRecord) substitutionRow {
	return substitutionRow{
		ID:                   string(s.ID),
		OriginProductID:      string(s.Origin.ID),
		OriginProductName:    s.Origin.Name,
		OriginProductUnit:    s.Origin.Unit,
		GenericProductID:     string(s.Generic.ID),
		GenericProductName:   s.Generic.Name,
		GenericProductUnit:   s.Generic.Unit,
		ConversionFactor:     s.ConversionFactor,
		GroupOriginProductID: string(s.GroupKey.OriginProductID),
		ProductGroupID:       string(s.GroupKey.ProductGroupID),
		SupplyWeek:           s.SupplyWeek,
		ConsumptionWeek:      s.ConsumptionWeek,
		Scope:                string(s.Scope),
		SchoolID:             string(s.SchoolID),
		Status:               string(s.Status),
		StatusNote:           s.StatusNote,
		CreatedAt:            formatTime(s.CreatedAt),
		UpdatedAt:            formatTime(s.UpdatedAt),
	}
}

func (r substitutionRow) record(lines []workflow.LineItem) workflow.SubstitutionRecord {
	return workflow.SubstitutionRecord{
		ID:               workflow.SubstitutionID(r.ID),
		Origin:           workflow.ProductRef{ID: workflow.ProductID(r.OriginProductID), Name: r.OriginProductName, Unit: r.OriginProductUnit},
		Generic:          workflow.ProductRef{ID: workflow.ProductID(r.GenericProductID), Name: r.GenericProductName, Unit: r.GenericProductUnit},
		ConversionFactor: r.ConversionFactor,
		GroupKey: workflow.ConsolidationKey{
			OriginProductID: workflow.ProductID(r.GroupOriginProductID),
			ProductGroupID:  workflow.GroupID(r.ProductGroupID),
		},
		SupplyWeek:      r.SupplyWeek,
		ConsumptionWeek: r.ConsumptionWeek,
		Scope:           workflow.Scope(r.Scope),
		SchoolID:        workflow.SchoolID(r.SchoolID),
		Lines:           lines,
		Status:          workflow.Status(r.Status),
		StatusNote:      r.StatusNote,
		CreatedAt:       parseTime(r.CreatedAt),
		UpdatedAt:       parseTime(r.UpdatedAt),
	}
}

type lineRow struct {
	SubstitutionID  string          `db:"substitution_id"`
	Position        int             `db:"position"`
	NecessityID     string          `db:"necessity_id"`
	SchoolID        string          `db:"school_id"`
	SchoolName      string          `db:"school_name"`
	RouteID         string          `db:"route_id"`
	OriginQuantity  decimal.Decimal `db:"origin_quantity"`
	GenericQuantity int64           `db:"generic_quantity"`
	Adjusted        bool            `db:"adjusted"`
}

func (r lineRow) item() workflow.LineItem {
	return workflow.LineItem{
		NecessityID:     workflow.NecessityID(r.NecessityID),
		SchoolID:        workflow.SchoolID(r.SchoolID),
		SchoolName:      r.SchoolName,
		RouteID:         workflow.RouteID(r.RouteID),
		OriginQuantity:  r.OriginQuantity,
		GenericQuantity: r.GenericQuantity,
		Adjusted:        r.Adjusted,
	}
}

// Fixed-width so that ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}

// =============================================================================
// FILTERS
// =============================================================================

// where collects the conditions of a filter.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(col, v string) {
	if v != "" {
		w.conds = append(w.conds, col+" = ?")
		w.args = append(w.args, v)
	}
}

func (w *where) in(col string, statuses []workflow.Status) {
	if len(statuses) == 0 {
		return
	}
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	w.conds = append(w.conds, col+" IN (?)")
	w.args = append(w.args, vals)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// expand runs sqlx.In so status lists become placeholders.
func (s *Store) expand(query string, args []any) (string, []any, error) {
	if len(args) == 0 {
		return query, args, nil
	}
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(q), a, nil
}

// =============================================================================
// NECESSITIES
// =============================================================================

const necessityColumns = `id, school_id, school_name, route_id, origin_product_id, origin_product_name,
	origin_product_unit, product_group_id, requested_quantity, previous_adjusted_quantity, supply_week,
	consumption_week, status, swapped_origin_product_id, swapped_origin_product_name,
	swapped_origin_product_unit, updated_at`

func (s *Store) ListNecessities(ctx context.Context, filter workflow.Filter) ([]workflow.NecessityRecord, error) {
	var w where
	w.eq("school_id", string(filter.SchoolID))
	w.eq("origin_product_id", string(filter.OriginProductID))
	w.eq("product_group_id", string(filter.ProductGroupID))
	w.eq("supply_week", filter.SupplyWeek)
	w.eq("consumption_week", filter.ConsumptionWeek)
	w.eq("route_id", string(filter.RouteID))
	w.in("status", filter.Statuses)

	query, args, err := s.expand("SELECT "+necessityColumns+" FROM necessities"+w.sql()+" ORDER BY id", w.args)
	if err != nil {
		return nil, workflow.StoreError("list necessities", err)
	}
	var rows []necessityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, workflow.StoreError("list necessities", err)
	}
	out := make([]workflow.NecessityRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (s *Store) GetNecessity(ctx context.Context, id workflow.NecessityID) (workflow.NecessityRecord, error) {
	var row necessityRow
	err := s.db.GetContext(ctx, &row, "SELECT "+necessityColumns+" FROM necessities WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.NecessityRecord{}, &workflow.NotFoundError{Kind: "necessity", ID: string(id)}
	}
	if err != nil {
		return workflow.NecessityRecord{}, workflow.StoreError("get necessity", err)
	}
	return row.record(), nil
}

// PutNecessity inserts or replaces a necessity.
func (s *Store) PutNecessity(ctx context.Context, rec workflow.NecessityRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO necessities (`+necessityColumns+`)
		VALUES (:id, :school_id, :school_name, :route_id, :origin_product_id, :origin_product_name,
			:origin_product_unit, :product_group_id, :requested_quantity, :previous_adjusted_quantity,
			:supply_week, :consumption_week, :status, :swapped_origin_product_id,
			:swapped_origin_product_name, :swapped_origin_product_unit, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			school_id = excluded.school_id,
			school_name = excluded.school_name,
			route_id = excluded.route_id,
			origin_product_id = excluded.origin_product_id,
			origin_product_name = excluded.origin_product_name,
			origin_product_unit = excluded.origin_product_unit,
			product_group_id = excluded.product_group_id,
			requested_quantity = excluded.requested_quantity,
			previous_adjusted_quantity = excluded.previous_adjusted_quantity,
			supply_week = excluded.supply_week,
			consumption_week = excluded.consumption_week,
			status = excluded.status,
			swapped_origin_product_id = excluded.swapped_origin_product_id,
			swapped_origin_product_name = excluded.swapped_origin_product_name,
			swapped_origin_product_unit = excluded.swapped_origin_product_unit,
			updated_at = excluded.updated_at
	`, toNecessityRow(rec))
	return workflow.StoreError("put necessity", err)
}

func (s *Store) UpdateNecessity(ctx context.Context, rec workflow.NecessityRecord, expected workflow.Status) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.UpdatedAt = s.now()
	row := toNecessityRow(rec)
	res, err := s.db.ExecContext(ctx, `
		UPDATE necessities SET
			school_id = ?, school_name = ?, route_id = ?,
			origin_product_id = ?, origin_product_name = ?, origin_product_unit = ?,
			product_group_id = ?, requested_quantity = ?, previous_adjusted_quantity = ?,
			supply_week = ?, consumption_week = ?, status = ?,
			swapped_origin_product_id = ?, swapped_origin_product_name = ?, swapped_origin_product_unit = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`, row.SchoolID, row.SchoolName, row.RouteID,
		row.OriginProductID, row.OriginProductName, row.OriginProductUnit,
		row.ProductGroupID, row.RequestedQuantity, row.PreviousAdjustedQuantity,
		row.SupplyWeek, row.ConsumptionWeek, row.Status,
		row.SwappedOriginProductID, row.SwappedOriginProductName, row.SwappedOriginProductUnit,
		row.UpdatedAt, row.ID, string(expected))
	if err != nil {
		return workflow.StoreError("update necessity", err)
	}
	return s.checkNecessityCAS(ctx, res, rec.ID, expected, rec.Status)
}

func (s *Store) SetNecessityStatus(ctx context.Context, id workflow.NecessityID, from, to workflow.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE necessities SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(s.now()), string(id), string(from))
	if err != nil {
		return workflow.StoreError("set necessity status", err)
	}
	return s.checkNecessityCAS(ctx, res, id, from, to)
}

func (s *Store) checkNecessityCAS(ctx context.Context, res sql.Result, id workflow.NecessityID, from, to workflow.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return workflow.StoreError("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var current string
	err = s.db.GetContext(ctx, &current, `SELECT status FROM necessities WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return &workflow.NotFoundError{Kind: "necessity", ID: string(id)}
	}
	if err != nil {
		return workflow.StoreError("get necessity status", err)
	}
	return &workflow.TransitionError{RecordID: string(id), From: from, To: to, Current: workflow.Status(current)}
}

// =============================================================================
// SUBSTITUTIONS
// =============================================================================

const substitutionColumns = `id, origin_product_id, origin_product_name, origin_product_unit,
	generic_product_id, generic_product_name, generic_product_unit, conversion_factor,
	group_origin_product_id, product_group_id, supply_week, consumption_week, scope, school_id,
	status, status_note, created_at, updated_at`

func (s *Store) ListSubstitutions(ctx context.Context, filter workflow.Filter) ([]workflow.SubstitutionRecord, error) {
	var w where
	w.eq("group_origin_product_id", string(filter.OriginProductID))
	w.eq("product_group_id", string(filter.ProductGroupID))
	w.eq("supply_week", filter.SupplyWeek)
	w.eq("consumption_week", filter.ConsumptionWeek)
	w.eq("scope", string(filter.Scope))
	w.in("status", filter.Statuses)
	if filter.SchoolID != "" || filter.RouteID != "" {
		var lw where
		lw.eq("l.school_id", string(filter.SchoolID))
		lw.eq("l.route_id", string(filter.RouteID))
		w.conds = append(w.conds, "EXISTS (SELECT 1 FROM substitution_lines l WHERE l.substitution_id = substitutions.id AND "+
			strings.Join(lw.conds, " AND ")+")")
		w.args = append(w.args, lw.args...)
	}

	query, args, err := s.expand("SELECT "+substitutionColumns+" FROM substitutions"+w.sql()+" ORDER BY created_at, id", w.args)
	if err != nil {
		return nil, workflow.StoreError("list substitutions", err)
	}
	var rows []substitutionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, workflow.StoreError("list substitutions", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	lines, err := s.loadLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]workflow.SubstitutionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record(lines[r.ID])
	}
	return out, nil
}

func (s *Store) GetSubstitution(ctx context.Context, id workflow.SubstitutionID) (workflow.SubstitutionRecord, error) {
	var row substitutionRow
	err := s.db.GetContext(ctx, &row, "SELECT "+substitutionColumns+" FROM substitutions WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.SubstitutionRecord{}, &workflow.NotFoundError{Kind: "substitution", ID: string(id)}
	}
	if err != nil {
		return workflow.SubstitutionRecord{}, workflow.StoreError("get substitution", err)
	}
	lines, err := s.loadLines(ctx, s.db, []string{row.ID})
	if err != nil {
		return workflow.SubstitutionRecord{}, err
	}
	return row.record(lines[row.ID]), nil
}

func (s *Store) loadLines(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string][]workflow.LineItem, error) {
	query, args, err := sqlx.In(`
		SELECT substitution_id, position, necessity_id, school_id, school_name, route_id,
			origin_quantity, generic_quantity, adjusted
		FROM substitution_lines
		WHERE substitution_id IN (?)
		ORDER BY substitution_id, position`, ids)
	if err != nil {
		return nil, workflow.StoreError("load lines", err)
	}
	var rows []lineRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, workflow.StoreError("load lines", err)
	}
	out := make(map[string][]workflow.LineItem, len(ids))
	for _, r := range rows {
		out[r.SubstitutionID] = append(out[r.SubstitutionID], r.item())
	}
	return out, nil
}

// CreateSubstitution inserts the row and its lines in one transaction.
func (s *Store) CreateSubstitution(ctx context.Context, rec workflow.SubstitutionRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return workflow.StoreError("begin", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO substitutions (`+substitutionColumns+`)
		VALUES (:id, :origin_product_id, :origin_product_name, :origin_product_unit,
			:generic_product_id, :generic_product_name, :generic_product_unit, :conversion_factor,
			:group_origin_product_id, :product_group_id, :supply_week, :consumption_week, :scope,
			:school_id, :status, :status_note, :created_at, :updated_at)
	`, toSubstitutionRow(rec))
	if isUniqueViolation(err) {
		return workflow.ErrDuplicateKey
	}
	if err != nil {
		return workflow.StoreError("create substitution", err)
	}
	if err := insertLines(ctx, tx, rec.ID, rec.Lines); err != nil {
		return err
	}
	return workflow.StoreError("commit", tx.Commit())
}

// UpdateSubstitution rewrites the product choice and lines. Key, status and
// created_at are left as stored.
func (s *Store) UpdateSubstitution(ctx context.Context, rec workflow.SubstitutionRecord, expected workflow.Status) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return workflow.StoreError("begin", err)
	}
	defer tx.Rollback()

	row := toSubstitutionRow(rec)
	res, err := tx.ExecContext(ctx, `
		UPDATE substitutions SET
			origin_product_id = ?, origin_product_name = ?, origin_product_unit = ?,
			generic_product_id = ?, generic_product_name = ?, generic_product_unit = ?,
			conversion_factor = ?, status_note = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, row.OriginProductID, row.OriginProductName, row.OriginProductUnit,
		row.GenericProductID, row.GenericProductName, row.GenericProductUnit,
		row.ConversionFactor, row.StatusNote, formatTime(s.now()),
		row.ID, string(expected))
	if err != nil {
		return workflow.StoreError("update substitution", err)
	}
	if err := checkSubstitutionCAS(ctx, tx, res, rec.ID, expected, rec.Status); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM substitution_lines WHERE substitution_id = ?`, row.ID); err != nil {
		return workflow.StoreError("replace lines", err)
	}
	if err := insertLines(ctx, tx, rec.ID, rec.Lines); err != nil {
		return err
	}
	return workflow.StoreError("commit", tx.Commit())
}

func insertLines(ctx context.Context, tx *sqlx.Tx, id workflow.SubstitutionID, lines []workflow.LineItem) error {
	for i, l := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO substitution_lines (substitution_id, position, necessity_id, school_id, school_name,
				route_id, origin_quantity, generic_quantity, adjusted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, string(id), i, string(l.NecessityID), string(l.SchoolID), l.SchoolName,
			string(l.RouteID), l.OriginQuantity, l.GenericQuantity, l.Adjusted)
		if err != nil {
			return workflow.StoreError("insert line", err)
		}
	}
	return nil
}

func (s *Store) SetSubstitutionStatus(ctx context.Context, id workflow.SubstitutionID, from, to workflow.Status, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE substitutions SET status = ?, status_note = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), note, formatTime(s.now()), string(id), string(from))
	if err != nil {
		return workflow.StoreError("set substitution status", err)
	}
	return checkSubstitutionCAS(ctx, s.db, res, id, from, to)
}

func (s *Store) DeleteSubstitution(ctx context.Context, id workflow.SubstitutionID, expected workflow.Status) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM substitutions WHERE id = ? AND status = ?`, string(id), string(expected))
	if err != nil {
		return workflow.StoreError("delete substitution", err)
	}
	return checkSubstitutionCAS(ctx, s.db, res, id, expected, expected)
}

func checkSubstitutionCAS(ctx context.Context, q sqlx.QueryerContext, res sql.Result, id workflow.SubstitutionID, from, to workflow.Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return workflow.StoreError("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var current string
	err = sqlx.GetContext(ctx, q, &current, `SELECT status FROM substitutions WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return &workflow.NotFoundError{Kind: "substitution", ID: string(id)}
	}
	if err != nil {
		return workflow.StoreError("get substitution status", err)
	}
	return &workflow.TransitionError{RecordID: string(id), From: from, To: to, Current: workflow.Status(current)}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// =============================================================================
// CALENDAR
// =============================================================================

// ConsumptionWeekFor returns the consumption week loaded with a supply week,
// or "" when no necessity carries it.
func (s *Store) ConsumptionWeekFor(ctx context.Context, supplyWeek string) (string, error) {
	if supplyWeek == "" {
		return "", &workflow.ValidationError{Field: "supply_week", Message: "supply week is required"}
	}
	var week sql.NullString
	err := s.db.GetContext(ctx, &week,
		`SELECT MIN(consumption_week) FROM necessities WHERE supply_week = ? AND consumption_week <> ''`, supplyWeek)
	if err != nil {
		return "", workflow.StoreError("consumption week", err)
	}
	return week.String, nil
}

func (s *Store) SupplyWeekFor(ctx context.Context, consumptionWeek string) (string, error) {
	if consumptionWeek == "" {
		return "", &workflow.ValidationError{Field: "consumption_week", Message: "consumption week is required"}
	}
	var week sql.NullString
	err := s.db.GetContext(ctx, &week,
		`SELECT MIN(supply_week) FROM necessities WHERE consumption_week = ? AND supply_week <> ''`, consumptionWeek)
	if err != nil {
		return "", workflow.StoreError("supply week", err)
	}
	return week.String, nil
}
