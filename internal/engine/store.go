package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Store errors
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

// Store provides generic CRUD operations for all resources defined in the schema.
type Store struct {
	db      *sqlx.DB
	schema  map[string]*Resource
	ordered []string
	bus     CommandBus
}

// NewStore creates a new generic store over an already-migrated database.
func NewStore(db *sqlx.DB, resources []Resource) (*Store, error) {
	schema := make(map[string]*Resource, len(resources))
	ordered := make([]string, 0, len(resources))
	for i := range resources {
		r := resources[i]
		if _, dup := schema[r.Name]; dup {
			return nil, fmt.Errorf("duplicate resource: %s", r.Name)
		}
		schema[r.Name] = &r
		ordered = append(ordered, r.Name)
	}
	return &Store{
		db:      db,
		schema:  schema,
		ordered: ordered,
		bus:     noopBus{},
	}, nil
}

// SetBus sets the command bus used for OnSave commands.
func (s *Store) SetBus(bus CommandBus) {
	if bus == nil {
		bus = noopBus{}
	}
	s.bus = bus
}

// DB returns the underlying sqlx.DB.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Resource returns the resource definition by name.
func (s *Store) Resource(name string) *Resource {
	return s.schema[name]
}

// Resources returns resource definitions in schema order.
func (s *Store) Resources() []*Resource {
	out := make([]*Resource, 0, len(s.ordered))
	for _, name := range s.ordered {
		out = append(out, s.schema[name])
	}
	return out
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Pagination
// =============================================================================

type Page struct {
	Limit  int
	Offset int
}

func DefaultPage() Page {
	return Page{Limit: 100, Offset: 0}
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// =============================================================================
// Filters
// =============================================================================

type Filter struct {
	Field string
	Value any
}

// =============================================================================
// CRUD Operations
// =============================================================================

// Create inserts a new row for the given resource.
// Order: defaults, Autoname, identifier, Validate hook, field constraints, insert.
func (s *Store) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	res, ok := s.schema[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", resource)
	}

	// Apply defaults
	for _, f := range res.Fields {
		if _, exists := data[f.Name]; !exists && f.DefaultValue != nil {
			data[f.Name] = f.DefaultValue
		}
	}

	// Naming phase
	if res.Autoname != nil {
		res.Autoname(ctx, data)
	}
	refID := s.newReferenceID(res, data)
	data["reference_id"] = refID

	// Validation phase
	if res.Validate != nil {
		if err := res.Validate(ctx, data); err != nil {
			return nil, fmt.Errorf("create %s: %w", resource, err)
		}
	}

	normalizeNulls(res, data)
	if err := s.validate(ctx, res, data); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	data["created_at"] = now
	data["updated_at"] = now

	// Build INSERT
	cols := []string{"reference_id"}
	placeholders := []string{":reference_id"}
	for _, f := range res.Fields {
		if _, exists := data[f.Name]; exists {
			cols = append(cols, f.Name)
			placeholders = append(placeholders, ":"+f.Name)
		}
	}
	cols = append(cols, "created_at", "updated_at")
	placeholders = append(placeholders, ":created_at", ":updated_at")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		resource, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.NamedExecContext(ctx, query, data); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s already exists", ErrConflict, resource, refID)
		}
		return nil, fmt.Errorf("create %s: %w", resource, err)
	}

	row, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, err
	}
	s.dispatchOnSave(ctx, res, "create", row)
	return row, nil
}

// Get retrieves a single row by reference_id.
func (s *Store) Get(ctx context.Context, resource string, refID string) (map[string]any, error) {
	return s.GetByField(ctx, resource, "reference_id", refID)
}

// GetByField retrieves a row by an arbitrary field value.
func (s *Store) GetByField(ctx context.Context, resource, field string, value any) (map[string]any, error) {
	res, ok := s.schema[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", resource)
	}
	if !isColumn(res, field) {
		return nil, fmt.Errorf("%w: unknown field %s", ErrValidation, field)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", selectColumns(res), resource, field)

	row := s.db.QueryRowxContext(ctx, query, value)
	result := make(map[string]any)
	if err := row.MapScan(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s=%v: %w", resource, field, value, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s by %s: %w", resource, field, err)
	}

	decodeRow(res, result)
	return result, nil
}

// List retrieves rows with optional filters and pagination.
func (s *Store) List(ctx context.Context, resource string, filters []Filter, page Page) ([]map[string]any, error) {
	res, ok := s.schema[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", resource)
	}

	page = page.Normalize()
	where, args, err := buildWhere(res, filters)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id DESC LIMIT %d OFFSET %d",
		selectColumns(res), resource, where, page.Limit, page.Offset)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", resource, err)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", resource, err)
		}
		decodeRow(res, row)
		results = append(results, row)
	}

	return results, rows.Err()
}

// Count returns the number of rows matching the filters.
func (s *Store) Count(ctx context.Context, resource string, filters []Filter) (int, error) {
	res, ok := s.schema[resource]
	if !ok {
		return 0, fmt.Errorf("unknown resource: %s", resource)
	}
	where, args, err := buildWhere(res, filters)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", resource, where), args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", resource, err)
	}
	return count, nil
}

// Update applies a patch to the row identified by reference_id.
// The patch is merged onto the stored row and the merged row goes through
// the Validate hook and field constraints before it is written.
func (s *Store) Update(ctx context.Context, resource string, refID string, patch map[string]any) (map[string]any, error) {
	res, ok := s.schema[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource: %s", resource)
	}

	existing, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(res.Fields))
	for _, f := range res.Fields {
		if v, ok := existing[f.Name]; ok {
			merged[f.Name] = v
		}
	}
	for key, val := range patch {
		if res.FieldByName(key) != nil {
			merged[key] = val
		}
	}

	if res.BeforeUpdate != nil {
		if err := res.BeforeUpdate(ctx, existing, merged); err != nil {
			return nil, fmt.Errorf("update %s %s: %w", resource, refID, err)
		}
	}

	if res.Validate != nil {
		if err := res.Validate(ctx, merged); err != nil {
			return nil, fmt.Errorf("update %s %s: %w", resource, refID, err)
		}
	}

	normalizeNulls(res, merged)
	if err := s.validate(ctx, res, merged); err != nil {
		return nil, err
	}

	var setClauses []string
	var args []any
	for _, f := range res.Fields {
		if val, ok := merged[f.Name]; ok {
			setClauses = append(setClauses, fmt.Sprintf("%s = ?", f.Name))
			args = append(args, val)
		}
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339), refID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE reference_id = ?",
		resource, strings.Join(setClauses, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrConflict, resource, refID)
		}
		return nil, fmt.Errorf("update %s: %w", resource, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, fmt.Errorf("%s %s: %w", resource, refID, ErrNotFound)
	}

	row, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, err
	}
	s.dispatchOnSave(ctx, res, "update", row)
	return row, nil
}

// Delete removes a row by reference_id.
func (s *Store) Delete(ctx context.Context, resource string, refID string) error {
	if _, ok := s.schema[resource]; !ok {
		return fmt.Errorf("unknown resource: %s", resource)
	}

	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE reference_id = ?", resource), refID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", resource, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", resource, refID, ErrNotFound)
	}

	return nil
}

// =============================================================================
// User Resolution
// =============================================================================

// ResolveUser upserts a user and returns their integer ID.
func (s *Store) ResolveUser(ctx context.Context, referenceID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (reference_id, created_at, updated_at)
		VALUES (?, datetime('now'), datetime('now'))
		ON CONFLICT(reference_id) DO UPDATE SET updated_at = datetime('now')
	`, referenceID)
	if err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}

	var userID int
	if err := s.db.GetContext(ctx, &userID, "SELECT id FROM users WHERE reference_id = ?", referenceID); err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	return userID, nil
}

// =============================================================================
// Raw access
// =============================================================================

// RawExec executes a raw SQL statement.
func (s *Store) RawExec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// RawQuery executes a raw SQL query and returns rows as maps.
func (s *Store) RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) newReferenceID(res *Resource, data map[string]any) string {
	if res.NameField != "" {
		if name := strVal(data[res.NameField]); name != "" {
			return name
		}
	}
	if res.RefPrefix == "" {
		return uuid.New().String()
	}
	return res.RefPrefix + uuid.New().String()[:8]
}

func (s *Store) dispatchOnSave(ctx context.Context, res *Resource, action string, row map[string]any) {
	if res.OnSave == "" {
		return
	}
	payload := make(map[string]any, len(row)+1)
	for k, v := range row {
		payload[k] = v
	}
	payload["_action"] = action
	// The row is committed; a failing handler is logged by the bus, not surfaced.
	_ = s.bus.Dispatch(ctx, res.OnSave, payload)
}

// selectColumns returns the SELECT column list for a resource.
func selectColumns(res *Resource) string {
	cols := []string{"id", "reference_id"}
	for _, f := range res.Fields {
		cols = append(cols, f.Name)
	}
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

func isColumn(res *Resource, name string) bool {
	switch name {
	case "id", "reference_id", "created_at", "updated_at":
		return true
	}
	return res.FieldByName(name) != nil
}

func buildWhere(res *Resource, filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	sorted := make([]Filter, len(filters))
	copy(sorted, filters)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })

	var where []string
	var args []any
	for _, f := range sorted {
		if !isColumn(res, f.Field) {
			return "", nil, fmt.Errorf("%w: unknown filter field %s", ErrValidation, f.Field)
		}
		val := f.Value
		if fd := res.FieldByName(f.Field); fd != nil && fd.Type == TypeBool {
			val = boolFilterValue(val)
		}
		where = append(where, fmt.Sprintf("%s = ?", f.Field))
		args = append(args, val)
	}
	return " WHERE " + strings.Join(where, " AND "), args, nil
}

func boolFilterValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		switch strings.ToLower(val) {
		case "1", "true", "yes":
			return 1
		case "0", "false", "no":
			return 0
		}
	}
	return v
}

// normalizeNulls stores empty strings of nullable fields as NULL.
func normalizeNulls(res *Resource, data map[string]any) {
	for _, f := range res.Fields {
		if !f.Nullable {
			continue
		}
		if v, ok := data[f.Name]; ok && v == "" {
			data[f.Name] = nil
		}
	}
}

// decodeRow converts SQLite types to Go types (especially []byte → string).
func decodeRow(res *Resource, row map[string]any) {
	for key, val := range row {
		if b, ok := val.([]byte); ok {
			row[key] = string(b)
		}
	}

	// Coerce bool fields from SQLite integer (0/1) to Go bool
	for _, f := range res.Fields {
		if f.Type != TypeBool {
			continue
		}
		if v, ok := row[f.Name]; ok {
			switch val := v.(type) {
			case int64:
				row[f.Name] = val != 0
			case int:
				row[f.Name] = val != 0
			case float64:
				row[f.Name] = val != 0
			}
		}
	}

	parseTime := func(name string) {
		if v, ok := row[name]; ok {
			if str, ok := v.(string); ok && str != "" {
				if t, err := time.Parse(time.RFC3339, str); err == nil {
					row[name] = t
				} else if t, err := time.Parse("2006-01-02 15:04:05", str); err == nil {
					row[name] = t
				}
			}
		}
	}
	parseTime("created_at")
	parseTime("updated_at")
	for _, f := range res.Fields {
		if f.Type == TypeTimestamp {
			parseTime(f.Name)
		}
	}
}

// validate validates field constraints on the data.
func (s *Store) validate(ctx context.Context, res *Resource, data map[string]any) error {
	for _, f := range res.Fields {
		v, exists := data[f.Name]

		if f.Required && (!exists || v == nil || v == "") {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.Name)
		}

		if !exists || v == nil {
			continue
		}

		if str, ok := v.(string); ok {
			if f.MinLen != nil && len(str) < *f.MinLen {
				return fmt.Errorf("%w: %s must be at least %d characters", ErrValidation, f.Name, *f.MinLen)
			}
			if f.MaxLen != nil && len(str) > *f.MaxLen {
				return fmt.Errorf("%w: %s must be at most %d characters", ErrValidation, f.Name, *f.MaxLen)
			}
			if f.Pattern != nil && !f.Pattern.MatchString(str) {
				return fmt.Errorf("%w: %s has invalid format", ErrValidation, f.Name)
			}
		}

		if f.Type == TypeLink && f.RefTable != "" && f.RefColumn != "" {
			var count int
			query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", f.RefTable, f.RefColumn)
			if err := s.db.GetContext(ctx, &count, query, v); err != nil {
				return fmt.Errorf("check %s link: %w", f.Name, err)
			}
			if count == 0 {
				return fmt.Errorf("%w: %s %v not found in %s", ErrValidation, f.Name, v, f.RefTable)
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func strVal(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return ""
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	}
	return 0, false
}
