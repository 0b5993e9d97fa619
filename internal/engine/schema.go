// Package engine provides a schema-driven record engine.
// Resources are defined as data (schema), and the engine interprets them
// to provide an auto-CRUD store, REST API, lifecycle hooks, and migrations.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// FieldType represents the SQL/Go type of a field.
type FieldType int

const (
	TypeString    FieldType = iota // TEXT
	TypeText                       // TEXT (large)
	TypeInt                        // INTEGER
	TypeFloat                      // REAL
	TypeBool                       // INTEGER (0/1)
	TypeTimestamp                  // DATETIME
	TypeRef                        // INTEGER (FK to another entity's id)
	TypeLink                       // TEXT (value of another entity's key column)
)

// Field defines a single column in a resource.
type Field struct {
	Name         string
	Type         FieldType
	Required     bool
	Unique       bool
	Nullable     bool
	DefaultValue any // nil means no default
	MinLen       *int
	MaxLen       *int
	Pattern      *regexp.Regexp
	RefTable     string // For TypeRef/TypeLink: target table name
	RefColumn    string // For TypeLink: target column
	WriteOnly    bool   // If true, never included in GET responses
	Internal     bool   // If true, not settable via API (e.g., creator_id set from auth)
	Description  string // Shown in the OpenAPI document
}

// AutonameFunc runs once on create, before the identifier is assigned.
// It may fill fields that the identifier is derived from.
type AutonameFunc func(ctx context.Context, data map[string]any)

// ValidateFunc runs on every save (create and update) before commit.
// It can normalize data; a returned error aborts the save.
type ValidateFunc func(ctx context.Context, data map[string]any) error

// BeforeUpdateFunc runs on update with the stored row and the merged row,
// before the Validate hook. A returned error aborts the save.
type BeforeUpdateFunc func(ctx context.Context, existing, merged map[string]any) error

// BeforeDeleteFunc is called before deleting a row. It can return an error to prevent deletion.
type BeforeDeleteFunc func(ctx context.Context, authCtx AuthContext, row map[string]any) error

// Resource defines a complete entity.
type Resource struct {
	Name      string // table name, e.g., "assets"
	RefPrefix string // prefix for generated reference_id, e.g., "cur_"
	Owner     string // field name that references the authenticated user's ID (e.g., "creator_id")
	Fields    []Field

	// NameField, when set and non-empty after Autoname, becomes the reference_id.
	NameField string

	// Lifecycle hooks
	Autoname     AutonameFunc
	Validate     ValidateFunc
	BeforeUpdate BeforeUpdateFunc
	BeforeDelete BeforeDeleteFunc

	// OnSave is a command dispatched on the bus after a create or update commits.
	OnSave string

	// If true, list and get skip owner scoping.
	PublicRead bool
}

// AuthContext is a minimal auth interface the engine needs.
type AuthContext struct {
	Authenticated bool
	UserID        int
	ReferenceID   string
}

// FieldByName returns a field by name, or nil if not found.
func (r *Resource) FieldByName(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// =============================================================================
// Field builder helpers
// =============================================================================

func StringField(name string) Field {
	return Field{Name: name, Type: TypeString}
}

func TextField(name string) Field {
	return Field{Name: name, Type: TypeText}
}

func IntField(name string) Field {
	return Field{Name: name, Type: TypeInt}
}

func FloatField(name string) Field {
	return Field{Name: name, Type: TypeFloat}
}

func BoolField(name string) Field {
	return Field{Name: name, Type: TypeBool}
}

func TimestampField(name string) Field {
	return Field{Name: name, Type: TypeTimestamp, Nullable: true}
}

func RefField(name, table string) Field {
	return Field{Name: name, Type: TypeRef, RefTable: table}
}

// LinkField references another resource by the value of one of its columns.
func LinkField(name, table, column string) Field {
	return Field{Name: name, Type: TypeLink, RefTable: table, RefColumn: column, Nullable: true}
}

// WithRequired returns a copy of the field with Required=true.
func (f Field) WithRequired() Field { f.Required = true; return f }

// WithUnique returns a copy of the field with Unique=true.
func (f Field) WithUnique() Field { f.Unique = true; return f }

// WithNullable returns a copy of the field with Nullable=true.
func (f Field) WithNullable() Field { f.Nullable = true; return f }

// WithDefault returns a copy of the field with DefaultValue set.
func (f Field) WithDefault(v any) Field { f.DefaultValue = v; return f }

// WithMinLen returns a copy of the field with minimum length.
func (f Field) WithMinLen(n int) Field { f.MinLen = &n; return f }

// WithMaxLen returns a copy of the field with maximum length.
func (f Field) WithMaxLen(n int) Field { f.MaxLen = &n; return f }

// WithPattern returns a copy of the field with a regex pattern.
func (f Field) WithPattern(pattern string) Field {
	f.Pattern = regexp.MustCompile(pattern)
	return f
}

// WithWriteOnly marks the field as write-only (never in GET responses).
func (f Field) WithWriteOnly() Field { f.WriteOnly = true; return f }

// WithDescription returns a copy of the field with a description.
func (f Field) WithDescription(d string) Field { f.Description = d; return f }

// WithInternal marks the field as internal (set by system, not API).
func (f Field) WithInternal() Field { f.Internal = true; return f }

// =============================================================================
// SQL type helpers
// =============================================================================

// SQLType returns the SQLite column type for this field type.
func (ft FieldType) SQLType() string {
	switch ft {
	case TypeString, TypeText, TypeLink:
		return "TEXT"
	case TypeInt, TypeRef, TypeBool:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// =============================================================================
// Migration generation
// =============================================================================

// GenerateCreateSQL generates a CREATE TABLE statement for this resource.
func (r *Resource) GenerateCreateSQL() string {
	var cols []string

	// Standard columns
	cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	cols = append(cols, "reference_id TEXT UNIQUE NOT NULL")

	for _, f := range r.Fields {
		col := fmt.Sprintf("%s %s", f.Name, f.Type.SQLType())
		if !f.Nullable && f.DefaultValue == nil {
			col += " NOT NULL"
		}
		if f.Unique {
			col += " UNIQUE"
		}
		if f.DefaultValue != nil {
			col += fmt.Sprintf(" DEFAULT %s", sqlDefault(f.DefaultValue))
		}
		cols = append(cols, col)
	}

	// Standard timestamps
	cols = append(cols, "created_at DATETIME NOT NULL DEFAULT (datetime('now'))")
	cols = append(cols, "updated_at DATETIME NOT NULL DEFAULT (datetime('now'))")

	// FK constraints
	for _, f := range r.Fields {
		if f.Type == TypeRef && f.RefTable != "" {
			cols = append(cols, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id)", f.Name, f.RefTable))
		}
	}

	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", r.Name, strings.Join(cols, ",\n  "))

	// Indexes
	var indexes []string
	for _, f := range r.Fields {
		if f.Type == TypeRef || f.Type == TypeLink {
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", r.Name, f.Name, r.Name, f.Name))
		}
	}

	if len(indexes) > 0 {
		sql += ";\n" + strings.Join(indexes, ";\n")
	}

	return sql
}

func sqlDefault(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("'%s'", val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int, int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%f", val)
	default:
		return fmt.Sprintf("'%v'", val)
	}
}
