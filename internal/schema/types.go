// Package schema is the single source of truth for the CRM's relational schema.
//
// A [Schema] holds table definitions in registration order together with the
// row-level-security policies that protect them. It renders two artifacts:
//
//   - idempotent Postgres DDL (tables, indexes, updated_at triggers, RLS policies)
//   - a TypeScript source file describing every table as Row / Insert / Update shapes
//
// Mutation helpers ([Schema.AddEntityTable], [Schema.UpdateEntityTable]) change the
// in-memory registry and return the SQL that brings a live database in line. Nothing
// is executed automatically; callers run the returned SQL themselves or use
// [Schema.SyncDatabaseSchema] with an [Executor].
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTableExists is returned when registering a table name that is already taken.
	ErrTableExists = errors.New("table already exists")

	// ErrTableNotFound is returned when updating a table that was never registered.
	ErrTableNotFound = errors.New("table not found")

	// ErrInvalidIdentifier is returned for table or column names that are not plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrInvalidColumn is returned for column definitions that cannot be rendered
	// into runnable DDL: a missing or malformed type, an unsafe default, a bad
	// reference or a name declared twice.
	ErrInvalidColumn = errors.New("invalid column")
)

// ColumnDefinition describes a single column.
// Default is emitted verbatim, so it must be a valid SQL expression ("now()", "'activo'", "0").
type ColumnDefinition struct {
	Type          string `json:"type" yaml:"type"`
	PrimaryKey    bool   `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty" yaml:"autoIncrement,omitempty"`
	NotNull       bool   `json:"notNull,omitempty" yaml:"notNull,omitempty"`
	References    string `json:"references,omitempty" yaml:"references,omitempty"` // "table(column)"
	Default       string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Column is a named column definition.
type Column struct {
	Name string `json:"name"`
	ColumnDefinition
}

// Columns is an ordered list of columns. Declaration order is the order
// columns appear in generated SQL and TypeScript.
type Columns []Column

// Get returns the definition of the named column.
func (c Columns) Get(name string) (ColumnDefinition, bool) {
	for _, col := range c {
		if col.Name == name {
			return col.ColumnDefinition, true
		}
	}
	return ColumnDefinition{}, false
}

// Has reports whether the named column is present.
func (c Columns) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns the column names in declaration order.
func (c Columns) Names() []string {
	names := make([]string, len(c))
	for i, col := range c {
		names[i] = col.Name
	}
	return names
}

// TableSchema is the declarative definition of one table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns Columns  `json:"columns"`
	Indexes []string `json:"indexes,omitempty"`
}

// clone returns a deep copy so callers cannot mutate registry state.
func (t TableSchema) clone() TableSchema {
	out := TableSchema{Name: t.Name}
	out.Columns = append(Columns(nil), t.Columns...)
	out.Indexes = append([]string(nil), t.Indexes...)
	return out
}

// Policy is a row-level-security policy on a table.
type Policy struct {
	Table   string   `json:"table" yaml:"table"`
	Name    string   `json:"name" yaml:"name"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"` // ALL, SELECT, INSERT, UPDATE, DELETE
	Roles   []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Using   string   `json:"using,omitempty" yaml:"using,omitempty"`
	Check   string   `json:"check,omitempty" yaml:"check,omitempty"`
}

// Reference is a parsed "table(column)" foreign key target.
type Reference struct {
	Table  string
	Column string
}

// ParseReference splits a "table(column)" string.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if open <= 0 || end < open+2 || end != len(s)-1 {
		return Reference{}, fmt.Errorf("malformed reference %q: want table(column)", s)
	}
	ref := Reference{
		Table:  strings.TrimSpace(s[:open]),
		Column: strings.TrimSpace(s[open+1 : end]),
	}
	if ref.Table == "" || ref.Column == "" {
		return Reference{}, fmt.Errorf("malformed reference %q: want table(column)", s)
	}
	return ref, nil
}

// String renders the reference back to its "table(column)" form.
func (r Reference) String() string {
	return r.Table + "(" + r.Column + ")"
}

// Result is returned by the registry mutation helpers.
// Failures are reported in the result, never thrown.
type Result struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	SQL            string `json:"sql,omitempty"`
	NeedsExecution bool   `json:"needsExecution"`
	Err            error  `json:"-"`
}
