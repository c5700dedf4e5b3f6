package schema

import (
	"errors"
	"fmt"
)

// Audit columns injected into new entity tables.
const (
	IDColumn        = "id"
	CreatedAtColumn = "created_at"
)

// AuditTimestampType is the SQL type of injected created_at / updated_at columns.
const AuditTimestampType = "timestamp with time zone"

// AddEntityTable registers a new table and returns its creation SQL.
//
// Missing id (integer, primary key, auto increment) and created_at / updated_at
// columns are injected; the table gets a default index on id. The registry is
// left untouched when the name is already taken or a column is invalid
// (see ValidateColumn) or declared twice.
func (s *Schema) AddEntityTable(name string, columns Columns) Result {
	if !IsValidIdentifier(name) {
		err := fmt.Errorf("%w: table %q", ErrInvalidIdentifier, name)
		return Result{Message: err.Error(), Err: err}
	}
	if err := validateColumns(columns); err != nil {
		return Result{Message: err.Error(), Err: err}
	}
	if _, exists := s.Table(name); exists {
		err := fmt.Errorf("%w: %s", ErrTableExists, name)
		return Result{Message: fmt.Sprintf("La tabla %s ya existe", name), Err: err}
	}

	cols := make(Columns, 0, len(columns)+3)
	if !columns.Has(IDColumn) {
		cols = append(cols, Column{Name: IDColumn, ColumnDefinition: ColumnDefinition{
			Type:          "integer",
			PrimaryKey:    true,
			AutoIncrement: true,
		}})
	}
	cols = append(cols, columns...)
	for _, audit := range []string{CreatedAtColumn, UpdatedAtColumn} {
		if !cols.Has(audit) {
			cols = append(cols, Column{Name: audit, ColumnDefinition: ColumnDefinition{
				Type:    AuditTimestampType,
				Default: "now()",
			}})
		}
	}

	t := TableSchema{Name: name, Columns: cols, Indexes: []string{IDColumn}}
	if err := s.Register(t); err != nil {
		msg := err.Error()
		if errors.Is(err, ErrTableExists) {
			msg = fmt.Sprintf("La tabla %s ya existe", name)
		}
		return Result{Message: msg, Err: err}
	}

	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Tabla %s añadida al esquema", name),
		SQL:            RenderCreateTable(name, t),
		NeedsExecution: true,
	}
}

// UpdateEntityTable merges new columns into a registered table and returns the
// ALTER SQL for them. Columns that already exist are never overwritten. An
// invalid column, or one named twice in columns, rejects the whole update.
func (s *Schema) UpdateEntityTable(name string, columns Columns) Result {
	if err := validateColumns(columns); err != nil {
		return Result{Message: err.Error(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrTableNotFound, name)
		return Result{Message: fmt.Sprintf("La tabla %s no existe", name), Err: err}
	}

	var added Columns
	for _, col := range columns {
		if t.Columns.Has(col.Name) {
			continue
		}
		added = append(added, col)
	}

	if len(added) == 0 {
		return Result{
			Success: true,
			Message: fmt.Sprintf("La tabla %s ya contiene todas las columnas", name),
		}
	}

	sql := RenderAlterTable(name, t.Columns, added)
	t = t.clone()
	t.Columns = append(t.Columns, added...)
	s.tables[name] = t

	return Result{
		Success:        true,
		Message:        fmt.Sprintf("Tabla %s actualizada con %d columnas nuevas", name, len(added)),
		SQL:            sql,
		NeedsExecution: true,
	}
}
