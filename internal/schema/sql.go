package schema

import (
	"fmt"
	"strings"

	"github.com/yourbasic/graph"
)

// UpdatedAtColumn is the audit column that gets a maintenance trigger.
const UpdatedAtColumn = "updated_at"

// TriggerFunctionName returns the name of the updated_at trigger function for a table.
func TriggerFunctionName(table string) string {
	return "update_" + table + "_updated_at"
}

// TriggerName returns the name of the updated_at trigger for a table.
func TriggerName(table string) string {
	return "trg_" + table + "_updated_at"
}

// IndexName returns the name of the single-column index on table(column).
func IndexName(table, column string) string {
	return "idx_" + table + "_" + column
}

// columnClause renders one column line. Clause order is fixed:
// type, PRIMARY KEY, identity, NOT NULL, REFERENCES, DEFAULT.
func columnClause(col Column) string {
	var b strings.Builder
	b.WriteString(col.Name)
	b.WriteString(" ")
	b.WriteString(col.Type)
	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if col.AutoIncrement {
		b.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
	}
	if col.NotNull {
		b.WriteString(" NOT NULL")
	}
	if col.References != "" {
		b.WriteString(" REFERENCES ")
		if ref, err := ParseReference(col.References); err == nil {
			b.WriteString(ref.String())
		} else {
			b.WriteString(col.References)
		}
	}
	if col.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(col.Default)
	}
	return b.String()
}

// RenderCreateTable renders the idempotent creation script for one table:
// CREATE TABLE, its indexes, then the updated_at trigger function and trigger
// when the table has an updated_at column.
func RenderCreateTable(name string, t TableSchema) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", name)
	for i, col := range t.Columns {
		b.WriteString("  ")
		b.WriteString(columnClause(col))
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");\n")

	if len(t.Indexes) > 0 {
		b.WriteString("\n")
		for _, col := range t.Indexes {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s(%s);\n", IndexName(name, col), name, col)
		}
	}

	if t.Columns.Has(UpdatedAtColumn) {
		fn := TriggerFunctionName(name)
		trg := TriggerName(name)
		b.WriteString("\n")
		fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s()\n", fn)
		b.WriteString("RETURNS TRIGGER AS $$\n")
		b.WriteString("BEGIN\n")
		fmt.Fprintf(&b, "  NEW.%s = now();\n", UpdatedAtColumn)
		b.WriteString("  RETURN NEW;\n")
		b.WriteString("END;\n")
		b.WriteString("$$ LANGUAGE plpgsql;\n")
		b.WriteString("\n")
		fmt.Fprintf(&b, "DROP TRIGGER IF EXISTS %s ON %s;\n", trg, name)
		fmt.Fprintf(&b, "CREATE TRIGGER %s\n", trg)
		fmt.Fprintf(&b, "  BEFORE UPDATE ON %s\n", name)
		b.WriteString("  FOR EACH ROW\n")
		fmt.Fprintf(&b, "  EXECUTE FUNCTION %s();\n", fn)
	}

	return b.String()
}

// RenderAlterTable renders ADD COLUMN statements for every desired column that is
// missing from current. The diff only adds: dropped columns, type changes and
// constraint changes on existing columns are not detected.
// Returns an empty string when nothing is missing.
func RenderAlterTable(name string, current, desired Columns) string {
	var b strings.Builder
	for _, col := range desired {
		if current.Has(col.Name) {
			continue
		}
		fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s;\n", name, columnClause(col))
	}
	return b.String()
}

// RenderFullScript renders the schema as SQL.
//
// For a new database it emits every table (referenced tables before the tables
// that reference them) followed by the row-level-security section. For an
// existing database only a placeholder is emitted: diffing against a live
// database needs a connection and catalog introspection this package does not do.
func (s *Schema) RenderFullScript(isNewDatabase bool) string {
	var b strings.Builder
	b.WriteString("-- TricycleCRM schema\n")

	if !isNewDatabase {
		b.WriteString("-- Incremental sync against an existing database is not generated.\n")
		b.WriteString("-- Apply the ALTER statements returned by table updates, or re-run the full script.\n")
		return b.String()
	}

	b.WriteString("-- Safe to re-run: every statement is guarded or replaces in place.\n")

	for _, t := range s.dependencyOrder() {
		b.WriteString("\n")
		b.WriteString(RenderCreateTable(t.Name, t))
	}

	if policies := s.Policies(); len(policies) > 0 {
		b.WriteString("\n-- Row level security\n")
		b.WriteString(renderPolicies(policies))
	}

	return b.String()
}

// renderPolicies enables RLS once per table, then (re)creates each policy.
func renderPolicies(policies []Policy) string {
	var b strings.Builder
	enabled := make(map[string]bool)
	for _, p := range policies {
		if !enabled[p.Table] {
			fmt.Fprintf(&b, "ALTER TABLE %s ENABLE ROW LEVEL SECURITY;\n", p.Table)
			enabled[p.Table] = true
		}
	}
	for _, p := range policies {
		name := quoteIdentifier(p.Name)
		cmd := strings.ToUpper(strings.TrimSpace(p.Command))
		if cmd == "" {
			cmd = "ALL"
		}
		fmt.Fprintf(&b, "DROP POLICY IF EXISTS %s ON %s;\n", name, p.Table)
		fmt.Fprintf(&b, "CREATE POLICY %s ON %s FOR %s", name, p.Table, cmd)
		if len(p.Roles) > 0 {
			fmt.Fprintf(&b, " TO %s", strings.Join(p.Roles, ", "))
		}
		if p.Using != "" {
			fmt.Fprintf(&b, " USING (%s)", p.Using)
		}
		if p.Check != "" {
			fmt.Fprintf(&b, " WITH CHECK (%s)", p.Check)
		}
		b.WriteString(";\n")
	}
	return b.String()
}

// dependencyOrder sorts tables so that every referenced table comes before the
// tables referencing it. Self references are ignored; on a cycle the
// registration order is returned unchanged.
func (s *Schema) dependencyOrder() []TableSchema {
	tables := s.Tables()
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.Name] = i
	}

	g := graph.New(len(tables))
	for i, t := range tables {
		for _, col := range t.Columns {
			if col.References == "" {
				continue
			}
			ref, err := ParseReference(col.References)
			if err != nil {
				continue
			}
			if j, ok := index[ref.Table]; ok && j != i {
				g.Add(j, i)
			}
		}
	}

	order, ok := graph.TopSort(g)
	if !ok {
		return tables
	}
	out := make([]TableSchema, len(order))
	for i, v := range order {
		out[i] = tables[v]
	}
	return out
}

// quoteIdentifier quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
