package schema

import (
	"fmt"
	"strings"
)

// tsType maps a SQL type to a TypeScript type by substring match.
// Anything that is not integer, numeric, boolean or json becomes string
// (so bigint, real and timestamps are strings).
func tsType(sqlType string) string {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "integer"), strings.Contains(t, "numeric"):
		return "number"
	case strings.Contains(t, "boolean"):
		return "boolean"
	case strings.Contains(t, "json"):
		return "Json"
	default:
		return "string"
	}
}

const jsonTypeSource = `export type Json =
  | string
  | number
  | boolean
  | null
  | { [key: string]: Json | undefined }
  | Json[]
`

// RenderDatabaseTypesSource renders a TypeScript module describing every table
// as Database.public.Tables.<table>.{Row, Insert, Update, Relationships}.
//
// Row: optional and nullable unless NOT NULL (id is always required).
// Insert: optional and nullable when auto incrementing, not NOT NULL, or an audit timestamp.
// Update: always optional, nullable unless NOT NULL.
func (s *Schema) RenderDatabaseTypesSource() string {
	var b strings.Builder

	b.WriteString("// Generated by crmschema. Do not edit by hand.\n\n")
	b.WriteString(jsonTypeSource)
	b.WriteString("\n")
	b.WriteString("export interface Database {\n")
	b.WriteString("  public: {\n")
	b.WriteString("    Tables: {\n")

	for _, t := range s.Tables() {
		fmt.Fprintf(&b, "      %s: {\n", t.Name)
		writeShape(&b, "Row", t.Columns, rowField)
		writeShape(&b, "Insert", t.Columns, insertField)
		writeShape(&b, "Update", t.Columns, updateField)
		writeRelationships(&b, t)
		b.WriteString("      }\n")
	}

	b.WriteString("    }\n")
	b.WriteString("    Views: {\n      [_ in never]: never\n    }\n")
	b.WriteString("    Functions: {\n      [_ in never]: never\n    }\n")
	b.WriteString("    Enums: {\n      [_ in never]: never\n    }\n")
	b.WriteString("  }\n")
	b.WriteString("}\n")

	return b.String()
}

// fieldRule decides whether a field is optional and whether it is nullable.
type fieldRule func(col Column) (optional, nullable bool)

func rowField(col Column) (bool, bool) {
	loose := !col.NotNull && col.Name != IDColumn
	return loose, loose
}

func insertField(col Column) (bool, bool) {
	loose := col.AutoIncrement || !col.NotNull ||
		col.Name == CreatedAtColumn || col.Name == UpdatedAtColumn
	return loose, loose
}

func updateField(col Column) (bool, bool) {
	return true, !col.NotNull
}

func writeShape(b *strings.Builder, shape string, cols Columns, rule fieldRule) {
	fmt.Fprintf(b, "        %s: {\n", shape)
	for _, col := range cols {
		optional, nullable := rule(col)
		name := col.Name
		if optional {
			name += "?"
		}
		typ := tsType(col.Type)
		if nullable {
			typ += " | null"
		}
		fmt.Fprintf(b, "          %s: %s\n", name, typ)
	}
	b.WriteString("        }\n")
}

func writeRelationships(b *strings.Builder, t TableSchema) {
	var rels []string
	for _, col := range t.Columns {
		if col.References == "" {
			continue
		}
		ref, err := ParseReference(col.References)
		if err != nil {
			continue
		}
		rels = append(rels, fmt.Sprintf(
			"          {\n"+
				"            foreignKeyName: %q\n"+
				"            columns: [%q]\n"+
				"            referencedRelation: %q\n"+
				"            referencedColumns: [%q]\n"+
				"          }",
			t.Name+"_"+col.Name+"_fkey", col.Name, ref.Table, ref.Column,
		))
	}

	if len(rels) == 0 {
		b.WriteString("        Relationships: []\n")
		return
	}
	b.WriteString("        Relationships: [\n")
	b.WriteString(strings.Join(rels, ",\n"))
	b.WriteString("\n        ]\n")
}
