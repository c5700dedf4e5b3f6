package main

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/tricyclecrm/internal/schema"
)

// parseColumns reads name:type[:option...] column specs.
//
// Options: notnull, pk, serial, default=<expr>, references=<table>(<column>).
func parseColumns(specs []string) (schema.Columns, error) {
	cols := make(schema.Columns, 0, len(specs))
	for _, spec := range specs {
		col, err := parseColumn(spec)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func parseColumn(spec string) (schema.Column, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return schema.Column{}, fmt.Errorf("column %q: want name:type[:options]", spec)
	}

	col := schema.Column{
		Name:             strings.TrimSpace(parts[0]),
		ColumnDefinition: schema.ColumnDefinition{Type: strings.TrimSpace(parts[1])},
	}
	for _, opt := range parts[2:] {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch strings.ToLower(key) {
		case "notnull":
			col.NotNull = true
		case "pk":
			col.PrimaryKey = true
		case "serial":
			col.AutoIncrement = true
		case "default":
			col.Default = value
		case "references":
			if _, err := schema.ParseReference(value); err != nil {
				return schema.Column{}, fmt.Errorf("column %q: %w", spec, err)
			}
			col.References = value
		default:
			return schema.Column{}, fmt.Errorf("column %q: unknown option %q", spec, opt)
		}
	}
	return col, nil
}
