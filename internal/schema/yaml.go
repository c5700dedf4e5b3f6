package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed crm.yaml
var crmSchemaYAML string

// Default returns a fresh copy of the TricycleCRM schema.
func Default() (*Schema, error) {
	return LoadYAML(strings.NewReader(crmSchemaYAML))
}

// document is the on-disk layout. Tables and columns are decoded from raw
// nodes so the mapping order in the file becomes the registration order.
type document struct {
	Tables   yaml.Node `yaml:"tables"`
	Policies []Policy  `yaml:"policies"`
}

type tableDocument struct {
	Columns yaml.Node `yaml:"columns"`
	Indexes []string  `yaml:"indexes"`
}

// LoadYAML builds a schema from a YAML document of the form:
//
//	tables:
//	  clientes:
//	    columns:
//	      id: {type: integer, primaryKey: true, autoIncrement: true}
//	      nombre: {type: text, notNull: true}
//	      email: text
//	    indexes: [id, nombre]
//	policies:
//	  - {table: clientes, name: acceso, command: ALL, using: "true"}
func LoadYAML(r io.Reader) (*Schema, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	s := New()

	if doc.Tables.Kind != 0 {
		if doc.Tables.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("schema line %d: tables must be a mapping", doc.Tables.Line)
		}
		for i := 0; i+1 < len(doc.Tables.Content); i += 2 {
			name := doc.Tables.Content[i].Value
			t, err := decodeTable(name, doc.Tables.Content[i+1])
			if err != nil {
				return nil, err
			}
			if err := s.Register(t); err != nil {
				return nil, fmt.Errorf("register %s: %w", name, err)
			}
		}
	}

	for _, p := range doc.Policies {
		if _, ok := s.Table(p.Table); !ok {
			return nil, fmt.Errorf("policy %q: %w: %s", p.Name, ErrTableNotFound, p.Table)
		}
		s.AddPolicy(p)
	}

	return s, nil
}

func decodeTable(name string, node *yaml.Node) (TableSchema, error) {
	var td tableDocument
	if err := node.Decode(&td); err != nil {
		return TableSchema{}, fmt.Errorf("table %s: %w", name, err)
	}

	t := TableSchema{Name: name, Indexes: td.Indexes}
	if td.Columns.Kind != yaml.MappingNode {
		return TableSchema{}, fmt.Errorf("table %s line %d: columns must be a mapping", name, node.Line)
	}

	for i := 0; i+1 < len(td.Columns.Content); i += 2 {
		key, value := td.Columns.Content[i], td.Columns.Content[i+1]
		col := Column{Name: key.Value}

		switch value.Kind {
		case yaml.ScalarNode:
			// shorthand: "email: text"
			col.Type = value.Value
		case yaml.MappingNode:
			if err := value.Decode(&col.ColumnDefinition); err != nil {
				return TableSchema{}, fmt.Errorf("table %s column %s: %w", name, key.Value, err)
			}
		default:
			return TableSchema{}, fmt.Errorf("table %s column %s line %d: expected type or mapping", name, key.Value, value.Line)
		}

		if col.Type == "" {
			return TableSchema{}, fmt.Errorf("table %s column %s: missing type", name, key.Value)
		}
		t.Columns = append(t.Columns, col)
	}

	for _, idx := range t.Indexes {
		if !t.Columns.Has(idx) {
			return TableSchema{}, fmt.Errorf("table %s: index on unknown column %s", name, idx)
		}
	}

	return t, nil
}
