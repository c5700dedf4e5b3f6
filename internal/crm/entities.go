// Package crm binds the CRM tables to the import pipeline: which spreadsheet
// columns feed which entity, how duplicates are detected and how imported rows
// are written to Postgres.
package crm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
)

// ErrUnknownEntity is returned when an entity key is not registered.
var ErrUnknownEntity = errors.New("unknown entity")

// Entity describes one importable CRM table.
type Entity struct {
	Key         string                   `json:"key"`
	Label       string                   `json:"label"`
	Table       string                   `json:"table"`
	NameField   string                   `json:"nameField"`
	Mappings    []importer.ColumnMapping `json:"mappings"`
	MatchFields []string                 `json:"matchFields"`

	// CheckDuplicates enables the duplicate step of the import flow.
	CheckDuplicates bool `json:"checkDuplicates"`
}

// Fields returns the record fields the entity's mappings produce, in order.
func (e Entity) Fields() []string {
	out := make([]string, len(e.Mappings))
	for i, m := range e.Mappings {
		out[i] = m.Field
	}
	return out
}

// ParseOptions returns importer options for spreadsheets of this entity.
func (e Entity) ParseOptions() importer.ParseOptions {
	return importer.ParseOptions{
		Mappings:  e.Mappings,
		NameField: e.NameField,
	}
}

func (e Entity) validate() error {
	if e.Key == "" {
		return errors.New("entity key is required")
	}
	if !schema.IsValidIdentifier(e.Table) {
		return fmt.Errorf("entity %s: invalid table name %q", e.Key, e.Table)
	}
	if len(e.Mappings) == 0 {
		return fmt.Errorf("entity %s: no column mappings", e.Key)
	}
	fields := make(map[string]bool, len(e.Mappings))
	for _, m := range e.Mappings {
		if !schema.IsValidIdentifier(m.Field) {
			return fmt.Errorf("entity %s: invalid field name %q", e.Key, m.Field)
		}
		if fields[m.Field] {
			return fmt.Errorf("entity %s: field %s mapped twice", e.Key, m.Field)
		}
		fields[m.Field] = true
	}
	for _, f := range e.MatchFields {
		if !fields[f] {
			return fmt.Errorf("entity %s: match field %s is not mapped", e.Key, f)
		}
	}
	if e.NameField != "" && !fields[e.NameField] {
		return fmt.Errorf("entity %s: name field %s is not mapped", e.Key, e.NameField)
	}
	return nil
}

// Registry holds the importable entities in registration order.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	entities map[string]Entity
}

// NewRegistry builds a registry from entities. Keys must be unique.
func NewRegistry(entities ...Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an entity to the registry.
func (r *Registry) Register(e Entity) error {
	if err := e.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[e.Key]; exists {
		return fmt.Errorf("entity already registered: %s", e.Key)
	}
	r.entities[e.Key] = e
	r.order = append(r.order, e.Key)
	return nil
}

// Get returns an entity by key.
func (r *Registry) Get(key string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[key]
	return e, ok
}

// Lookup is Get with an ErrUnknownEntity error for missing keys.
func (r *Registry) Lookup(key string) (Entity, error) {
	e, ok := r.Get(key)
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	return e, nil
}

// All returns every entity in registration order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entities[key])
	}
	return out
}

// CheckSchema verifies every entity targets a table and columns the schema declares.
// All problems are reported together.
func (r *Registry) CheckSchema(s *schema.Schema) error {
	var errs []error
	for _, e := range r.All() {
		t, ok := s.Table(e.Table)
		if !ok {
			errs = append(errs, fmt.Errorf("entity %s: table not found: %s", e.Key, e.Table))
			continue
		}
		for _, f := range e.Fields() {
			if !t.Columns.Has(f) {
				errs = append(errs, fmt.Errorf("entity %s: column %s.%s not in schema", e.Key, e.Table, f))
			}
		}
	}
	return errors.Join(errs...)
}

// DefaultRegistry returns the registry of the importable CRM tables.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Clientes(), Proveedores(), Materiales())
	if err != nil {
		panic(err)
	}
	return r
}

// contactMappings are the columns shared by clientes and proveedores.
func contactMappings() []importer.ColumnMapping {
	return []importer.ColumnMapping{
		{ExcelColumn: "Nombre", Field: "nombre", Required: true},
		{ExcelColumn: "NIF", Field: "nif", Transform: upper},
		{ExcelColumn: "Email", Field: "email", Transform: importer.Lower},
		{ExcelColumn: "Teléfono", Field: "telefono"},
		{ExcelColumn: "Dirección", Field: "direccion"},
		{ExcelColumn: "Ciudad", Field: "ciudad"},
		{ExcelColumn: "País", Field: "pais"},
	}
}

// Clientes is the customer entity.
func Clientes() Entity {
	return Entity{
		Key:   "clientes",
		Label: "Clientes",
		Table: "clientes",
		Mappings: append(contactMappings(),
			importer.ColumnMapping{ExcelColumn: "Persona de contacto", Field: "persona_contacto"},
			importer.ColumnMapping{ExcelColumn: "Notas", Field: "notas"},
		),
		NameField:       "nombre",
		MatchFields:     []string{"nombre", "nif", "email"},
		CheckDuplicates: true,
	}
}

// Proveedores is the supplier entity.
func Proveedores() Entity {
	return Entity{
		Key:   "proveedores",
		Label: "Proveedores",
		Table: "proveedores",
		Mappings: append(contactMappings(),
			importer.ColumnMapping{ExcelColumn: "Tipo de material", Field: "tipo_material"},
			importer.ColumnMapping{ExcelColumn: "Notas", Field: "notas"},
		),
		NameField:       "nombre",
		MatchFields:     []string{"nombre", "nif", "email"},
		CheckDuplicates: true,
	}
}

// Materiales is the material catalogue entity.
func Materiales() Entity {
	return Entity{
		Key:   "materiales",
		Label: "Materiales",
		Table: "materiales",
		Mappings: []importer.ColumnMapping{
			{ExcelColumn: "Nombre", Field: "nombre", Required: true},
			{ExcelColumn: "Categoría", Field: "categoria"},
			{ExcelColumn: "Descripción", Field: "descripcion"},
			{ExcelColumn: "Precio referencia", Field: "precio_referencia", Transform: importer.Number},
			{ExcelColumn: "Activo", Field: "activo", Transform: importer.Bool},
		},
		NameField:       "nombre",
		MatchFields:     []string{"nombre"},
		CheckDuplicates: true,
	}
}

// upper normalizes tax ids, which are compared case-insensitively anyway.
func upper(s string) any {
	v := importer.Text(s)
	if str, ok := v.(string); ok {
		return strings.ToUpper(str)
	}
	return v
}
