package crm

import (
	"encoding/json"
	"testing"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	var keys []string
	for _, e := range r.All() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"clientes", "proveedores", "materiales"}, keys)

	e, err := r.Lookup("clientes")
	require.NoError(t, err)
	assert.Equal(t, "nombre", e.NameField)
	assert.Equal(t, []string{"nombre", "nif", "email"}, e.MatchFields)
}

func TestDefaultRegistry_MatchesSchema(t *testing.T) {
	s, err := schema.Default()
	require.NoError(t, err)

	assert.NoError(t, DefaultRegistry().CheckSchema(s))
}

func TestRegistry_CheckSchemaReportsAll(t *testing.T) {
	s := schema.New()
	require.NoError(t, s.Register(schema.TableSchema{
		Name:    "clientes",
		Columns: schema.Columns{{Name: "id", ColumnDefinition: schema.ColumnDefinition{Type: "integer"}}},
	}))

	err := DefaultRegistry().CheckSchema(s)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "column clientes.nombre not in schema")
	assert.Contains(t, err.Error(), "table not found: proveedores")
	assert.Contains(t, err.Error(), "table not found: materiales")
}

func TestRegistry_Lookup(t *testing.T) {
	_, err := DefaultRegistry().Lookup("facturas")

	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Equal(t, "TBL001", importer.MapError(err).Code)
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		entity  Entity
		wantErr string
	}{
		{
			name:    "missing key",
			entity:  Entity{Table: "t", Mappings: []importer.ColumnMapping{{Field: "a"}}},
			wantErr: "key is required",
		},
		{
			name:    "bad table",
			entity:  Entity{Key: "x", Table: "t; drop", Mappings: []importer.ColumnMapping{{Field: "a"}}},
			wantErr: "invalid table name",
		},
		{
			name:    "bad field",
			entity:  Entity{Key: "x", Table: "t", Mappings: []importer.ColumnMapping{{Field: "a b"}}},
			wantErr: "invalid field name",
		},
		{
			name:    "no mappings",
			entity:  Entity{Key: "x", Table: "t"},
			wantErr: "no column mappings",
		},
		{
			name:    "field mapped twice",
			entity:  Entity{Key: "x", Table: "t", Mappings: []importer.ColumnMapping{{Field: "a"}, {Field: "a"}}},
			wantErr: "mapped twice",
		},
		{
			name:    "unmapped match field",
			entity:  Entity{Key: "x", Table: "t", Mappings: []importer.ColumnMapping{{Field: "a"}}, MatchFields: []string{"b"}},
			wantErr: "match field b is not mapped",
		},
		{
			name:    "unmapped name field",
			entity:  Entity{Key: "x", Table: "t", Mappings: []importer.ColumnMapping{{Field: "a"}}, NameField: "nombre"},
			wantErr: "name field nombre is not mapped",
		},
		{
			name:    "duplicate key",
			entity:  Clientes(),
			wantErr: "already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRegistry()
			err := r.Register(tt.entity)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Len(t, r.All(), 3)
		})
	}
}

func TestEntity_Transforms(t *testing.T) {
	grid := [][]string{
		{"Nombre", "NIF", "Email"},
		{"Acme", "b12345678", " Ventas@ACME.es "},
	}
	data := buildWorkbook(t, grid)

	res, err := importer.Parse(t.Context(), data, "clientes.xlsx", Clientes().ParseOptions())

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "B12345678", res.Rows[0]["nif"])
	assert.Equal(t, "ventas@acme.es", res.Rows[0]["email"])
	assert.Nil(t, res.Rows[0]["telefono"])
}

func TestMateriales_Transforms(t *testing.T) {
	grid := [][]string{
		{"Nombre", "Precio referencia", "Activo"},
		{"Cobre", "1.234,50", "sí"},
	}

	res, err := importer.Parse(t.Context(), buildWorkbook(t, grid), "materiales.xlsx", Materiales().ParseOptions())

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 1234.5, res.Rows[0]["precio_referencia"])
	assert.Equal(t, true, res.Rows[0]["activo"])
}

func TestEntity_JSON(t *testing.T) {
	b, err := json.Marshal(Materiales())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "materiales", got["key"])
	mappings := got["mappings"].([]any)
	require.Len(t, mappings, 5)
	assert.Equal(t, map[string]any{"excelColumn": "Nombre", "field": "nombre", "required": true}, mappings[0])
}
