package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// buildSheet writes grid to the first sheet of an in-memory workbook.
func buildSheet(t *testing.T, grid [][]any) *bytes.Reader {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range grid {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

var contactMappings = []ColumnMapping{
	{ExcelColumn: "Nombre", Field: "nombre", Required: true},
	{ExcelColumn: "Email", Field: "email", Transform: Lower},
}

func TestParse_DropsBlankName(t *testing.T) {
	r := buildSheet(t, [][]any{
		{"Nombre", "Email"},
		{"", "x@y.com"},
	})

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: contactMappings})

	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 1, res.DataRows)
}

func TestParse_BuildsRow(t *testing.T) {
	r := buildSheet(t, [][]any{
		{"Nombre", "Email"},
		{"Acme", "x@y.com"},
	})

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: contactMappings})

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, Row{"nombre": "Acme", "email": "x@y.com"}, res.Rows[0])
}

func TestParse_MissingRequiredColumn(t *testing.T) {
	r := buildSheet(t, [][]any{
		{"Email"},
		{"x@y.com"},
	})

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: contactMappings})

	require.Error(t, err)
	assert.Nil(t, res)

	var missing *MissingColumnsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Nombre"}, missing.Columns)
}

func TestParse_ListsAllMissingColumns(t *testing.T) {
	mappings := []ColumnMapping{
		{ExcelColumn: "Nombre", Field: "nombre", Required: true},
		{ExcelColumn: "NIF", Field: "nif", Required: true},
		{ExcelColumn: "Email", Field: "email"},
	}
	r := buildSheet(t, [][]any{
		{"Email"},
		{"x@y.com"},
	})

	_, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: mappings})

	var missing *MissingColumnsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Nombre", "NIF"}, missing.Columns)
	assert.Equal(t, "missing required columns: Nombre, NIF", err.Error())
}

func TestParse_CaseInsensitiveHeaders(t *testing.T) {
	mappings := []ColumnMapping{
		{ExcelColumn: "Nombre", Field: "nombre", Required: true},
		{ExcelColumn: "Teléfono", Field: "telefono"},
	}
	r := buildSheet(t, [][]any{
		{"  NOMBRE ", "TELÉFONO"},
		{"Acme", "600 000 000"},
	})

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: mappings})

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "600 000 000", res.Rows[0]["telefono"])
}

func TestParse_AbsentOptionalColumnIsNil(t *testing.T) {
	r := buildSheet(t, [][]any{
		{"Nombre"},
		{"Acme"},
	})

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: contactMappings})

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	v, ok := res.Rows[0]["email"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParse_SkipsBlankRowsAndBuildsPreview(t *testing.T) {
	grid := [][]any{{"Nombre", "Email"}}
	for i := 1; i <= 8; i++ {
		grid = append(grid, []any{fmt.Sprintf("Cliente %d", i), fmt.Sprintf("c%d@x.es", i)})
		if i == 2 {
			grid = append(grid, []any{"", ""})
		}
	}
	r := buildSheet(t, grid)

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{Mappings: contactMappings})

	require.NoError(t, err)
	assert.Equal(t, 8, res.DataRows)
	assert.Len(t, res.Rows, 8)
	require.Len(t, res.Preview, DefaultPreviewRows)
	assert.Equal(t, []string{"Cliente 3", "c3@x.es"}, res.Preview[2])
	assert.Equal(t, []string{"Nombre", "Email"}, res.Headers)
	assert.Empty(t, res.Advisory)
}

func TestParse_Transforms(t *testing.T) {
	mappings := []ColumnMapping{
		{ExcelColumn: "Nombre", Field: "nombre", Required: true},
		{ExcelColumn: "Precio", Field: "precio", Transform: Number},
		{ExcelColumn: "Activo", Field: "activo", Transform: Bool},
		{ExcelColumn: "Alta", Field: "alta", Transform: Date},
	}
	r := buildSheet(t, [][]any{
		{"Nombre", "Precio", "Activo", "Alta"},
		{"Cartón", "1.234,50", "sí", "15/01/2024"},
		{"Plástico", 99.5, "no", 45306},
	})

	res, err := Parse(context.Background(), r, "materiales.xlsx", ParseOptions{Mappings: mappings})

	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, Row{"nombre": "Cartón", "precio": 1234.5, "activo": true, "alta": "2024-01-15"}, res.Rows[0])
	assert.Equal(t, Row{"nombre": "Plástico", "precio": 99.5, "activo": false, "alta": "2024-01-15"}, res.Rows[1])
}

func TestParse_CustomNameField(t *testing.T) {
	mappings := []ColumnMapping{
		{ExcelColumn: "Referencia", Field: "id_externo", Required: true},
		{ExcelColumn: "Notas", Field: "notas"},
	}
	r := buildSheet(t, [][]any{
		{"Referencia", "Notas"},
		{"N-001", "ok"},
		{" ", "sin referencia"},
	})

	res, err := Parse(context.Background(), r, "negocios.xlsx", ParseOptions{Mappings: mappings, NameField: "id_externo"})

	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "N-001", res.Rows[0]["id_externo"])
}

func TestParse_LargeFileAdvisory(t *testing.T) {
	faker := gofakeit.New(42)

	grid := [][]any{{"Nombre", "Email"}}
	for i := 0; i < 30; i++ {
		grid = append(grid, []any{faker.Company(), faker.Email()})
	}
	r := buildSheet(t, grid)

	res, err := Parse(context.Background(), r, "clientes.xlsx", ParseOptions{
		Mappings:      contactMappings,
		LargeFileRows: 25,
	})

	require.NoError(t, err)
	assert.Len(t, res.Rows, 30)
	assert.Contains(t, res.Advisory, "30 filas")
	for _, row := range res.Rows {
		assert.Equal(t, strings.ToLower(row.String("email")), row["email"])
	}
}

func TestParse_FileErrors(t *testing.T) {
	valid := func() *bytes.Reader {
		return buildSheet(t, [][]any{{"Nombre"}, {"Acme"}})
	}

	tests := []struct {
		name     string
		reader   *bytes.Reader
		fileName string
		opts     ParseOptions
		wantErr  error
		wantText string
	}{
		{name: "no file name", reader: valid(), fileName: "", wantErr: ErrNoFile},
		{name: "csv rejected", reader: valid(), fileName: "clientes.csv", wantErr: ErrUnsupportedFile},
		{name: "pdf rejected", reader: valid(), fileName: "clientes.xlsx.pdf", wantErr: ErrUnsupportedFile},
		{name: "empty body", reader: bytes.NewReader(nil), fileName: "c.xlsx", wantErr: ErrEmptyFile},
		{name: "not a workbook", reader: bytes.NewReader([]byte("hola")), fileName: "c.xlsx", wantText: "invalid spreadsheet"},
		{name: "header only", reader: buildSheet(t, [][]any{{"Nombre"}}), fileName: "c.xlsx", wantErr: ErrEmptyFile},
		{name: "blank data rows", reader: buildSheet(t, [][]any{{"Nombre"}, {""}, {" "}}), fileName: "c.xlsx", wantErr: ErrEmptyFile},
		{name: "too large", reader: valid(), fileName: "c.xlsx", opts: ParseOptions{MaxFileSize: 10}, wantErr: ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Mappings = contactMappings

			res, err := Parse(context.Background(), tt.reader, tt.fileName, opts)

			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
			if tt.wantText != "" {
				assert.Contains(t, err.Error(), tt.wantText)
			}
		})
	}
}

func TestCheckExtension(t *testing.T) {
	for _, name := range []string{"a.xlsx", "A.XLSX", "datos.2024.xls", "/tmp/x/clientes.Xls"} {
		assert.NoError(t, CheckExtension(name), name)
	}
	for _, name := range []string{"a.csv", "a", "xlsx", "a.xlsx.exe"} {
		assert.Error(t, CheckExtension(name), name)
	}
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := buildSheet(t, [][]any{{"Nombre"}, {"Acme"}})
	_, err := Parse(ctx, r, "c.xlsx", ParseOptions{Mappings: contactMappings})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMakeHeaderIndex_FirstOccurrenceWins(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Nombre", "Email", "NOMBRE", ""})
	assert.Equal(t, HeaderIndex{"nombre": 0, "email": 1}, idx)
}
