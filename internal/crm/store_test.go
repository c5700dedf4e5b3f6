package crm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, grid [][]string) *bytes.Reader {
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

// ----------------------------------------------------------------------------
// Query builders
// ----------------------------------------------------------------------------

func TestBuildMatchQuery(t *testing.T) {
	e := Clientes()

	query, args := buildMatchQuery(e, importer.Row{"nombre": "Acme", "nif": nil, "email": "a@acme.es"})

	assert.Equal(t,
		`SELECT "id", "nombre", "nif", "email", "telefono", "direccion", "ciudad", "pais", "persona_contacto", "notas" `+
			`FROM "clientes" WHERE lower("nombre"::text) = lower($1) OR lower("email"::text) = lower($2) ORDER BY id LIMIT 1`,
		query)
	assert.Equal(t, []any{"Acme", "a@acme.es"}, args)
}

func TestBuildMatchQuery_NoMatchValues(t *testing.T) {
	query, args := buildMatchQuery(Clientes(), importer.Row{"nombre": "  ", "telefono": "600"})

	assert.Empty(t, query)
	assert.Nil(t, args)
}

func TestBuildInsert(t *testing.T) {
	tests := []struct {
		name      string
		row       importer.Row
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "nil fields use column defaults",
			row:       importer.Row{"nombre": "Cobre", "precio_referencia": 12.5, "activo": nil},
			wantQuery: `INSERT INTO "materiales" ("nombre", "precio_referencia") VALUES ($1, $2)`,
			wantArgs:  []any{"Cobre", 12.5},
		},
		{
			name:      "unmapped keys are ignored",
			row:       importer.Row{"nombre": "Cobre", "id": 99, "extra": "x"},
			wantQuery: `INSERT INTO "materiales" ("nombre") VALUES ($1)`,
			wantArgs:  []any{"Cobre"},
		},
		{
			name:      "empty row",
			row:       importer.Row{},
			wantQuery: `INSERT INTO "materiales" DEFAULT VALUES`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildInsert(Materiales(), tt.row)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildUpdate(t *testing.T) {
	query, args := buildUpdate(Materiales(), int32(7), importer.Row{"nombre": "Cobre", "categoria": nil, "activo": false})

	assert.Equal(t, `UPDATE "materiales" SET "nombre" = $1, "activo" = $2 WHERE id = $3`, query)
	assert.Equal(t, []any{"Cobre", false, int32(7)}, args)
}

func TestBuildUpdate_NothingToSet(t *testing.T) {
	query, args := buildUpdate(Materiales(), 1, importer.Row{"categoria": nil})

	assert.Empty(t, query)
	assert.Nil(t, args)
}

func TestMatchedFields(t *testing.T) {
	incoming := importer.Row{"nombre": "ACME", "nif": "B1", "email": "x@acme.es"}
	existing := importer.Row{"id": int32(1), "nombre": "Acme", "nif": "B2", "email": "X@acme.es"}

	assert.Equal(t, []string{"nombre", "email"}, matchedFields(Clientes(), incoming, existing))
}

func TestMatchedFields_BlankNeverMatches(t *testing.T) {
	incoming := importer.Row{"nombre": "Acme", "nif": nil}
	existing := importer.Row{"nombre": "Beta", "nif": nil}

	assert.Empty(t, matchedFields(Clientes(), incoming, existing))
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"clientes"`, ident("clientes"))
	assert.Equal(t, `"we""ird"`, ident(`we"ird`))
}

var (
	errQueried = errors.New("query issued")
	errBegin   = errors.New("begin issued")
)

// recordingDB counts duplicate lookups and refuses to open transactions, so
// Persist stops right after deciding whether to re-check rows.
type recordingDB struct {
	queries int
}

func (d *recordingDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (d *recordingDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	d.queries++
	return nil, errQueried
}

func (d *recordingDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	panic("unexpected QueryRow")
}

func (d *recordingDB) Begin(context.Context) (pgx.Tx, error) {
	return nil, errBegin
}

func TestPersist_DuplicateRecheck(t *testing.T) {
	entity := Entity{
		Key:         "materiales",
		Table:       "materiales",
		Mappings:    []importer.ColumnMapping{{Field: "nombre"}},
		MatchFields: []string{"nombre"},
	}
	rows := []importer.Row{{"nombre": "Cobre"}}

	tests := []struct {
		name            string
		checkDuplicates bool
		strategy        importer.Strategy
		wantQueries     int
		wantErr         error
	}{
		{name: "checks duplicates without strategy", checkDuplicates: true, wantQueries: 1, wantErr: errQueried},
		{name: "duplicate checks off", checkDuplicates: false, wantQueries: 0, wantErr: errBegin},
		{name: "strategy chosen", checkDuplicates: true, strategy: importer.StrategySkip, wantQueries: 0, wantErr: errBegin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &recordingDB{}
			e := entity
			e.CheckDuplicates = tt.checkDuplicates

			_, err := NewStore(db).Persist(context.Background(), e, importer.Payload{
				Data:           rows,
				UpdateStrategy: tt.strategy,
			})

			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantQueries, db.queries)
		})
	}
}
