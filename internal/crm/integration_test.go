//go:build integration

package crm

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupDB starts Postgres, applies the CRM schema and returns a pool.
func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tricyclecrm"),
		postgres.WithUsername("crm"),
		postgres.WithPassword("crm"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// policies are granted to the hosted backend's role
	_, err = pool.Exec(ctx, "CREATE ROLE authenticated")
	require.NoError(t, err)

	s, err := schema.Default()
	require.NoError(t, err)
	res := s.SyncDatabaseSchema(ctx, schema.PoolExecutor{DB: pool})
	require.True(t, res.Success, res.Message)

	return pool
}

func count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func TestIntegration_SchemaSyncIsRepeatable(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()

	s, err := schema.Default()
	require.NoError(t, err)

	res := s.SyncDatabaseSchema(ctx, schema.PoolExecutor{DB: pool})
	require.True(t, res.Success, res.Message)

	assert.Equal(t, 9, count(t, pool,
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE'"))
	assert.Equal(t, 9, count(t, pool, "SELECT count(*) FROM pg_policies WHERE schemaname = 'public'"))
}

func TestIntegration_SchemaSyncViaRPC(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `CREATE FUNCTION execute_sql(sql text) RETURNS void LANGUAGE plpgsql AS $$
BEGIN
	EXECUTE sql;
END;
$$`)
	require.NoError(t, err)

	s, err := schema.Default()
	require.NoError(t, err)
	res := s.AddEntityTable("contenedores", schema.Columns{
		{Name: "matricula", ColumnDefinition: schema.ColumnDefinition{Type: "text", NotNull: true}},
	})
	require.True(t, res.Success, res.Message)

	sync := s.SyncDatabaseSchema(ctx, schema.RPCExecutor{DB: pool})
	require.True(t, sync.Success, sync.Message)

	assert.Equal(t, 1, count(t, pool,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = 'contenedores'"))
}

func TestIntegration_TriggerTouchesUpdatedAt(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()

	var id int
	var created time.Time
	require.NoError(t, pool.QueryRow(ctx,
		"INSERT INTO clientes (nombre) VALUES ('Acme') RETURNING id, updated_at").Scan(&id, &created))

	// now() is fixed per transaction, so separate statements see different times
	time.Sleep(10 * time.Millisecond)
	_, err := pool.Exec(ctx, "UPDATE clientes SET ciudad = 'Bilbao' WHERE id = $1", id)
	require.NoError(t, err)

	var updated time.Time
	require.NoError(t, pool.QueryRow(ctx, "SELECT updated_at FROM clientes WHERE id = $1", id).Scan(&updated))
	assert.True(t, updated.After(created))
}

func TestIntegration_FindDuplicates(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()
	store := NewStore(pool)

	_, err := pool.Exec(ctx,
		"INSERT INTO clientes (nombre, nif, email) VALUES ('Acme SL', 'B111', 'info@acme.es'), ('Beta SA', 'B222', NULL)")
	require.NoError(t, err)

	dups, err := store.FindDuplicates(ctx, Clientes(), []importer.Row{
		{"nombre": "ACME SL", "nif": "B999"},
		{"nombre": "Gamma", "email": "INFO@acme.es"},
		{"nombre": "Delta", "nif": "b222"},
		{"nombre": "Nuevo"},
	})

	require.NoError(t, err)
	require.Len(t, dups, 3)
	assert.Equal(t, []string{"nombre"}, dups[0].MatchedFields)
	assert.Equal(t, "Acme SL", dups[0].Existing.String("nombre"))
	assert.Equal(t, []string{"email"}, dups[1].MatchedFields)
	assert.Equal(t, []string{"nif"}, dups[2].MatchedFields)
	assert.Equal(t, "Beta SA", dups[2].Existing.String("nombre"))
}

func TestIntegration_PersistStrategies(t *testing.T) {
	tests := []struct {
		name         string
		strategy     importer.Strategy
		want         importer.Breakdown
		wantRows     int
		wantAcmeCity string
	}{
		{
			name:         "update",
			strategy:     importer.StrategyUpdate,
			want:         importer.Breakdown{Nuevos: 1, Actualizados: 1, Procesados: 2},
			wantRows:     2,
			wantAcmeCity: "Vigo",
		},
		{
			name:         "skip",
			strategy:     importer.StrategySkip,
			want:         importer.Breakdown{Nuevos: 1, Omitidos: 1, Procesados: 2},
			wantRows:     2,
			wantAcmeCity: "Bilbao",
		},
		{
			name:         "create new",
			strategy:     importer.StrategyCreateNew,
			want:         importer.Breakdown{Nuevos: 2, Procesados: 2},
			wantRows:     3,
			wantAcmeCity: "Bilbao",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := setupDB(t)
			ctx := context.Background()
			store := NewStore(pool)

			_, err := pool.Exec(ctx, "INSERT INTO clientes (nombre, ciudad) VALUES ('Acme', 'Bilbao')")
			require.NoError(t, err)

			res, err := store.Persist(ctx, Clientes(), importer.Payload{
				Data: []importer.Row{
					{"nombre": "acme", "ciudad": "Vigo", "telefono": nil},
					{"nombre": "Nueva SL", "ciudad": "León"},
				},
				UpdateStrategy: tt.strategy,
			})

			require.NoError(t, err)
			assert.True(t, res.Success)
			require.NotNil(t, res.Resultados)
			assert.Equal(t, tt.want, *res.Resultados)
			assert.Equal(t, tt.wantRows, count(t, pool, "SELECT count(*) FROM clientes"))

			var city string
			require.NoError(t, pool.QueryRow(ctx, "SELECT ciudad FROM clientes WHERE nombre = 'Acme'").Scan(&city))
			assert.Equal(t, tt.wantAcmeCity, city)
		})
	}
}

func TestIntegration_PersistWithoutStrategyReportsDuplicates(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()
	store := NewStore(pool)

	_, err := pool.Exec(ctx, "INSERT INTO materiales (nombre) VALUES ('Cobre')")
	require.NoError(t, err)

	res, err := store.Persist(ctx, Materiales(), importer.Payload{
		Data: []importer.Row{{"nombre": "COBRE"}, {"nombre": "Latón"}},
	})

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Duplicados, 1)
	assert.Equal(t, 1, count(t, pool, "SELECT count(*) FROM materiales"), "nothing written")
}

func TestIntegration_PersistRowFailureIsIsolated(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()
	store := NewStore(pool)

	res, err := store.Persist(ctx, Materiales(), importer.Payload{
		Data: []importer.Row{
			{"nombre": "Cobre", "precio_referencia": 10.5},
			// numeric(12,2) overflow
			{"nombre": "Oro", "precio_referencia": 1e13},
			{"nombre": "Latón", "activo": false},
		},
		UpdateStrategy: importer.StrategyCreateNew,
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, importer.Breakdown{Nuevos: 2, Errores: 1, Procesados: 3}, *res.Resultados)
	require.Len(t, res.Detalles, 1)
	assert.Contains(t, res.Detalles[0], "Fila 2")
	assert.Equal(t, 2, count(t, pool, "SELECT count(*) FROM materiales"))
	assert.Equal(t, 1, count(t, pool, "SELECT count(*) FROM materiales WHERE activo"), "default applies to omitted activo")
}

func TestIntegration_FullImport(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, "INSERT INTO proveedores (nombre, nif) VALUES ('Metales Norte', 'B100')")
	require.NoError(t, err)

	backend := NewBackend(DefaultRegistry(), NewStore(pool))
	sess, e, err := backend.NewSession("proveedores")
	require.NoError(t, err)

	data := buildWorkbook(t, [][]string{
		{"nombre", "nif", "tipo de material"},
		{"Metales Norte SL", "b100", "Cobre"},
		{"", "B200", "Aluminio"},
		{"Reciclados Sur", "B300", "Plástico"},
	})
	parsed, err := importer.Parse(ctx, data, "proveedores.xlsx", e.ParseOptions())
	require.NoError(t, err)
	require.NoError(t, sess.Load(parsed))

	view, err := sess.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, importer.StateDuplicates, view.State)

	view, err = sess.Resolve(ctx, importer.StrategyUpdate)
	require.NoError(t, err)
	require.Equal(t, importer.StateComplete, view.State)
	require.NotNil(t, view.Summary)
	assert.Equal(t, 1, view.Summary.Created)
	assert.Equal(t, 1, view.Summary.Updated)
	assert.Zero(t, view.Summary.NotReported)

	assert.Equal(t, 2, count(t, pool, "SELECT count(*) FROM proveedores"))
	assert.Equal(t, 1, count(t, pool, "SELECT count(*) FROM proveedores WHERE nombre = 'Metales Norte SL' AND tipo_material = 'Cobre'"))
}
