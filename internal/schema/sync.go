package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultRPCFunction is the server-side function that executes arbitrary SQL.
const DefaultRPCFunction = "execute_sql"

// Executor runs a SQL script against a live database.
type Executor interface {
	ExecuteSQL(ctx context.Context, sql string) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, sql string) error

// ExecuteSQL calls f(ctx, sql).
func (f ExecutorFunc) ExecuteSQL(ctx context.Context, sql string) error {
	return f(ctx, sql)
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PoolExecutor runs scripts directly. Without arguments pgx sends the script as
// a single simple-protocol query, so multi-statement DDL works.
type PoolExecutor struct {
	DB Execer
}

// ExecuteSQL implements Executor.
func (e PoolExecutor) ExecuteSQL(ctx context.Context, sql string) error {
	if _, err := e.DB.Exec(ctx, sql); err != nil {
		return fmt.Errorf("execute script: %w", err)
	}
	return nil
}

// RPCExecutor hands the script to a server-side function (execute_sql by default),
// for databases where the application role may not run DDL directly.
type RPCExecutor struct {
	DB       Execer
	Function string
}

// ExecuteSQL implements Executor.
func (e RPCExecutor) ExecuteSQL(ctx context.Context, sql string) error {
	fn := e.Function
	if fn == "" {
		fn = DefaultRPCFunction
	}
	if !IsValidIdentifier(fn) {
		return fmt.Errorf("%w: rpc function %q", ErrInvalidIdentifier, fn)
	}
	if _, err := e.DB.Exec(ctx, "SELECT "+fn+"($1)", sql); err != nil {
		return fmt.Errorf("rpc %s: %w", fn, err)
	}
	return nil
}

// SyncResult is the outcome of SyncDatabaseSchema.
type SyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Script  string `json:"script"`
}

// SyncDatabaseSchema renders the full new-database script and executes it once.
// A failure is returned in the result; there is no retry.
func (s *Schema) SyncDatabaseSchema(ctx context.Context, exec Executor) SyncResult {
	script := s.RenderFullScript(true)
	start := time.Now()

	if err := exec.ExecuteSQL(ctx, script); err != nil {
		slog.Error("schema sync failed", "error", err, "tables", s.TableCount())
		return SyncResult{
			Message: fmt.Sprintf("Error al sincronizar el esquema: %v", err),
			Script:  script,
		}
	}

	slog.Info("schema synced",
		"tables", s.TableCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return SyncResult{
		Success: true,
		Message: fmt.Sprintf("Esquema sincronizado (%d tablas)", s.TableCount()),
		Script:  script,
	}
}
