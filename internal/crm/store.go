package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can open transactions. Satisfied by *pgxpool.Pool.
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// rowSavepoint isolates one row's write so a failure does not abort the batch.
const rowSavepoint = "import_row"

// Store reads and writes CRM entities in Postgres.
type Store struct {
	db DB
}

// NewStore creates a Store on db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// FindDuplicates returns, for each row, the first stored record sharing a
// non-empty match field (case-insensitive). Rows without any match field value
// are never duplicates.
func (s *Store) FindDuplicates(ctx context.Context, e Entity, rows []importer.Row) ([]importer.DuplicateCandidate, error) {
	var out []importer.DuplicateCandidate
	for i, row := range rows {
		if i%importer.ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		existing, err := findMatch(ctx, s.db, e, row)
		if err != nil {
			return nil, fmt.Errorf("find duplicates in %s: %w", e.Table, err)
		}
		if existing == nil {
			continue
		}
		out = append(out, importer.DuplicateCandidate{
			Incoming:      row,
			Existing:      existing,
			MatchedFields: matchedFields(e, row, existing),
		})
	}
	return out, nil
}

// Persist writes payload rows to the entity's table in one transaction.
//
// Without a strategy, entities that check duplicates re-check the rows first;
// any collision is returned in Duplicados and nothing is written. With a strategy, rows matching a stored
// record are updated (update), counted as omitted (skip) or inserted anyway
// (create_new). A row that fails is counted as an error and the rest continue.
func (s *Store) Persist(ctx context.Context, e Entity, payload importer.Payload) (importer.ImportResult, error) {
	if payload.UpdateStrategy == "" && e.CheckDuplicates && len(e.MatchFields) > 0 {
		dups, err := s.FindDuplicates(ctx, e, payload.Data)
		if err != nil {
			return importer.ImportResult{}, err
		}
		if len(dups) > 0 {
			return importer.ImportResult{
				Success:    false,
				Message:    fmt.Sprintf("Se encontraron %d posibles duplicados", len(dups)),
				Duplicados: dups,
			}, nil
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return importer.ImportResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := importer.Breakdown{Procesados: len(payload.Data)}
	var details []string

	for i, row := range payload.Data {
		if err := ctx.Err(); err != nil {
			return importer.ImportResult{}, err
		}

		if _, err := tx.Exec(ctx, "SAVEPOINT "+rowSavepoint); err != nil {
			return importer.ImportResult{}, fmt.Errorf("savepoint: %w", err)
		}

		outcome, err := persistRow(ctx, tx, e, row, payload.UpdateStrategy)
		if err != nil {
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+rowSavepoint); rbErr != nil {
				return importer.ImportResult{}, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			b.Errores++
			details = append(details, fmt.Sprintf("Fila %d: %v", i+1, err))
			slog.Warn("import row failed", "entity", e.Key, "row", i+1, "error", err)
			continue
		}

		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+rowSavepoint); err != nil {
			return importer.ImportResult{}, fmt.Errorf("release savepoint: %w", err)
		}
		switch outcome {
		case outcomeCreated:
			b.Nuevos++
		case outcomeUpdated:
			b.Actualizados++
		case outcomeSkipped:
			b.Omitidos++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return importer.ImportResult{}, fmt.Errorf("commit: %w", err)
	}

	slog.Info("import persisted",
		"entity", e.Key,
		"strategy", string(payload.UpdateStrategy),
		"nuevos", b.Nuevos,
		"actualizados", b.Actualizados,
		"omitidos", b.Omitidos,
		"errores", b.Errores,
	)

	return importer.ImportResult{
		Success:    true,
		Message:    importer.Summarize(len(payload.Data), importer.ImportResult{Resultados: &b}).Message,
		Resultados: &b,
		Detalles:   details,
	}, nil
}

type rowOutcome int

const (
	outcomeCreated rowOutcome = iota
	outcomeUpdated
	outcomeSkipped
)

func persistRow(ctx context.Context, db DBTX, e Entity, row importer.Row, strategy importer.Strategy) (rowOutcome, error) {
	if strategy == importer.StrategyUpdate || strategy == importer.StrategySkip {
		existing, err := findMatch(ctx, db, e, row)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			if strategy == importer.StrategySkip {
				return outcomeSkipped, nil
			}
			if err := updateRow(ctx, db, e, existing["id"], row); err != nil {
				return 0, err
			}
			return outcomeUpdated, nil
		}
	}

	if err := insertRow(ctx, db, e, row); err != nil {
		return 0, err
	}
	return outcomeCreated, nil
}

func findMatch(ctx context.Context, db DBTX, e Entity, row importer.Row) (importer.Row, error) {
	query, args := buildMatchQuery(e, row)
	if query == "" {
		return nil, nil
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	existing, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return importer.Row(existing), nil
}

func insertRow(ctx context.Context, db DBTX, e Entity, row importer.Row) error {
	query, args := buildInsert(e, row)
	_, err := db.Exec(ctx, query, args...)
	return err
}

func updateRow(ctx context.Context, db DBTX, e Entity, id any, row importer.Row) error {
	query, args := buildUpdate(e, id, row)
	if query == "" {
		return nil
	}
	_, err := db.Exec(ctx, query, args...)
	return err
}

// buildMatchQuery selects the first record sharing any non-empty match field.
// Returns "" when the row has no match values.
func buildMatchQuery(e Entity, row importer.Row) (string, []any) {
	var conds []string
	var args []any
	for _, f := range e.MatchFields {
		v := row.String(f)
		if v == "" {
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("lower(%s::text) = lower($%d)", ident(f), len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}

	cols := append([]string{"id"}, e.Fields()...)
	for i, c := range cols {
		cols[i] = ident(c)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id LIMIT 1",
		strings.Join(cols, ", "), ident(e.Table), strings.Join(conds, " OR "))
	return query, args
}

// buildInsert inserts the row's non-nil fields. Nil fields are left out so
// column defaults apply.
func buildInsert(e Entity, row importer.Row) (string, []any) {
	var cols, params []string
	var args []any
	for _, f := range e.Fields() {
		v, ok := row[f]
		if !ok || v == nil {
			continue
		}
		args = append(args, v)
		cols = append(cols, ident(f))
		params = append(params, fmt.Sprintf("$%d", len(args)))
	}
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", ident(e.Table)), nil
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(e.Table), strings.Join(cols, ", "), strings.Join(params, ", ")), args
}

// buildUpdate sets the row's non-nil fields on record id. Blank cells never
// erase stored values. Returns "" when there is nothing to set.
func buildUpdate(e Entity, id any, row importer.Row) (string, []any) {
	var sets []string
	var args []any
	for _, f := range e.Fields() {
		v, ok := row[f]
		if !ok || v == nil {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(f), len(args)))
	}
	if len(sets) == 0 {
		return "", nil
	}
	args = append(args, id)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		ident(e.Table), strings.Join(sets, ", "), len(args)), args
}

// matchedFields lists the match fields equal (case-insensitively) between an
// incoming row and a stored record.
func matchedFields(e Entity, incoming, existing importer.Row) []string {
	var out []string
	for _, f := range e.MatchFields {
		in := incoming.String(f)
		if in != "" && strings.EqualFold(in, existing.String(f)) {
			out = append(out, f)
		}
	}
	return out
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
