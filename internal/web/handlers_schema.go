package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tricyclecrm/internal/logging"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
)

// errSyncDisabled is returned by POST /api/schema/sync without an executor.
var errSyncDisabled = errors.New("schema sync is not configured")

const maxSchemaBody = 1 << 20

type tableRequest struct {
	Name    string         `json:"name"`
	Columns schema.Columns `json:"columns"`
}

// handleSchemaSQL returns the full DDL script. ?new=true renders the script
// for an empty database.
func (s *Server) handleSchemaSQL(w http.ResponseWriter, r *http.Request) {
	isNew := false
	if raw := r.URL.Query().Get("new"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			err = fmt.Errorf("%w: new=%q", errBadRequest, raw)
			respondError(w, r, err, statusFor(err))
			return
		}
		isNew = v
	}
	writeText(w, r, "application/sql; charset=utf-8", s.deps.Schema.RenderFullScript(isNew))
}

// handleSchemaTypes returns the TypeScript types of every table.
func (s *Server) handleSchemaTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", `inline; filename="database.types.ts"`)
	writeText(w, r, "text/plain; charset=utf-8", s.deps.Schema.RenderDatabaseTypesSource())
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Schema.Tables())
}

// handleAddTable registers a table and returns its CREATE SQL. Nothing is
// executed.
func (s *Server) handleAddTable(w http.ResponseWriter, r *http.Request) {
	var req tableRequest
	if err := decodeJSON(w, r, maxSchemaBody, &req); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	res := s.deps.Schema.AddEntityTable(req.Name, req.Columns)
	s.writeSchemaResult(w, r, http.StatusCreated, res)
}

// handleUpdateTable adds columns to a registered table and returns the ALTER SQL.
func (s *Server) handleUpdateTable(w http.ResponseWriter, r *http.Request) {
	var req tableRequest
	if err := decodeJSON(w, r, maxSchemaBody, &req); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	res := s.deps.Schema.UpdateEntityTable(chi.URLParam(r, "table"), req.Columns)
	s.writeSchemaResult(w, r, http.StatusOK, res)
}

func (s *Server) writeSchemaResult(w http.ResponseWriter, r *http.Request, okStatus int, res schema.Result) {
	logger := logging.FromContext(r.Context())
	if !res.Success {
		status := http.StatusBadRequest
		if res.Err != nil {
			status = statusFor(res.Err)
		}
		logger.Warn("schema change rejected", "status", status, "message", res.Message)
		writeJSON(w, status, res)
		return
	}
	logger.Info("schema changed", "message", res.Message, "needs_execution", res.NeedsExecution)
	writeJSON(w, okStatus, res)
}

// handleSchemaSync executes the full new-database script once.
func (s *Server) handleSchemaSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executor == nil {
		respondError(w, r, errSyncDisabled, http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.OperationTimeout)
	defer cancel()

	res := s.deps.Schema.SyncDatabaseSchema(ctx, s.deps.Executor)
	s.deps.Metrics.RecordSchemaSync(s.opts.SyncMode, res.Success)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func writeText(w http.ResponseWriter, r *http.Request, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		logging.FromContext(r.Context()).Warn("response write failed", "error", err)
	}
}
