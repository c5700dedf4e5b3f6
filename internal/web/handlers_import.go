package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tricyclecrm/internal/crm"
	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/logging"
)

// maxJSONBody bounds JSON bodies carrying import rows.
const maxJSONBody = 32 << 20

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// entityInfo describes an importable entity to clients.
type entityInfo struct {
	Key             string   `json:"key"`
	Label           string   `json:"label"`
	Table           string   `json:"table"`
	Headers         []string `json:"headers"`
	Required        []string `json:"required"`
	CheckDuplicates bool     `json:"checkDuplicates"`
	TemplateURL     string   `json:"templateUrl"`
}

// sessionResponse is a session view plus the error of the step that produced it.
type sessionResponse struct {
	importer.View
	Problem *ErrorResponse `json:"problem,omitempty"`
}

func (s *Server) lookupEntity(r *http.Request) (crm.Entity, error) {
	return s.deps.Backend.Registry().Lookup(chi.URLParam(r, "entity"))
}

// handleListEntities returns the importable entities and their headers.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.deps.Backend.Registry().All()
	out := make([]entityInfo, 0, len(entities))
	for _, e := range entities {
		info := entityInfo{
			Key:             e.Key,
			Label:           e.Label,
			Table:           e.Table,
			Headers:         importer.Headers(e.Mappings),
			Required:        []string{},
			CheckDuplicates: e.CheckDuplicates,
			TemplateURL:     "/api/import/" + e.Key + "/template",
		}
		for _, m := range e.Mappings {
			if m.Required {
				info.Required = append(info.Required, m.ExcelColumn)
			}
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTemplate downloads an empty workbook holding the entity's headers.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookupEntity(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	data, err := importer.BuildTemplate(importer.Headers(e.Mappings))
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, importer.TemplateFileName(e.Key)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.FromContext(r.Context()).Warn("template write failed", "entity", e.Key, "error", err)
	}
}

// handleUpload parses a spreadsheet into a new session in the preview state.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookupEntity(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		err = uploadFormError(err)
		respondError(w, r, err, statusFor(err))
		return
	}
	defer file.Close()

	if err := importer.CheckExtension(header.Filename); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	if err := s.deps.Limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer s.deps.Limiter.Release()

	opts := e.ParseOptions()
	opts.PreviewRows = s.opts.PreviewRows
	opts.LargeFileRows = s.opts.LargeFileRows
	opts.MaxFileSize = s.opts.MaxFileSize

	start := time.Now()
	parsed, err := importer.Parse(r.Context(), file, header.Filename, opts)
	s.deps.Metrics.RecordParse(e.Key, time.Since(start), importer.MapError(err).Code)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	sess, _, err := s.deps.Backend.NewSession(e.Key)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if err := sess.Load(parsed); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	s.deps.Sessions.Put(sess)
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.Len())

	logging.ForImport(r.Context(), sess.ID, e.Key).Info("spreadsheet parsed",
		"file", header.Filename,
		"rows", len(parsed.Rows),
		"data_rows", parsed.DataRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.writeView(w, r, http.StatusCreated, sess.Snapshot(), nil)
}

// uploadFormError maps multipart failures to importer errors.
func uploadFormError(err error) error {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return importer.ErrNoFile
	case errors.As(err, &tooBig):
		return fmt.Errorf("%w: limit is %d bytes", importer.ErrFileTooLarge, tooBig.Limit-multipartOverhead)
	}
	return errors.Join(errBadRequest, err)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	s.writeView(w, r, http.StatusOK, sess.Snapshot(), nil)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.runStep(w, r, "submit", func(ctx context.Context, sess *importer.Session) (importer.View, error) {
		return sess.Submit(ctx)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	strategy, err := readStrategy(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	s.runStep(w, r, "resolve", func(ctx context.Context, sess *importer.Session) (importer.View, error) {
		return sess.Resolve(ctx, strategy)
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.runStep(w, r, "retry", func(ctx context.Context, sess *importer.Session) (importer.View, error) {
		return sess.Retry(ctx)
	})
}

// readStrategy accepts {"strategy": "..."} or a form field, as sent by HTMX.
func readStrategy(w http.ResponseWriter, r *http.Request) (importer.Strategy, error) {
	var raw string
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Strategy string `json:"strategy"`
		}
		if err := decodeJSON(w, r, 4<<10, &body); err != nil {
			return "", err
		}
		raw = body.Strategy
	} else {
		raw = r.FormValue("strategy")
	}

	strategy := importer.Strategy(strings.TrimSpace(raw))
	if !strategy.Valid() {
		return "", fmt.Errorf("%w %q", importer.ErrInvalidStrategy, raw)
	}
	return strategy, nil
}

// runStep runs one session step under an import slot. The step outlives a
// disconnecting client but not the operation timeout.
func (s *Server) runStep(w http.ResponseWriter, r *http.Request, op string, step func(context.Context, *importer.Session) (importer.View, error)) {
	sess, err := s.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	if err := s.deps.Limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer s.deps.Limiter.Release()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.OperationTimeout)
	defer cancel()

	v, err := step(ctx, sess)
	if err != nil && isStateError(err) {
		respondError(w, r, err, statusFor(err))
		return
	}

	// Put refreshes the idle TTL.
	s.deps.Sessions.Put(sess)
	s.deps.Metrics.RecordImport(sess.Entity, v)

	logger := logging.ForImport(r.Context(), sess.ID, sess.Entity)
	if err != nil {
		logger.Warn("import step failed", "op", op, "error", err, "can_retry", v.CanRetry)
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.writeView(w, r, status, v, err)
		return
	}

	logger.Info("import step done", "op", op, "state", v.State)
	s.writeView(w, r, http.StatusOK, v, nil)
}

// writeView renders a session as JSON, or as a fragment for HTMX. HTMX only
// swaps 2xx responses, so fragments always go out as 200.
func (s *Server) writeView(w http.ResponseWriter, r *http.Request, status int, v importer.View, stepErr error) {
	if isHTMX(r) {
		renderComponent(w, r, http.StatusOK, SessionPanel(v))
		return
	}

	resp := sessionResponse{View: v}
	if stepErr != nil {
		msg := importer.MapError(stepErr)
		resp.Problem = &ErrorResponse{
			Error:   stepErr.Error(),
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		}
	}
	writeJSON(w, status, resp)
}

// handleDeleteSession resets a session and forgets it.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Sessions.Get(id)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if err := sess.Reset(); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	s.deps.Sessions.Delete(id)
	s.deps.Metrics.SetActiveSessions(s.deps.Sessions.Len())
	logging.ForImport(r.Context(), id, sess.Entity).Info("import session discarded")
	w.WriteHeader(http.StatusNoContent)
}

// handlePersistRows writes rows sent as a bare array or {data, updateStrategy}.
func (s *Server) handlePersistRows(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookupEntity(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	var payload importer.Payload
	if err := decodeJSON(w, r, maxJSONBody, &payload); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	if err := s.deps.Limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer s.deps.Limiter.Release()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.OperationTimeout)
	defer cancel()

	res, err := s.deps.Backend.Persist(ctx, e.Key, payload)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCheckDuplicates answers {"duplicados": [...]} for a bare row array.
func (s *Server) handleCheckDuplicates(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookupEntity(r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	var rows []importer.Row
	if err := decodeJSON(w, r, maxJSONBody, &rows); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.OperationTimeout)
	defer cancel()

	dups, err := s.deps.Backend.FindDuplicates(ctx, e.Key, rows)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	if dups == nil {
		dups = []importer.DuplicateCandidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicados": dups})
}
