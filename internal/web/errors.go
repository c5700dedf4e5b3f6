package web

// errors.go renders every error the same way:
//
//  1. the handler calls respondError(w, r, err, status)
//  2. the error is mapped with importer.MapError to a user message and code
//  3. the technical error is logged with the request id
//  4. the user message goes out as JSON, or as an HTML fragment for HTMX

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tricyclecrm/internal/crm"
	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/JonMunkholm/tricyclecrm/internal/logging"
	"github.com/JonMunkholm/tricyclecrm/internal/schema"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

// respondError logs err and writes the matching user message.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := importer.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	switch {
	case isHTMX(r):
		renderComponent(w, r, status, ErrorAlert(msg))
	case wantsJSON(r):
		writeJSON(w, status, ErrorResponse{
			Error:   err.Error(),
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", status)
	}
}

// statusFor picks the HTTP status of an error.
func statusFor(err error) int {
	var missing *importer.MissingColumnsError
	var tooBig *http.MaxBytesError

	switch {
	case errors.As(err, &missing),
		errors.Is(err, importer.ErrEmptyFile),
		errors.Is(err, importer.ErrNoRows),
		errors.Is(err, importer.ErrInvalidSpreadsheet):
		return http.StatusUnprocessableEntity
	case errors.As(err, &tooBig), errors.Is(err, importer.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, importer.ErrNoFile),
		errors.Is(err, importer.ErrUnsupportedFile),
		errors.Is(err, importer.ErrInvalidStrategy),
		errors.Is(err, schema.ErrInvalidIdentifier),
		errors.Is(err, schema.ErrInvalidColumn):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrSessionNotFound),
		errors.Is(err, crm.ErrUnknownEntity),
		errors.Is(err, schema.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrBusy),
		errors.Is(err, importer.ErrInvalidState),
		errors.Is(err, importer.ErrNothingToRetry),
		errors.Is(err, schema.ErrTableExists):
		return http.StatusConflict
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// isStateError reports errors the session raised before doing any work.
func isStateError(err error) bool {
	return errors.Is(err, importer.ErrBusy) ||
		errors.Is(err, importer.ErrInvalidState) ||
		errors.Is(err, importer.ErrNothingToRetry) ||
		errors.Is(err, importer.ErrInvalidStrategy)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON reports whether the client should get JSON. API routes always do.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// writeJSON encodes v with the given status. Encoding errors are only logged;
// the header is already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(context.Background()).Error("json encode error", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return errors.Join(errBadRequest, err)
	}
	return nil
}
