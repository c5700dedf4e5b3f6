package importer

// session.go implements the import state machine for one spreadsheet:
//
//	idle -> preview -> (duplicates) -> complete
//
// A session holds the parsed rows of the current file. Submitting checks for
// duplicates when a DuplicateChecker is configured: collisions move the session to
// the duplicates state, where the user picks one Strategy for the whole batch.
// Otherwise rows go straight to the Persister. A persister that reports fresh
// duplicates sends the session back to the duplicates state instead of completing.
//
// One operation runs at a time. A second trigger while a network call is in
// flight fails with ErrBusy; in-flight calls are never cancelled by the session.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the position of a session in the import flow.
type State string

const (
	StateIdle       State = "idle"
	StatePreview    State = "preview"
	StateDuplicates State = "duplicates"
	StateComplete   State = "complete"
)

// Strategy resolves duplicates for the whole batch.
type Strategy string

const (
	StrategyUpdate    Strategy = "update"
	StrategySkip      Strategy = "skip"
	StrategyCreateNew Strategy = "create_new"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyUpdate, StrategySkip, StrategyCreateNew:
		return true
	}
	return false
}

var (
	// ErrBusy is returned when an operation is already in flight for the session.
	ErrBusy = errors.New("import busy: an operation is already in progress")

	// ErrInvalidState is returned for operations the current state does not allow.
	ErrInvalidState = errors.New("invalid import state")

	// ErrInvalidStrategy is returned for an unknown duplicate strategy.
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrNoRows is returned when submitting a file that produced no records.
	ErrNoRows = errors.New("no valid rows to import")

	// ErrNothingToRetry is returned by Retry when the last operation did not fail.
	ErrNothingToRetry = errors.New("nothing to retry")
)

// Payload is handed to the Persister. Without a strategy it travels as the bare
// row array; with one it travels as {data, updateStrategy}.
type Payload struct {
	Data           []Row
	UpdateStrategy Strategy
}

type payloadObject struct {
	Data           []Row    `json:"data"`
	UpdateStrategy Strategy `json:"updateStrategy"`
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.UpdateStrategy == "" {
		if p.Data == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(p.Data)
	}
	return json.Marshal(payloadObject{Data: p.Data, UpdateStrategy: p.UpdateStrategy})
}

// UnmarshalJSON accepts both wire forms.
func (p *Payload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		p.UpdateStrategy = ""
		return json.Unmarshal(b, &p.Data)
	}
	var obj payloadObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.UpdateStrategy != "" && !obj.UpdateStrategy.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidStrategy, obj.UpdateStrategy)
	}
	p.Data, p.UpdateStrategy = obj.Data, obj.UpdateStrategy
	return nil
}

// DuplicateChecker reports stored records colliding with incoming rows.
type DuplicateChecker interface {
	CheckDuplicates(ctx context.Context, rows []Row) ([]DuplicateCandidate, error)
}

// DuplicateCheckerFunc adapts a function to DuplicateChecker.
type DuplicateCheckerFunc func(ctx context.Context, rows []Row) ([]DuplicateCandidate, error)

// CheckDuplicates calls f(ctx, rows).
func (f DuplicateCheckerFunc) CheckDuplicates(ctx context.Context, rows []Row) ([]DuplicateCandidate, error) {
	return f(ctx, rows)
}

// Persister writes the final record set.
type Persister interface {
	Persist(ctx context.Context, payload Payload) (ImportResult, error)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, payload Payload) (ImportResult, error)

// Persist calls f(ctx, payload).
func (f PersisterFunc) Persist(ctx context.Context, payload Payload) (ImportResult, error) {
	return f(ctx, payload)
}

// Session is one import in progress. Safe for concurrent use.
type Session struct {
	ID     string
	Entity string

	checker   DuplicateChecker // nil disables the duplicate check
	persister Persister

	mu         sync.Mutex
	busy       bool
	state      State
	parsed     *ParseResult
	duplicates []DuplicateCandidate
	strategy   Strategy
	result     *ImportResult
	summary    *Summary
	lastErr    error
	failedOp   string
	updatedAt  time.Time
}

// NewSession returns an idle session. checker may be nil.
func NewSession(entity string, checker DuplicateChecker, persister Persister) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Entity:    entity,
		checker:   checker,
		persister: persister,
		state:     StateIdle,
		updatedAt: time.Now(),
	}
}

// View is a read-only snapshot of a session.
type View struct {
	ID         string               `json:"id"`
	Entity     string               `json:"entity"`
	State      State                `json:"state"`
	Busy       bool                 `json:"busy"`
	File       *ParseResult         `json:"file,omitempty"`
	Rows       int                  `json:"rows"`
	Duplicates []DuplicateCandidate `json:"duplicados,omitempty"`
	Strategy   Strategy             `json:"strategy,omitempty"`
	Result     *ImportResult        `json:"result,omitempty"`
	Summary    *Summary             `json:"summary,omitempty"`
	Error      string               `json:"error,omitempty"`
	CanRetry   bool                 `json:"canRetry"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:         s.ID,
		Entity:     s.Entity,
		State:      s.state,
		Busy:       s.busy,
		File:       s.parsed,
		Duplicates: s.duplicates,
		Strategy:   s.strategy,
		Result:     s.result,
		Summary:    s.summary,
		CanRetry:   s.failedOp != "",
		UpdatedAt:  s.updatedAt,
	}
	if s.parsed != nil {
		v.Rows = len(s.parsed.Rows)
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	return v
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rows returns the parsed rows of the loaded file.
func (s *Session) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed == nil {
		return nil
	}
	return s.parsed.Rows
}

// Load replaces whatever the session held with a freshly parsed file and moves
// to the preview state.
func (s *Session) Load(parsed *ParseResult) error {
	if parsed == nil {
		return fmt.Errorf("%w: nothing parsed", ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}

	s.clearLocked()
	s.parsed = parsed
	s.state = StatePreview
	return nil
}

// Reset clears all parse state and returns to idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.clearLocked()
	return nil
}

func (s *Session) clearLocked() {
	s.state = StateIdle
	s.parsed = nil
	s.duplicates = nil
	s.strategy = ""
	s.result = nil
	s.summary = nil
	s.lastErr = nil
	s.failedOp = ""
	s.updatedAt = time.Now()
}

// begin marks the session busy after checking it is in the wanted state.
func (s *Session) begin(want State) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	if s.state != want {
		return nil, fmt.Errorf("%w: %s (need %s)", ErrInvalidState, s.state, want)
	}
	if s.parsed == nil || len(s.parsed.Rows) == 0 {
		return nil, ErrNoRows
	}

	s.busy = true
	s.lastErr = nil
	s.failedOp = ""
	return s.parsed.Rows, nil
}

func (s *Session) fail(op string, err error) {
	s.lastErr = err
	s.failedOp = op
	s.busy = false
	s.updatedAt = time.Now()
}

const (
	opSubmit  = "submit"
	opResolve = "resolve"
)

// Submit sends the preview to the duplicate check, or straight to the persister
// when no checker is configured or no duplicates were found.
func (s *Session) Submit(ctx context.Context) (View, error) {
	rows, err := s.begin(StatePreview)
	if err != nil {
		return s.Snapshot(), err
	}

	if s.checker != nil {
		dups, err := s.checker.CheckDuplicates(ctx, rows)

		s.mu.Lock()
		if err != nil {
			err = fmt.Errorf("check duplicates: %w", err)
			s.fail(opSubmit, err)
			v := s.viewLocked()
			s.mu.Unlock()
			slog.Warn("duplicate check failed", "session", s.ID, "entity", s.Entity, "error", err)
			return v, err
		}
		if len(dups) > 0 {
			s.state = StateDuplicates
			s.duplicates = dups
			s.busy = false
			s.updatedAt = time.Now()
			v := s.viewLocked()
			s.mu.Unlock()
			slog.Info("duplicates found", "session", s.ID, "entity", s.Entity, "duplicates", len(dups))
			return v, nil
		}
		s.mu.Unlock()
	}

	return s.persist(ctx, opSubmit, Payload{Data: rows})
}

// Resolve persists the batch with the chosen strategy. Only allowed in the
// duplicates state.
func (s *Session) Resolve(ctx context.Context, strategy Strategy) (View, error) {
	if !strategy.Valid() {
		return s.Snapshot(), fmt.Errorf("%w %q", ErrInvalidStrategy, strategy)
	}

	rows, err := s.begin(StateDuplicates)
	if err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	s.strategy = strategy
	s.mu.Unlock()

	return s.persist(ctx, opResolve, Payload{Data: rows, UpdateStrategy: strategy})
}

// Retry repeats the last failed Submit or Resolve.
func (s *Session) Retry(ctx context.Context) (View, error) {
	s.mu.Lock()
	op, strategy := s.failedOp, s.strategy
	s.mu.Unlock()

	switch op {
	case opSubmit:
		return s.Submit(ctx)
	case opResolve:
		return s.Resolve(ctx, strategy)
	default:
		return s.Snapshot(), ErrNothingToRetry
	}
}

// persist calls the persister; the session must already be busy.
func (s *Session) persist(ctx context.Context, op string, payload Payload) (View, error) {
	start := time.Now()
	res, err := s.persister.Persist(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("persist: %w", err)
		s.fail(op, err)
		slog.Warn("import persist failed", "session", s.ID, "entity", s.Entity, "error", err)
		return s.viewLocked(), err
	}

	s.result = &res
	s.busy = false
	s.updatedAt = time.Now()

	switch {
	case len(res.Duplicados) > 0:
		// the server found collisions the first check missed
		s.state = StateDuplicates
		s.duplicates = res.Duplicados
		s.strategy = ""
		slog.Info("duplicates reported on persist", "session", s.ID, "entity", s.Entity, "duplicates", len(res.Duplicados))
		return s.viewLocked(), nil

	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = "import failed"
		}
		err := errors.New(msg)
		s.fail(op, err)
		return s.viewLocked(), err
	}

	summary := Summarize(len(payload.Data), res)
	s.summary = &summary
	s.state = StateComplete

	slog.Info("import complete",
		"session", s.ID,
		"entity", s.Entity,
		"strategy", payload.UpdateStrategy,
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"not_reported", summary.NotReported,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s.viewLocked(), nil
}
