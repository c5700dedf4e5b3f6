package crm

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
)

// Repository is the storage side of an import. Satisfied by *Store.
type Repository interface {
	FindDuplicates(ctx context.Context, e Entity, rows []importer.Row) ([]importer.DuplicateCandidate, error)
	Persist(ctx context.Context, e Entity, payload importer.Payload) (importer.ImportResult, error)
}

// Backend builds import sessions wired to a Repository.
type Backend struct {
	registry *Registry
	repo     Repository

	// remote duplicate check, used instead of the repository when set
	remoteURL    string
	remoteClient *http.Client
	remoteHeader http.Header
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithRemoteChecker sends duplicate checks to baseURL/<entity> instead of the
// repository. client may be nil.
func WithRemoteChecker(baseURL string, client *http.Client, header http.Header) BackendOption {
	return func(b *Backend) {
		b.remoteURL = strings.TrimRight(baseURL, "/")
		b.remoteClient = client
		b.remoteHeader = header
	}
}

// NewBackend creates a Backend.
func NewBackend(registry *Registry, repo Repository, opts ...BackendOption) *Backend {
	b := &Backend{registry: registry, repo: repo}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the entity registry.
func (b *Backend) Registry() *Registry {
	return b.registry
}

// Checker returns the duplicate checker for e, or nil when e does not check
// duplicates.
func (b *Backend) Checker(e Entity) importer.DuplicateChecker {
	if !e.CheckDuplicates {
		return nil
	}
	if b.remoteURL != "" {
		return &importer.HTTPDuplicateChecker{
			URL:    b.remoteURL + "/" + e.Key,
			Client: b.remoteClient,
			Header: b.remoteHeader,
		}
	}
	return importer.DuplicateCheckerFunc(func(ctx context.Context, rows []importer.Row) ([]importer.DuplicateCandidate, error) {
		return b.repo.FindDuplicates(ctx, e, rows)
	})
}

// Persister returns the persister for e.
func (b *Backend) Persister(e Entity) importer.Persister {
	return importer.PersisterFunc(func(ctx context.Context, payload importer.Payload) (importer.ImportResult, error) {
		return b.repo.Persist(ctx, e, payload)
	})
}

// FindDuplicates checks rows of the entity key against the repository.
func (b *Backend) FindDuplicates(ctx context.Context, key string, rows []importer.Row) ([]importer.DuplicateCandidate, error) {
	e, err := b.registry.Lookup(key)
	if err != nil {
		return nil, err
	}
	return b.repo.FindDuplicates(ctx, e, rows)
}

// Persist writes a payload for the entity key through the repository.
func (b *Backend) Persist(ctx context.Context, key string, payload importer.Payload) (importer.ImportResult, error) {
	e, err := b.registry.Lookup(key)
	if err != nil {
		return importer.ImportResult{}, err
	}
	return b.repo.Persist(ctx, e, payload)
}

// NewSession starts an import session for the entity key.
func (b *Backend) NewSession(key string) (*importer.Session, Entity, error) {
	e, err := b.registry.Lookup(key)
	if err != nil {
		return nil, Entity{}, err
	}
	return importer.NewSession(e.Key, b.Checker(e), b.Persister(e)), e, nil
}
