// Package sources persists resolved documents keyed by the URL they were requested with.
//
// Repositories are best-effort caches: Load never fails the caller and Save
// never aborts it. I/O problems are logged as warnings and the run continues
// with an empty or unsaved cache. Repositories assume a single writer; two
// processes saving to the same store will overwrite each other.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/ablate/pkg/models"
)

// Entries maps a requested URL to its cached document projection.
type Entries map[string]models.CacheEntry

// Repository loads and saves the document cache.
type Repository interface {
	// Load returns all cached entries. A missing or unreadable store yields an
	// empty map.
	Load(ctx context.Context) Entries

	// Save replaces the stored cache with entries. Failures are logged, not returned.
	Save(ctx context.Context, entries Entries)
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Config selects and configures a repository backend.
type Config struct {
	Backend string
	Path    string
	Logger  *slog.Logger
}

// Open builds the repository described by cfg. The returned close function
// releases backend resources and is never nil.
func Open(cfg Config) (Repository, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileRepository(cfg.Path, cfg.Logger), noop, nil
	case BackendSQLite:
		repo, err := NewSQLiteRepository(cfg.Path, cfg.Logger)
		if err != nil {
			return nil, noop, err
		}
		return repo, repo.Close, nil
	case BackendNone:
		return NopRepository{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// NopRepository never stores anything.
type NopRepository struct{}

// Load returns an empty cache.
func (NopRepository) Load(context.Context) Entries { return Entries{} }

// Save discards entries.
func (NopRepository) Save(context.Context, Entries) {}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
