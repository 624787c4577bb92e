package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/haasonsaas/ablate/pkg/models"
)

// DefaultCachePath is the cache file used when no path is configured.
const DefaultCachePath = "exa_cache.json"

// FileRepository stores the cache as one JSON object keyed by URL.
type FileRepository struct {
	path   string
	logger *slog.Logger
}

// NewFileRepository creates a file-backed repository at path.
func NewFileRepository(path string, logger *slog.Logger) *FileRepository {
	if path == "" {
		path = DefaultCachePath
	}
	return &FileRepository{path: path, logger: loggerOrDefault(logger)}
}

// Path returns the backing file path.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the cache file. A missing file is an empty cache; a corrupt one
// is logged and treated as empty. Entries that fail to decode are skipped
// individually.
func (r *FileRepository) Load(ctx context.Context) Entries {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.WarnContext(ctx, "could not load source cache", "path", r.path, "error", err)
		}
		return Entries{}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.WarnContext(ctx, "could not load source cache", "path", r.path, "error", err)
		return Entries{}
	}
	entries := make(Entries, len(raw))
	for key, value := range raw {
		var entry models.CacheEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			r.logger.WarnContext(ctx, "skipping cache entry", "path", r.path, "url", key, "error", err)
			continue
		}
		entries[key] = entry
	}
	return entries
}

// Save writes entries to a temporary file and renames it over the cache file.
func (r *FileRepository) Save(ctx context.Context, entries Entries) {
	if err := r.write(entries); err != nil {
		r.logger.WarnContext(ctx, "could not save source cache", "path", r.path, "error", err)
	}
}

func (r *FileRepository) write(entries Entries) error {
	if entries == nil {
		entries = Entries{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".source-cache-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}
