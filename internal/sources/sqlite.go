package sources

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/ablate/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// DefaultSQLitePath is the database used when no path is configured.
const DefaultSQLitePath = "source_cache.db"

// SQLiteRepository stores cache entries in a SQLite table.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteRepository opens (creating if needed) the SQLite cache at path.
func NewSQLiteRepository(path string, logger *slog.Logger) (*SQLiteRepository, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{db: db, logger: loggerOrDefault(logger), now: time.Now}
	if err := repo.init(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) init() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS sources (
			url TEXT PRIMARY KEY,
			id TEXT,
			title TEXT,
			doc_url TEXT,
			text TEXT,
			fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sources table: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Load reads every cached row. Query failures are logged and yield an empty cache.
func (r *SQLiteRepository) Load(ctx context.Context) Entries {
	entries, err := r.load(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "could not load source cache", "backend", BackendSQLite, "error", err)
		return Entries{}
	}
	return entries
}

func (r *SQLiteRepository) load(ctx context.Context) (Entries, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT url, id, title, doc_url, text FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	entries := Entries{}
	for rows.Next() {
		var key string
		var id, title, docURL, text sql.NullString
		if err := rows.Scan(&key, &id, &title, &docURL, &text); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		entries[key] = models.CacheEntry{
			ID:    nullableString(id),
			Title: nullableString(title),
			URL:   nullableString(docURL),
			Text:  nullableString(text),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return entries, nil
}

// Save replaces the table contents with entries in a single transaction.
// Rows that survive keep their original fetched_at.
func (r *SQLiteRepository) Save(ctx context.Context, entries Entries) {
	if err := r.save(ctx, entries); err != nil {
		r.logger.WarnContext(ctx, "could not save source cache", "backend", BackendSQLite, "error", err)
	}
}

func (r *SQLiteRepository) save(ctx context.Context, entries Entries) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stale, err := staleKeys(ctx, tx, entries)
	if err != nil {
		return err
	}
	for _, key := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE url = ?`, key); err != nil {
			return fmt.Errorf("delete source %s: %w", key, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sources (url, id, title, doc_url, text, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			id = excluded.id,
			title = excluded.title,
			doc_url = excluded.doc_url,
			text = excluded.text
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := r.now().UTC()
	for key, entry := range entries {
		if _, err := stmt.ExecContext(ctx, key,
			stringOrNull(entry.ID),
			stringOrNull(entry.Title),
			stringOrNull(entry.URL),
			stringOrNull(entry.Text),
			now,
		); err != nil {
			return fmt.Errorf("upsert source %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// staleKeys lists stored URLs that are absent from entries.
func staleKeys(ctx context.Context, tx *sql.Tx, entries Entries) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT url FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if _, ok := entries[key]; !ok {
			stale = append(stale, key)
		}
	}
	return stale, rows.Err()
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func stringOrNull(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
