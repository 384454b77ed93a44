// Package store provides a SQLite-backed document metadata store. The
// documents table is the source of truth for upload state; chunk vectors
// live in Qdrant and are keyed back to rows here by document ID.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/agrodocs/agrodocs-go/internal/document"
)

// ErrNotFound is returned when no document matches the requested ID.
var ErrNotFound = errors.New("store: document not found")

// Filter narrows FindMany and Count to matching documents. Zero fields
// are ignored.
type Filter struct {
	// Status matches the document status exactly.
	Status document.Status
	// Type matches the document classification exactly.
	Type document.Type
	// UserID matches the owning user.
	UserID string
	// IsTemporary, when non-nil, matches the temporary flag.
	IsTemporary *bool
}

// Page controls FindMany pagination. Zero values mean no limit / no offset.
type Page struct {
	Limit  int
	Offset int
}

// DocumentStore persists document metadata. Implementations must be safe for
// concurrent use.
type DocumentStore interface {
	// Create inserts a new document row.
	Create(ctx context.Context, doc *document.Document) error
	// FindByID returns the document with the given ID, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*document.Document, error)
	// FindMany returns documents matching the filter, newest first.
	FindMany(ctx context.Context, filter Filter, page Page) ([]*document.Document, error)
	// Count returns the number of documents matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
	// Update persists the document's current state, bumping its version.
	Update(ctx context.Context, doc *document.Document) error
	// Delete removes the document row. Deleting a missing ID returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// FindExpired returns temporary documents whose expiry has passed at now.
	FindExpired(ctx context.Context, now time.Time) ([]*document.Document, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a DocumentStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the document database.
// It resolves to ~/.agrodocs/documents.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".agrodocs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "documents.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id            TEXT    PRIMARY KEY,
    filename      TEXT    NOT NULL,
    original_name TEXT    NOT NULL,
    filepath      TEXT    NOT NULL,
    mime_type     TEXT    NOT NULL,
    size          INTEGER NOT NULL,
    type          TEXT    NOT NULL,
    status        TEXT    NOT NULL CHECK(status IN ('PENDING','PROCESSING','COMPLETED','FAILED')),
    text_content  TEXT    NOT NULL DEFAULT '',
    page_count    INTEGER NOT NULL DEFAULT 0,
    metadata      TEXT    NOT NULL DEFAULT '{}',  -- JSON object
    is_temporary  INTEGER NOT NULL DEFAULT 0,
    expires_at    INTEGER,                        -- Unix timestamp (seconds), NULL = never
    user_id       TEXT    NOT NULL DEFAULT '',
    version       INTEGER NOT NULL DEFAULT 1,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    processed_at  INTEGER                         -- NULL until completed
);
CREATE INDEX IF NOT EXISTS idx_documents_status    ON documents (status);
CREATE INDEX IF NOT EXISTS idx_documents_type      ON documents (type);
CREATE INDEX IF NOT EXISTS idx_documents_expires   ON documents (is_temporary, expires_at);
CREATE INDEX IF NOT EXISTS idx_documents_created   ON documents (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create inserts a new document row.
func (s *SQLiteStore) Create(ctx context.Context, doc *document.Document) error {
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO documents
    (id, filename, original_name, filepath, mime_type, size, type, status,
     text_content, page_count, metadata, is_temporary, expires_at, user_id,
     version, created_at, updated_at, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		doc.ID, doc.Filename, doc.OriginalName, doc.Filepath, doc.MIMEType,
		doc.Size, string(doc.Type), string(doc.Status),
		doc.TextContent, doc.PageCount, meta,
		boolToInt(doc.IsTemporary), nullTime(doc.ExpiresAt), doc.UserID,
		doc.Version, doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(), nullTime(doc.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", doc.ID, err)
	}
	return nil
}

// documentColumns is the select list scanned by scanDocument, in order.
const documentColumns = `id, filename, original_name, filepath, mime_type, size, type, status,
    text_content, page_count, metadata, is_temporary, expires_at, user_id,
    version, created_at, updated_at, processed_at`

// FindByID returns the document with the given ID, or ErrNotFound.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*document.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find %s: %w", id, err)
	}
	return doc, nil
}

// FindMany returns documents matching the filter, newest first.
func (s *SQLiteStore) FindMany(ctx context.Context, filter Filter, page Page) ([]*document.Document, error) {
	where, args := buildWhere(filter)
	q := `SELECT ` + documentColumns + ` FROM documents` + where + ` ORDER BY created_at DESC, id DESC`
	if page.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, page.Limit)
		if page.Offset > 0 {
			q += ` OFFSET ?`
			args = append(args, page.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find many: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: find many scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find many rows: %w", err)
	}
	return docs, nil
}

// Count returns the number of documents matching the filter.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := buildWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Update persists the document's mutable state and bumps the stored version.
// The in-memory Version is refreshed to match.
func (s *SQLiteStore) Update(ctx context.Context, doc *document.Document) error {
	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	const q = `
UPDATE documents SET
    status = ?, text_content = ?, page_count = ?, metadata = ?,
    is_temporary = ?, expires_at = ?, version = version + 1,
    updated_at = ?, processed_at = ?
WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q,
		string(doc.Status), doc.TextContent, doc.PageCount, meta,
		boolToInt(doc.IsTemporary), nullTime(doc.ExpiresAt),
		doc.UpdatedAt.Unix(), nullTime(doc.ProcessedAt),
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", doc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update %s: %w", doc.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	doc.Version++
	return nil
}

// Delete removes the document row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindExpired returns temporary documents whose expiry instant has passed.
func (s *SQLiteStore) FindExpired(ctx context.Context, now time.Time) ([]*document.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents
WHERE is_temporary = 1 AND expires_at IS NOT NULL AND expires_at < ?
ORDER BY expires_at ASC`

	rows, err := s.db.QueryContext(ctx, q, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: find expired: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: find expired scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find expired rows: %w", err)
	}
	return docs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.IsTemporary != nil {
		conds = append(conds, "is_temporary = ?")
		args = append(args, boolToInt(*filter.IsTemporary))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanner is the shared surface of *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one documents row in documentColumns order.
func scanDocument(row scanner) (*document.Document, error) {
	var (
		doc         document.Document
		typ, status string
		meta        string
		isTemp      int
		expiresAt   sql.NullInt64
		createdAt   int64
		updatedAt   int64
		processedAt sql.NullInt64
	)
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.OriginalName, &doc.Filepath, &doc.MIMEType,
		&doc.Size, &typ, &status,
		&doc.TextContent, &doc.PageCount, &meta, &isTemp, &expiresAt, &doc.UserID,
		&doc.Version, &createdAt, &updatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Type = document.Type(typ)
	doc.Status = document.Status(status)
	doc.IsTemporary = isTemp != 0
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()
	doc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if expiresAt.Valid {
		doc.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}
	if processedAt.Valid {
		doc.ProcessedAt = time.Unix(processedAt.Int64, 0).UTC()
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}
	return &doc, nil
}

// marshalMetadata renders the metadata map as a JSON object string.
func marshalMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("store: marshal metadata: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullTime maps the zero time to NULL and anything else to Unix seconds.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
