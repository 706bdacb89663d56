// Package catalog persists directory and file metadata observed while
// serving the media tree. The catalog is a derived, best-effort cache: the
// filesystem stays authoritative for existence and bytes, and records are
// matched by their root-relative path while keeping a stable UUID across
// updates.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/medleyfs/medley/internal/logging"
	"github.com/medleyfs/medley/internal/metrics"
)

// ErrNotFound is returned when no catalog record matches a lookup.
var ErrNotFound = errors.New("catalog: not found")

// Paths groups the three path forms kept per record.
type Paths struct {
	Local    string `json:"local"`
	Relative string `json:"relative"`
	Remote   string `json:"remote"`
}

// Entry is one catalog record for a directory or file.
type Entry struct {
	UUID       string          `json:"uuid"`
	Name       string          `json:"name"`
	Paths      Paths           `json:"paths"`
	IsDir      bool            `json:"isDir"`
	Size       int64           `json:"size"`
	Collection string          `json:"collection"`
	Author     string          `json:"author,omitempty"`
	MIME       string          `json:"mime,omitempty"`
	Tags       []string        `json:"tags"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	Hash       string          `json:"hash,omitempty"`
	Created    time.Time       `json:"created"`
	Modified   time.Time       `json:"modified"`
}

// Store is a PostgreSQL catalog store.
type Store struct {
	db *sql.DB
}

// New opens the catalog database.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics refreshes the connection pool gauge.
func (s *Store) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(s.db.Stats().OpenConnections)
}

// Migrate runs SQL migration files from migrationsDir.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

const entryColumns = `uuid, name, local_path, relative_path, remote_url, is_dir,
	size, collection, author, mime, tags, meta, hash, created_at, modified_at`

// Upsert inserts or updates a record matched by paths.relative. The UUID is
// generated for new records only: the single INSERT ... ON CONFLICT makes
// find-or-create-then-update atomic, so concurrent first sightings of one
// path converge on exactly one identity, and updates never touch uuid or
// created_at.
func (s *Store) Upsert(ctx context.Context, e *Entry) (*Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert_entry", time.Since(start)) }()

	if e.Tags == nil {
		e.Tags = []string{}
	}
	meta := e.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO catalog_entries
			(uuid, name, local_path, relative_path, remote_url, is_dir,
			 size, collection, author, mime, tags, meta, hash, created_at, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		 ON CONFLICT (relative_path) DO UPDATE SET
			name = EXCLUDED.name,
			local_path = EXCLUDED.local_path,
			remote_url = EXCLUDED.remote_url,
			size = EXCLUDED.size,
			mime = NULLIF(EXCLUDED.mime, ''),
			meta = CASE WHEN EXCLUDED.meta = '{}'::jsonb THEN catalog_entries.meta ELSE EXCLUDED.meta END,
			hash = CASE WHEN EXCLUDED.hash = '' THEN catalog_entries.hash ELSE EXCLUDED.hash END,
			modified_at = NOW()
		 RETURNING `+entryColumns,
		uuid.NewString(), e.Name, e.Paths.Local, e.Paths.Relative, e.Paths.Remote, e.IsDir,
		e.Size, e.Collection, e.Author, e.MIME, pq.Array(e.Tags), []byte(meta), e.Hash)

	stored, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", e.Paths.Relative, err)
	}

	logging.Debug("catalog upsert",
		zap.String("path", stored.Paths.Relative),
		zap.String("uuid", stored.UUID),
		zap.Bool("is_dir", stored.IsDir))
	return stored, nil
}

// GetByUUID returns the record with the given stable identifier.
func (s *Store) GetByUUID(ctx context.Context, id string) (*Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_by_uuid", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE uuid = $1`, id)
	return scanEntry(row)
}

// GetByRelativePath returns the record matched by paths.relative.
func (s *Store) GetByRelativePath(ctx context.Context, rel string) (*Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_by_relative_path", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE relative_path = $1`, rel)
	return scanEntry(row)
}

// Random returns one uniformly random file record.
func (s *Store) Random(ctx context.Context) (*Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("random_entry", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE NOT is_dir ORDER BY random() LIMIT 1`)
	return scanEntry(row)
}

// Search returns file records whose name or relative path matches q,
// name matches ranked first. This is the minimal relevancy model the rest
// of the system builds on.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]*Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("search_entries", time.Since(start)) }()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pattern := "%" + q + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+`,
			(CASE WHEN name ILIKE $1 THEN 0 ELSE 1 END) AS rank
		 FROM catalog_entries
		 WHERE NOT is_dir AND (name ILIKE $1 OR relative_path ILIKE $1)
		 ORDER BY rank, name
		 LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var mime, author, hash sql.NullString
		var tags pq.StringArray
		var meta []byte
		var rank int
		if err := rows.Scan(&e.UUID, &e.Name, &e.Paths.Local, &e.Paths.Relative, &e.Paths.Remote,
			&e.IsDir, &e.Size, &e.Collection, &author, &mime, &tags, &meta, &hash,
			&e.Created, &e.Modified, &rank); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Author, e.MIME, e.Hash = author.String, mime.String, hash.String
		e.Tags = tags
		e.Meta = meta
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Count returns the number of catalog records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("count_entries", time.Since(start)) }()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var mime, author, hash sql.NullString
	var tags pq.StringArray
	var meta []byte

	err := row.Scan(&e.UUID, &e.Name, &e.Paths.Local, &e.Paths.Relative, &e.Paths.Remote,
		&e.IsDir, &e.Size, &e.Collection, &author, &mime, &tags, &meta,
		&hash, &e.Created, &e.Modified)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	e.Author, e.MIME, e.Hash = author.String, mime.String, hash.String
	e.Tags = tags
	e.Meta = meta
	return &e, nil
}
