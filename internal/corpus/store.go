package corpus

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schema string

// Store persists corpora and their passages.
type Store interface {
	// SavePassages replaces the corpus record and all of its passages.
	SavePassages(ctx context.Context, c Corpus, passages []Passage) error

	// Passages returns the corpus passages ordered by local index. An unknown
	// corpus yields an empty slice.
	Passages(ctx context.Context, corpusID string) ([]Passage, error)

	// Corpora lists every stored corpus, newest first.
	Corpora(ctx context.Context) ([]Corpus, error)
}

// SQLiteStore is a Store backed by a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets the HTTP handlers read while an ingest writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) SavePassages(ctx context.Context, c Corpus, passages []Passage) error {
	if c.ID == "" {
		return fmt.Errorf("%w: corpus id is required", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO corpora (id, title, raw_text, passage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			raw_text = excluded.raw_text,
			passage_count = excluded.passage_count,
			updated_at = excluded.updated_at
	`, c.ID, c.Title, c.Raw, len(passages), now, now)
	if err != nil {
		return fmt.Errorf("saving corpus: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE corpus_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clearing passages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO passages (corpus_id, local_index, text) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		if _, err := stmt.ExecContext(ctx, c.ID, p.LocalIndex, p.Text); err != nil {
			return fmt.Errorf("inserting passage %d: %w", p.LocalIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Passages(ctx context.Context, corpusID string) ([]Passage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_index, text FROM passages
		WHERE corpus_id = ?
		ORDER BY local_index
	`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	passages := []Passage{}
	for rows.Next() {
		p := Passage{CorpusID: corpusID}
		if err := rows.Scan(&p.LocalIndex, &p.Text); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

func (s *SQLiteStore) Corpora(ctx context.Context) ([]Corpus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, passage_count, created_at, updated_at FROM corpora
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying corpora: %w", err)
	}
	defer rows.Close()

	corpora := []Corpus{}
	for rows.Next() {
		var (
			c                  Corpus
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.PassageCount, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning corpus: %w", err)
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		c.UpdatedAt = time.Unix(updated, 0).UTC()
		corpora = append(corpora, c)
	}
	return corpora, rows.Err()
}

// Raw returns the stored source text of a corpus.
func (s *SQLiteStore) Raw(ctx context.Context, corpusID string) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT raw_text FROM corpora WHERE id = ?`, corpusID).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying corpus: %w", err)
	}
	return raw, nil
}
