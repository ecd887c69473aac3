package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"topicseg/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	run_id     TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	text       TEXT NOT NULL,
	sentences  INTEGER NOT NULL,
	headline   TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (run_id, idx)
)`

// SQLite stores segments in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) the database at path. The path ":memory:"
// opens a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite output needs a path", domain.ErrInvalidConfig)
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one connection so an in-memory database is shared by every statement
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating segments table: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Write upserts seg keyed by run and index.
func (s *SQLite) Write(ctx context.Context, seg domain.Segment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (run_id, idx, text, sentences, headline) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, idx) DO UPDATE SET text = excluded.text, sentences = excluded.sentences, headline = excluded.headline`,
		runOf(seg), seg.Index, seg.Text, seg.Sentences, seg.Headline)
	if err != nil {
		return fmt.Errorf("inserting segment %s: %w", seg.ID, err)
	}
	return nil
}

// Segments returns the stored segments of one run in index order.
func (s *SQLite) Segments(ctx context.Context, runID string) ([]domain.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, text, sentences, headline FROM segments WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		if err := rows.Scan(&seg.Index, &seg.Text, &seg.Sentences, &seg.Headline); err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		seg.ID = fmt.Sprintf("%s:%d", runID, seg.Index)
		out = append(out, seg)
	}
	return out, rows.Err()
}

// Path returns the database path.
func (s *SQLite) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
