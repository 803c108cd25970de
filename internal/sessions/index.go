package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gitbutler/butlerd/internal/logging"
)

// IndexFileName is the sqlite database inside the data directory.
const IndexFileName = "sessions.db"

// Index is the queryable catalogue of flushed sessions across all projects.
// It runs sqlite in WAL mode so the CLI can read while the daemon writes.
type Index struct {
	conn *sql.DB
	path string
}

// OpenIndex opens (and if needed creates) the index at path.
//
// The caller must call Close when done.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	idx := &Index{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := idx.initSchema(context.Background()); err != nil {
		_ = idx.Close()
		return nil, err
	}

	return idx, nil
}

// Path returns the database file path.
func (idx *Index) Path() string {
	return idx.path
}

// Close checkpoints the WAL and closes the connection.
func (idx *Index) Close() error {
	if idx.conn == nil {
		return nil
	}

	if _, err := idx.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logging.NewLogger("sessions").WithError(err).Warn("Failed to checkpoint session index")
	}

	if err := idx.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	idx.conn = nil
	return nil
}

func (idx *Index) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		branch TEXT,
		commit_hash TEXT,
		start_ms INTEGER NOT NULL,
		last_ms INTEGER NOT NULL,
		files TEXT NOT NULL  -- JSON array
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, start_ms);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_ms);
	`

	if _, err := idx.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return nil
}

// Record stores a flushed session. Recording the same session twice
// replaces the earlier row.
func (idx *Index) Record(ctx context.Context, s *Session) error {
	files := s.Files
	if files == nil {
		files = []string{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to marshal session files: %w", err)
	}

	query := `
	INSERT INTO sessions (id, project_id, branch, commit_hash, start_ms, last_ms, files)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		branch = excluded.branch,
		commit_hash = excluded.commit_hash,
		start_ms = excluded.start_ms,
		last_ms = excluded.last_ms,
		files = excluded.files
	`

	_, err = idx.conn.ExecContext(ctx, query,
		s.ID,
		s.ProjectID,
		s.Meta.Branch,
		s.Meta.Commit,
		s.Meta.StartTimestampMs,
		s.Meta.LastTimestampMs,
		string(filesJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}

	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ProjectID string
	Since     time.Time
	Limit     int
}

// List returns flushed sessions matching filter, newest first.
func (idx *Index) List(ctx context.Context, filter Filter) ([]*Session, error) {
	query := `SELECT id, project_id, branch, commit_hash, start_ms, last_ms, files FROM sessions WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if !filter.Since.IsZero() {
		query += ` AND last_ms >= ?`
		args = append(args, filter.Since.UnixMilli())
	}
	query += ` ORDER BY start_ms DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := idx.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return result, nil
}

// Get returns one flushed session.
func (idx *Index) Get(ctx context.Context, id string) (*Session, error) {
	row := idx.conn.QueryRowContext(ctx,
		`SELECT id, project_id, branch, commit_hash, start_ms, last_ms, files FROM sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s         Session
		branch    sql.NullString
		commit    sql.NullString
		filesJSON string
	)

	if err := row.Scan(&s.ID, &s.ProjectID, &branch, &commit,
		&s.Meta.StartTimestampMs, &s.Meta.LastTimestampMs, &filesJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.Meta.Branch = branch.String
	s.Meta.Commit = commit.String
	if err := json.Unmarshal([]byte(filesJSON), &s.Files); err != nil {
		return nil, fmt.Errorf("failed to parse files of session %s: %w", s.ID, err)
	}

	return &s, nil
}
