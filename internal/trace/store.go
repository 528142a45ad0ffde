package trace

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers "sqlite" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const defaultMaxSessions = 100

// ErrNotFound is returned by lookups for an unknown session or run.
var ErrNotFound = errors.New("trace not found")

// Store persists trace data to PostgreSQL or a SQLite file.
type Store struct {
	db          *sql.DB
	sqlite      bool
	maxSessions int
}

// Open connects to dsn and applies pending migrations. postgres:// and
// postgresql:// DSNs use pgx; anything else is treated as a SQLite path or
// file: URI.
func Open(ctx context.Context, dsn string, maxSessions int) (*Store, error) {
	driver, dialect, sqlite := "pgx", goose.DialectPostgres, false
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		driver, dialect, sqlite = "sqlite", goose.DialectSQLite3, true
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	if sqlite {
		db.SetMaxOpenConns(1)
	}
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &Store{db: db, sqlite: sqlite, maxSessions: maxSessions}, nil
}

func sqliteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	_, err = provider.Up(ctx)
	return err
}

var placeholder = regexp.MustCompile(`\$\d+`)

// q rewrites $N placeholders for SQLite.
func (s *Store) q(query string) string {
	if !s.sqlite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and prunes the oldest beyond the cap.
func (s *Store) CreateSession(ctx context.Context, id, metadata string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO sessions (id, metadata, started_at) VALUES ($1, $2, $3)`),
		id, metadata, startedAt.UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`),
		s.maxSessions,
	)
	return err
}

// EndSession sets the ended_at timestamp.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE sessions SET ended_at = $1 WHERE id = $2`),
		endedAt.UTC(), id,
	)
	return err
}

// CreateRun inserts a run in the running state.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO runs (id, session_id, segment_id, final_reason, started_at, status) VALUES ($1, $2, $3, $4, $5, $6)`),
		r.ID, r.SessionID, r.SegmentID, r.FinalReason, r.StartedAt.UTC(), StatusRunning,
	)
	return err
}

// UpdateRun sets the run's final fields.
func (s *Store) UpdateRun(ctx context.Context, id string, durationMs float64, transcript, response, status string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE runs SET duration_ms = $1, transcript = $2, response = $3, status = $4 WHERE id = $5`),
		durationMs, transcript, response, status, id,
	)
	return err
}

// CreateSpan inserts a span.
func (s *Store) CreateSpan(ctx context.Context, sp Span) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO spans (id, run_id, name, started_at, duration_ms, attempts, input, output, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		sp.ID, sp.RunID, sp.Name, sp.StartedAt.UTC(),
		sp.DurationMs, sp.Attempts, sp.Input, sp.Output, sp.Status, sp.Error,
	)
	return err
}

// ListSessions returns sessions newest first, with run counts.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT s.id, s.metadata, s.started_at, s.ended_at, COUNT(r.id) AS run_count
		FROM sessions s
		LEFT JOIN runs r ON r.session_id = s.id
		GROUP BY s.id, s.metadata, s.started_at, s.ended_at
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.Metadata, &sess.StartedAt, &endedAt, &sess.RunCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns a single session with its runs, oldest run first.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, []Run, error) {
	var sess Session
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, metadata, started_at, ended_at FROM sessions WHERE id = $1`), id,
	).Scan(&sess.ID, &sess.Metadata, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT r.id, r.session_id, r.segment_id, r.final_reason, r.started_at, r.duration_ms,
		       r.transcript, r.response, r.status, COUNT(sp.id) AS span_count
		FROM runs r
		LEFT JOIN spans sp ON sp.run_id = r.id
		WHERE r.session_id = $1
		GROUP BY r.id, r.session_id, r.segment_id, r.final_reason, r.started_at, r.duration_ms,
		         r.transcript, r.response, r.status
		ORDER BY r.started_at ASC
	`), id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err = rows.Scan(&r.ID, &r.SessionID, &r.SegmentID, &r.FinalReason, &r.StartedAt, &r.DurationMs,
			&r.Transcript, &r.Response, &r.Status, &r.SpanCount); err != nil {
			return nil, nil, err
		}
		runs = append(runs, r)
	}
	return &sess, runs, rows.Err()
}

// GetRun returns a single run with its spans.
func (s *Store) GetRun(ctx context.Context, sessionID, runID string) (*Run, []Span, error) {
	var r Run
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, session_id, segment_id, final_reason, started_at, duration_ms, transcript, response, status
		 FROM runs WHERE id = $1 AND session_id = $2`),
		runID, sessionID,
	).Scan(&r.ID, &r.SessionID, &r.SegmentID, &r.FinalReason, &r.StartedAt, &r.DurationMs, &r.Transcript, &r.Response, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, run_id, name, started_at, duration_ms, attempts, input, output, status, error_msg
		 FROM spans WHERE run_id = $1 ORDER BY started_at ASC`),
		runID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		if err = rows.Scan(&sp.ID, &sp.RunID, &sp.Name, &sp.StartedAt, &sp.DurationMs, &sp.Attempts,
			&sp.Input, &sp.Output, &sp.Status, &sp.Error); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	r.SpanCount = len(spans)
	return &r, spans, rows.Err()
}
