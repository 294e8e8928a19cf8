package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seantiz/remote-playwright/internal/model"

	_ "modernc.org/sqlite"
)

const createLaunchesTable = `
CREATE TABLE IF NOT EXISTS launches (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    engine      TEXT NOT NULL,
    port        INTEGER NOT NULL,
    ws_path     TEXT NOT NULL,
    proxy       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    endpoint    TEXT NOT NULL DEFAULT '',
    pid         INTEGER,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    ready_at    DATETIME,
    stopped_at  DATETIME
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    launch_id  TEXT NOT NULL REFERENCES launches(id),
    seq        INTEGER NOT NULL,
    line       TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

const createLogLinesIndex = `
CREATE INDEX IF NOT EXISTS idx_log_lines_launch ON log_lines(launch_id, seq)`

const launchColumns = `id, run_id, engine, port, ws_path, proxy, status, endpoint,
	pid, error, duration_ms, created_at, ready_at, stopped_at`

// ErrNotFound is returned when a launch is not found.
var ErrNotFound = errors.New("launch not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{createLaunchesTable, createLogLinesTable, createLogLinesIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// dsn carries the pragmas in the DSN so that every pooled connection gets
// them. Transactions take the write lock up front so a read never has to
// upgrade to a write under contention.
func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return dbPath
	}
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + params.Encode()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLaunch(row scanner) (*model.Launch, error) {
	l := &model.Launch{}
	var engine string
	err := row.Scan(
		&l.ID, &l.RunID, &engine, &l.Port, &l.WSPath, &l.Proxy, &l.Status, &l.Endpoint,
		&l.PID, &l.Error, &l.DurationMS, &l.CreatedAt, &l.ReadyAt, &l.StoppedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Engine = model.Engine(engine)
	return l, nil
}

// CreateLaunch inserts a new launch record.
func (s *SQLiteStore) CreateLaunch(ctx context.Context, l *model.Launch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO launches (`+launchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RunID, string(l.Engine), l.Port, l.WSPath, l.Proxy, l.Status, l.Endpoint,
		l.PID, l.Error, l.DurationMS, l.CreatedAt, l.ReadyAt, l.StoppedAt,
	)
	if err != nil {
		return fmt.Errorf("insert launch: %w", err)
	}
	return nil
}

// GetLaunch retrieves a launch by ID.
func (s *SQLiteStore) GetLaunch(ctx context.Context, id string) (*model.Launch, error) {
	l, err := scanLaunch(s.db.QueryRowContext(ctx,
		`SELECT `+launchColumns+` FROM launches WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get launch: %w", err)
	}
	return l, nil
}

// ListLaunches returns a page of launches, newest first, along with the total
// count of all launches.
func (s *SQLiteStore) ListLaunches(ctx context.Context, limit, offset int) ([]*model.Launch, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM launches").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count launches: %w", err)
	}

	// rowid breaks ties between launches created in the same instant.
	rows, err := tx.QueryContext(ctx,
		`SELECT `+launchColumns+` FROM launches
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list launches: %w", err)
	}
	defer rows.Close()

	var launches []*model.Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan launch: %w", err)
		}
		launches = append(launches, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate launches: %w", err)
	}

	return launches, total, nil
}

// transition moves launch id to status inside tx, enforcing the status
// machine. set holds extra column assignments applied in the same update.
func transition(ctx context.Context, tx *sql.Tx, id, status string, set string, args ...any) error {
	var current string
	err := tx.QueryRowContext(ctx, "SELECT status FROM launches WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read launch status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	query := "UPDATE launches SET status = ?"
	if set != "" {
		query += ", " + set
	}
	query += " WHERE id = ?"

	params := append([]any{status}, args...)
	params = append(params, id)
	if _, err := tx.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("update launch status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateLaunchStatus moves a launch to status. Moving to stopped also sets
// stopped_at. Returns ErrInvalidTransition for moves the status machine forbids.
func (s *SQLiteStore) UpdateLaunchStatus(ctx context.Context, id, status string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if status == model.StatusStopped {
			return transition(ctx, tx, id, status, "stopped_at = ?", time.Now().UTC())
		}
		return transition(ctx, tx, id, status, "")
	})
}

// MarkReady records a successful launch.
func (s *SQLiteStore) MarkReady(ctx context.Context, id, endpoint string, pid int, duration time.Duration) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var pidArg any
		if pid > 0 {
			pidArg = pid
		}
		return transition(ctx, tx, id, model.StatusReady,
			"endpoint = ?, pid = ?, duration_ms = ?, ready_at = ?",
			endpoint, pidArg, duration.Milliseconds(), time.Now().UTC(),
		)
	})
}

// MarkFailed records a failed launch and its cause.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, cause error, duration time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return transition(ctx, tx, id, model.StatusFailed,
			"error = ?, duration_ms = ?", msg, duration.Milliseconds(),
		)
	})
}

// GetLaunchStats returns aggregate counts and the mean time to ready.
func (s *SQLiteStore) GetLaunchStats(ctx context.Context) (*LaunchStats, error) {
	stats := &LaunchStats{
		CountByStatus: make(map[string]int),
		CountByEngine: make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM launches").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count launches: %w", err)
	}

	for _, q := range []struct {
		query string
		into  map[string]int
	}{
		{"SELECT status, COUNT(*) FROM launches GROUP BY status", stats.CountByStatus},
		{"SELECT engine, COUNT(*) FROM launches GROUP BY engine", stats.CountByEngine},
	} {
		if err := countInto(ctx, tx, q.query, q.into); err != nil {
			return nil, err
		}
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM launches WHERE ready_at IS NOT NULL AND duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

func countInto(ctx context.Context, tx *sql.Tx, query string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("count launches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertLogLine appends one output line for a launch.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, launchID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO log_lines (launch_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		launchID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns the output lines of a launch in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, launchID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, launch_id, seq, line, created_at FROM log_lines WHERE launch_id = ? ORDER BY seq",
		launchID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var lines []model.LogLine
	for rows.Next() {
		var ll model.LogLine
		if err := rows.Scan(&ll.ID, &ll.LaunchID, &ll.Seq, &ll.Line, &ll.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, ll)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}
