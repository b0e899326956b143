// Package sqlite persists simulation runs in a single SQLite database via
// modernc.org/sqlite.
//
// WAL mode lets the HTTP observer read a run while process goroutines are
// still appending records to it. The busy_timeout pragma plus
// application-level retries (retry.go) absorb the transient contention
// errors that show up under concurrent access.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftlab/driftlab/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements ports.RunStore on top of a SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		seed           INTEGER NOT NULL,
		processes      INTEGER NOT NULL,
		duration_ns    INTEGER NOT NULL,
		max_clock_rate INTEGER NOT NULL,
		event_upper    INTEGER NOT NULL,
		send_one_cut   INTEGER NOT NULL,
		send_all_cut   INTEGER NOT NULL,
		started_at     TEXT NOT NULL,
		finished_at    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		error          TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS processes (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		process     INTEGER NOT NULL,
		tick_rate   INTEGER NOT NULL,
		ticks       INTEGER NOT NULL,
		final_clock INTEGER NOT NULL,
		PRIMARY KEY (run_id, process)
	);

	CREATE TABLE IF NOT EXISTS records (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL REFERENCES runs(id),
		process    INTEGER NOT NULL,
		tick       INTEGER NOT NULL,
		wall       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		clock      INTEGER NOT NULL,
		queue      INTEGER NOT NULL,
		peer       INTEGER NOT NULL,
		sender     INTEGER NOT NULL,
		sent_clock INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id, process, tick);
	`
	_, err := s.db.Exec(schema)
	return err
}

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations go through this to handle transient SQLite
// errors (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, meta domain.RunMeta) error {
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, seed, processes, duration_ns, max_clock_rate,
			                   event_upper, send_one_cut, send_all_cut,
			                   started_at, finished_at, status, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.ID, meta.Seed, meta.Processes, int64(meta.Duration),
			meta.MaxClockRate, meta.EventUpper, meta.SendOneCut, meta.SendAllCut,
			formatTime(meta.StartedAt), formatTime(meta.FinishedAt),
			string(meta.Status), meta.Error,
		)
		return err
	})
}

// FinishRun finalizes a run's status, finish time, and error text.
func (s *Store) FinishRun(ctx context.Context, id string, status domain.RunStatus, finishedAt time.Time, runErr string) error {
	var affected int64
	err := retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
			string(status), formatTime(finishedAt), runErr, id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("finish run %s: %w", id, domain.ErrRunNotFound)
	}
	return nil
}

// Runs lists all runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]domain.RunMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seed, processes, duration_ns, max_clock_rate,
		        event_upper, send_one_cut, send_all_cut,
		        started_at, finished_at, status, error
		 FROM runs ORDER BY started_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunMeta
	for rows.Next() {
		meta, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, meta)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (s *Store) Run(ctx context.Context, id string) (domain.RunMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, seed, processes, duration_ns, max_clock_rate,
		        event_upper, send_one_cut, send_all_cut,
		        started_at, finished_at, status, error
		 FROM runs WHERE id = ?`, id,
	)
	meta, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunMeta{}, fmt.Errorf("run %s: %w", id, domain.ErrRunNotFound)
	}
	return meta, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (domain.RunMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, seed, processes, duration_ns, max_clock_rate,
		        event_upper, send_one_cut, send_all_cut,
		        started_at, finished_at, status, error
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	)
	meta, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunMeta{}, fmt.Errorf("no runs recorded: %w", domain.ErrRunNotFound)
	}
	return meta, err
}

// ---------------------------------------------------------------------------
// Processes
// ---------------------------------------------------------------------------

// AddProcess records one process's drawn parameters and outcome. Idempotent
// via ON CONFLICT so a re-run of the finalize step cannot fail on a
// half-written row.
func (s *Store) AddProcess(ctx context.Context, meta domain.ProcessMeta) error {
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO processes (run_id, process, tick_rate, ticks, final_clock)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, process) DO UPDATE SET
			   tick_rate   = excluded.tick_rate,
			   ticks       = excluded.ticks,
			   final_clock = excluded.final_clock`,
			meta.Run, int64(meta.Process), meta.TickRate, meta.Ticks, meta.FinalClock,
		)
		return err
	})
}

// Processes returns a run's process rows ordered by process id.
func (s *Store) Processes(ctx context.Context, runID string) ([]domain.ProcessMeta, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, process, tick_rate, ticks, final_clock
		 FROM processes WHERE run_id = ? ORDER BY process ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procs []domain.ProcessMeta
	for rows.Next() {
		var m domain.ProcessMeta
		var proc int64
		if err := rows.Scan(&m.Run, &proc, &m.TickRate, &m.Ticks, &m.FinalClock); err != nil {
			return nil, err
		}
		m.Process = domain.ProcessID(proc)
		procs = append(procs, m)
	}
	return procs, rows.Err()
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// AppendRecords persists a batch of records inside one transaction.
func (s *Store) AppendRecords(ctx context.Context, runID string, recs []domain.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO records (run_id, process, tick, wall, kind, clock,
			                      queue, peer, sender, sent_clock)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range recs {
			if _, err := stmt.ExecContext(ctx,
				runID, int64(r.Process), r.Tick, formatTime(r.Wall),
				string(r.Kind), r.Clock, r.Queue,
				int64(r.Peer), int64(r.Sender), r.SentClock,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Records returns a run's records ordered by (process, tick). Passing
// domain.NoProcess selects every process.
func (s *Store) Records(ctx context.Context, runID string, process domain.ProcessID) ([]domain.Record, error) {
	if _, err := s.Run(ctx, runID); err != nil {
		return nil, err
	}

	query := `SELECT process, tick, wall, kind, clock, queue, peer, sender, sent_clock
	          FROM records WHERE run_id = ?`
	args := []any{runID}
	if process != domain.NoProcess {
		query += ` AND process = ?`
		args = append(args, int64(process))
	}
	query += ` ORDER BY process ASC, tick ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.Record
	for rows.Next() {
		var r domain.Record
		var proc, peer, sender int64
		var wallStr, kindStr string
		if err := rows.Scan(&proc, &r.Tick, &wallStr, &kindStr,
			&r.Clock, &r.Queue, &peer, &sender, &r.SentClock); err != nil {
			return nil, err
		}
		r.Process = domain.ProcessID(proc)
		r.Peer = domain.ProcessID(peer)
		r.Sender = domain.ProcessID(sender)
		r.Kind = domain.EventKind(kindStr)
		r.Wall, err = parseTime(wallStr)
		if err != nil {
			return nil, fmt.Errorf("parse wall time for record %d/%d: %w", proc, r.Tick, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RunMeta, error) {
	var m domain.RunMeta
	var durNS int64
	var startStr, finishStr, statusStr string
	if err := row.Scan(&m.ID, &m.Seed, &m.Processes, &durNS, &m.MaxClockRate,
		&m.EventUpper, &m.SendOneCut, &m.SendAllCut,
		&startStr, &finishStr, &statusStr, &m.Error); err != nil {
		return domain.RunMeta{}, err
	}
	m.Duration = time.Duration(durNS)
	m.Status = domain.RunStatus(statusStr)
	var parseErr error
	m.StartedAt, parseErr = parseTime(startStr)
	if parseErr != nil {
		return domain.RunMeta{}, fmt.Errorf("parse started_at for run %s: %w", m.ID, parseErr)
	}
	m.FinishedAt, parseErr = parseTime(finishStr)
	if parseErr != nil {
		return domain.RunMeta{}, fmt.Errorf("parse finished_at for run %s: %w", m.ID, parseErr)
	}
	return m, nil
}

// formatTime stores times as RFC3339Nano text; the zero time becomes the
// empty string so an unfinished run stays distinguishable.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
