package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"relinkd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL: Put/Remove must not return before the job is durably on disk.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, j Job) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, folder_id, trigger_time, state) VALUES(?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   folder_id=excluded.folder_id,
		   trigger_time=excluded.trigger_time,
		   state=excluded.state`,
		j.ID, j.FolderID, j.TriggerTime.UnixMilli(), string(j.State),
	)
	return err
}

func (s *sqliteStore) Remove(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, jobID string) (Job, bool, error) {
	if s == nil || s.db == nil {
		return Job{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, folder_id, trigger_time, state FROM jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *sqliteStore) ListDue(ctx context.Context, before time.Time) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, folder_id, trigger_time, state FROM jobs
		 WHERE state = ? AND trigger_time <= ?
		 ORDER BY trigger_time ASC`,
		string(StateScheduled), before.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, folder_id, trigger_time, state FROM jobs ORDER BY trigger_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j     Job
		ms    int64
		state string
	)
	if err := r.Scan(&j.ID, &j.FolderID, &ms, &state); err != nil {
		return Job{}, err
	}
	j.TriggerTime = time.UnixMilli(ms)
	j.State = State(state)
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
