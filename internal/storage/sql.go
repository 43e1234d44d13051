package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"postpilot/internal/job"
	logx "postpilot/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

// sqlStore backs the job set with one relational table keyed by job_id.
// With the postgres driver it acts as the shared source of truth across
// processes; sqlite covers single-host deployments with the same SQL.
//
// Queries are written with ? placeholders and rebound to $n for lib/pq.
type sqlStore struct {
	db     *sql.DB
	driver string
	log    logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("sqlite", "mkdir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr("sqlite", "open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqlStore{db: db, driver: "sqlite", log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, wrapErr("postgres", "open", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("postgres", "ping", err)
	}

	st := &sqlStore{db: db, driver: "postgres", log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return wrapErr(s.driver, "read schema", err)
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return wrapErr(s.driver, "migrate", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// bind rewrites ? placeholders to $1..$n for the postgres driver.
func (s *sqlStore) bind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const jobColumns = `job_id, account_id, content, scheduled_at, priority, status, platform,
	max_retries, retry_count, created_at, started_at, completed_at,
	platform_post_id, status_message, error, link_aff`

const upsertJob = `INSERT INTO scheduled_jobs (` + jobColumns + `)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(job_id) DO UPDATE SET
		account_id = excluded.account_id,
		content = excluded.content,
		scheduled_at = excluded.scheduled_at,
		priority = excluded.priority,
		status = excluded.status,
		platform = excluded.platform,
		max_retries = excluded.max_retries,
		retry_count = excluded.retry_count,
		created_at = excluded.created_at,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		platform_post_id = excluded.platform_post_id,
		status_message = excluded.status_message,
		error = excluded.error,
		link_aff = excluded.link_aff`

func (s *sqlStore) SaveJobs(ctx context.Context, jobs map[string]*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(s.driver, "begin", err)
	}
	q := s.bind(upsertJob)
	for _, j := range jobs {
		if j == nil || j.ID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, q,
			j.ID, j.AccountID, j.Content,
			fmtTime(j.ScheduledAt), j.Priority.String(), string(j.Status), string(j.Platform),
			j.MaxRetries, j.RetryCount, fmtTime(j.CreatedAt),
			fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt),
			nullStr(j.PlatformPostID), nullStr(j.StatusMessage), nullStr(j.Error), nullStr(j.LinkAff),
		); err != nil {
			_ = tx.Rollback()
			return wrapErr(s.driver, "upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(s.driver, "commit", err)
	}
	return nil
}

func (s *sqlStore) LoadJobs(ctx context.Context) (map[string]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs`)
	if err != nil {
		return nil, wrapErr(s.driver, "select", err)
	}
	defer rows.Close()

	out := map[string]*job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapErr(s.driver, "scan", err)
		}
		out[j.ID] = j
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(s.driver, "rows", err)
	}
	return out, nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE job_id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr(s.driver, "get", err)
	}
	return j, nil
}

func (s *sqlStore) GetJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE status = ?`, string(status))
}

func (s *sqlStore) GetJobsByAccount(ctx context.Context, accountID string) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE account_id = ?`, accountID)
}

func (s *sqlStore) queryJobs(ctx context.Context, q string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(q), args...)
	if err != nil {
		return nil, wrapErr(s.driver, "select", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapErr(s.driver, "scan", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(s.driver, "rows", err)
	}
	sort.Slice(out, func(i, k int) bool { return job.Less(out[i], out[k]) })
	return out, nil
}

func (s *sqlStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM scheduled_jobs WHERE job_id = ?`), id)
	if err != nil {
		return wrapErr(s.driver, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(s.driver, "delete", err)
	}
	if n == 0 {
		return job.ErrNotFound
	}
	return nil
}

// ---- row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*job.Job, error) {
	var (
		j                        job.Job
		priority                 string
		scheduledAt, createdAt   string
		startedAt, completedAt   sql.NullString
		postID, statusMsg        sql.NullString
		errText, linkAff         sql.NullString
	)
	err := r.Scan(
		&j.ID, &j.AccountID, &j.Content,
		&scheduledAt, &priority, &j.Status, &j.Platform,
		&j.MaxRetries, &j.RetryCount, &createdAt,
		&startedAt, &completedAt,
		&postID, &statusMsg, &errText, &linkAff,
	)
	if err != nil {
		return nil, err
	}

	if j.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, fmt.Errorf("job %s: scheduled_at: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("job %s: created_at: %w", j.ID, err)
	}
	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("job %s: started_at: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("job %s: completed_at: %w", j.ID, err)
	}
	p, err := job.ParsePriority(priority)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.Priority = p
	j.PlatformPostID = postID.String
	j.StatusMessage = statusMsg.String
	j.Error = errText.String
	j.LinkAff = linkAff.String
	return &j, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
