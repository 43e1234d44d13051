package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postpilot/internal/job"
	logx "postpilot/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	in := map[string]*job.Job{
		"j1": testJob("j1", "acc1", at, job.StatusScheduled),
		"j2": testJob("j2", "", at.Add(time.Hour), job.StatusPending),
	}
	in["j1"].LinkAff = "https://example.test/ref"
	done := at.Add(2 * time.Minute)
	in["j2"].CompletedAt = &done
	in["j2"].StatusMessage = "imported draft"

	if err := st.SaveJobs(ctx, in); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}
	out, err := st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("loaded %d jobs, want %d", len(out), len(in))
	}
	for id, want := range in {
		if got := out[id]; got == nil || !got.Equal(want) {
			t.Fatalf("job %s round trip mismatch:\n got %+v\nwant %+v", id, got, want)
		}
	}
}

func TestSQLiteUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	j := testJob("j1", "acc1", at, job.StatusScheduled)
	for i := 0; i < 2; i++ {
		if err := st.SaveJobs(ctx, map[string]*job.Job{"j1": j}); err != nil {
			t.Fatalf("SaveJobs #%d: %v", i+1, err)
		}
	}

	j.Status = job.StatusCompleted
	j.PlatformPostID = "T42"
	if err := st.SaveJobs(ctx, map[string]*job.Job{"j1": j}); err != nil {
		t.Fatalf("SaveJobs (update): %v", err)
	}

	out, err := st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("upsert duplicated the row: %d rows", len(out))
	}
	if out["j1"].Status != job.StatusCompleted || out["j1"].PlatformPostID != "T42" {
		t.Fatalf("upsert did not apply the update: %+v", out["j1"])
	}
}

func TestSQLiteQueriesAndDelete(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	if err := st.SaveJobs(ctx, map[string]*job.Job{
		"j1": testJob("j1", "acc1", at, job.StatusScheduled),
		"j2": testJob("j2", "acc1", at, job.StatusFailed),
		"j3": testJob("j3", "acc2", at, job.StatusScheduled),
	}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	if _, err := st.GetJob(ctx, "missing"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrNotFound", err)
	}
	byStatus, err := st.GetJobsByStatus(ctx, job.StatusScheduled)
	if err != nil || len(byStatus) != 2 {
		t.Fatalf("GetJobsByStatus = %d jobs, %v", len(byStatus), err)
	}
	byAcct, err := st.GetJobsByAccount(ctx, "acc2")
	if err != nil || len(byAcct) != 1 || byAcct[0].ID != "j3" {
		t.Fatalf("GetJobsByAccount = %+v, %v", byAcct, err)
	}

	if err := st.DeleteJob(ctx, "j2"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := st.DeleteJob(ctx, "j2"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestPostgresBindRewritesPlaceholders(t *testing.T) {
	t.Parallel()
	s := &sqlStore{driver: "postgres"}
	got := s.bind(`SELECT 1 FROM t WHERE a = ? AND b = ?`)
	want := `SELECT 1 FROM t WHERE a = $1 AND b = $2`
	if got != want {
		t.Fatalf("bind = %q, want %q", got, want)
	}

	s.driver = "sqlite"
	q := `SELECT 1 FROM t WHERE a = ?`
	if got := s.bind(q); got != q {
		t.Fatalf("sqlite bind must pass through, got %q", got)
	}
}
