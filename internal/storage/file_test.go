package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"postpilot/internal/job"
	logx "postpilot/pkg/logx"
)

func testJob(id, account string, at time.Time, status job.Status) *job.Job {
	return &job.Job{
		ID:          id,
		AccountID:   account,
		Content:     "content of " + id,
		ScheduledAt: at,
		Priority:    job.PriorityNormal,
		Status:      status,
		Platform:    job.PlatformThreads,
		MaxRetries:  3,
		CreatedAt:   at.Add(-time.Hour),
	}
}

func openTestFileStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st, _ := openTestFileStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	in := map[string]*job.Job{
		"j1": testJob("j1", "acc1", day1, job.StatusScheduled),
		"j2": testJob("j2", "acc1", day2, job.StatusPending),
		"j3": testJob("j3", "acc2", day2, job.StatusCompleted),
	}
	started := day1.Add(time.Minute)
	in["j3"].StartedAt = &started
	in["j3"].PlatformPostID = "T999"

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
		got, ok := out[id]
		if !ok {
			t.Fatalf("job %s missing after round trip", id)
		}
		if !got.Equal(want) {
			t.Fatalf("job %s round trip mismatch:\n got %+v\nwant %+v", id, got, want)
		}
	}
}

func TestFileStoreShardsByDay(t *testing.T) {
	t.Parallel()
	st, dir := openTestFileStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	err := st.SaveJobs(ctx, map[string]*job.Job{
		"j1": testJob("j1", "acc1", day1, job.StatusScheduled),
		"j2": testJob("j2", "acc1", day2, job.StatusScheduled),
	})
	if err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	for _, name := range []string{"jobs-2026-08-25.json", "jobs-2026-08-26.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected shard %s: %v", name, err)
		}
	}
}

func TestFileStoreRescheduleMovesShard(t *testing.T) {
	t.Parallel()
	st, dir := openTestFileStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	j := testJob("j1", "acc1", day1, job.StatusScheduled)
	if err := st.SaveJobs(ctx, map[string]*job.Job{"j1": j}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	// Retry pushed the job to another day: the old shard must not keep a
	// stale copy.
	j.ScheduledAt = day2
	j.RetryCount = 1
	if err := st.SaveJobs(ctx, map[string]*job.Job{"j1": j}); err != nil {
		t.Fatalf("SaveJobs (reschedule): %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "jobs-2026-08-25.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("old shard should be gone after it emptied: %v", err)
	}
	out, err := st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(out) != 1 || out["j1"].RetryCount != 1 || !out["j1"].ScheduledAt.Equal(day2) {
		t.Fatalf("unexpected state after reschedule: %+v", out["j1"])
	}
}

func TestFileStoreSkipsCorruptShard(t *testing.T) {
	t.Parallel()
	st, dir := openTestFileStore(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	if err := st.SaveJobs(ctx, map[string]*job.Job{"ok": testJob("ok", "acc1", day, job.StatusScheduled)}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}
	corrupt := filepath.Join(dir, "jobs-2026-08-26.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt shard: %v", err)
	}

	out, err := st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("a corrupt shard must not abort the load: %v", err)
	}
	if _, ok := out["ok"]; !ok || len(out) != 1 {
		t.Fatalf("healthy shard not loaded alongside corrupt one: %+v", out)
	}
}

func TestFileStoreGetAndDelete(t *testing.T) {
	t.Parallel()
	st, _ := openTestFileStore(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	if err := st.SaveJobs(ctx, map[string]*job.Job{
		"j1": testJob("j1", "acc1", day, job.StatusScheduled),
		"j2": testJob("j2", "acc2", day, job.StatusFailed),
	}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	if _, err := st.GetJob(ctx, "nope"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("GetJob(nope) = %v, want ErrNotFound", err)
	}
	got, err := st.GetJob(ctx, "j1")
	if err != nil || got.AccountID != "acc1" {
		t.Fatalf("GetJob(j1) = %+v, %v", got, err)
	}

	byStatus, err := st.GetJobsByStatus(ctx, job.StatusFailed)
	if err != nil || len(byStatus) != 1 || byStatus[0].ID != "j2" {
		t.Fatalf("GetJobsByStatus = %+v, %v", byStatus, err)
	}
	byAcct, err := st.GetJobsByAccount(ctx, "acc1")
	if err != nil || len(byAcct) != 1 || byAcct[0].ID != "j1" {
		t.Fatalf("GetJobsByAccount = %+v, %v", byAcct, err)
	}

	if err := st.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := st.DeleteJob(ctx, "j1"); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestFileStoreCompactShards(t *testing.T) {
	t.Parallel()
	st, dir := openTestFileStore(t)
	ctx := context.Background()

	old := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	if err := st.SaveJobs(ctx, map[string]*job.Job{
		"done-old":   testJob("done-old", "acc1", old, job.StatusCompleted),
		"stuck-old":  testJob("stuck-old", "acc1", old, job.StatusScheduled),
		"done-fresh": testJob("done-fresh", "acc1", recent, job.StatusCompleted),
	}); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	fs := st.(*fileStore)
	removed, err := fs.CompactShards(ctx, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CompactShards: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	out, _ := st.LoadJobs(ctx)
	if _, ok := out["done-old"]; ok {
		t.Fatal("old terminal job should be compacted away")
	}
	if _, ok := out["stuck-old"]; !ok {
		t.Fatal("live job in old shard must survive compaction")
	}
	if _, ok := out["done-fresh"]; !ok {
		t.Fatal("recent terminal job must survive compaction")
	}
	if _, err := os.Stat(filepath.Join(dir, "jobs-2026-07-01.json")); err != nil {
		t.Fatalf("old shard with a live job should remain: %v", err)
	}
}
