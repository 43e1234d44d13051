package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "postpilot/pkg/logx"
)

type fakeCompactor struct {
	cutoff  time.Time
	removed int
	err     error
}

func (f *fakeCompactor) CompactShards(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

type fakeReloader struct {
	calls  int
	forced bool
}

func (f *fakeReloader) Reload(_ context.Context, force bool) error {
	f.calls++
	f.forced = force
	return nil
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{CompactSpec: "not a cron spec", Retention: time.Hour}, &fakeCompactor{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("invalid cron spec must fail Start")
	}
}

func TestCompactUsesRetentionCutoff(t *testing.T) {
	t.Parallel()
	fc := &fakeCompactor{removed: 3}
	s := New(Config{Retention: 48 * time.Hour}, fc, nil, logx.Nop())

	before := time.Now().UTC().Add(-48 * time.Hour)
	s.compact(context.Background())
	after := time.Now().UTC().Add(-48 * time.Hour)

	if fc.cutoff.Before(before) || fc.cutoff.After(after) {
		t.Fatalf("cutoff %v outside [%v, %v]", fc.cutoff, before, after)
	}
}

func TestCompactErrorIsSwallowed(t *testing.T) {
	t.Parallel()
	fc := &fakeCompactor{err: errors.New("disk gone")}
	s := New(Config{Retention: time.Hour}, fc, nil, logx.Nop())
	s.compact(context.Background()) // must not panic
}

func TestReloadIsNonForced(t *testing.T) {
	t.Parallel()
	fr := &fakeReloader{}
	s := New(Config{ReloadEvery: time.Minute}, nil, fr, logx.Nop())
	s.reload(context.Background())
	if fr.calls != 1 || fr.forced {
		t.Fatalf("reload calls=%d forced=%v, want one non-forced call", fr.calls, fr.forced)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	fr := &fakeReloader{}
	s := New(Config{ReloadEvery: time.Hour}, nil, fr, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
