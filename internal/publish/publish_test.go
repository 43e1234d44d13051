package publish

import (
	"context"
	"strings"
	"testing"
	"time"

	"postpilot/internal/job"
	logx "postpilot/pkg/logx"
)

func newTestGate(cfg RateGateConfig) (*RateGate, *time.Time) {
	g := NewRateGate(cfg, logx.Nop())
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestRateGateRejectsEmptyInput(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate(RateGateConfig{})

	if ok, reason, _ := g.CanPost("", "hello"); ok || reason == "" {
		t.Fatalf("empty account must be denied with a reason, got ok=%v reason=%q", ok, reason)
	}
	if ok, _, _ := g.CanPost("acc1", "   "); ok {
		t.Fatal("empty content must be denied")
	}
}

func TestRateGatePacesPosts(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate(RateGateConfig{MinInterval: time.Hour, Burst: 1, DailyLimit: 100})

	if ok, _, _ := g.CanPost("acc1", "one"); !ok {
		t.Fatal("first post should pass")
	}
	ok, reason, risk := g.CanPost("acc1", "two")
	if ok {
		t.Fatal("second immediate post should be paced")
	}
	if risk != RiskMedium || !strings.Contains(reason, "frequently") {
		t.Fatalf("unexpected denial: %q (%s)", reason, risk)
	}

	// Other accounts have their own bucket.
	if ok, _, _ := g.CanPost("acc2", "one"); !ok {
		t.Fatal("pacing must be per account")
	}
}

func TestRateGateDailyLimitResets(t *testing.T) {
	t.Parallel()
	g, now := newTestGate(RateGateConfig{MinInterval: time.Millisecond, Burst: 10, DailyLimit: 2})

	g.RecordPostSuccess("acc1", "a")
	g.RecordPostSuccess("acc1", "b")
	if ok, reason, _ := g.CanPost("acc1", "c"); ok || !strings.Contains(reason, "daily post limit") {
		t.Fatalf("expected daily limit denial, got ok=%v reason=%q", ok, reason)
	}

	*now = now.Add(24 * time.Hour)
	if ok, _, _ := g.CanPost("acc1", "c"); !ok {
		t.Fatal("daily counter must reset on the next day")
	}
}

func TestRateGateFreezesAfterHighRisk(t *testing.T) {
	t.Parallel()
	g, now := newTestGate(RateGateConfig{MinInterval: time.Millisecond, Burst: 10, FreezeAfter: time.Hour, MaxRiskScore: 10})

	g.RecordHighRiskEvent("acc1", "captcha_challenge")
	ok, reason, risk := g.CanPost("acc1", "post")
	if ok || risk != RiskHigh || !strings.Contains(reason, "frozen") {
		t.Fatalf("expected freeze denial, got ok=%v reason=%q risk=%s", ok, reason, risk)
	}

	*now = now.Add(2 * time.Hour)
	if ok, _, _ := g.CanPost("acc1", "post"); !ok {
		t.Fatal("freeze must expire")
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, err := r.Resolve(job.PlatformThreads); err == nil {
		t.Fatal("expected error for unregistered platform")
	}

	called := false
	r.Register(job.PlatformThreads, PublisherFunc(func(_ context.Context, _ Request, _ StatusUpdater) (Outcome, error) {
		called = true
		return Outcome{Success: true}, nil
	}))

	p, err := r.Resolve(job.PlatformThreads)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := p.Publish(context.Background(), Request{AccountID: "acc1", Content: "hi"}, NopStatus)
	if err != nil || !out.Success || !called {
		t.Fatalf("publish via registry failed: %+v, %v", out, err)
	}

	if got := r.Platforms(); len(got) != 1 || got[0] != job.PlatformThreads {
		t.Fatalf("Platforms() = %v", got)
	}
}
