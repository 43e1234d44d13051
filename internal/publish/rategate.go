package publish

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "postpilot/pkg/logx"
)

// RateGateConfig tunes the per-account posting limits.
//
// Defaults (applied when fields are zero): at most one post per 10 minutes
// with a burst of 1, 20 posts per day, and a 1h freeze after a high-risk
// event.
type RateGateConfig struct {
	MinInterval  time.Duration
	Burst        int
	DailyLimit   int
	FreezeAfter  time.Duration
	MaxRiskScore int
}

func (c RateGateConfig) withDefaults() RateGateConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 10 * time.Minute
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 20
	}
	if c.FreezeAfter <= 0 {
		c.FreezeAfter = time.Hour
	}
	if c.MaxRiskScore <= 0 {
		c.MaxRiskScore = 3
	}
	return c
}

type accountState struct {
	limiter     *rate.Limiter
	postedToday int
	day         string // UTC calendar day the counter belongs to
	frozenUntil time.Time
	riskScore   int
	lastError   string
}

// RateGate is the default safety gate: per-account token-bucket pacing,
// a daily cap, and a freeze window after high-risk events. All state is
// in-memory; a restart starts the account fresh, which errs on the
// permissive side and is acceptable because the platforms enforce their
// own hard limits.
type RateGate struct {
	cfg RateGateConfig
	log logx.Logger
	now func() time.Time

	mu       sync.Mutex
	accounts map[string]*accountState
}

func NewRateGate(cfg RateGateConfig, log logx.Logger) *RateGate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RateGate{
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
		accounts: map[string]*accountState{},
	}
}

func (g *RateGate) state(accountID string) *accountState {
	st, ok := g.accounts[accountID]
	if !ok {
		st = &accountState{
			limiter: rate.NewLimiter(rate.Every(g.cfg.MinInterval), g.cfg.Burst),
		}
		g.accounts[accountID] = st
	}
	now := g.now().UTC()
	if day := now.Format("2006-01-02"); st.day != day {
		st.day = day
		st.postedToday = 0
	}
	return st
}

func (g *RateGate) CanPost(accountID, content string) (bool, string, RiskLevel) {
	if strings.TrimSpace(accountID) == "" {
		return false, "job has no account assigned", RiskLow
	}
	if strings.TrimSpace(content) == "" {
		return false, "empty content", RiskLow
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(accountID)
	now := g.now()

	if now.Before(st.frozenUntil) {
		return false, fmt.Sprintf("account frozen until %s after high-risk activity", st.frozenUntil.UTC().Format(time.RFC3339)), RiskHigh
	}
	if st.riskScore >= g.cfg.MaxRiskScore {
		return false, fmt.Sprintf("account risk score %d at limit", st.riskScore), RiskHigh
	}
	if st.postedToday >= g.cfg.DailyLimit {
		return false, fmt.Sprintf("daily post limit reached (%d)", g.cfg.DailyLimit), RiskMedium
	}
	if !st.limiter.Allow() {
		return false, "posting too frequently", RiskMedium
	}
	return true, "", RiskLow
}

func (g *RateGate) RecordPostSuccess(accountID, content string) {
	_ = content
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(accountID)
	st.postedToday++
	if st.riskScore > 0 {
		st.riskScore--
	}
}

func (g *RateGate) RecordPostError(accountID, errorType, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(accountID)
	st.lastError = errorType + ": " + message
	g.log.Debug("gate recorded post error",
		logx.String("account", accountID),
		logx.String("type", errorType))
}

func (g *RateGate) RecordHighRiskEvent(accountID, eventType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(accountID)
	st.riskScore++
	st.frozenUntil = g.now().Add(g.cfg.FreezeAfter)
	g.log.Warn("high-risk event recorded",
		logx.String("account", accountID),
		logx.String("event", eventType),
		logx.Int("risk_score", st.riskScore),
		logx.Time("frozen_until", st.frozenUntil))
}
