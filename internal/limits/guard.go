package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/types"
)

// Window choice: fixed wall-clock windows (per-minute and per-hour buckets,
// keys include the truncated window timestamp). Fixed windows keep the
// memory and Redis stores symmetric and make the reset instant explicit in
// the retry-after hint; the boundary-burst trade-off is accepted.

// GlobalLimits apply across all providers and are checked first: a global
// denial is terminal for the request.
type GlobalLimits struct {
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	RequestsPerHour   int     `yaml:"requests_per_hour"`
	DailyBudgetUSD    float64 `yaml:"daily_budget_usd"`
}

// ProviderLimits apply per provider; a per-provider denial advances the
// fallback chain like any other provider failure.
type ProviderLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

// DenyReason distinguishes rate ceilings from budget ceilings.
type DenyReason string

const (
	ReasonRateLimit DenyReason = "rate_limit"
	ReasonCostLimit DenyReason = "cost_limit"
)

// Scope distinguishes terminal global denials from per-provider ones.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeProvider Scope = "provider"
)

// Decision is the result of a pre-flight check.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	Scope      Scope
	RetryAfter time.Duration
}

const (
	minuteTTL = 2 * time.Minute
	hourTTL   = 2 * time.Hour
	costTTL   = 48 * time.Hour
)

// Guard enforces rate and cost ceilings with reservations. Increment-then-
// check: counters are bumped first and rolled back on denial, so concurrent
// reservations can never push consumed quota past a configured limit.
type Guard struct {
	store     CounterStore
	global    GlobalLimits
	providers map[string]ProviderLimits
	logger    *logrus.Logger

	now func() time.Time
}

// NewGuard creates a guard over the given store and limit tables.
func NewGuard(store CounterStore, global GlobalLimits, providers map[string]ProviderLimits, logger *logrus.Logger) *Guard {
	if logger == nil {
		logger = logrus.New()
	}
	return &Guard{
		store:     store,
		global:    global,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

type op struct {
	key   string
	delta int64
	cost  float64
	ttl   time.Duration
}

// Reservation is a provisional hold against rate and cost budgets. Exactly
// one of Release or Commit settles it; further calls are no-ops, so a
// double release can never double-credit.
type Reservation struct {
	g       *Guard
	mu      sync.Mutex
	settled bool

	ops       []op
	tpmKey    string
	tpmTTL    time.Duration
	costKeys  []string
	estTokens int64
	estCost   float64
}

func minuteKey(scope string, minute int64) string {
	return fmt.Sprintf("rl:%s:rpm:%d", scope, minute)
}

func hourKey(scope string, hour int64) string {
	return fmt.Sprintf("rl:%s:rph:%d", scope, hour)
}

func tokensKey(provider string, minute int64) string {
	return fmt.Sprintf("rl:%s:tpm:%d", provider, minute)
}

func costKey(date, scope string) string {
	return fmt.Sprintf("cost:%s:%s", date, scope)
}

// CheckAndReserve runs the pre-flight check for one provider attempt and, if
// allowed, reserves the estimated usage. Global limits are checked before
// per-provider ones (cheapest to fail fast). Store errors fail open: limit
// accounting degrades rather than taking requests down.
func (g *Guard) CheckAndReserve(ctx context.Context, provider string, estTokens int64, estCostUSD float64) (Decision, *Reservation) {
	now := g.now()
	minute := now.Unix() / 60
	hour := now.Unix() / 3600
	date := now.UTC().Format("2006-01-02")

	res := &Reservation{g: g, estTokens: estTokens, estCost: estCostUSD}

	deny := func(reason DenyReason, scope Scope, retryAfter time.Duration) (Decision, *Reservation) {
		g.rollback(ctx, res.ops)
		return Decision{Allowed: false, Reason: reason, Scope: scope, RetryAfter: retryAfter}, nil
	}

	// Global request ceilings.
	if g.global.RequestsPerMinute > 0 {
		v, err := g.incr(ctx, res, minuteKey("global", minute), 1, minuteTTL)
		if err == nil && v > int64(g.global.RequestsPerMinute) {
			return deny(ReasonRateLimit, ScopeGlobal, untilNextMinute(now))
		}
	}
	if g.global.RequestsPerHour > 0 {
		v, err := g.incr(ctx, res, hourKey("global", hour), 1, hourTTL)
		if err == nil && v > int64(g.global.RequestsPerHour) {
			return deny(ReasonRateLimit, ScopeGlobal, untilNextHour(now))
		}
	}

	// Daily budget: refuse pre-flight when the projected spend would exceed
	// it. The provisional charge is reconciled at commit time.
	if g.global.DailyBudgetUSD > 0 {
		totalKey := costKey(date, "total")
		total, err := g.incrCost(ctx, res, totalKey, estCostUSD)
		if err == nil && total > g.global.DailyBudgetUSD {
			return deny(ReasonCostLimit, ScopeGlobal, untilNextDay(now))
		}
		res.costKeys = append(res.costKeys, totalKey)
	}

	// Per-provider ceilings.
	if pl, ok := g.providers[provider]; ok {
		if pl.RequestsPerMinute > 0 {
			v, err := g.incr(ctx, res, minuteKey(provider, minute), 1, minuteTTL)
			if err == nil && v > int64(pl.RequestsPerMinute) {
				return deny(ReasonRateLimit, ScopeProvider, untilNextMinute(now))
			}
		}
		if pl.TokensPerMinute > 0 {
			key := tokensKey(provider, minute)
			v, err := g.incr(ctx, res, key, estTokens, minuteTTL)
			if err == nil && v > int64(pl.TokensPerMinute) {
				return deny(ReasonRateLimit, ScopeProvider, untilNextMinute(now))
			}
			res.tpmKey = key
			res.tpmTTL = minuteTTL
		}
	}

	// Per-provider ledger entry; informational, no ceiling.
	if estCostUSD > 0 {
		provKey := costKey(date, provider)
		if _, err := g.incrCost(ctx, res, provKey, estCostUSD); err == nil {
			res.costKeys = append(res.costKeys, provKey)
		}
	}

	return Decision{Allowed: true}, res
}

func (g *Guard) incr(ctx context.Context, res *Reservation, key string, delta int64, ttl time.Duration) (int64, error) {
	v, err := g.store.IncrBy(ctx, key, delta, ttl)
	if err != nil {
		g.logger.WithError(err).WithField("key", key).Warn("counter store unavailable; failing open")
		return 0, err
	}
	res.ops = append(res.ops, op{key: key, delta: delta, ttl: ttl})
	return v, nil
}

func (g *Guard) incrCost(ctx context.Context, res *Reservation, key string, usd float64) (float64, error) {
	v, err := g.store.IncrCost(ctx, key, usd, costTTL)
	if err != nil {
		g.logger.WithError(err).WithField("key", key).Warn("cost ledger unavailable; failing open")
		return 0, err
	}
	res.ops = append(res.ops, op{key: key, cost: usd, ttl: costTTL})
	return v, nil
}

func (g *Guard) rollback(ctx context.Context, ops []op) {
	for _, o := range ops {
		if o.cost != 0 {
			_, _ = g.store.IncrCost(ctx, o.key, -o.cost, o.ttl)
		} else if o.delta != 0 {
			_, _ = g.store.IncrBy(ctx, o.key, -o.delta, o.ttl)
		}
	}
}

// Release undoes the reservation for an attempt that never consumed
// resources. Idempotent: the budget is returned exactly once.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.g.rollback(ctx, r.ops)
}

// Commit reconciles the reservation with real usage after a successful
// call. Request counters stand as reserved; token and cost entries are
// adjusted by the difference between actual and estimated.
func (r *Reservation) Commit(ctx context.Context, actualTokens int64, actualCostUSD float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true

	if r.tpmKey != "" && actualTokens != r.estTokens {
		_, _ = r.g.store.IncrBy(ctx, r.tpmKey, actualTokens-r.estTokens, r.tpmTTL)
	}
	if delta := actualCostUSD - r.estCost; delta != 0 {
		for _, key := range r.costKeys {
			_, _ = r.g.store.IncrCost(ctx, key, delta, costTTL)
		}
	}
}

// HasCapacity reports whether the provider's own ceilings leave room for
// another call, without reserving anything. Global ceilings are deliberately
// not consulted: a global denial is terminal for the whole request and is
// reported by CheckAndReserve, so it must not silently filter providers out
// of the chain.
func (g *Guard) HasCapacity(ctx context.Context, provider string) bool {
	now := g.now()
	minute := now.Unix() / 60

	if pl, ok := g.providers[provider]; ok {
		if pl.RequestsPerMinute > 0 {
			if v, err := g.store.Get(ctx, minuteKey(provider, minute)); err == nil && v >= int64(pl.RequestsPerMinute) {
				return false
			}
		}
		if pl.TokensPerMinute > 0 {
			if v, err := g.store.Get(ctx, tokensKey(provider, minute)); err == nil && v >= int64(pl.TokensPerMinute) {
				return false
			}
		}
	}
	return true
}

// Status externalizes one provider's window state for the status endpoint.
func (g *Guard) Status(ctx context.Context, provider string) types.RateLimitStatus {
	now := g.now()
	minute := now.Unix() / 60
	pl := g.providers[provider]

	reqUsed, _ := g.store.Get(ctx, minuteKey(provider, minute))
	tokUsed, _ := g.store.Get(ctx, tokensKey(provider, minute))

	st := types.RateLimitStatus{
		RequestsPerMinute: pl.RequestsPerMinute,
		RequestsUsed:      reqUsed,
		TokensPerMinute:   pl.TokensPerMinute,
		TokensUsed:        tokUsed,
		WindowResetAt:     now.Truncate(time.Minute).Add(time.Minute),
	}
	if pl.RequestsPerMinute > 0 {
		st.RequestsRemaining = maxInt64(0, int64(pl.RequestsPerMinute)-reqUsed)
	}
	if pl.TokensPerMinute > 0 {
		st.TokensRemaining = maxInt64(0, int64(pl.TokensPerMinute)-tokUsed)
	}
	return st
}

// GlobalStatus reports the global per-minute window for rate-limit headers.
func (g *Guard) GlobalStatus(ctx context.Context) (limit int, remaining int64, reset time.Time) {
	now := g.now()
	limit = g.global.RequestsPerMinute
	reset = now.Truncate(time.Minute).Add(time.Minute)
	if limit <= 0 {
		return limit, 0, reset
	}
	used, _ := g.store.Get(ctx, minuteKey("global", now.Unix()/60))
	remaining = maxInt64(0, int64(limit)-used)
	return limit, remaining, reset
}

// DailySpend returns today's accumulated spend for a provider ("total" for
// the cross-provider sum).
func (g *Guard) DailySpend(ctx context.Context, scope string) float64 {
	date := g.now().UTC().Format("2006-01-02")
	v, _ := g.store.GetCost(ctx, costKey(date, scope))
	return v
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

func untilNextHour(now time.Time) time.Duration {
	return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
}

func untilNextDay(now time.Time) time.Duration {
	y, m, d := now.UTC().Date()
	next := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
