// Package health tracks rolling per-provider availability, latency, and
// error-rate state, plus API key rotation.
package health

import (
	"sync"
	"time"

	"github.com/voyago/llm-router/internal/types"
)

const (
	// consecutiveFailureTrip flips a provider unavailable.
	consecutiveFailureTrip = 3

	// EMA smoothing for latency and error rate.
	latencyAlpha   = 0.3
	errorRateAlpha = 0.2
)

// KeySpec configures one API key for a provider.
type KeySpec struct {
	ID         string
	Secret     string
	Type       string // primary, secondary, tertiary
	QuotaLimit int64  // token budget per reset window; 0 = unlimited
}

// ProviderSpec configures one provider's health tracking.
type ProviderSpec struct {
	Name string
	Keys []KeySpec
}

// Outcome is the result of one adapter call attempt.
type Outcome struct {
	Success   bool
	LatencyMs int64
	ErrorKind types.ErrorKind
	Tokens    int64
}

// Record is the externally visible health state of one provider. Snapshot
// returns copies, never aliases of internal mutable state.
type Record struct {
	Provider            string
	Available           bool
	QuotaRemaining      int64
	LatencyMsAvg        float64
	ErrorRate           float64
	ConsecutiveFailures int
	TotalRequests       int64
	TotalFailures       int64
	LastChecked         time.Time
	ActiveKeyID         string
}

type keyState struct {
	spec           KeySpec
	quotaUsed      int64
	quotaResetTime time.Time
	errorCount     int64
	successCount   int64
	attempts       int64
}

// providerState is guarded by its own mutex so updates to different
// providers never contend.
type providerState struct {
	mu        sync.Mutex
	record    Record
	keys      []*keyState
	activeKey int
}

// Registry holds health state for all configured providers. It never errors;
// it only records. Safe for concurrent use.
type Registry struct {
	providers map[string]*providerState
	order     []string

	// capacity delegates to the rate/cost guard; nil means always true.
	capacity func(provider string) bool

	now func() time.Time
}

// NewRegistry initializes every provider optimistically available.
func NewRegistry(specs []ProviderSpec) *Registry {
	r := &Registry{
		providers: make(map[string]*providerState, len(specs)),
		now:       time.Now,
	}
	for _, spec := range specs {
		st := &providerState{
			record: Record{
				Provider:    spec.Name,
				Available:   true,
				LastChecked: time.Now().UTC(),
			},
		}
		for _, k := range spec.Keys {
			st.keys = append(st.keys, &keyState{
				spec:           k,
				quotaResetTime: nextMidnightUTC(time.Now()),
			})
		}
		if len(st.keys) > 0 {
			st.record.ActiveKeyID = st.keys[0].spec.ID
			st.record.QuotaRemaining = st.keys[0].spec.QuotaLimit
		}
		r.providers[spec.Name] = st
		r.order = append(r.order, spec.Name)
	}
	return r
}

// SetCapacityFunc wires the guard's capacity check in after construction.
func (r *Registry) SetCapacityFunc(fn func(provider string) bool) {
	r.capacity = fn
}

// Snapshot returns a copy of every provider record. The returned map is
// owned by the caller.
func (r *Registry) Snapshot() map[string]Record {
	out := make(map[string]Record, len(r.providers))
	for name, st := range r.providers {
		st.mu.Lock()
		out[name] = st.record
		st.mu.Unlock()
	}
	return out
}

// Get returns a copy of one provider's record.
func (r *Registry) Get(provider string) (Record, bool) {
	st, ok := r.providers[provider]
	if !ok {
		return Record{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.record, true
}

// Providers returns the configured provider names in registration order.
func (r *Registry) Providers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HasCapacity reports whether the provider can accept another call right
// now, delegating to the rate/cost guard.
func (r *Registry) HasCapacity(provider string) bool {
	if _, ok := r.providers[provider]; !ok {
		return false
	}
	if r.capacity == nil {
		return true
	}
	return r.capacity(provider)
}

// RecordOutcome applies one call outcome atomically to the provider's
// record. A success after being unavailable restores availability
// immediately: a real completed call is the strongest possible evidence.
func (r *Registry) RecordOutcome(provider string, o Outcome) {
	st, ok := r.providers[provider]
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	rec := &st.record
	rec.TotalRequests++
	rec.LastChecked = r.now().UTC()

	if rec.LatencyMsAvg == 0 {
		rec.LatencyMsAvg = float64(o.LatencyMs)
	} else {
		rec.LatencyMsAvg = rec.LatencyMsAvg*(1-latencyAlpha) + float64(o.LatencyMs)*latencyAlpha
	}

	observed := 1.0
	if o.Success {
		observed = 0
	}
	rec.ErrorRate = rec.ErrorRate*(1-errorRateAlpha) + observed*errorRateAlpha

	if o.Success {
		rec.ConsecutiveFailures = 0
		rec.Available = true
		r.recordKeySuccessLocked(st, o.Tokens)
	} else {
		rec.TotalFailures++
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= consecutiveFailureTrip || o.ErrorKind == types.KindAuthFailure {
			rec.Available = false
		}
		if o.ErrorKind == types.KindAuthFailure {
			r.rotateKeyLocked(st, true)
		}
	}
	r.syncQuotaLocked(st)
}

// ActiveKey returns the current key credentials for a provider. ok is false
// when the provider has no configured keys.
func (r *Registry) ActiveKey(provider string) (id, secret string, ok bool) {
	st, exists := r.providers[provider]
	if !exists {
		return "", "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.keys) == 0 {
		return "", "", false
	}
	r.maybeResetQuotasLocked(st)
	k := st.keys[st.activeKey]
	return k.spec.ID, k.spec.Secret, true
}

// KeyStatuses returns the redacted key records for a provider.
func (r *Registry) KeyStatuses(provider string) []types.APIKeyStatus {
	st, ok := r.providers[provider]
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]types.APIKeyStatus, 0, len(st.keys))
	for i, k := range st.keys {
		successRate := 1.0
		if k.attempts > 0 {
			successRate = float64(k.successCount) / float64(k.attempts)
		}
		out = append(out, types.APIKeyStatus{
			KeyID:          k.spec.ID,
			Type:           k.spec.Type,
			Active:         i == st.activeKey,
			QuotaUsed:      k.quotaUsed,
			QuotaLimit:     k.spec.QuotaLimit,
			QuotaResetTime: k.quotaResetTime,
			ErrorCount:     k.errorCount,
			SuccessRate:    successRate,
		})
	}
	return out
}

// recordKeySuccessLocked charges token usage to the active key and rotates
// when its quota is exhausted.
func (r *Registry) recordKeySuccessLocked(st *providerState, tokens int64) {
	if len(st.keys) == 0 {
		return
	}
	r.maybeResetQuotasLocked(st)
	k := st.keys[st.activeKey]
	k.attempts++
	k.successCount++
	k.quotaUsed += tokens
	if k.spec.QuotaLimit > 0 && k.quotaUsed >= k.spec.QuotaLimit {
		r.rotateKeyLocked(st, false)
	}
}

// rotateKeyLocked advances to the next key with remaining quota. When every
// key is exhausted the active key stays put rather than thrashing.
func (r *Registry) rotateKeyLocked(st *providerState, markError bool) {
	if len(st.keys) == 0 {
		return
	}
	if markError {
		k := st.keys[st.activeKey]
		k.attempts++
		k.errorCount++
	}
	for i := 1; i <= len(st.keys); i++ {
		idx := (st.activeKey + i) % len(st.keys)
		k := st.keys[idx]
		if k.spec.QuotaLimit == 0 || k.quotaUsed < k.spec.QuotaLimit {
			st.activeKey = idx
			st.record.ActiveKeyID = k.spec.ID
			return
		}
	}
}

func (r *Registry) maybeResetQuotasLocked(st *providerState) {
	now := r.now()
	for _, k := range st.keys {
		if now.After(k.quotaResetTime) {
			k.quotaUsed = 0
			k.quotaResetTime = nextMidnightUTC(now)
		}
	}
}

func (r *Registry) syncQuotaLocked(st *providerState) {
	if len(st.keys) == 0 {
		return
	}
	k := st.keys[st.activeKey]
	if k.spec.QuotaLimit == 0 {
		st.record.QuotaRemaining = 0
		return
	}
	remaining := k.spec.QuotaLimit - k.quotaUsed
	if remaining < 0 {
		remaining = 0
	}
	st.record.QuotaRemaining = remaining
}

// NextQuotaReset returns the active key's reset time for the status view.
func (r *Registry) NextQuotaReset(provider string) time.Time {
	st, ok := r.providers[provider]
	if !ok {
		return time.Time{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.keys) == 0 {
		return time.Time{}
	}
	return st.keys[st.activeKey].quotaResetTime
}

func nextMidnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
