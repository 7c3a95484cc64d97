// SPDX-License-Identifier: MIT

// Package limiter hands out concurrency tokens for probe traffic so
// the engine never holds more upstream connections than an account or
// profile allows.
package limiter

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Token is one held connection slot. Release it exactly once; extra
// releases are no-ops.
type Token struct {
	ID         string
	AccountID  int64
	ProfileID  int64
	AcquiredAt time.Time
}

// Limiter tracks in-use slots against account and profile budgets.
// A capacity of zero means unlimited. Safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	accountCap map[int64]int
	profileCap map[int64]int
	accountUse map[int64]int
	profileUse map[int64]int
	tokens     map[string]Token
	notify     chan struct{}
	logger     zerolog.Logger
}

func New() *Limiter {
	return &Limiter{
		accountCap: make(map[int64]int),
		profileCap: make(map[int64]int),
		accountUse: make(map[int64]int),
		profileUse: make(map[int64]int),
		tokens:     make(map[string]Token),
		notify:     make(chan struct{}),
		logger:     log.WithComponent("limiter"),
	}
}

// SetCapacities installs the current account and profile budgets.
// Held tokens are unaffected; new budgets apply to new acquisitions.
func (l *Limiter) SetCapacities(accounts []model.M3UAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accountCap = make(map[int64]int, len(accounts))
	l.profileCap = make(map[int64]int)
	for _, a := range accounts {
		l.accountCap[a.ID] = a.MaxStreams
		for _, p := range a.Profiles {
			l.profileCap[p.ID] = p.MaxStreams
		}
	}
}

// TryAcquire takes a slot on the account (and profile, when non-zero)
// without blocking. Account id zero is the custom-stream bucket and is
// never limited.
func (l *Limiter) TryAcquire(accountID, profileID int64) (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryAcquireLocked(accountID, profileID)
}

// Acquire blocks until a slot frees up or the context ends.
func (l *Limiter) Acquire(ctx context.Context, accountID, profileID int64) (Token, error) {
	for {
		l.mu.Lock()
		if t, ok := l.tryAcquireLocked(accountID, profileID); ok {
			l.mu.Unlock()
			return t, nil
		}
		wait := l.notify
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Token{}, ctx.Err()
		case <-wait:
		}
	}
}

func (l *Limiter) tryAcquireLocked(accountID, profileID int64) (Token, bool) {
	if accountID != 0 {
		if limit := l.accountCap[accountID]; limit > 0 && l.accountUse[accountID] >= limit {
			return Token{}, false
		}
	}
	if profileID != 0 {
		if limit := l.profileCap[profileID]; limit > 0 && l.profileUse[profileID] >= limit {
			return Token{}, false
		}
	}
	t := Token{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		ProfileID:  profileID,
		AcquiredAt: time.Now(),
	}
	l.tokens[t.ID] = t
	if accountID != 0 {
		l.accountUse[accountID]++
		l.gaugeLocked(accountID)
	}
	if profileID != 0 {
		l.profileUse[profileID]++
	}
	return t, true
}

// Release frees the token's slots. Unknown or already-released tokens
// are ignored, so double release in cleanup paths is harmless.
func (l *Limiter) Release(t Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(t.ID)
}

func (l *Limiter) releaseLocked(id string) bool {
	t, ok := l.tokens[id]
	if !ok {
		return false
	}
	delete(l.tokens, id)
	if t.AccountID != 0 {
		if l.accountUse[t.AccountID] > 0 {
			l.accountUse[t.AccountID]--
		}
		l.gaugeLocked(t.AccountID)
	}
	if t.ProfileID != 0 {
		if l.profileUse[t.ProfileID] > 0 {
			l.profileUse[t.ProfileID]--
		}
	}
	l.broadcastLocked()
	return true
}

// InUse returns the held slots on an account.
func (l *Limiter) InUse(accountID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accountUse[accountID]
}

// InUseProfile returns the held slots on a profile.
func (l *Limiter) InUseProfile(profileID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profileUse[profileID]
}

// ActiveTokens returns the total number of held tokens.
func (l *Limiter) ActiveTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

// ReapStale force-releases tokens held longer than maxAge. A healthy
// probe never holds a token anywhere near that long; survivors belong
// to crashed or wedged workers.
func (l *Limiter) ReapStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, t := range l.tokens {
		if t.AcquiredAt.After(cutoff) {
			continue
		}
		l.releaseLocked(id)
		n++
		l.logger.Warn().
			Str("event", "limiter.token.reaped").
			Str("token_id", t.ID).
			Int64("account_id", t.AccountID).
			Int64("profile_id", t.ProfileID).
			Time("acquired_at", t.AcquiredAt).
			Msg("force-released stale token")
	}
	if n > 0 {
		metrics.LimiterReapedTotal.Add(float64(n))
	}
	return n
}

// RunReaper sweeps for stale tokens until the context ends. maxAge is
// re-read every sweep so config reloads take effect.
func (l *Limiter) RunReaper(ctx context.Context, interval time.Duration, maxAge func() time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.ReapStale(maxAge())
		}
	}
}

func (l *Limiter) gaugeLocked(accountID int64) {
	metrics.LimiterTokensInUse.
		WithLabelValues(strconv.FormatInt(accountID, 10)).
		Set(float64(l.accountUse[accountID]))
}

func (l *Limiter) broadcastLocked() {
	close(l.notify)
	l.notify = make(chan struct{})
}
