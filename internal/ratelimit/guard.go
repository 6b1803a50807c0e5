// Package ratelimit tracks failed login attempts per client IP and decides
// when to delay, demand a captcha, or lock the client out.
//
// Keying on IP alone mirrors the production deployment behind a single
// reverse proxy. It lets one abusive client behind a NAT shadow its
// neighbours; switching the key to IP+username is a one-line change in key.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petamap/markers-auth/internal/ttlstore"
)

const (
	// CaptchaThreshold failed attempts make a human-verification challenge
	// mandatory before credentials are even looked at.
	CaptchaThreshold = 3
	// LockThreshold failed attempts lock the IP out entirely.
	LockThreshold = 5

	LockDuration = 15 * time.Minute
	// EntryTTL prunes entries after an hour of inactivity.
	EntryTTL = time.Hour

	delayBase = 100 * time.Millisecond
	delayCap  = 2 * time.Second
)

type entry struct {
	Count       int   `json:"count"`
	LastAttempt int64 `json:"last_attempt"`
	LockedUntil int64 `json:"locked_until,omitempty"`
}

// Status is the guard's verdict for a login attempt, taken before any
// credential work.
type Status struct {
	// Locked means the attempt must be rejected outright.
	Locked bool
	// RetryAfter is how long until the lock expires.
	RetryAfter time.Duration
	// CaptchaRequired means a challenge token must accompany the attempt.
	CaptchaRequired bool
	// Delay is slept before evaluating credentials.
	Delay time.Duration
}

type Guard struct {
	store ttlstore.Store
	now   func() time.Time
}

func NewGuard(store ttlstore.Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

func (g *Guard) key(ip string) string {
	return "failed_login:" + ip
}

// Check returns the verdict for ip. The lockout decision never touches the
// credential store.
func (g *Guard) Check(ctx context.Context, ip string) (Status, error) {
	e, err := g.get(ctx, ip)
	if err != nil {
		return Status{}, err
	}
	if e == nil {
		return Status{}, nil
	}

	now := g.now()
	if e.LockedUntil > 0 && e.LockedUntil > now.Unix() {
		return Status{
			Locked:     true,
			RetryAfter: time.Unix(e.LockedUntil, 0).Sub(now),
		}, nil
	}

	return Status{
		CaptchaRequired: e.Count >= CaptchaThreshold,
		Delay:           ProgressiveDelay(e.Count),
	}, nil
}

// RecordFailure bumps the counter for ip, locks it when the threshold is
// reached and reports whether this failure imposed the lock. Incrementing
// identically for unknown-user and wrong-password keeps the two
// indistinguishable.
func (g *Guard) RecordFailure(ctx context.Context, ip string) (bool, error) {
	e, err := g.get(ctx, ip)
	if err != nil {
		return false, err
	}
	if e == nil {
		e = &entry{}
	}

	now := g.now()
	e.Count++
	e.LastAttempt = now.Unix()
	locked := e.Count >= LockThreshold
	if locked {
		e.LockedUntil = now.Add(LockDuration).Unix()
	}

	return locked, g.put(ctx, ip, e)
}

// Reset clears the tracking entry after a fully successful login.
func (g *Guard) Reset(ctx context.Context, ip string) error {
	return g.store.Delete(ctx, g.key(ip))
}

// ProgressiveDelay is min(2^(count-1) * 100ms, 2s): slows rapid automated
// retries below the lockout threshold.
func ProgressiveDelay(count int) time.Duration {
	if count <= 0 {
		return 0
	}
	shift := count - 1
	if shift > 10 {
		return delayCap
	}
	d := delayBase << shift
	if d > delayCap {
		return delayCap
	}
	return d
}

func (g *Guard) get(ctx context.Context, ip string) (*entry, error) {
	data, ok, err := g.store.Get(ctx, g.key(ip))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is discarded rather than trusted.
		_ = g.store.Delete(ctx, g.key(ip))
		return nil, nil
	}

	// Lazy pruning for backends without native expiry semantics.
	if g.now().Unix()-e.LastAttempt > int64(EntryTTL.Seconds()) {
		_ = g.store.Delete(ctx, g.key(ip))
		return nil, nil
	}
	return &e, nil
}

func (g *Guard) put(ctx context.Context, ip string, e *entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, g.key(ip), data, EntryTTL); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	return nil
}
