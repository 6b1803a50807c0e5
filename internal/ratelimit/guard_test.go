package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petamap/markers-auth/internal/ttlstore"
)

func newTestGuard() *Guard {
	return NewGuard(ttlstore.NewMemory())
}

func recordFailure(t *testing.T, g *Guard, ip string) {
	t.Helper()
	_, err := g.RecordFailure(context.Background(), ip)
	require.NoError(t, err)
}

func TestCheck_CleanIP(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	st, err := g.Check(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.False(t, st.CaptchaRequired)
	assert.Zero(t, st.Delay)
}

func TestCaptchaRequiredAfterThreeFailures(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()
	ip := "10.0.0.2"

	for i := 0; i < CaptchaThreshold-1; i++ {
		recordFailure(t, g, ip)
		st, err := g.Check(ctx, ip)
		require.NoError(t, err)
		assert.False(t, st.CaptchaRequired, "after %d failures", i+1)
	}

	recordFailure(t, g, ip)
	st, err := g.Check(ctx, ip)
	require.NoError(t, err)
	assert.True(t, st.CaptchaRequired, "third failure makes the captcha mandatory")
	assert.False(t, st.Locked)
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()
	ip := "10.0.0.3"

	for i := 0; i < LockThreshold; i++ {
		recordFailure(t, g, ip)
	}

	st, err := g.Check(ctx, ip)
	require.NoError(t, err)
	assert.True(t, st.Locked, "fifth failure locks the IP")
	assert.Greater(t, st.RetryAfter, 14*time.Minute)
	assert.LessOrEqual(t, st.RetryAfter, LockDuration)
}

func TestRecordFailureReportsLockImposition(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()
	ip := "10.0.0.7"

	for i := 0; i < LockThreshold-1; i++ {
		locked, err := g.RecordFailure(ctx, ip)
		require.NoError(t, err)
		assert.False(t, locked, "after %d failures", i+1)
	}

	locked, err := g.RecordFailure(ctx, ip)
	require.NoError(t, err)
	assert.True(t, locked, "the threshold failure imposes the lock")
}

func TestLockExpires(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()
	ip := "10.0.0.4"

	for i := 0; i < LockThreshold; i++ {
		recordFailure(t, g, ip)
	}

	g.now = func() time.Time { return time.Now().Add(LockDuration + time.Minute) }

	st, err := g.Check(ctx, ip)
	require.NoError(t, err)
	assert.False(t, st.Locked, "lock must lapse after its duration")
	assert.True(t, st.CaptchaRequired, "captcha still required while the count stands")
}

func TestReset(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()
	ip := "10.0.0.5"

	for i := 0; i < LockThreshold; i++ {
		recordFailure(t, g, ip)
	}
	require.NoError(t, g.Reset(ctx, ip))

	st, err := g.Check(ctx, ip)
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.False(t, st.CaptchaRequired)
}

func TestStaleEntryPruned(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()
	ip := "10.0.0.6"

	recordFailure(t, g, ip)
	recordFailure(t, g, ip)
	recordFailure(t, g, ip)

	g.now = func() time.Time { return time.Now().Add(EntryTTL + time.Minute) }

	st, err := g.Check(ctx, ip)
	require.NoError(t, err)
	assert.False(t, st.CaptchaRequired, "entries idle for over an hour are discarded")
}

func TestIndependentIPs(t *testing.T) {
	t.Parallel()

	g := newTestGuard()
	ctx := context.Background()

	for i := 0; i < LockThreshold; i++ {
		recordFailure(t, g, "10.1.0.1")
	}

	st, err := g.Check(ctx, "10.1.0.2")
	require.NoError(t, err)
	assert.False(t, st.Locked, "other IPs are unaffected")
}

func TestProgressiveDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count int
		want  time.Duration
	}{
		{count: 0, want: 0},
		{count: 1, want: 100 * time.Millisecond},
		{count: 2, want: 200 * time.Millisecond},
		{count: 3, want: 400 * time.Millisecond},
		{count: 4, want: 800 * time.Millisecond},
		{count: 5, want: 1600 * time.Millisecond},
		{count: 6, want: 2 * time.Second},
		{count: 50, want: 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressiveDelay(tt.count), "count=%d", tt.count)
	}
}
