package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiter_LimitThenReset(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now))
	window := 1000 * time.Millisecond

	for i := 1; i <= 3; i++ {
		d := rl.Check("station-a", 3, window)
		assert.True(t, d.Allowed, "call %d must be allowed", i)
	}

	clock.Advance(250 * time.Millisecond)
	d := rl.Check("station-a", 3, window)
	require.False(t, d.Allowed, "4th call within the window must be denied")
	assert.Equal(t, 750*time.Millisecond, d.RetryAfter)
	assert.LessOrEqual(t, d.RetryAfterMs(), int64(1000))

	clock.Advance(750 * time.Millisecond)
	d = rl.Check("station-a", 3, window)
	assert.True(t, d.Allowed, "first call after the window must be allowed")

	// the new window starts counting at 1
	assert.True(t, rl.Check("station-a", 3, window).Allowed)
	assert.True(t, rl.Check("station-a", 3, window).Allowed)
	assert.False(t, rl.Check("station-a", 3, window).Allowed)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now))

	assert.True(t, rl.Check("a", 1, time.Second).Allowed)
	assert.False(t, rl.Check("a", 1, time.Second).Allowed)
	assert.True(t, rl.Check("b", 1, time.Second).Allowed)
}

func TestRateLimiter_BoundaryBurst(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now))
	window := time.Second

	// one call opens the window, then the rest of the budget at its very end
	assert.True(t, rl.Check("k", 3, window).Allowed)
	clock.Advance(999 * time.Millisecond)
	assert.True(t, rl.Check("k", 3, window).Allowed)
	assert.True(t, rl.Check("k", 3, window).Allowed)
	clock.Advance(time.Millisecond)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Check("k", 3, window).Allowed)
	}
	// five allowed within ~1ms of each other across the boundary, as a fixed window permits
}

func TestRateLimiter_ZeroLimitDenies(t *testing.T) {
	rl := NewRateLimiter(WithClock(newFakeClock().Now))
	d := rl.Check("k", 0, time.Second)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_RetryAfterMsRoundsUp(t *testing.T) {
	d := Decision{RetryAfter: 1500 * time.Microsecond}
	assert.Equal(t, int64(2), d.RetryAfterMs())
}

func TestRateLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now))

	rl.Check("short", 5, 100*time.Millisecond)
	rl.Check("long", 5, 10*time.Second)
	require.Equal(t, 2, rl.Len())

	assert.Equal(t, 0, rl.Sweep())

	clock.Advance(200 * time.Millisecond)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_StartStop(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))

	for i := 0; i < 10; i++ {
		rl.Check(fmt.Sprintf("key-%d", i), 1, time.Second)
	}
	clock.Advance(2 * time.Second)

	rl.Start()
	rl.Start()
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 5*time.Millisecond)

	rl.Stop()
	rl.Stop()

	// no sweeping after Stop
	rl.Check("after-stop", 1, time.Millisecond)
	clock.Advance(time.Second)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_StopWithoutStart(t *testing.T) {
	rl := NewRateLimiter()
	done := make(chan struct{})
	go func() {
		rl.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop without Start must not block")
	}
	rl.Start() // no-op after Stop
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter()
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if rl.Check("shared", 100, time.Hour).Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), allowed.Load())
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now))
	handler := RateLimitMiddleware(rl, 2, time.Minute, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/registrations/by-code/ABC234", nil)
		req.RemoteAddr = "10.0.0.7:51234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do().Code)
	assert.Equal(t, http.StatusNoContent, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/checkin/verify", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	assert.Equal(t, "ip:192.0.2.10", GetIPKey(req))
	assert.Equal(t, "checkin-verify:192.0.2.10", GetStationKey(req))

	req.Header.Set(StationHeader, "gate-3")
	assert.Equal(t, "checkin-verify:gate-3", GetStationKey(req))
}
