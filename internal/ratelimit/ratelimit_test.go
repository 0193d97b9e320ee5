package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour, IdleTTL: time.Minute})
	l.now = clk.Now
	t.Cleanup(l.Stop)
	return l, clk
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("1.2.3.4"))

	clk.Advance(time.Second)
	assert.True(t, l.Allow("1.2.3.4"), "one token refills per second at 60 rpm")
}

func TestLimiter_ClientsIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 2)

	l.Allow("a")
	l.Allow("a")
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiter_EvictsIdle(t *testing.T) {
	l, clk := newTestLimiter(t, 60, 2)

	l.Allow("a")
	clk.Advance(30 * time.Second)
	l.Allow("b")
	clk.Advance(45 * time.Second)
	l.evictIdle()

	assert.Equal(t, 1, l.Len())
}

func TestLimiter_StopIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware_Returns429(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 1)

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}
