package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func requestFrom(actor string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if actor != "" {
		r.Header.Set(ActorHeader, actor)
	}
	return r
}

func TestRateLimiter_PerActorBudget(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, HeaderKey(ActorHeader))
	h := rl.Middleware()(okHandler())

	codes := func(actor string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom(actor))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, codes("a"))
	assert.Equal(t, http.StatusOK, codes("a"))
	assert.Equal(t, http.StatusTooManyRequests, codes("a"))
	assert.Equal(t, http.StatusOK, codes("b"), "other actors keep their own budget")
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, time.Second, nil)
	now := time.Now()
	assert.True(t, rl.allow("k", now))
	assert.False(t, rl.allow("k", now.Add(10*time.Millisecond)))
	assert.True(t, rl.allow("k", now.Add(1100*time.Millisecond)))
}

// countingScripter stands in for Redis and runs the fixed-window script as a counter.
type countingScripter struct {
	counts map[string]int64
	err    error
}

func (c *countingScripter) run(ctx context.Context, keys []string) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if c.err != nil {
		cmd.SetErr(c.err)
		return cmd
	}
	c.counts[keys[0]]++
	cmd.SetVal([]interface{}{c.counts[keys[0]], int64(42_500)})
	return cmd
}

func (c *countingScripter) Eval(ctx context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return c.run(ctx, keys)
}

func (c *countingScripter) EvalSha(ctx context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return c.run(ctx, keys)
}

func (c *countingScripter) EvalRO(ctx context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return c.run(ctx, keys)
}

func (c *countingScripter) EvalShaRO(ctx context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return c.run(ctx, keys)
}

func (c *countingScripter) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceCmd(ctx)
}

func (c *countingScripter) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringCmd(ctx)
}

func TestRedisRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rdb := &countingScripter{counts: map[string]int64{}}
	rl := NewRedisRateLimiter(rdb, 1, time.Minute, "reserve", HeaderKey(ActorHeader))
	h := rl.Middleware(logger, false)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("a"))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("a"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "43", rec.Header().Get("Retry-After"))
	assert.Equal(t, int64(2), rdb.counts["reserve:"+ActorHeader+":a"])
}

func TestRedisRateLimiter_FailOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rdb := &countingScripter{counts: map[string]int64{}, err: errors.New("connection refused")}

	open := NewRedisRateLimiter(rdb, 1, time.Minute, "", nil).Middleware(logger, true)(okHandler())
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, requestFrom(""))
	assert.Equal(t, http.StatusOK, rec.Code)

	closed := NewRedisRateLimiter(rdb, 1, time.Minute, "", nil).Middleware(logger, false)(okHandler())
	rec = httptest.NewRecorder()
	closed.ServeHTTP(rec, requestFrom(""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
}

func TestWithRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), WithRecover(logger))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOnly(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	}
	h := Only(func(r *http.Request) bool { return r.Method == http.MethodPost }, deny)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
