package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Health(ctx context.Context) error { return f.err }

func (f *fakePinger) HealthMetadata() map[string]string {
	return map[string]string{"pool": "ok"}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (r *recordingObserver) ObserveHealthCheck(component string, healthy bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]bool)
	}
	r.calls[component] = healthy
}

func TestService_CheckUnregistered(t *testing.T) {
	svc := NewService(nil, nil)

	check := svc.Check(context.Background(), "missing")
	assert.False(t, check.Healthy())
	assert.Equal(t, "no health check registered for missing", check.Error)

	_, cached := svc.Cached("missing")
	assert.False(t, cached)
}

func TestService_CheckCachesUntilNextRun(t *testing.T) {
	svc := NewService(nil, nil)
	pinger := &fakePinger{}
	svc.RegisterChecker("redis", NewPingChecker("redis", pinger))

	_, cached := svc.Cached("redis")
	assert.False(t, cached, "nothing is cached before the first explicit check")

	check := svc.Check(context.Background(), "redis")
	require.True(t, check.Healthy())
	assert.Equal(t, "ok", check.Metadata["pool"])

	// the backend fails, but the cache keeps the last result until the next check
	pinger.err = errors.New("connection refused")
	cachedCheck, ok := svc.Cached("redis")
	require.True(t, ok)
	assert.True(t, cachedCheck.Healthy())

	check = svc.Check(context.Background(), "redis")
	assert.False(t, check.Healthy())
	assert.Equal(t, "connection refused", check.Error)

	cachedCheck, _ = svc.Cached("redis")
	assert.False(t, cachedCheck.Healthy())
}

func TestService_CachedReturnsCopy(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("postgres", NewPingChecker("postgres", &fakePinger{}))
	svc.Check(context.Background(), "postgres")

	first, _ := svc.Cached("postgres")
	first.Metadata["pool"] = "mutated"
	first.Status = StatusUnhealthy

	second, _ := svc.Cached("postgres")
	assert.Equal(t, "ok", second.Metadata["pool"])
	assert.Equal(t, StatusHealthy, second.Status)
}

func TestService_PanickingCheck(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("flaky", NewCustomChecker("flaky", func(ctx context.Context) (Status, string, error) {
		panic("boom")
	}))

	check := svc.Check(context.Background(), "flaky")
	assert.False(t, check.Healthy())
	assert.Contains(t, check.Error, "panicked")
	assert.Equal(t, "flaky", check.Name)
}

func TestService_RegisterFunc(t *testing.T) {
	svc := NewService(nil, nil)
	var fail bool
	svc.RegisterFunc("agent", func(ctx context.Context) error {
		if fail {
			return errors.New("too many consecutive failures")
		}
		return nil
	})

	assert.True(t, svc.Check(context.Background(), "agent").Healthy())
	fail = true
	check := svc.Check(context.Background(), "agent")
	assert.False(t, check.Healthy())
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func TestService_CheckHealth(t *testing.T) {
	svc := NewService(nil, nil)
	observer := &recordingObserver{}
	svc.SetObserver(observer)

	svc.RegisterChecker("redis", NewPingChecker("redis", &fakePinger{}))
	svc.RegisterChecker("postgres", NewPingChecker("postgres", &fakePinger{err: errors.New("down")}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusUnhealthy, svc.Overall())
	assert.Len(t, svc.CachedAll(), 2)
	assert.Equal(t, []string{"postgres", "redis"}, svc.Names())

	observer.mu.Lock()
	assert.Equal(t, map[string]bool{"redis": true, "postgres": false}, observer.calls)
	observer.mu.Unlock()
}

func TestService_Overall(t *testing.T) {
	svc := NewService(nil, nil)
	assert.Equal(t, StatusUnknown, svc.Overall())

	svc.RegisterChecker("pool", NewCustomChecker("pool", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "pool running low", nil
	}))
	svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, svc.Overall())
}

func TestService_CheckTimeout(t *testing.T) {
	svc := NewService(nil, &Config{Timeout: 20 * time.Millisecond})
	svc.RegisterFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	check := svc.Check(context.Background(), "slow")
	assert.False(t, check.Healthy())
	assert.Contains(t, check.Error, "deadline exceeded")
}

func TestService_Handlers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewService(nil, nil)
	svc.RegisterChecker("redis", NewPingChecker("redis", &fakePinger{}))

	router := gin.New()
	router.GET("/health", svc.Handler())
	router.GET("/health/live", svc.LivenessHandler())
	router.GET("/health/components/:component", svc.ComponentHandler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/components/unknown", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
