package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// togglingCheck fails while *fail is true.
func togglingCheck(fail *bool) CheckFunc {
	return func(context.Context) error {
		if *fail {
			return errors.New("postgres: connection refused")
		}
		return nil
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func runTimes(h *Health, idx, n int) {
	for range n {
		h.checks[idx].run(context.Background())
	}
}

func serve(t *testing.T, handler http.HandlerFunc, path string) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		runs       int
		check      CheckFunc
		opts       []CheckOption
		wantStatus int
	}{
		{name: "passing", runs: 3, check: passingCheck(), wantStatus: http.StatusOK},
		{name: "below failure threshold", runs: 2, check: failingCheck("slow"), wantStatus: http.StatusOK},
		{name: "at failure threshold", runs: 3, check: failingCheck("slow"), wantStatus: http.StatusServiceUnavailable},
		{
			name: "custom threshold", runs: 1, check: failingCheck("slow"),
			opts: []CheckOption{WithThresholds(1, 1)}, wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.AddLivenessCheck("goroutines", time.Second, tt.check, tt.opts...)
			runTimes(h, 0, tt.runs)

			code, body := serve(t, h.LiveEndpoint, "/livez")

			assert.Equal(t, tt.wantStatus, code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
				assert.Empty(t, body.Checks)
				return
			}
			assert.Equal(t, "unhealthy", body.Status)
			assert.Equal(t, "slow", body.Checks["goroutines"])
		})
	}
}

func TestReadyEndpoint_RequiresManualReadiness(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, passingCheck())

	code, body := serve(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", body.Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = serve(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())
}

func TestReadyEndpoint_IgnoresLivenessChecks(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("goroutines", time.Second, failingCheck("leak"))
	h.AddReadinessCheck("kafka", time.Second, passingCheck())
	h.SetReady(true)
	runTimes(h, 0, 3)

	code, _ := serve(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := serve(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotContains(t, body.Checks, "kafka")
}

func TestCheck_RecoversAndLogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))
	fail := true
	h.AddReadinessCheck("postgres", time.Second, togglingCheck(&fail))
	h.SetReady(true)

	for range 3 {
		if h.checks[0].run(context.Background()) {
			h.logTransition(h.checks[0])
		}
	}
	assert.False(t, h.IsReady())

	fail = false
	if h.checks[0].run(context.Background()) {
		h.logTransition(h.checks[0])
	}
	assert.True(t, h.IsReady())

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Health check failing", logs.All()[0].Message)
	assert.Equal(t, "Health check recovered", logs.All()[1].Message)
}

func TestCheck_TimeoutApplied(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))

	h.checks[0].run(context.Background())

	assert.ErrorIs(t, h.checks[0].lastError(), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	h := New(nil)
	calls := make(chan struct{}, 16)
	h.AddLivenessCheck("tick", time.Second, func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), time.Hour)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("check did not run on start")
	}
	h.Stop()
	h.Stop()
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(pingerFunc(func(context.Context) error { return nil }))
	bad := PingCheck(pingerFunc(func(context.Context) error { return errors.New("down") }))

	require.NoError(t, ok(context.Background()))
	require.EqualError(t, bad(context.Background()), "down")
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCMaxPauseCheck(t *testing.T) {
	require.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
