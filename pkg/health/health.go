// Package health serves liveness and readiness probes.
//
// Every registered check runs in its own goroutine at a fixed interval. A check
// turns unhealthy after FailureThreshold consecutive failures and healthy again
// after SuccessThreshold consecutive successes, so a single slow ping does not
// flap the probe.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind tells which probe a check contributes to.
type Kind string

const (
	Liveness  Kind = "liveness"
	Readiness Kind = "readiness"
)

// CheckOption tunes a single check.
type CheckOption func(*check)

// WithThresholds overrides the default failure (3) and success (1) thresholds.
func WithThresholds(failure, success int) CheckOption {
	return func(c *check) {
		if failure > 0 {
			c.failureThreshold = failure
		}
		if success > 0 {
			c.successThreshold = success
		}
	}
}

// check holds the configuration and state of one registered check. run is
// only called from the check's own goroutine; HTTP handlers read the healthy
// flag and last error atomically.
type check struct {
	kind             Kind
	name             string
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	consecutiveFails int
	consecutiveOK    int
}

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once and reports whether its health flipped.
func (c *check) run(ctx context.Context) (changed bool) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.consecutiveOK = 0
		c.consecutiveFails++
		if c.consecutiveFails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.consecutiveFails = 0
		c.consecutiveOK++
		if c.consecutiveOK >= c.successThreshold {
			c.healthy.Store(true)
		}
	}
	return was != c.healthy.Load()
}

// Health manages liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool
	lg    *zap.Logger

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health in the not-ready state. Call SetReady(true) once the
// service has finished initialization.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(Liveness, name, timeout, fn, opts)
}

// AddReadinessCheck registers a check that decides whether the service may
// receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(Readiness, name, timeout, fn, opts)
}

func (h *Health) add(kind Kind, name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) {
	c := &check{
		kind:             kind,
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// Start runs every registered check immediately and then at interval, until
// Stop is called or ctx is cancelled.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append([]*check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		go h.loop(ctx, c, interval)
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.run(ctx) {
			h.logTransition(c)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) logTransition(c *check) {
	fields := []zap.Field{
		zap.String("check", c.name),
		zap.String("kind", string(c.kind)),
	}
	if c.healthy.Load() {
		h.lg.Info("Health check recovered", fields...)
		return
	}
	h.lg.Warn("Health check failing", append(fields, zap.Error(c.lastError()))...)
}

// SetReady sets the manual readiness flag: true after initialization, false
// when draining before shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// Stop cancels all background check goroutines. It is safe to call Stop
// multiple times.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} while all liveness checks
// pass, otherwise 503 with the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. It also fails while the service is not marked
// ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeResponse(w, failures)
}

// failures maps unhealthy checks of the given kind to their last error. It
// reads stored state and never re-runs a check.
func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.kind != kind || c.healthy.Load() {
			continue
		}
		if err := c.lastError(); err != nil {
			out[c.name] = err.Error()
		} else {
			out[c.name] = "check is unhealthy"
		}
	}
	return out
}

func writeResponse(w http.ResponseWriter, failures map[string]string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
