// Package health provides Kubernetes-style liveness and readiness probes.
//
// Checks are run on demand: every probe request executes all checks of its
// kind concurrently, each bounded by its own timeout.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc is a health check function. It should return nil if the checked
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Health manages liveness and readiness checks for a service.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []check
	readiness []check
}

// New creates a new Health instance. The service starts in a not-ready state;
// call SetReady(true) once the service has finished initialization.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that tells whether the process itself
// is functioning.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a check that tells whether the service can
// take traffic, e.g. database or Redis connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, check{name: name, timeout: timeout, fn: fn})
}

// SetReady toggles the manual readiness flag. It is set after startup and
// cleared at the beginning of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Live runs the liveness checks and returns the failures by check name.
func (h *Health) Live(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := h.liveness
	h.mu.RUnlock()
	return runChecks(ctx, checks)
}

// Ready runs the readiness checks and returns the failures by check name.
// A cleared readiness flag is reported as the "_readiness" failure.
func (h *Health) Ready(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := h.readiness
	h.mu.RUnlock()

	failures := runChecks(ctx, checks)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return failures
}

func runChecks(ctx context.Context, checks []check) map[string]string {
	errs := make([]error, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			errs[i] = c.fn(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]string)
	for i, err := range errs {
		if err != nil {
			failures[checks[i].name] = err.Error()
		}
	}
	return failures
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} when every liveness check
// passes, 503 {"status":"unhealthy","checks":{...}} otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.Live(r.Context()))
}

// ReadyEndpoint serves /readyz with the same body as LiveEndpoint.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.Ready(r.Context()))
}

func writeResponse(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
