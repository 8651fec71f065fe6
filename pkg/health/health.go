// Package health implements Kubernetes-style liveness and readiness probes.
//
// Probes run on background goroutines at a fixed interval and flip state
// only after a configurable number of consecutive failures or successes,
// so a single slow check does not flap the pod out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Option tunes a single probe.
type Option func(*probe)

// WithTimeout bounds one execution of the check. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(p *probe) { p.timeout = d }
}

// WithFailureThreshold sets how many consecutive failures mark the probe
// unhealthy. Default 3.
func WithFailureThreshold(n int) Option {
	return func(p *probe) { p.failAfter = n }
}

// WithSuccessThreshold sets how many consecutive successes mark the probe
// healthy again. Default 1.
func WithSuccessThreshold(n int) Option {
	return func(p *probe) { p.okAfter = n }
}

// probe is one named check plus its threshold state. The consecutive
// counters are touched only by the single loop goroutine; healthy and
// lastErr are shared with HTTP handlers through atomics.
type probe struct {
	name      string
	check     CheckFunc
	timeout   time.Duration
	failAfter int
	okAfter   int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	fails int
	oks   int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.check(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.oks = 0
		if p.fails++; p.fails >= p.failAfter {
			p.healthy.Store(false)
		}
		return
	}

	p.lastErr.Store(nil)
	p.fails = 0
	if p.oks++; p.oks >= p.okAfter {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is unhealthy", true
}

// Service aggregates liveness and readiness probes and serves them over
// HTTP. It starts not ready; call SetReady(true) once initialization is
// done and SetReady(false) to drain during shutdown.
type Service struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New creates an empty probe service.
func New() *Service {
	return &Service{}
}

// Liveness registers a check that decides whether the process should be
// restarted.
func (s *Service) Liveness(name string, check CheckFunc, opts ...Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = append(s.liveness, newProbe(name, check, opts))
}

// Readiness registers a check that decides whether the process should
// receive traffic.
func (s *Service) Readiness(name string, check CheckFunc, opts ...Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, newProbe(name, check, opts))
}

func newProbe(name string, check CheckFunc, opts []Option) *probe {
	p := &probe{
		name:      name,
		check:     check,
		timeout:   5 * time.Second,
		failAfter: 3,
		okAfter:   1,
	}
	for _, opt := range opts {
		opt(p)
	}
	// Healthy until a threshold of failures says otherwise.
	p.healthy.Store(true)
	return p
}

// Start launches one goroutine per registered probe, each executing at the
// given interval until Stop or context cancellation.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, 0, len(s.liveness)+len(s.readiness))
	probes = append(probes, s.liveness...)
	probes = append(probes, s.readiness...)
	s.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels the probe goroutines. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SetReady flips the manual readiness gate.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Ready reports whether the manual gate is open and every readiness probe
// passes.
func (s *Service) Ready() bool {
	if !s.ready.Load() {
		return false
	}
	s.mu.Lock()
	probes := s.readiness
	s.mu.Unlock()
	for _, p := range probes {
		if !p.healthy.Load() {
			return false
		}
	}
	return true
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveHandler serves the liveness endpoint: 200 while every liveness probe
// passes, 503 with per-check messages otherwise.
func (s *Service) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	probes := append([]*probe(nil), s.liveness...)
	s.mu.Unlock()
	writeProbeResponse(w, collectFailures(probes))
}

// ReadyHandler serves the readiness endpoint. The manual gate shows up as
// a "_ready" pseudo-check so drain state is visible in the body.
func (s *Service) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	probes := append([]*probe(nil), s.readiness...)
	s.mu.Unlock()

	failures := collectFailures(probes)
	if !s.ready.Load() {
		failures["_ready"] = "service is not ready"
	}
	writeProbeResponse(w, failures)
}

func collectFailures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if msg, failed := p.failure(); failed {
			failures[p.name] = msg
		}
	}
	return failures
}

func writeProbeResponse(w http.ResponseWriter, failures map[string]string) {
	resp := probeResponse{Status: "ok"}
	status := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
