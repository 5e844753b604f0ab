package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
)

// Status represents health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Predicate reports whether a dependency is usable. A nil error means ready.
type Predicate func(ctx context.Context) error

// CheckResult represents the result of a single readiness predicate
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report is the outcome of one readiness probe.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// ReadyRecorder receives the outcome of every readiness probe.
type ReadyRecorder interface {
	SetReady(ready bool)
}

// Config holds health checker configuration
type Config struct {
	// Timeout bounds each predicate call
	Timeout  time.Duration
	Recorder ReadyRecorder
	OnChange func(status Status)
}

// DefaultConfig provides default health checker settings
var DefaultConfig = Config{
	Timeout: 2 * time.Second,
}

type namedPredicate struct {
	name string
	fn   Predicate
}

// Checker runs injected readiness predicates. Liveness never consults them.
type Checker struct {
	timeout  time.Duration
	recorder ReadyRecorder
	onChange func(status Status)

	mu         sync.RWMutex
	predicates []namedPredicate
	status     Status
	last       Report
}

// NewChecker creates a new health checker
func NewChecker(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	return &Checker{
		timeout:  cfg.Timeout,
		recorder: cfg.Recorder,
		onChange: cfg.OnChange,
		status:   StatusUnknown,
		last:     Report{Status: StatusUnknown},
	}
}

// Add registers a readiness predicate under name. Adding a name twice
// replaces the earlier predicate.
func (c *Checker) Add(name string, fn Predicate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.predicates {
		if c.predicates[i].name == name {
			c.predicates[i].fn = fn
			return
		}
	}
	c.predicates = append(c.predicates, namedPredicate{name: name, fn: fn})
}

// Ready runs every predicate concurrently and records the combined outcome.
// A checker without predicates is always ready.
func (c *Checker) Ready(ctx context.Context) Report {
	c.mu.RLock()
	preds := make([]namedPredicate, len(c.predicates))
	copy(preds, c.predicates)
	c.mu.RUnlock()

	results := make([]CheckResult, len(preds))
	var wg sync.WaitGroup
	for i, p := range preds {
		wg.Add(1)
		go func(i int, p namedPredicate) {
			defer wg.Done()
			results[i] = c.run(ctx, p)
		}(i, p)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	report := Report{Status: StatusHealthy, Checks: results}
	for _, r := range results {
		if r.Status != StatusHealthy {
			report.Status = StatusUnhealthy
			break
		}
	}

	c.record(report)
	return report
}

func (c *Checker) run(ctx context.Context, p namedPredicate) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.fn(ctx)
	res := CheckResult{
		Name:      p.name,
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	return res
}

func (c *Checker) record(report Report) {
	if c.recorder != nil {
		c.recorder.SetReady(report.Status == StatusHealthy)
	}

	c.mu.Lock()
	old := c.status
	c.status = report.Status
	c.last = report
	c.mu.Unlock()

	if old != report.Status {
		logging.Info("Readiness changed",
			zap.String("from", string(old)),
			zap.String("to", string(report.Status)),
		)
		if c.onChange != nil {
			c.onChange(report.Status)
		}
	}
}

// Status returns the outcome of the last probe without running predicates.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastReport returns the last probe report.
func (c *Checker) LastReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// IsReady runs a probe and reports whether it passed.
func (c *Checker) IsReady(ctx context.Context) bool {
	return c.Ready(ctx).Status == StatusHealthy
}

// LiveHandler always answers 200 while the process is serving.
func (c *Checker) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
}

// ReadyHandler runs a probe per request: 200 when every predicate passed,
// 503 otherwise, with the report as JSON.
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Ready(r.Context())

		code := http.StatusOK
		if report.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	})
}
