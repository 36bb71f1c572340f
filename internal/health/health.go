// Package health runs the dependency probes behind the readiness endpoint:
// document store, key store, KMS and the wipe broadcast channel.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a probe or of a whole report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a probe that does not set its own timeout.
const DefaultTimeout = 5 * time.Second

// Check is a named dependency probe. A failing critical check makes the
// whole report unhealthy; a failing non-critical one only degrades it.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Probe    func(context.Context) error
}

// Result is the outcome of one Check.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration"`
}

// Report aggregates the results of every registered check.
type Report struct {
	Status    Status    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Results   []Result  `json:"results"`
}

// Checker holds the registered probes.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	service string
	version string
}

func NewChecker(service, version string) *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		service: service,
		version: version,
	}
}

// Register adds check, replacing any check with the same name.
func (c *Checker) Register(check Check) error {
	if check.Name == "" {
		return errors.New("health check name cannot be empty")
	}
	if check.Probe == nil {
		return fmt.Errorf("health check '%s' has no probe", check.Name)
	}
	if check.Timeout <= 0 {
		check.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.checks[check.Name] = check
	c.mu.Unlock()
	return nil
}

// Ping registers a critical probe around a Ping-style function.
func (c *Checker) Ping(name string, ping func(context.Context) error) error {
	return c.Register(Check{Name: name, Critical: true, Probe: ping})
}

// Run executes every check concurrently and returns the results sorted by
// name. A report with no checks is unknown.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = execute(ctx, check)
		}(i, check)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return Report{
		Status:    overall(results),
		Service:   c.service,
		Version:   c.version,
		Timestamp: time.Now().UTC(),
		Results:   results,
	}
}

func execute(ctx context.Context, check Check) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	result := Result{Name: check.Name, Critical: check.Critical, Status: StatusHealthy}
	if err := check.Probe(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return result
}

func overall(results []Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for _, r := range results {
		if r.Status == StatusHealthy {
			continue
		}
		if r.Critical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}
