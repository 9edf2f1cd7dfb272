package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tsegert/convoy/internal/lifecycle"
)

// DependencyFailedError marks a service that was never attempted because a
// service it depends on, directly or transitively, failed. Dependency names
// the root failure, not the intermediate link.
type DependencyFailedError struct {
	Service    string
	Dependency string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("service %q not started: dependency %q failed", e.Service, e.Dependency)
}

// ServiceResult is one service's outcome in a report. Attempted separates
// "the runtime was invoked and failed" from "never attempted at all", so an
// operator can tell cause from effect.
type ServiceResult struct {
	Name      string
	State     lifecycle.State
	Err       error
	Attempted bool
}

// Report aggregates every service's outcome for one command.
type Report struct {
	mu       sync.Mutex
	services map[string]ServiceResult
	ok       bool
}

func newReport() *Report {
	return &Report{services: make(map[string]ServiceResult), ok: true}
}

func (r *Report) record(result ServiceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[result.Name] = result
	if result.Err != nil || result.State == lifecycle.StateFailed {
		r.ok = false
	}
}

// OK reports whether every service reached its intended terminal state.
func (r *Report) OK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ok
}

// Service returns the recorded outcome for one service.
func (r *Report) Service(name string) (ServiceResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.services[name]
	return result, ok
}

// Services returns all outcomes sorted by service name.
func (r *Report) Services() []ServiceResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	results := make([]ServiceResult, 0, len(r.services))
	for _, result := range r.services {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Failed returns the names of services that ended in Failed, sorted.
func (r *Report) Failed() []string {
	var names []string
	for _, result := range r.Services() {
		if result.State == lifecycle.StateFailed {
			names = append(names, result.Name)
		}
	}
	return names
}
