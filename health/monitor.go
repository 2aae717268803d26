package health

import (
	"sync"
	"time"
)

// Checker probes a dependency on demand. Checks run when readiness is
// requested, so they must be cheap.
type Checker func() Status

// Monitor tracks component health. Components either push statuses with
// Update or register a Checker that is polled on read.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
	}
}

// Update records the status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// RegisterChecker registers an on-demand probe for a component. A checker
// replaces any pushed status under the same name.
func (m *Monitor) RegisterChecker(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
}

// Get returns the current status of one component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, isChecked := m.checkers[name]
	status, pushed := m.statuses[name]
	m.mu.RUnlock()

	if isChecked {
		s := check()
		s.Component = name
		return s, true
	}
	return status, pushed
}

// Overall aggregates every component into one system status.
func (m *Monitor) Overall(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses)+len(m.checkers))
	checks := make(map[string]Checker, len(m.checkers))
	for name, check := range m.checkers {
		checks[name] = check
	}
	for name, status := range m.statuses {
		if _, dup := checks[name]; dup {
			continue
		}
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	for name, check := range checks {
		s := check()
		s.Component = name
		subs = append(subs, s)
	}
	return Aggregate(systemName, subs)
}
