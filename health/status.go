// Package health tracks per-component health and serves liveness and
// readiness endpoints.
package health

import (
	"regexp"
	"time"
)

// Health states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health of one component at a point in time.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy reports whether the component is fully healthy.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports whether the component works with reduced capability.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports whether the component is down.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// Healthy creates a healthy status.
func Healthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// Degraded creates a degraded status.
func Degraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Unhealthy creates an unhealthy status. The message is sanitized: health
// endpoints are broadly reachable and error text tends to carry connection
// URLs and credentials.
func Unhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, sanitize(message))
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate folds sub-statuses into one: any unhealthy makes the aggregate
// unhealthy, otherwise any degraded makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return Healthy(component, "no components registered")
	}

	hasUnhealthy, hasDegraded := false, false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var agg Status
	switch {
	case hasUnhealthy:
		agg = Unhealthy(component, "one or more components are unhealthy")
	case hasDegraded:
		agg = Degraded(component, "one or more components are degraded")
	default:
		agg = Healthy(component, "all components are healthy")
	}
	agg.SubStatuses = make([]Status, len(subStatuses))
	copy(agg.SubStatuses, subStatuses)
	return agg
}

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://\S+`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)\S*[:=]\S+`)
)

func sanitize(message string) string {
	message = urlRegex.ReplaceAllString(message, "[URL]")
	message = credentialRegex.ReplaceAllString(message, "$1=[REDACTED]")
	return message
}
