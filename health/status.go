package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/alexitosrv/atlas/component"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex         = regexp.MustCompile(`(?:https?|wss?|nats|tcp|ssl|mqtts?)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component or of the whole pipeline
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the figures attached to a component status
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesPerSecond float64       `json:"messages_per_second,omitempty"`
	ErrorRate         float64       `json:"error_rate,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

func newStatus(componentName, state, message string) Status {
	return Status{
		Component: componentName,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(componentName, message string) Status {
	return newStatus(componentName, StateHealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(componentName, message string) Status {
	return newStatus(componentName, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(componentName, message string) Status {
	return newStatus(componentName, StateUnhealthy, message)
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithSubStatus returns a copy of s with sub appended. The receiver's
// sub-status slice is never shared with the copy.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// Aggregate combines sub-statuses: unhealthy wins over degraded, which wins
// over healthy. No sub-statuses is healthy.
func Aggregate(componentName string, subs []Status) Status {
	var unhealthy, degraded []string
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(componentName, "unhealthy: "+strings.Join(unhealthy, ", "))
	case len(degraded) > 0:
		status = NewDegraded(componentName, "degraded: "+strings.Join(degraded, ", "))
	default:
		status = NewHealthy(componentName, "all components healthy")
	}

	if len(subs) > 0 {
		status.SubStatuses = make([]Status, len(subs))
		copy(status.SubStatuses, subs)
	}
	return status
}

// FromComponent converts the health and data flow a component reports. A
// healthy component that has recorded errors is degraded.
func FromComponent(name string, comp component.Discoverable) Status {
	ch := comp.Health()
	flow := comp.DataFlow()

	var status Status
	switch {
	case !ch.Healthy:
		status = NewUnhealthy(name, "component unhealthy")
	case flow.ErrorRate > 0:
		status = NewDegraded(name, "component reporting errors")
	default:
		status = NewHealthy(name, "component healthy")
	}
	if ch.LastError != "" {
		status.Message = sanitizeErrorMessage(ch.LastError)
	}

	status.Metrics = &Metrics{
		Uptime:            ch.Uptime,
		ErrorCount:        ch.ErrorCount,
		MessagesPerSecond: flow.MessagesPerSecond,
		ErrorRate:         flow.ErrorRate,
		LastActivity:      flow.LastActivity,
	}
	return status
}

// sanitizeErrorMessage replaces URLs, paths, IP addresses, ports and
// credentials with placeholders.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// URLs first, they contain paths and ports
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = windowsPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = portRegex.ReplaceAllString(msg, "[PORT]")
	return credentialRegex.ReplaceAllString(msg, "[REDACTED]")
}
