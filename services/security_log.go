package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SecurityEventType identifies the kind of security event
type SecurityEventType string

const (
	EventAuthSuccess        SecurityEventType = "auth_success"
	EventAuthFailure        SecurityEventType = "auth_failure"
	EventAuthBlocked        SecurityEventType = "auth_blocked"
	EventUnauthorizedAccess SecurityEventType = "unauthorized_access"
	EventRateLimitExceeded  SecurityEventType = "rate_limit_exceeded"
	EventSSRFAttempt        SecurityEventType = "ssrf_attempt"
	EventInvalidInput       SecurityEventType = "invalid_input"
	EventSuspiciousActivity SecurityEventType = "suspicious_activity"
)

// Valid reports whether t is one of the known event types
func (t SecurityEventType) Valid() bool {
	switch t {
	case EventAuthSuccess, EventAuthFailure, EventAuthBlocked, EventUnauthorizedAccess,
		EventRateLimitExceeded, EventSSRFAttempt, EventInvalidInput, EventSuspiciousActivity:
		return true
	}
	return false
}

// Severity returns the default severity for the event type
func (t SecurityEventType) Severity() string {
	switch t {
	case EventAuthSuccess, EventInvalidInput:
		return "low"
	case EventAuthBlocked, EventSSRFAttempt, EventSuspiciousActivity:
		return "high"
	default:
		return "medium"
	}
}

// SecurityEvent represents a security event for logging.
// ID, Timestamp and Severity are stamped by SecurityLogger.
type SecurityEvent struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      SecurityEventType `json:"type"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	Method    string            `json:"method,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// EventSink receives finished security events.
// Implementations must be safe for concurrent use.
type EventSink interface {
	EmitEvent(SecurityEvent)
}

// RequestInfo carries the request attributes attached to an event
type RequestInfo struct {
	IP        string
	UserAgent string
	Path      string
	Method    string
}

func (ri RequestInfo) apply(ev *SecurityEvent) {
	ev.IP = ri.IP
	ev.UserAgent = ri.UserAgent
	ev.Path = ri.Path
	ev.Method = ri.Method
}

// SecurityLogger stamps and emits security events through a sink
type SecurityLogger struct {
	mu   sync.RWMutex
	sink EventSink
	now  func() time.Time
}

// NewSecurityLogger creates a logger emitting to sink. A nil sink falls back
// to a LogrusSink configured from the environment.
func NewSecurityLogger(sink EventSink) *SecurityLogger {
	if sink == nil {
		sink = NewLogrusSinkFromEnv()
	}
	return &SecurityLogger{sink: sink, now: time.Now}
}

// SetSink swaps the sink at runtime
func (l *SecurityLogger) SetSink(sink EventSink) {
	if sink == nil {
		return
	}
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// LogSecurityEvent stamps the event and hands it to the sink
func (l *SecurityLogger) LogSecurityEvent(ev SecurityEvent) {
	ev.ID = uuid.New()
	ev.Timestamp = l.now()
	if ev.Severity == "" {
		ev.Severity = ev.Type.Severity()
	}
	if len(ev.Metadata) > 0 {
		// callers may keep mutating their map after the call
		md := make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			md[k] = v
		}
		ev.Metadata = md
	}

	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()
	sink.EmitEvent(ev)
}

// LogAuthAttempt records a successful or failed authentication
func (l *SecurityLogger) LogAuthAttempt(success bool, userID, reason string, ri RequestInfo) {
	ev := SecurityEvent{UserID: userID}
	ri.apply(&ev)
	if success {
		ev.Type = EventAuthSuccess
		ev.Message = "Authentication succeeded"
	} else {
		ev.Type = EventAuthFailure
		ev.Message = "Authentication failed"
		if reason != "" {
			ev.Message += ": " + reason
			ev.Metadata = map[string]any{"reason": reason}
		}
	}
	l.LogSecurityEvent(ev)
}

// LogUnauthorizedAccess records a request rejected by an access check
func (l *SecurityLogger) LogUnauthorizedAccess(reason string, ri RequestInfo) {
	ev := SecurityEvent{
		Type:     EventUnauthorizedAccess,
		Message:  "Unauthorized access attempt: " + reason,
		Metadata: map[string]any{"reason": reason},
	}
	ri.apply(&ev)
	l.LogSecurityEvent(ev)
}

// LogRateLimitExceeded records a request refused by the rate limiter
func (l *SecurityLogger) LogRateLimitExceeded(identifier string, cfg RateLimitConfig, ri RequestInfo) {
	ev := SecurityEvent{
		Type:    EventRateLimitExceeded,
		Message: fmt.Sprintf("Rate limit exceeded for %s", identifier),
		Metadata: map[string]any{
			"identifier":   identifier,
			"window":       cfg.Window.String(),
			"max_requests": cfg.MaxRequests,
		},
	}
	ri.apply(&ev)
	l.LogSecurityEvent(ev)
}

// LogSSRFAttempt records a blocked outbound request
func (l *SecurityLogger) LogSSRFAttempt(rawURL, reason string, ri RequestInfo) {
	ev := SecurityEvent{
		Type:     EventSSRFAttempt,
		Message:  "Blocked outbound request to unsafe URL",
		Metadata: map[string]any{"url": rawURL},
	}
	if reason != "" {
		ev.Metadata["reason"] = reason
	}
	ri.apply(&ev)
	l.LogSecurityEvent(ev)
}
