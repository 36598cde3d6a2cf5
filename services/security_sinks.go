package services

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// LogrusSink writes security events as structured log lines.
// Production uses compact JSON; development uses verbose text.
type LogrusSink struct {
	logger     *logrus.Logger
	production bool
	sampler    *rate.Limiter
	suppressed atomic.Int64
}

// NewLogrusSink creates a sink writing to out
func NewLogrusSink(out io.Writer, production bool) *LogrusSink {
	l := logrus.New()
	l.SetOutput(out)
	if production {
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(logrus.InfoLevel)
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
		l.SetLevel(logrus.DebugLevel)
	}
	return &LogrusSink{logger: l, production: production}
}

// NewLogrusSinkFromEnv writes to stderr, choosing the format from GO_ENV/ENVIRONMENT
func NewLogrusSinkFromEnv() *LogrusSink {
	return NewLogrusSink(os.Stderr, IsProduction())
}

// WithSampling caps how many rate_limit_exceeded events per second are written.
// Other event types are never sampled.
func (s *LogrusSink) WithSampling(limit rate.Limit, burst int) *LogrusSink {
	if limit > 0 && burst > 0 {
		s.sampler = rate.NewLimiter(limit, burst)
	}
	return s
}

// EmitEvent implements EventSink
func (s *LogrusSink) EmitEvent(ev SecurityEvent) {
	if ev.Type == EventRateLimitExceeded && s.sampler != nil && !s.sampler.Allow() {
		s.suppressed.Add(1)
		return
	}

	fields := logrus.Fields{
		"event_id":   ev.ID.String(),
		"event_type": string(ev.Type),
		"severity":   ev.Severity,
	}
	addIf := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	addIf("ip", ev.IP)
	addIf("path", ev.Path)
	addIf("method", ev.Method)
	addIf("user_id", ev.UserID)
	if !s.production {
		addIf("user_agent", ev.UserAgent)
		for k, v := range ev.Metadata {
			fields["meta."+k] = v
		}
	} else if len(ev.Metadata) > 0 {
		fields["metadata"] = ev.Metadata
	}
	if n := s.suppressed.Swap(0); n > 0 {
		fields["suppressed_rate_limit_events"] = n
	}

	entry := s.logger.WithTime(ev.Timestamp).WithFields(fields)
	switch ev.Severity {
	case "high":
		entry.Error(ev.Message)
	case "medium":
		entry.Warn(ev.Message)
	default:
		entry.Info(ev.Message)
	}
}

// MemorySink keeps the most recent events in a bounded ring
type MemorySink struct {
	mu     sync.RWMutex
	events []SecurityEvent
	next   int
	full   bool
}

// NewMemorySink keeps up to capacity events (default 1000)
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemorySink{events: make([]SecurityEvent, capacity)}
}

// EmitEvent implements EventSink
func (m *MemorySink) EmitEvent(ev SecurityEvent) {
	m.mu.Lock()
	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Len returns the number of retained events
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}

// Events returns up to limit of the most recent events, oldest first.
// A limit <= 0 returns everything retained.
func (m *MemorySink) Events(limit int) []SecurityEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ordered []SecurityEvent
	if m.full {
		ordered = make([]SecurityEvent, 0, len(m.events))
		ordered = append(ordered, m.events[m.next:]...)
		ordered = append(ordered, m.events[:m.next]...)
	} else {
		ordered = make([]SecurityEvent, m.next)
		copy(ordered, m.events[:m.next])
	}
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// OfType returns the retained events of type t, oldest first
func (m *MemorySink) OfType(t SecurityEventType) []SecurityEvent {
	var out []SecurityEvent
	for _, ev := range m.Events(0) {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// MultiSink fans events out to several sinks in order
type MultiSink []EventSink

// EmitEvent implements EventSink
func (ms MultiSink) EmitEvent(ev SecurityEvent) {
	for _, s := range ms {
		if s != nil {
			s.EmitEvent(ev)
		}
	}
}
