package audit

import (
	"context"
	"errors"

	"github.com/platinummonkey/redback/pkg/observability"
)

// LogLogger writes audit events as structured log lines
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates a logger-backed sink
func NewLogLogger(logger *observability.Logger) *LogLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

// Log writes event at info level
func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type":    string(event.EventType),
		"resource_type": string(event.ResourceType),
		"resource_name": event.ResourceName,
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	l.logger.WithFields(fields).Info("RBAC change")
	return nil
}

// MultiLogger fans events out to several sinks
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a fan-out sink; nil sinks are skipped
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log writes event to every sink, even after a failure, and joins the errors
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
