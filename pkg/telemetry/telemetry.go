// Package telemetry defines the logging/tracing/metrics ports the core
// consumes, plus a default implementation over the standard library.
// Implementations backed by goa.design/clue and OpenTelemetry live alongside
// this port in the same package, so importing it also imports those modules.
package telemetry

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the structured logging port used throughout the core.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Span is a single active trace span.
type Span interface {
	End()
	SetError(err error)
	SetAttributes(keyvals ...any)
}

// Tracer starts spans around scheduler/agent operations.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// Metrics records counters and durations for core operations.
type Metrics interface {
	IncCounter(name string, keyvals ...any)
	ObserveDuration(name string, seconds float64, keyvals ...any)
}

// SlogLogger adapts log/slog to Logger. It is the module's default,
// dependency-free logging implementation.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l, or a process-default JSON logger over stderr if l
// is nil.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	s.l.DebugContext(ctx, msg, keyvals...)
}
func (s *SlogLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	s.l.InfoContext(ctx, msg, keyvals...)
}
func (s *SlogLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	s.l.WarnContext(ctx, msg, keyvals...)
}
func (s *SlogLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	s.l.ErrorContext(ctx, msg, keyvals...)
}

// NoopMetrics discards every recording. Used where no metrics backend is
// configured.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(name string, keyvals ...any)                      {}
func (NoopMetrics) ObserveDuration(name string, seconds float64, keyvals ...any) {}

// NoopTracer starts spans that do nothing. Used where no tracing backend is
// configured.
type NoopTracer struct{}

type noopSpan struct{}

func (noopSpan) End()                          {}
func (noopSpan) SetError(err error)            {}
func (noopSpan) SetAttributes(keyvals ...any) {}

func (NoopTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
