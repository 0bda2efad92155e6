// Package telemetry defines the logging, metrics, and tracing surfaces the
// runtime is built against, following this codebase's convention of
// injecting small interfaces rather than reaching for package-level
// globals. Production wiring backs Tracer with OpenTelemetry; Logger and
// Metrics are left to the host (structured logging via goa.design/clue/log
// is the house style).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits leveled, structured log lines. Arguments are alternating
	// key/value pairs, matching the structured-logging convention used by
	// this codebase's clue-backed loggers.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. Tags are trailing
	// key/value string pairs.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans. Start returns the derived context alongside the
	// Span so callers can thread it into nested calls.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the subset of an OpenTelemetry span the runtime needs: event
	// annotation, status, and error recording, plus End.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Set bundles the three telemetry surfaces for constructor injection.
// Zero-value Set fields are replaced with no-ops by WithDefaults.
type Set struct {
	Logger Logger
	Metric Metrics
	Trace  Tracer
}

// WithDefaults fills any nil field of s with a no-op implementation,
// returning a Set that is always safe to use without nil checks at call
// sites.
func WithDefaults(s Set) Set {
	if s.Logger == nil {
		s.Logger = NewNoopLogger()
	}
	if s.Metric == nil {
		s.Metric = NewNoopMetrics()
	}
	if s.Trace == nil {
		s.Trace = NewNoopTracer()
	}
	return s
}
