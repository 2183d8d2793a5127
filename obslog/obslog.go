// Package obslog wraps zlog's context-carried structured logging with the
// vgem-specific bits the corpus's own services don't need: a process-wide
// "backtrace" flag (spec.md §7) that toggles whether an error's full %+v
// cause chain is logged, and a thin span helper over OpenTelemetry so a
// single call starts both a log scope and a trace span.
package obslog

import (
	"context"
	"fmt"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// backtrace is read without synchronization; it is set once at startup by
// cmd/vgem before any component runs, same as the teacher's own
// log-level globals.
var backtrace bool

// SetBacktrace toggles whether [Error] logs an inner error's full cause
// chain (via "%+v") instead of just its top-level message.
func SetBacktrace(b bool) { backtrace = b }

// With attaches a key/value pair to ctx's log scope, mirroring
// zlog.ContextWithValues's variadic form but as a single pair for the
// common case.
func With(ctx context.Context, key string, val any) context.Context {
	return zlog.ContextWithValues(ctx, key, fmt.Sprint(val))
}

// Info logs an info-level event through zlog, carrying whatever key/value
// pairs were attached to ctx via [With] or zlog.ContextWithValues.
func Info(ctx context.Context) *zerolog.Event { return zlog.Info(ctx) }

// Debug logs a debug-level event.
func Debug(ctx context.Context) *zerolog.Event { return zlog.Debug(ctx) }

// Error logs an error-level event for err. When the backtrace flag is set
// (see [SetBacktrace]), the full "%+v" rendering of err is attached instead
// of just err.Error().
func Error(ctx context.Context, err error) *zerolog.Event {
	ev := zlog.Error(ctx)
	if backtrace {
		return ev.Str("cause", fmt.Sprintf("%+v", err))
	}
	return ev.Err(err)
}

// TracerPrefix is the module-wide tracer name prefix; callers append their own
// package path, e.g. otel.Tracer("github.com/vgem/vgem/resolver").
const TracerPrefix = "github.com/vgem/vgem/"

// StartSpan starts a span named name under the tracer for pkg (a short
// package name, e.g. "resolver", "download", "install", "registryclient"),
// matching the teacher's one-span-per-unit-of-work idiom
// (indexer/libindex's metrics.go).
func StartSpan(ctx context.Context, pkg, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerPrefix + pkg)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if non-nil) as the span's status and ends it. It is
// meant to be deferred immediately after [StartSpan]:
//
//	ctx, span := obslog.StartSpan(ctx, "download", "Acquire")
//	defer func() { obslog.EndSpan(span, err) }()
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
