package bootstrap

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider installs a sampling tracer provider as the global
// provider. Finished spans are logged at debug level.
func NewTracerProvider(ratio float64, logger *log.Logger) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithSpanProcessor(spanLogger{logger: logger}),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// ShutdownTracer flushes and stops tp within timeout.
func ShutdownTracer(tp *sdktrace.TracerProvider, timeout time.Duration, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("tracer shutdown failed")
	}
}

type spanLogger struct {
	logger *log.Logger
}

func (s spanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (s spanLogger) OnEnd(span sdktrace.ReadOnlySpan) {
	if !s.logger.IsLevelEnabled(log.DebugLevel) {
		return
	}
	fields := log.Fields{
		"span":        span.Name(),
		"trace_id":    span.SpanContext().TraceID().String(),
		"duration_ms": float64(span.EndTime().Sub(span.StartTime())) / float64(time.Millisecond),
		"status":      span.Status().Code.String(),
	}
	for _, kv := range span.Attributes() {
		fields[string(kv.Key)] = kv.Value.AsInterface()
	}
	s.logger.WithFields(fields).Debug("span.end")
}

func (s spanLogger) Shutdown(context.Context) error   { return nil }
func (s spanLogger) ForceFlush(context.Context) error { return nil }
