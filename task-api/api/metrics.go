package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestEventName   = "task_api.request"
	requestEventDomain = "taskmanager"
	requestSpanName    = "task-api.request"
	attrPrefix         = "taskmanager.request."
	metricsContextKey  = "request_metrics"
	observabilityEvent = "observability.event"
)

// requestMetrics collects per-stage timings of one request and reports them
// as a log entry and a span when the request finishes.
type requestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	route      string
	method     string
	stages     map[string]time.Duration
	values     map[string]any
	errorStage string
	err        error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer("taskmanager/task-api").Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route), attribute.String("http.method", method)),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
		stages: map[string]time.Duration{},
		values: map[string]any{},
	}, ctx
}

// Observe records how long a stage took.
func (m *requestMetrics) Observe(stage string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.stages[stage] += d
}

// Time runs fn as the named stage.
func (m *requestMetrics) Time(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.Observe(stage, time.Since(start))
	return err
}

// Set records a request attribute.
func (m *requestMetrics) Set(key string, v any) {
	if m == nil {
		return
	}
	m.values[key] = v
}

// Fail marks the stage at which the request failed.
func (m *requestMetrics) Fail(stage string, err error) {
	if m == nil {
		return
	}
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.err = err
	}
}

func (m *requestMetrics) attributes(status int) map[string]any {
	attrs := map[string]any{
		"http.route":            m.route,
		"http.method":           m.method,
		"http.status_code":      status,
		attrPrefix + "total_ms": durationToMillis(time.Since(m.start)),
	}
	for stage, d := range m.stages {
		attrs[attrPrefix+stage+"_ms"] = durationToMillis(d)
	}
	for k, v := range m.values {
		attrs[attrPrefix+k] = v
	}
	if m.errorStage != "" {
		attrs[attrPrefix+"error_stage"] = m.errorStage
	}
	return attrs
}

// Log emits the observability event and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}
	attrs := m.attributes(status)
	severityText, severityNumber := severityForStatus(status, err)

	kvs := toKeyValues(attrs)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, kvs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}
	m.span.SetAttributes(kvs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	if err != nil || status >= http.StatusInternalServerError {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger != nil {
		fields := log.Fields{
			"event.name":      requestEventName,
			"event.domain":    requestEventDomain,
			"attributes":      attrs,
			"severity_text":   severityText,
			"severity_number": severityNumber,
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		entry := m.logger.WithFields(fields)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Log(logLevel(severityText), observabilityEvent)
	}
	m.span.End()
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func logLevel(severity string) log.Level {
	switch severity {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case []string:
			out = append(out, attribute.StringSlice(k, v))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// instrument wraps every request in requestMetrics.
func instrument(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)
			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if asHTTPError(err, &he) {
					status = he.Code
				}
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
