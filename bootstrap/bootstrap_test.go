package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"taskmanager/config"
)

func TestNewLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("task-api", &config.Config{Debug: true})
	logger.SetOutput(&buf)

	logger.Debug("hello")

	var entry map[string]any
	if err := sonic.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, buf.String())
	}
	if entry["service"] != "task-api" || entry["msg"] != "hello" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestHealthzReportsFailedChecks(t *testing.T) {
	e := NewEcho(prometheus.NewRegistry(), map[string]Pinger{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("refused") },
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "taskmanager_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	e := NewEcho(reg, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "taskmanager_test_total 1") {
		t.Fatalf("metric missing from output:\n%s", rec.Body.String())
	}
}

func TestNewTracerProviderInstallsGlobal(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	logger := NewLogger("test", nil)
	tp := NewTracerProvider(1, logger)
	defer ShutdownTracer(tp, time.Second, logger)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	if !span.SpanContext().IsSampled() {
		t.Fatalf("expected sampled span")
	}
	span.End()
}
