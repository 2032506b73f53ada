package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecordsEvaluationsAndFallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveEvaluation("analytical", 2*time.Millisecond)
	c.ObserveEvaluation("analytical", time.Millisecond)
	c.SolverFallback("solver_error")
	c.ObserveGeneration("ga", 91.5)

	if got := testutil.ToFloat64(c.Evaluations.WithLabelValues("analytical")); got != 2 {
		t.Fatalf("evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.SolverFallbacks.WithLabelValues("solver_error")); got != 1 {
		t.Fatalf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.BestFitness.WithLabelValues("ga")); got != 91.5 {
		t.Fatalf("best fitness gauge = %v, want 91.5", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first collector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second collector: %v", err)
	}
	first.SolverFallback("unsupported_shape")
	if got := testutil.ToFloat64(second.SolverFallbacks.WithLabelValues("unsupported_shape")); got != 1 {
		t.Fatalf("expected shared counter, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveEvaluation("full_wave", time.Second)
	c.SolverFallback("x")
	c.ObserveSolverRun("ok", 10)
	c.ObserveGeneration("pso", 1)
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObserveSolverRun("ok", 120)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "antenna_solver_runs_total") {
		t.Fatalf("metrics output missing solver counter:\n%s", rec.Body.String())
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
