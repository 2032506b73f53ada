package fitness

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"antennaforge/internal/fdtd"
	"antennaforge/internal/model"
	"antennaforge/internal/observability"
)

type fakeSolver struct {
	result fdtd.Result
	err    error
	calls  int
}

func (f *fakeSolver) Simulate(context.Context, fdtd.Geometry) (fdtd.Result, error) {
	f.calls++
	return f.result, f.err
}

func patch(length float64) model.Params {
	return model.Params{
		"length_mm":           length,
		"width_mm":            38,
		"feed_offset_mm":      5,
		"eps_r":               4.4,
		"substrate_height_mm": 1.6,
	}
}

func targets() model.Targets {
	return model.Targets{FrequencyGHz: 2.4, BandwidthMHz: 50}
}

func newTestEvaluator(t *testing.T, opts ...Option) (*Evaluator, *observability.Collector) {
	t.Helper()
	c, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	return NewEvaluator(nil, append([]Option{WithCollector(c)}, opts...)...), c
}

func TestTunedPatchOutscoresDetuned(t *testing.T) {
	e, c := newTestEvaluator(t)
	ctx := context.Background()
	tuned, err := e.Evaluate(ctx, Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets()})
	if err != nil {
		t.Fatalf("evaluate tuned: %v", err)
	}
	detuned, err := e.Evaluate(ctx, Request{Shape: model.ShapeRectPatch, Params: patch(60), Targets: targets()})
	if err != nil {
		t.Fatalf("evaluate detuned: %v", err)
	}
	if tuned.Fitness <= detuned.Fitness {
		t.Fatalf("tuned %.3f should beat detuned %.3f", tuned.Fitness, detuned.Fitness)
	}
	if tuned.Metrics.SimulationMethod != model.MethodAnalytical {
		t.Fatalf("method = %q", tuned.Metrics.SimulationMethod)
	}
	if math.Abs(tuned.Metrics.EstimatedFreqGHz-2.4) > 0.1 {
		t.Fatalf("tuned patch resonates at %.3f GHz", tuned.Metrics.EstimatedFreqGHz)
	}
	if tuned.Metrics.EfficiencyPercent <= 0 || tuned.Metrics.EfficiencyPercent > 100 {
		t.Fatalf("efficiency = %v", tuned.Metrics.EfficiencyPercent)
	}
	if got := testutil.ToFloat64(c.Evaluations.WithLabelValues(model.MethodAnalytical)); got != 2 {
		t.Fatalf("evaluation counter = %v, want 2", got)
	}
}

func TestSubstrateOverridesBundle(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ctx := context.Background()
	p := patch(29.5)
	p["eps_r"] = 2.2
	p["substrate_height_mm"] = 0.5
	overridden, err := e.Evaluate(ctx, Request{Shape: model.ShapeRectPatch, Params: p, Targets: targets(), Substrate: "FR4"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	plain, err := e.Evaluate(ctx, Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets()})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if overridden.Fitness != plain.Fitness {
		t.Fatalf("substrate did not override bundle: %v vs %v", overridden.Fitness, plain.Fitness)
	}
	if p["eps_r"] != 2.2 {
		t.Fatal("evaluator mutated caller params")
	}

	rogers, err := e.Evaluate(ctx, Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets(), Substrate: "RO5880"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rogers.Metrics.EstimatedFreqGHz <= plain.Metrics.EstimatedFreqGHz {
		t.Fatalf("lower permittivity should raise resonance: %v vs %v", rogers.Metrics.EstimatedFreqGHz, plain.Metrics.EstimatedFreqGHz)
	}
}

func TestInvalidGeometryScoresFinite(t *testing.T) {
	e, _ := newTestEvaluator(t)
	res, err := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(0), Targets: targets()})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Metrics.InvalidGeometry {
		t.Fatal("expected invalid geometry flag")
	}
	if math.IsNaN(res.Fitness) || math.IsInf(res.Fitness, 0) {
		t.Fatalf("fitness not finite: %v", res.Fitness)
	}
	if math.IsInf(res.Metrics.VSWR, 0) || math.IsInf(res.Metrics.ReturnLossDB, 0) {
		t.Fatalf("port metrics not finite: %+v", res.Metrics)
	}
}

func TestNonFiniteLengthIsInvalid(t *testing.T) {
	e, _ := newTestEvaluator(t)
	for _, l := range []float64{math.NaN(), math.Inf(1)} {
		res, err := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(l), Targets: targets()})
		if err != nil {
			t.Fatalf("L=%v: evaluate: %v", l, err)
		}
		if !res.Metrics.InvalidGeometry {
			t.Fatalf("L=%v: expected invalid geometry flag", l)
		}
		if math.IsNaN(res.Fitness) || math.IsInf(res.Fitness, 0) {
			t.Fatalf("L=%v: fitness not finite: %v", l, res.Fitness)
		}
		if _, err := json.Marshal(res.Metrics); err != nil {
			t.Fatalf("L=%v: metrics not encodable: %v", l, err)
		}
	}
}

func TestScalarize(t *testing.T) {
	if got := Scalarize(DefaultWeights(), 0, 0, 0, 0, 5); got != 105 {
		t.Fatalf("perfect score = %v, want 105", got)
	}
	if got := FrequencyPenalty(0.1); got != 0 {
		t.Fatalf("penalty at threshold = %v", got)
	}
	if got := FrequencyPenalty(0.2); math.Abs(got-5) > 1e-9 {
		t.Fatalf("penalty at 20%% = %v, want 5", got)
	}
	withPenalty := Scalarize(DefaultWeights(), 0.2, 0, 0, 0, 0)
	want := -(0.6 * 20) - 5 + 100.0
	if math.Abs(withPenalty-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", withPenalty, want)
	}
}

func TestFullWaveFallsBackOnSolverError(t *testing.T) {
	solver := &fakeSolver{err: errors.New("grid exploded")}
	e, c := newTestEvaluator(t, WithSolver(solver))
	res, err := e.Evaluate(context.Background(), Request{
		Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets(), Mode: ModeFullWave,
	})
	if err != nil {
		t.Fatalf("solver failure must not surface: %v", err)
	}
	if solver.calls != 1 {
		t.Fatalf("solver calls = %d", solver.calls)
	}
	if res.Metrics.SimulationMethod != model.MethodAnalytical || res.Metrics.SolverFallback != FallbackSolverError {
		t.Fatalf("unexpected fallback metrics: %+v", res.Metrics)
	}
	if got := testutil.ToFloat64(c.SolverFallbacks.WithLabelValues(FallbackSolverError)); got != 1 {
		t.Fatalf("fallback counter = %v, want 1", got)
	}

	analytical, _ := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets()})
	if analytical.Fitness != res.Fitness {
		t.Fatalf("fallback score %v differs from closed-form %v", res.Fitness, analytical.Fitness)
	}
}

func TestFullWaveFallbackReasons(t *testing.T) {
	e, _ := newTestEvaluator(t)
	res, err := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets(), Mode: ModeFullWave})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Metrics.SolverFallback != FallbackUnavailable {
		t.Fatalf("fallback = %q, want %q", res.Metrics.SolverFallback, FallbackUnavailable)
	}

	solver := &fakeSolver{}
	e, _ = newTestEvaluator(t, WithSolver(solver))
	res, err = e.Evaluate(context.Background(), Request{
		Shape: model.ShapeSlot, Params: model.Params{"length_mm": 30, "width_mm": 2}, Targets: targets(), Mode: ModeFullWave,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Metrics.SolverFallback != FallbackUnsupportedShape || solver.calls != 0 {
		t.Fatalf("fallback = %q calls = %d", res.Metrics.SolverFallback, solver.calls)
	}
}

func TestFullWaveUsesSolverMetrics(t *testing.T) {
	solver := &fakeSolver{result: fdtd.Result{
		Success: true,
		Steps:   40,
		Metrics: fdtd.Metrics{ResonantFrequencyGHz: 2.4, BandwidthMHz: 100, ReturnLossDB: -20, GainDBi: 6},
	}}
	e, c := newTestEvaluator(t, WithSolver(solver))
	res, err := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets(), Mode: ModeFullWave})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	m := res.Metrics
	if m.SimulationMethod != model.MethodFullWave || m.SolverFallback != "" {
		t.Fatalf("unexpected method: %+v", m)
	}
	if math.Abs(m.VSWR-1.1/0.9) > 1e-9 {
		t.Fatalf("vswr = %v, want %v", m.VSWR, 1.1/0.9)
	}
	if m.Impedance.Real != DefaultTargetImpedanceOhm || m.ImpedanceError != 0 {
		t.Fatalf("impedance = %+v err=%v", m.Impedance, m.ImpedanceError)
	}
	want := Scalarize(DefaultWeights(), 0, 1, 0, 0, 6)
	if math.Abs(res.Fitness-want) > 1e-9 {
		t.Fatalf("fitness = %v, want %v", res.Fitness, want)
	}
	if got := testutil.ToFloat64(c.SolverRuns.WithLabelValues("ok")); got != 1 {
		t.Fatalf("solver run counter = %v", got)
	}
}

func TestCancellationPropagates(t *testing.T) {
	solver := &fakeSolver{err: context.Canceled}
	e, _ := newTestEvaluator(t, WithSolver(solver))
	_, err := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets(), Mode: ModeFullWave})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Evaluate(ctx, Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets()}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for cancelled context, got %v", err)
	}
}

func TestFullWaveWithFDTD(t *testing.T) {
	e, _ := newTestEvaluator(t, WithSolver(FDTDSolver{Config: fdtd.SimConfig{Resolution: 10}}))
	res, err := e.Evaluate(context.Background(), Request{Shape: model.ShapeRectPatch, Params: patch(29.5), Targets: targets(), Mode: ModeFullWave})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Metrics.SimulationMethod != model.MethodFullWave {
		t.Fatalf("method = %q fallback = %q", res.Metrics.SimulationMethod, res.Metrics.SolverFallback)
	}
	if res.Metrics.EstimatedFreqGHz != 2.4 || res.Metrics.FreqErrorGHz != 0 {
		t.Fatalf("solver metrics not carried: %+v", res.Metrics)
	}
}
