// Package fitness scores antenna geometries against electrical targets.
// Scores come from the closed-form models, or from the full-wave solver
// when requested; solver failures always degrade to the closed-form path.
package fitness

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"antennaforge/internal/emmodel"
	"antennaforge/internal/fdtd"
	"antennaforge/internal/logging"
	"antennaforge/internal/materials"
	"antennaforge/internal/model"
	"antennaforge/internal/observability"
)

type Mode string

const (
	ModeAnalytical Mode = "analytical"
	ModeFullWave   Mode = "full_wave"
)

// Fallback reasons recorded in Metrics.SolverFallback.
const (
	FallbackUnavailable      = "solver_unavailable"
	FallbackUnsupportedShape = "unsupported_shape"
	FallbackSolverError      = "solver_error"
)

const (
	DefaultTargetGainDBi        = 5.0
	DefaultTargetImpedanceOhm   = 50.0
	DefaultSubstrateThicknessMM = 1.6
	DefaultConductorThicknessUM = 35.0
	DefaultFeedWidthMM          = 2.0

	freqPenaltyThreshold = 0.10
	freqPenaltyScale     = 500.0
	fitnessShift         = 100.0

	// JSON cannot carry infinities, so unbounded port figures are capped.
	maxVSWR         = 1e6
	minReturnLossDB = -100.0
	worstFitness    = -1e9
)

// Weights scale the normalized error terms of the scalar fitness.
type Weights struct {
	Frequency float64 `json:"freq_error"`
	Bandwidth float64 `json:"bandwidth_error"`
	Impedance float64 `json:"impedance_error"`
	Gain      float64 `json:"gain_error"`
	GainBonus float64 `json:"gain_bonus"`
}

func DefaultWeights() Weights {
	return Weights{Frequency: 0.6, Bandwidth: 0.3, Impedance: 0.15, Gain: 0.1, GainBonus: 0.1}
}

// Request is one evaluation. Zero-valued optional fields take the package
// defaults.
type Request struct {
	Shape   model.Shape
	Params  model.Params
	Targets model.Targets
	// Substrate names a registry material; unknown names resolve to FR4.
	Substrate            string
	SubstrateThicknessMM float64
	Conductor            string
	ConductorThicknessUM float64
	Weights              Weights
	Mode                 Mode
}

type Result struct {
	Fitness float64       `json:"fitness"`
	Metrics model.Metrics `json:"metrics"`
}

// Solver runs a full-wave simulation of one geometry.
type Solver interface {
	Simulate(ctx context.Context, geom fdtd.Geometry) (fdtd.Result, error)
}

// FDTDSolver adapts fdtd.Simulate to Solver.
type FDTDSolver struct {
	Config fdtd.SimConfig
}

func (s FDTDSolver) Simulate(ctx context.Context, geom fdtd.Geometry) (fdtd.Result, error) {
	return fdtd.Simulate(ctx, geom, s.Config)
}

type Evaluator struct {
	registry *materials.Registry
	solver   Solver
	log      logging.Logger
	metrics  *observability.Collector
	tracer   trace.Tracer
}

type Option func(*Evaluator)

func WithSolver(s Solver) Option {
	return func(e *Evaluator) { e.solver = s }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) { e.log = logging.OrNoop(l) }
}

func WithCollector(c *observability.Collector) Option {
	return func(e *Evaluator) { e.metrics = c }
}

// NewEvaluator builds an evaluator over reg. A nil registry uses
// materials.Default().
func NewEvaluator(reg *materials.Registry, opts ...Option) *Evaluator {
	if reg == nil {
		reg = materials.Default()
	}
	e := &Evaluator{
		registry: reg,
		log:      logging.Noop(),
		tracer:   observability.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type resolved struct {
	params      model.Params
	targets     model.Targets
	weights     Weights
	epsR        float64
	heightMM    float64
	lossTangent float64
	conductUM   float64
	sigma       float64
	nonFinite   bool
}

func (e *Evaluator) resolve(req Request) resolved {
	name := req.Substrate
	if name == "" {
		name = materials.DefaultSubstrate
	}
	sub, _ := e.registry.Resolve(name)

	height := req.SubstrateThicknessMM
	if !usable(height) {
		height = sub.ThicknessMM
	}
	if !usable(height) {
		height = DefaultSubstrateThicknessMM
	}
	sigma := materials.DefaultConductivity
	if req.Conductor != "" {
		if c, err := e.registry.Conductor(req.Conductor); err == nil {
			sigma = c.Conductivity
		}
	}
	thick := req.ConductorThicknessUM
	if !usable(thick) {
		thick = DefaultConductorThicknessUM
	}

	p := req.Params.Clone()
	if p == nil {
		p = model.Params{}
	}
	// Non-finite dimensions are dropped so the models see a missing value
	// and substitute their fallbacks.
	nonFinite := false
	for k, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			delete(p, k)
			nonFinite = true
		}
	}
	p["eps_r"] = sub.EpsR
	p["substrate_height_mm"] = height

	t := req.Targets
	if t.GainDBi == 0 {
		t.GainDBi = DefaultTargetGainDBi
	}
	if t.ImpedanceOhm == 0 {
		t.ImpedanceOhm = DefaultTargetImpedanceOhm
	}
	w := req.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return resolved{
		params:      p,
		targets:     t,
		weights:     w,
		epsR:        sub.EpsR,
		heightMM:    height,
		lossTangent: sub.LossTangent,
		conductUM:   thick,
		sigma:       sigma,
		nonFinite:   nonFinite,
	}
}

// Evaluate scores one geometry. The only errors returned are context
// errors; every model or solver problem is reflected in the metrics.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx, span := e.tracer.Start(ctx, "fitness.evaluate",
		trace.WithAttributes(attribute.String("shape", string(req.Shape)), attribute.String("mode", string(req.Mode))))
	defer span.End()
	start := time.Now()

	r := e.resolve(req)
	if req.Mode == ModeFullWave {
		res, reason, err := e.fullWave(ctx, req.Shape, r)
		if err != nil {
			return Result{}, err
		}
		if reason == "" {
			e.metrics.ObserveEvaluation(model.MethodFullWave, time.Since(start))
			return res, nil
		}
		out := e.analytical(req.Shape, r)
		out.Metrics.SolverFallback = reason
		e.metrics.ObserveEvaluation(model.MethodAnalytical, time.Since(start))
		return out, nil
	}

	out := e.analytical(req.Shape, r)
	e.metrics.ObserveEvaluation(model.MethodAnalytical, time.Since(start))
	e.log.Debug(ctx, "evaluated candidate",
		logging.Float("fitness", out.Fitness),
		logging.Float("freq_ghz", out.Metrics.EstimatedFreqGHz),
		logging.Float("gain_dbi", out.Metrics.GainDBi),
		logging.Float("vswr", out.Metrics.VSWR))
	return out, nil
}

// fullWave runs the solver. A non-empty reason means the caller must fall
// back to the closed-form path.
func (e *Evaluator) fullWave(ctx context.Context, shape model.Shape, r resolved) (Result, string, error) {
	reason := ""
	switch {
	case e.solver == nil:
		reason = FallbackUnavailable
	case shape != model.ShapeRectPatch:
		reason = FallbackUnsupportedShape
	}
	if reason != "" {
		e.fallback(ctx, reason, nil)
		return Result{}, reason, nil
	}

	sim, err := e.solver.Simulate(ctx, fdtd.GeometryFromParams(shape, r.params, r.targets.FrequencyGHz))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, "", err
		}
		e.fallback(ctx, FallbackSolverError, err)
		return Result{}, FallbackSolverError, nil
	}
	if !sim.Success {
		e.fallback(ctx, FallbackSolverError, nil)
		return Result{}, FallbackSolverError, nil
	}
	outcome := "ok"
	if sim.Unstable {
		outcome = "unstable"
	}
	e.metrics.ObserveSolverRun(outcome, sim.Steps)
	return e.scoreFullWave(r, sim), "", nil
}

func (e *Evaluator) fallback(ctx context.Context, reason string, err error) {
	fields := []logging.Field{logging.String("reason", reason)}
	if err != nil {
		fields = append(fields, logging.Err(err))
	}
	e.log.Warn(ctx, "full-wave solver unavailable, using closed-form models", fields...)
	e.metrics.SolverFallback(reason)
}

func (e *Evaluator) analytical(shape model.Shape, r resolved) Result {
	p := r.params
	t := r.targets
	fres := emmodel.ResonantFrequency(shape, p)
	bw := emmodel.Bandwidth(shape, p, fres.Value)

	loss := emmodel.FeedLoss(t.FrequencyGHz, 0.5*p.Get("length_mm", 30), p.Get("feed_width_mm", DefaultFeedWidthMM),
		r.conductUM, r.sigma, r.epsR, r.heightMM, r.lossTangent)
	gain := emmodel.Gain(shape, p, loss.Efficiency)
	port := emmodel.Port(emmodel.InputImpedance(shape, p, t.FrequencyGHz), emmodel.Z0)

	m := model.Metrics{
		EstimatedFreqGHz:      fres.Value,
		EstimatedBandwidthMHz: bw.Value,
		FreqErrorGHz:          math.Abs(fres.Value - t.FrequencyGHz),
		BandwidthErrorMHz:     math.Abs(bw.Value - t.BandwidthMHz),
		GainDBi:               gain,
		ReturnLossDB:          math.Max(minReturnLossDB, port.ReturnLossDB),
		VSWR:                  math.Min(maxVSWR, port.VSWR),
		Impedance:             model.Impedance{Real: real(port.Impedance), Imag: imag(port.Impedance)},
		ConductorLossDB:       loss.ConductorDB,
		DielectricLossDB:      loss.DielectricDB,
		TotalLossDB:           loss.TotalDB,
		EfficiencyPercent:     loss.Efficiency * 100,
		SimulationMethod:      model.MethodAnalytical,
		InvalidGeometry:       fres.Invalid || bw.Invalid || r.nonFinite,
	}
	terms := errorTerms(t, fres.Value, bw.Value, m.Impedance.Real, gain)
	m.ImpedanceError = terms.impedance
	m.GainError = terms.gain
	return Result{Fitness: finiteFitness(Scalarize(r.weights, terms.frequency, terms.bandwidth, terms.impedance, terms.gain, gain)), Metrics: m}
}

func usable(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}

// finiteFitness maps a NaN or infinite score to worstFitness.
func finiteFitness(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return worstFitness
	}
	return f
}

// scoreFullWave uses the solver's figures. The solver does not estimate
// impedance, so the target impedance stands in and VSWR is derived from
// the return loss.
func (e *Evaluator) scoreFullWave(r resolved, sim fdtd.Result) Result {
	p := r.params
	t := r.targets
	sm := sim.Metrics
	gammaMag := math.Pow(10, sm.ReturnLossDB/20)
	loss := emmodel.FeedLoss(t.FrequencyGHz, 0.5*p.Get("length_mm", 30), p.Get("feed_width_mm", DefaultFeedWidthMM),
		r.conductUM, r.sigma, r.epsR, r.heightMM, r.lossTangent)

	m := model.Metrics{
		EstimatedFreqGHz:      sm.ResonantFrequencyGHz,
		EstimatedBandwidthMHz: sm.BandwidthMHz,
		FreqErrorGHz:          sm.FrequencyErrorGHz,
		BandwidthErrorMHz:     math.Abs(sm.BandwidthMHz - t.BandwidthMHz),
		GainDBi:               sm.GainDBi,
		ReturnLossDB:          math.Max(minReturnLossDB, sm.ReturnLossDB),
		VSWR:                  math.Min(maxVSWR, emmodel.VSWR(complex(gammaMag, 0))),
		Impedance:             model.Impedance{Real: t.ImpedanceOhm},
		ConductorLossDB:       loss.ConductorDB,
		DielectricLossDB:      loss.DielectricDB,
		TotalLossDB:           loss.TotalDB,
		EfficiencyPercent:     loss.Efficiency * 100,
		SimulationMethod:      model.MethodFullWave,
		SolverUnstable:        sim.Unstable,
	}
	terms := errorTerms(t, t.FrequencyGHz+sm.FrequencyErrorGHz, sm.BandwidthMHz, t.ImpedanceOhm, sm.GainDBi)
	m.ImpedanceError = terms.impedance
	m.GainError = terms.gain
	return Result{Fitness: finiteFitness(Scalarize(r.weights, terms.frequency, terms.bandwidth, terms.impedance, terms.gain, sm.GainDBi)), Metrics: m}
}

type normalizedErrors struct {
	frequency, bandwidth, impedance, gain float64
}

// errorTerms normalizes each error by its target. A zero frequency or
// bandwidth target counts as a full miss; a zero impedance or gain target
// disables that term.
func errorTerms(t model.Targets, freqGHz, bwMHz, resistance, gainDBi float64) normalizedErrors {
	e := normalizedErrors{frequency: 1, bandwidth: 1}
	if t.FrequencyGHz > 0 {
		e.frequency = math.Abs(freqGHz-t.FrequencyGHz) / t.FrequencyGHz
	}
	if t.BandwidthMHz > 0 {
		e.bandwidth = math.Abs(bwMHz-t.BandwidthMHz) / t.BandwidthMHz
	}
	if t.ImpedanceOhm > 0 {
		e.impedance = math.Abs(resistance-t.ImpedanceOhm) / t.ImpedanceOhm
	}
	if t.GainDBi > 0 {
		e.gain = math.Max(0, t.GainDBi-gainDBi) / t.GainDBi
	}
	return e
}

// FrequencyPenalty is the quadratic penalty applied once the normalized
// frequency error exceeds 10%.
func FrequencyPenalty(freqErr float64) float64 {
	if freqErr <= freqPenaltyThreshold {
		return 0
	}
	d := freqErr - freqPenaltyThreshold
	return d * d * freqPenaltyScale
}

// Scalarize combines normalized errors into the fitness score. Higher is
// better; the +100 shift keeps typical scores positive.
func Scalarize(w Weights, freqErr, bwErr, impErr, gainErr, gainDBi float64) float64 {
	weighted := w.Frequency*freqErr*100 +
		w.Bandwidth*bwErr*100 +
		w.Impedance*impErr*100 +
		w.Gain*gainErr*100 -
		w.GainBonus*gainDBi*10
	return -weighted - FrequencyPenalty(freqErr) + fitnessShift
}
