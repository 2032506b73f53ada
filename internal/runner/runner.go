// Package runner orchestrates one optimization run end to end: it builds
// the parameter space, wires the fitness evaluator into the chosen
// optimizer, and persists status, history and ranked candidates.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"antennaforge/internal/evo"
	"antennaforge/internal/fitness"
	"antennaforge/internal/logging"
	"antennaforge/internal/materials"
	"antennaforge/internal/model"
	"antennaforge/internal/observability"
	"antennaforge/internal/space"
	"antennaforge/internal/storage"
)

var ErrUnknownAlgorithm = errors.New("unknown optimization algorithm")

// Error types recorded on failed runs.
const (
	ErrorTypeCancelled   = "cancelled"
	ErrorTypeDeadline    = "deadline_exceeded"
	ErrorTypeOptimizer   = "optimizer_error"
	ErrorTypePersistence = "persistence_error"
)

// Request describes one optimization run. Zero-valued GA/PSO configs take
// the package defaults; Generations and PopulationSize, when set, override
// the matching fields of whichever algorithm runs.
type Request struct {
	RunID       string
	Algorithm   string
	DesignType  string
	ShapeFamily string
	Constraints space.Constraints
	// MaxSizeMM fills max_size_mm when the constraints leave it unset.
	MaxSizeMM float64
	Targets   model.Targets

	Substrate            string
	SubstrateThicknessMM float64
	Conductor            string
	ConductorThicknessUM float64
	Weights              fitness.Weights
	Mode                 fitness.Mode

	AutoDesign     bool
	PopulationSize int
	Generations    int
	Workers        int
	Seed           int64
	GA             *evo.GAConfig
	PSO            *evo.PSOConfig
}

// Summary is the outcome of a completed run.
type Summary struct {
	RunID      string                   `json:"run_id"`
	Algorithm  string                   `json:"algorithm"`
	Status     model.RunStatus          `json:"status"`
	Best       model.CandidateRecord    `json:"best"`
	Candidates []model.CandidateRecord  `json:"candidates"`
	History    []model.GenerationRecord `json:"history"`
	Seeded     bool                     `json:"seeded"`
	Elapsed    time.Duration            `json:"elapsed"`
	Shape      model.Shape              `json:"shape"`
}

type Runner struct {
	store     storage.Store
	evaluator *fitness.Evaluator
	registry  *materials.Registry
	log       logging.Logger
	metrics   *observability.Collector
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

type Option func(*Runner)

func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.log = logging.OrNoop(l) }
}

func WithCollector(c *observability.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

func WithRegistry(reg *materials.Registry) Option {
	return func(r *Runner) {
		if reg != nil {
			r.registry = reg
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store storage.Store, evaluator *fitness.Evaluator, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	r := &Runner{
		store:    store,
		registry: materials.Default(),
		log:      logging.Noop(),
		tracer:   observability.Tracer(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if evaluator == nil {
		evaluator = fitness.NewEvaluator(r.registry, fitness.WithLogger(r.log), fitness.WithCollector(r.metrics))
	}
	r.evaluator = evaluator
	return r, nil
}

// optimizer is the common surface of evo.GA and evo.PSO.
type optimizer interface {
	Run(ctx context.Context) (evo.Result, error)
}

// Run executes req. Unknown design types, shape families, algorithms and
// invalid optimizer configs fail before a run record is written. Once the
// run is recorded, any failure is persisted as status failed with an error
// type before it is returned.
func (r *Runner) Run(ctx context.Context, req Request) (Summary, error) {
	algorithm := strings.ToLower(strings.TrimSpace(req.Algorithm))
	if algorithm == "" {
		algorithm = evo.AlgorithmGA
	}
	constraints := withMaxSize(req.Constraints, req.MaxSizeMM)
	sp, err := space.New(req.DesignType, req.ShapeFamily, constraints)
	if err != nil {
		return Summary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = r.newID()
	}
	ctx = logging.ContextWithRunID(ctx, runID)
	log := r.log.With(logging.String("algorithm", algorithm))

	var seed model.Params
	if req.AutoDesign {
		seed = r.autoDesign(ctx, log, sp, req)
	}
	opts := []evo.Option{evo.WithLogger(log), evo.WithCollector(r.metrics)}
	if seed != nil {
		opts = append(opts, evo.WithSeedParams(seed))
	}
	opt, err := r.buildOptimizer(algorithm, req, sp, r.oracle(sp.Shape(), req), opts)
	if err != nil {
		return Summary{}, err
	}

	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("algorithm", algorithm),
		attribute.String("shape", string(sp.Shape())),
	))
	defer span.End()

	started := r.now()
	record := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		Algorithm:       algorithm,
		DesignType:      req.DesignType,
		ShapeFamily:     string(sp.Shape()),
		Substrate:       req.Substrate,
		Targets:         req.Targets,
		Constraints:     constraintsRecord(constraints),
		Status:          model.RunRunning,
		StartedAt:       started,
	}
	if err := r.store.SaveRun(ctx, record); err != nil {
		return Summary{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	log.Info(ctx, "run started",
		logging.String("design_type", req.DesignType),
		logging.String("shape", string(sp.Shape())),
		logging.Float("target_frequency_ghz", req.Targets.FrequencyGHz),
		logging.Int("dimensions", sp.Dim()))

	result, err := opt.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, r.fail(ctx, log, record, errorType(err), err)
	}

	candidates := rankCandidates(runID, result)
	if err := r.store.SaveHistory(ctx, runID, result.History); err != nil {
		return Summary{}, r.fail(ctx, log, record, ErrorTypePersistence, fmt.Errorf("save history: %w", err))
	}
	if err := r.store.SaveCandidates(ctx, runID, candidates); err != nil {
		return Summary{}, r.fail(ctx, log, record, ErrorTypePersistence, fmt.Errorf("save candidates: %w", err))
	}

	record.Status = model.RunCompleted
	record.BestFitness = result.Best.Fitness
	record.FinishedAt = r.now()
	if err := r.store.SaveRun(ctx, record); err != nil {
		return Summary{}, fmt.Errorf("save run %s: %w", runID, err)
	}

	elapsed := record.FinishedAt.Sub(started)
	log.Info(ctx, "run completed",
		logging.Float("best_fitness", result.Best.Fitness),
		logging.Int("generations", len(result.History)),
		logging.Int("candidates", len(candidates)),
		logging.Any("elapsed", elapsed))
	span.SetAttributes(attribute.Float64("best_fitness", result.Best.Fitness))

	return Summary{
		RunID:      runID,
		Algorithm:  algorithm,
		Status:     model.RunCompleted,
		Best:       candidates[0],
		Candidates: candidates,
		History:    result.History,
		Seeded:     seed != nil,
		Elapsed:    elapsed,
		Shape:      sp.Shape(),
	}, nil
}

func (r *Runner) oracle(shape model.Shape, req Request) evo.Oracle {
	return evo.OracleFunc(func(ctx context.Context, p model.Params) (evo.Score, error) {
		res, err := r.evaluator.Evaluate(ctx, fitness.Request{
			Shape:                shape,
			Params:               p,
			Targets:              req.Targets,
			Substrate:            req.Substrate,
			SubstrateThicknessMM: req.SubstrateThicknessMM,
			Conductor:            req.Conductor,
			ConductorThicknessUM: req.ConductorThicknessUM,
			Weights:              req.Weights,
			Mode:                 req.Mode,
		})
		if err != nil {
			return evo.Score{}, err
		}
		return evo.Score{Fitness: res.Fitness, Metrics: res.Metrics}, nil
	})
}

func (r *Runner) buildOptimizer(algorithm string, req Request, sp *space.Space, oracle evo.Oracle, opts []evo.Option) (optimizer, error) {
	switch algorithm {
	case evo.AlgorithmGA:
		cfg := evo.DefaultGAConfig()
		if req.GA != nil {
			cfg = *req.GA
		}
		if req.PopulationSize > 0 {
			cfg.PopulationSize = req.PopulationSize
		}
		if req.Generations > 0 {
			cfg.Generations = req.Generations
		}
		if req.Workers > 0 {
			cfg.Workers = req.Workers
		}
		if req.Seed != 0 {
			cfg.Seed = req.Seed
		}
		return evo.NewGA(cfg, sp, oracle, opts...)
	case evo.AlgorithmPSO:
		cfg := evo.DefaultPSOConfig()
		if req.PSO != nil {
			cfg = *req.PSO
		}
		if req.PopulationSize > 0 {
			cfg.SwarmSize = req.PopulationSize
		}
		if req.Generations > 0 {
			cfg.Iterations = req.Generations
		}
		if req.Workers > 0 {
			cfg.Workers = req.Workers
		}
		if req.Seed != 0 {
			cfg.Seed = req.Seed
		}
		return evo.NewPSO(cfg, sp, oracle, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// autoDesign returns the closed-form seed geometry, or nil when the space
// has no auto-design or the inputs are unusable.
func (r *Runner) autoDesign(ctx context.Context, log logging.Logger, sp *space.Space, req Request) model.Params {
	if sp.Shape() != model.ShapeRectPatch {
		return nil
	}
	name := req.Substrate
	if name == "" {
		name = materials.DefaultSubstrate
	}
	sub, _ := r.registry.Resolve(name)
	height := req.SubstrateThicknessMM
	if height <= 0 {
		height = sub.ThicknessMM
	}
	if height <= 0 {
		height = fitness.DefaultSubstrateThicknessMM
	}
	seed, err := sp.AutoDesign(req.Targets.FrequencyGHz, sub.EpsR, height)
	if err != nil {
		log.Warn(ctx, "auto-design skipped", logging.Err(err))
		return nil
	}
	log.Debug(ctx, "auto-design seed",
		logging.Float("length_mm", seed.Get("length_mm", 0)),
		logging.Float("width_mm", seed.Get("width_mm", 0)))
	return seed
}

// fail records the run as failed. The record is written even when ctx is
// already cancelled.
func (r *Runner) fail(ctx context.Context, log logging.Logger, record model.RunRecord, kind string, cause error) error {
	record.Status = model.RunFailed
	record.Error = cause.Error()
	record.ErrorType = kind
	record.FinishedAt = r.now()
	log.Error(ctx, "run failed", logging.String("error_type", kind), logging.Err(cause))
	if err := r.store.SaveRun(context.WithoutCancel(ctx), record); err != nil {
		return errors.Join(cause, fmt.Errorf("save failed run %s: %w", record.ID, err))
	}
	return cause
}

// rankCandidates puts the best-ever candidate first, marked best, followed
// by the distinct members of the final top list.
func rankCandidates(runID string, result evo.Result) []model.CandidateRecord {
	pool := append([]model.Candidate{result.Best}, result.Top...)
	cands := evo.RankDistinct(pool, evo.TopK+1, evo.DedupTolerance)
	out := make([]model.CandidateRecord, len(cands))
	for i, c := range cands {
		out[i] = model.CandidateRecord{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           runID,
			Rank:            i + 1,
			IsBest:          i == 0,
			Params:          c.Params,
			Fitness:         c.Fitness,
			Metrics:         c.Metrics,
		}
	}
	return out
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeDeadline
	default:
		return ErrorTypeOptimizer
	}
}

func withMaxSize(c space.Constraints, maxSizeMM float64) space.Constraints {
	out := make(space.Constraints, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	if _, ok := out["max_size_mm"]; !ok && maxSizeMM > 0 {
		out["max_size_mm"] = maxSizeMM
	}
	return out
}

func constraintsRecord(c space.Constraints) map[string]any {
	if len(c) == 0 {
		return nil
	}
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
