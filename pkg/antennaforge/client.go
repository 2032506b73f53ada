// Package antennaforge is the public entry point to the antenna design
// search engine: optimization runs with persisted history, single-design
// evaluation, full-wave simulation, S11 sweeps and radiation patterns.
package antennaforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"antennaforge/internal/emmodel"
	"antennaforge/internal/evo"
	"antennaforge/internal/fdtd"
	"antennaforge/internal/fitness"
	"antennaforge/internal/logging"
	"antennaforge/internal/materials"
	"antennaforge/internal/model"
	"antennaforge/internal/observability"
	"antennaforge/internal/radiation"
	"antennaforge/internal/runner"
	"antennaforge/internal/space"
	"antennaforge/internal/stats"
	"antennaforge/internal/storage"
)

const (
	defaultRunsDir     = "runs"
	defaultExportsDir  = "exports"
	defaultDBPath      = "antennaforge.db"
	defaultSweepPoints = 101
	sweepSpan          = 0.25
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     logging.Logger
	// Registerer receives the Prometheus collectors. Nil uses a private
	// registry.
	Registerer prometheus.Registerer
	// Solver configures full-wave evaluation and Simulate.
	Solver fdtd.SimConfig
}

type Client struct {
	store     storage.Store
	registry  *materials.Registry
	evaluator *fitness.Evaluator
	runner    *runner.Runner
	metrics   *observability.Collector
	log       logging.Logger
	solver    fdtd.SimConfig

	runsDir    string
	exportsDir string

	initOnce sync.Once
	initErr  error
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	log := logging.OrNoop(opts.Logger)

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	collector, err := observability.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	registry := materials.Default()
	solverCfg := opts.Solver
	solverCfg.Logger = log
	evaluator := fitness.NewEvaluator(registry,
		fitness.WithSolver(fitness.FDTDSolver{Config: solverCfg}),
		fitness.WithLogger(log),
		fitness.WithCollector(collector))
	r, err := runner.New(store, evaluator,
		runner.WithLogger(log),
		runner.WithCollector(collector),
		runner.WithRegistry(registry))
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		registry:   registry,
		evaluator:  evaluator,
		runner:     r,
		metrics:    collector,
		log:        log,
		solver:     solverCfg,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// MetricsHandler serves the client's Prometheus metrics.
func (c *Client) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

type OptimizeRequest struct {
	RunID       string
	Algorithm   string
	DesignType  string
	ShapeFamily string
	Constraints map[string]float64
	MaxSizeMM   float64

	TargetFrequencyGHz float64
	BandwidthMHz       float64
	TargetGainDBi      float64
	TargetImpedanceOhm float64

	Substrate            string
	SubstrateThicknessMM float64
	Conductor            string
	ConductorThicknessUM float64
	Mode                 string
	// Weights scale the fitness error terms; zero uses the defaults.
	Weights fitness.Weights

	AutoDesign     bool
	PopulationSize int
	Generations    int
	Workers        int
	Seed           int64
	// Plot writes a fitness history PNG with the run artifacts.
	Plot bool
}

type OptimizeSummary struct {
	RunID        string
	Algorithm    string
	ArtifactsDir string
	Best         model.CandidateRecord
	Candidates   []model.CandidateRecord
	History      []model.GenerationRecord
	Seeded       bool
	Elapsed      time.Duration
}

// Optimize runs one GA or PSO search, persists it, and writes its
// artifacts and run index entry under the runs directory.
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeSummary, error) {
	if req.DesignType == "" {
		req.DesignType = space.DesignPatch
	}
	if req.TargetFrequencyGHz <= 0 {
		return OptimizeSummary{}, errors.New("target frequency must be > 0")
	}
	if req.BandwidthMHz <= 0 {
		return OptimizeSummary{}, errors.New("bandwidth must be > 0")
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		return OptimizeSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return OptimizeSummary{}, err
	}

	targets := model.Targets{
		FrequencyGHz: req.TargetFrequencyGHz,
		BandwidthMHz: req.BandwidthMHz,
		GainDBi:      req.TargetGainDBi,
		ImpedanceOhm: req.TargetImpedanceOhm,
	}
	summary, err := c.runner.Run(ctx, runner.Request{
		RunID:                req.RunID,
		Algorithm:            req.Algorithm,
		DesignType:           req.DesignType,
		ShapeFamily:          req.ShapeFamily,
		Constraints:          space.Constraints(req.Constraints),
		MaxSizeMM:            req.MaxSizeMM,
		Targets:              targets,
		Substrate:            req.Substrate,
		SubstrateThicknessMM: req.SubstrateThicknessMM,
		Conductor:            req.Conductor,
		ConductorThicknessUM: req.ConductorThicknessUM,
		Weights:              req.Weights,
		Mode:                 mode,
		AutoDesign:           req.AutoDesign,
		PopulationSize:       req.PopulationSize,
		Generations:          req.Generations,
		Workers:              req.Workers,
		Seed:                 req.Seed,
	})
	if err != nil {
		return OptimizeSummary{}, err
	}

	sweep, err := emmodel.Sweep(summary.Shape, summary.Best.Params,
		targets.FrequencyGHz*(1-sweepSpan), targets.FrequencyGHz*(1+sweepSpan), defaultSweepPoints)
	if err != nil {
		return OptimizeSummary{}, err
	}
	cfg := stats.RunConfig{
		RunID:       summary.RunID,
		Algorithm:   summary.Algorithm,
		DesignType:  req.DesignType,
		ShapeFamily: string(summary.Shape),
		Substrate:   req.Substrate,
		Conductor:   req.Conductor,
		Mode:        string(mode),
		Targets:     targets,
		Constraints: req.Constraints,
		AutoDesign:  req.AutoDesign,
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:           cfg,
		History:          summary.History,
		FinalBestFitness: summary.Best.Fitness,
		TopCandidates:    summary.Candidates,
		BestSweep:        sweep,
		Plot:             req.Plot,
	})
	if err != nil {
		return OptimizeSummary{}, err
	}
	populationSize := req.PopulationSize
	if populationSize <= 0 && summary.Algorithm == evo.AlgorithmPSO {
		populationSize = evo.DefaultPSOConfig().SwarmSize
	} else if populationSize <= 0 {
		populationSize = evo.DefaultGAConfig().PopulationSize
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:              summary.RunID,
		Algorithm:          summary.Algorithm,
		DesignType:         req.DesignType,
		ShapeFamily:        string(summary.Shape),
		TargetFrequencyGHz: targets.FrequencyGHz,
		Generations:        len(summary.History),
		PopulationSize:     populationSize,
		Seed:               req.Seed,
		Workers:            req.Workers,
		Status:             string(summary.Status),
		FinalBestFitness:   summary.Best.Fitness,
		CreatedAtUTC:       time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return OptimizeSummary{}, err
	}

	return OptimizeSummary{
		RunID:        summary.RunID,
		Algorithm:    summary.Algorithm,
		ArtifactsDir: runDir,
		Best:         summary.Best,
		Candidates:   summary.Candidates,
		History:      summary.History,
		Seeded:       summary.Seeded,
		Elapsed:      summary.Elapsed,
	}, nil
}

type RunsRequest struct {
	Limit int
}

// Runs lists persisted runs newest first, including failed ones.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit, "history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return history, nil
}

type TopCandidatesRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func (c *Client) TopCandidates(ctx context.Context, req TopCandidatesRequest) ([]model.CandidateRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit, "top candidates")
	if err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetCandidates(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top candidates not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	return top, nil
}

// resolveRunID picks the explicit run id or, with latest, the newest
// persisted run.
func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool, limit int, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	if latest {
		runs, err := c.store.ListRuns(ctx)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "", errors.New("no runs available")
		}
		return runs[0].ID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

type EvaluateRequest struct {
	ShapeFamily          string
	Params               model.Params
	TargetFrequencyGHz   float64
	BandwidthMHz         float64
	TargetGainDBi        float64
	TargetImpedanceOhm   float64
	Substrate            string
	SubstrateThicknessMM float64
	Conductor            string
	ConductorThicknessUM float64
	Weights              fitness.Weights
	Mode                 string
}

// Evaluate scores one geometry without running an optimizer.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (fitness.Result, error) {
	shape, err := parseShape(req.ShapeFamily)
	if err != nil {
		return fitness.Result{}, err
	}
	if req.TargetFrequencyGHz <= 0 {
		return fitness.Result{}, errors.New("target frequency must be > 0")
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		return fitness.Result{}, err
	}
	return c.evaluator.Evaluate(ctx, fitness.Request{
		Shape:  shape,
		Params: req.Params,
		Targets: model.Targets{
			FrequencyGHz: req.TargetFrequencyGHz,
			BandwidthMHz: req.BandwidthMHz,
			GainDBi:      req.TargetGainDBi,
			ImpedanceOhm: req.TargetImpedanceOhm,
		},
		Substrate:            req.Substrate,
		SubstrateThicknessMM: req.SubstrateThicknessMM,
		Conductor:            req.Conductor,
		ConductorThicknessUM: req.ConductorThicknessUM,
		Weights:              req.Weights,
		Mode:                 mode,
	})
}

type SimulateRequest struct {
	ShapeFamily  string
	Params       model.Params
	FrequencyGHz float64
	Resolution   int
	MaxSteps     int
	Workers      int
}

// Simulate runs the FDTD solver on one geometry. Zero-valued solver
// settings fall back to the client's solver options.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (fdtd.Result, error) {
	shape, err := parseShape(req.ShapeFamily)
	if err != nil {
		return fdtd.Result{}, err
	}
	cfg := c.solver
	if req.Resolution > 0 {
		cfg.Resolution = req.Resolution
	}
	if req.MaxSteps > 0 {
		cfg.MaxSteps = req.MaxSteps
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	geom := fdtd.GeometryFromParams(shape, req.Params, req.FrequencyGHz)
	return fdtd.Simulate(ctx, geom, cfg)
}

type SweepRequest struct {
	ShapeFamily string
	Params      model.Params
	StartGHz    float64
	StopGHz     float64
	Points      int
	// Touchstone, when set, receives the sweep as an S1P file.
	Touchstone io.Writer
}

func (c *Client) Sweep(_ context.Context, req SweepRequest) ([]emmodel.SweepPoint, error) {
	shape, err := parseShape(req.ShapeFamily)
	if err != nil {
		return nil, err
	}
	if req.Points == 0 {
		req.Points = defaultSweepPoints
	}
	points, err := emmodel.Sweep(shape, req.Params, req.StartGHz, req.StopGHz, req.Points)
	if err != nil {
		return nil, err
	}
	if req.Touchstone != nil {
		if err := emmodel.WriteTouchstone(req.Touchstone, points, emmodel.Z0); err != nil {
			return nil, err
		}
	}
	return points, nil
}

type PatternRequest struct {
	ShapeFamily  string
	Params       model.Params
	FrequencyGHz float64
	ThetaPoints  int
	PhiPoints    int
}

func (c *Client) Pattern(_ context.Context, req PatternRequest) (radiation.Pattern, error) {
	shape, err := parseShape(req.ShapeFamily)
	if err != nil {
		return radiation.Pattern{}, err
	}
	theta, phi := req.ThetaPoints, req.PhiPoints
	if theta == 0 {
		theta = radiation.DefaultThetaPoints
	}
	if phi == 0 {
		phi = radiation.DefaultPhiPoints
	}
	return radiation.Compute(shape, req.Params, req.FrequencyGHz, theta, phi)
}

type MaterialsRequest struct {
	// Tier filters by cost tier (budget, standard, premium); empty lists all.
	Tier string
}

type MaterialsList struct {
	Substrates []materials.Substrate `json:"substrates"`
	Conductors []materials.Conductor `json:"conductors"`
}

func (c *Client) Materials(req MaterialsRequest) MaterialsList {
	tier := strings.ToLower(strings.TrimSpace(req.Tier))
	return MaterialsList{
		Substrates: c.registry.Substrates(tier),
		Conductors: c.registry.Conductors(tier),
	}
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// parseShape maps a shape family name to its geometry encoding. Empty
// means the rectangular patch.
func parseShape(name string) (model.Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rectangular", "rectangular_patch", "rect", "patch":
		return model.ShapeRectPatch, nil
	case "star", "star_patch":
		return model.ShapeStarPatch, nil
	case "slot":
		return model.ShapeSlot, nil
	case "fractal":
		return model.ShapeFractal, nil
	default:
		return "", fmt.Errorf("%w: %q", space.ErrUnknownShapeFamily, name)
	}
}

func parseMode(name string) (fitness.Mode, error) {
	switch fitness.Mode(strings.ToLower(strings.TrimSpace(name))) {
	case "", fitness.ModeAnalytical:
		return fitness.ModeAnalytical, nil
	case fitness.ModeFullWave:
		return fitness.ModeFullWave, nil
	default:
		return "", fmt.Errorf("unknown evaluation mode: %q", name)
	}
}
