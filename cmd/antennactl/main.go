package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"antennaforge/internal/logging"
	"antennaforge/internal/model"
	"antennaforge/internal/observability"
	"antennaforge/internal/storage"
	forge "antennaforge/pkg/antennaforge"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	defaultDB  = "antennaforge.db"
)

// cliLogger is replaced in main by the environment-configured logger.
var cliLogger = logging.Noop()

func main() {
	log := logging.NewFromEnv()
	cliLogger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}

	err = run(ctx, os.Args[1:])
	observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "sweep":
		return runSweep(ctx, args[1:])
	case "pattern":
		return runPattern(ctx, args[1:])
	case "materials":
		return runMaterials(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: antennactl <run|runs|history|top|evaluate|simulate|sweep|pattern|materials|export> [flags]", msg)
}

// storeFlags registers the flags shared by every command that opens a client.
func storeFlags(fs *flag.FlagSet) (storeKind, dbPath *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath = fs.String("db-path", defaultDB, "sqlite database path")
	return storeKind, dbPath
}

func newClient(storeKind, dbPath string) (*forge.Client, error) {
	return forge.New(forge.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     cliLogger,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	algorithm := fs.String("algorithm", "ga", "optimizer: ga|pso")
	designType := fs.String("design", "patch", "design type: patch|slot|fractal|custom")
	shapeFamily := fs.String("shape", "", "shape family: rectangular|star (patch designs only)")
	freq := fs.Float64("freq", 2.4, "target frequency in GHz")
	bandwidth := fs.Float64("bandwidth", 100, "target bandwidth in MHz")
	gain := fs.Float64("gain", 0, "target gain in dBi (0 uses the default)")
	impedance := fs.Float64("impedance", 0, "target impedance in ohms (0 uses 50)")
	maxSize := fs.Float64("max-size", 0, "upper bound in mm for length-like parameters (0 disables)")
	substrate := fs.String("substrate", "", "substrate name (default FR4)")
	substrateThickness := fs.Float64("substrate-thickness", 0, "substrate thickness in mm (0 uses the substrate default)")
	conductor := fs.String("conductor", "", "conductor name (default Copper)")
	conductorThickness := fs.Float64("conductor-thickness", 0, "conductor thickness in um (0 uses 35)")
	mode := fs.String("mode", "analytical", "evaluation mode: analytical|full_wave")
	autoDesign := fs.Bool("auto-design", false, "seed the population with the closed-form patch design")
	population := fs.Int("pop", 30, "population or swarm size")
	generations := fs.Int("gens", 40, "generation or iteration count")
	seed := fs.Int64("seed", 1, "random seed")
	workers := fs.Int("workers", 1, "parallel fitness workers")
	plot := fs.Bool("plot", false, "write a fitness history PNG")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus /metrics on this address while running")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	flagValues := map[string]any{
		"run-id":              *runID,
		"algorithm":           *algorithm,
		"design":              *designType,
		"shape":               *shapeFamily,
		"freq":                *freq,
		"bandwidth":           *bandwidth,
		"gain":                *gain,
		"impedance":           *impedance,
		"max-size":            *maxSize,
		"substrate":           *substrate,
		"substrate-thickness": *substrateThickness,
		"conductor":           *conductor,
		"conductor-thickness": *conductorThickness,
		"mode":                *mode,
		"auto-design":         *autoDesign,
		"pop":                 *population,
		"gens":                *generations,
		"seed":                *seed,
		"workers":             *workers,
		"plot":                *plot,
	}
	req, err := loadOrDefaultOptimizeRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		// Without a config every flag applies, defaults included.
		for name := range flagValues {
			setFlags[name] = true
		}
	}
	overrideFromFlags(&req, setFlags, flagValues)

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *metricsAddr != "" {
		srv := serveMetrics(*metricsAddr, client.MetricsHandler())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	summary, err := client.Optimize(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run completed run_id=%s algorithm=%s freq_ghz=%g pop=%d gens=%d seed=%d seeded=%t\n",
		summary.RunID, summary.Algorithm, req.TargetFrequencyGHz, req.PopulationSize, req.Generations, req.Seed, summary.Seeded)
	for _, rec := range summary.History {
		fmt.Printf("generation=%d best_fitness=%.6f avg_fitness=%.6f best_ever=%.6f\n",
			rec.Generation, rec.BestFitness, rec.AvgFitness, rec.BestEverFitness)
	}
	m := summary.Best.Metrics
	fmt.Printf("final_best_fitness=%.6f freq_ghz=%.4f bandwidth_mhz=%.2f gain_dbi=%.2f vswr=%.3f return_loss_db=%.2f\n",
		summary.Best.Fitness, m.EstimatedFreqGHz, m.EstimatedBandwidthMHz, m.GainDBi, m.VSWR, m.ReturnLossDB)
	fmt.Printf("elapsed=%s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

// serveMetrics exposes handler on addr/metrics until the returned server is
// shut down.
func serveMetrics(addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cliLogger.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	cliLogger.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, forge.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("run_id=%s status=%s algorithm=%s design=%s shape=%s freq_ghz=%g best_fitness=%.6f started_at=%s",
			r.ID, r.Status, r.Algorithm, r.DesignType, r.ShapeFamily, r.Targets.FrequencyGHz, r.BestFitness, r.StartedAt.UTC().Format(time.RFC3339))
		if r.ErrorType != "" {
			line += fmt.Sprintf(" error_type=%s error=%q", r.ErrorType, r.Error)
		}
		fmt.Println(line)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show history for the most recent run")
	limit := fs.Int("limit", 0, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit history as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("history requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, forge.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(history)
	}
	for _, rec := range history {
		fmt.Printf("generation=%d best_fitness=%.6f avg_fitness=%.6f min_fitness=%.6f std_fitness=%.6f best_ever=%.6f length_mm=%.3f width_mm=%.3f\n",
			rec.Generation, rec.BestFitness, rec.AvgFitness, rec.MinFitness, rec.StdDevFitness, rec.BestEverFitness,
			rec.BestGeometry.LengthMM, rec.BestGeometry.WidthMM)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show candidates for the most recent run")
	limit := fs.Int("limit", 5, "max candidates to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit candidates as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("top requires --run-id or --latest")
	}
	if *limit < 0 {
		*limit = 0
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopCandidates(ctx, forge.TopCandidatesRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Println("no top candidates")
		return nil
	}
	if *jsonOut {
		return printJSON(top)
	}
	for _, c := range top {
		fmt.Printf("rank=%d fitness=%.6f best=%t freq_ghz=%.4f gain_dbi=%.2f vswr=%.3f params=%s\n",
			c.Rank, c.Fitness, c.IsBest, c.Metrics.EstimatedFreqGHz, c.Metrics.GainDBi, c.Metrics.VSWR, formatParams(c.Params))
	}
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	shape := fs.String("shape", "", "shape family: rectangular|star|slot|fractal")
	paramsRaw := fs.String("params", "", "geometry as name=value pairs, comma separated")
	freq := fs.Float64("freq", 2.4, "target frequency in GHz")
	bandwidth := fs.Float64("bandwidth", 100, "target bandwidth in MHz")
	gain := fs.Float64("gain", 0, "target gain in dBi")
	impedance := fs.Float64("impedance", 0, "target impedance in ohms")
	substrate := fs.String("substrate", "", "substrate name")
	conductor := fs.String("conductor", "", "conductor name")
	mode := fs.String("mode", "analytical", "evaluation mode: analytical|full_wave")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := parseParams(*paramsRaw)
	if err != nil {
		return err
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	res, err := client.Evaluate(ctx, forge.EvaluateRequest{
		ShapeFamily:        *shape,
		Params:             params,
		TargetFrequencyGHz: *freq,
		BandwidthMHz:       *bandwidth,
		TargetGainDBi:      *gain,
		TargetImpedanceOhm: *impedance,
		Substrate:          *substrate,
		Conductor:          *conductor,
		Mode:               *mode,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	shape := fs.String("shape", "", "shape family (only rectangular is simulated)")
	paramsRaw := fs.String("params", "", "geometry as name=value pairs, comma separated")
	freq := fs.Float64("freq", 2.4, "excitation frequency in GHz")
	resolution := fs.Int("resolution", 0, "cells per wavelength (0 uses the default)")
	maxSteps := fs.Int("max-steps", 0, "time step cap (0 uses the default)")
	workers := fs.Int("workers", 1, "parallel field update workers")
	slice := fs.Bool("slice", false, "include the field slice in JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := parseParams(*paramsRaw)
	if err != nil {
		return err
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	res, err := client.Simulate(ctx, forge.SimulateRequest{
		ShapeFamily:  *shape,
		Params:       params,
		FrequencyGHz: *freq,
		Resolution:   *resolution,
		MaxSteps:     *maxSteps,
		Workers:      *workers,
	})
	if err != nil {
		return err
	}
	if *slice {
		return printJSON(res)
	}
	fmt.Printf("success=%t unstable=%t steps=%d grid=%dx%dx%d dx_mm=%.3f\n",
		res.Success, res.Unstable, res.Steps, res.GridSize[0], res.GridSize[1], res.GridSize[2], res.DxMM)
	fmt.Printf("resonant_frequency_ghz=%.4f return_loss_db=%.2f bandwidth_mhz=%.2f gain_dbi=%.2f\n",
		res.Metrics.ResonantFrequencyGHz, res.Metrics.ReturnLossDB, res.Metrics.BandwidthMHz, res.Metrics.GainDBi)
	return nil
}

func runSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	shape := fs.String("shape", "", "shape family: rectangular|star|slot|fractal")
	paramsRaw := fs.String("params", "", "geometry as name=value pairs, comma separated")
	start := fs.Float64("start", 2.0, "sweep start in GHz")
	stop := fs.Float64("stop", 3.0, "sweep stop in GHz")
	points := fs.Int("points", 101, "sweep point count")
	out := fs.String("out", "", "write the sweep as a Touchstone S1P file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := parseParams(*paramsRaw)
	if err != nil {
		return err
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := forge.SweepRequest{
		ShapeFamily: *shape,
		Params:      params,
		StartGHz:    *start,
		StopGHz:     *stop,
		Points:      *points,
	}
	var file *os.File
	if *out != "" {
		file, err = os.Create(*out)
		if err != nil {
			return err
		}
		req.Touchstone = file
	}
	sweep, err := client.Sweep(ctx, req)
	if file != nil {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return err
	}
	for _, p := range sweep {
		fmt.Printf("freq_ghz=%.4f return_loss_db=%.3f vswr=%.3f z_re=%.3f z_im=%.3f smith_x=%.4f smith_y=%.4f\n",
			p.FrequencyGHz, p.ReturnLossDB, p.VSWR, real(p.Impedance), imag(p.Impedance), p.Smith.X, p.Smith.Y)
	}
	if *out != "" {
		fmt.Printf("touchstone=%s\n", filepath.Clean(*out))
	}
	return nil
}

func runPattern(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pattern", flag.ContinueOnError)
	shape := fs.String("shape", "", "shape family: rectangular|star|slot|fractal")
	paramsRaw := fs.String("params", "", "geometry as name=value pairs, comma separated")
	freq := fs.Float64("freq", 2.4, "frequency in GHz")
	thetaPoints := fs.Int("theta-points", 0, "theta samples (0 uses the default)")
	phiPoints := fs.Int("phi-points", 0, "phi samples (0 uses the default)")
	full := fs.Bool("full", false, "emit the full pattern grid as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := parseParams(*paramsRaw)
	if err != nil {
		return err
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	pattern, err := client.Pattern(ctx, forge.PatternRequest{
		ShapeFamily:  *shape,
		Params:       params,
		FrequencyGHz: *freq,
		ThetaPoints:  *thetaPoints,
		PhiPoints:    *phiPoints,
	})
	if err != nil {
		return err
	}
	if *full {
		return printJSON(pattern)
	}
	fmt.Printf("directivity_dbi=%.2f gain_dbi=%.2f efficiency=%.3f beamwidth_e_deg=%.1f beamwidth_h_deg=%.1f max_theta_deg=%.1f isotropic=%t\n",
		pattern.DirectivityDBi, pattern.GainDBi, pattern.Efficiency, pattern.BeamwidthEDeg, pattern.BeamwidthHDeg, pattern.MaxGainThetaDeg, pattern.Isotropic)
	return nil
}

func runMaterials(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("materials", flag.ContinueOnError)
	tier := fs.String("tier", "", "cost tier filter: budget|standard|premium")
	jsonOut := fs.Bool("json", false, "emit materials as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	list := client.Materials(forge.MaterialsRequest{Tier: *tier})
	if *jsonOut {
		return printJSON(list)
	}
	for _, s := range list.Substrates {
		fmt.Printf("substrate=%q eps_r=%g loss_tangent=%g thickness_mm=%g tier=%s\n", s.Key, s.EpsR, s.LossTangent, s.ThicknessMM, s.CostTier)
	}
	for _, c := range list.Conductors {
		fmt.Printf("conductor=%q conductivity=%g tier=%s\n", c.Key, c.Conductivity, c.CostTier)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := newClient("memory", "")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, forge.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func formatParams(p model.Params) string {
	keys := p.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, ",")
}
