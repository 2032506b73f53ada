package evo

import (
	"context"
	"fmt"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"antennaforge/internal/logging"
	"antennaforge/internal/model"
)

const AlgorithmGA = "ga"

type GAConfig struct {
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	MutationRate     float64 `json:"mutation_rate"`
	CrossoverRate    float64 `json:"crossover_rate"`
	TournamentSize   int     `json:"tournament_size"`
	EliteSize        int     `json:"elite_size"`
	MutationStrength float64 `json:"mutation_strength"`
	GeneMutationProb float64 `json:"gene_mutation_prob"`
	Workers          int     `json:"workers"`
	Seed             int64   `json:"seed"`
}

func DefaultGAConfig() GAConfig {
	return GAConfig{
		PopulationSize:   30,
		Generations:      40,
		MutationRate:     0.2,
		CrossoverRate:    0.8,
		TournamentSize:   3,
		EliteSize:        2,
		MutationStrength: 0.1,
		GeneMutationProb: 0.3,
		Workers:          1,
	}
}

func (c GAConfig) validate() (GAConfig, error) {
	if c.PopulationSize <= 0 {
		return c, fmt.Errorf("population size must be > 0")
	}
	if c.Generations <= 0 {
		return c, fmt.Errorf("generations must be > 0")
	}
	if c.EliteSize < 0 || c.EliteSize > c.PopulationSize {
		return c, fmt.Errorf("elite size must be in [0, population size]")
	}
	if c.TournamentSize <= 0 {
		return c, fmt.Errorf("tournament size must be > 0")
	}
	for name, rate := range map[string]float64{
		"mutation rate":      c.MutationRate,
		"crossover rate":     c.CrossoverRate,
		"gene mutation prob": c.GeneMutationProb,
	} {
		if rate < 0 || rate > 1 {
			return c, fmt.Errorf("%s must be in [0, 1]", name)
		}
	}
	if c.MutationStrength < 0 {
		return c, fmt.Errorf("mutation strength must be >= 0")
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c, nil
}

// GA is a generational genetic algorithm over normalized vectors with
// elitism, tournament selection, uniform crossover and Gaussian mutation.
type GA struct {
	cfg       GAConfig
	space     Space
	oracle    Oracle
	opts      options
	rng       *rand.Rand
	selector  Selector
	crossover Crossover
	mutator   Mutator
}

func NewGA(cfg GAConfig, sp Space, oracle Oracle, opts ...Option) (*GA, error) {
	if sp == nil {
		return nil, fmt.Errorf("parameter space is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("fitness oracle is required")
	}
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &GA{
		cfg:       cfg,
		space:     sp,
		oracle:    oracle,
		opts:      buildOptions(opts),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		selector:  TournamentSelector{Size: cfg.TournamentSize},
		crossover: UniformCrossover{},
		mutator:   GaussianMutation{GeneRate: cfg.GeneMutationProb, Sigma: cfg.MutationStrength},
	}, nil
}

func (g *GA) Run(ctx context.Context) (Result, error) {
	log := g.opts.log
	params, vectors := initialParams(g.space, g.rng, g.opts.seed, g.cfg.PopulationSize)
	population, err := evaluateAll(ctx, g.oracle, g.cfg.Workers, params, vectors)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate initial population: %w", err)
	}
	sortByFitness(population)

	var best BestTracker
	best.Offer(population[0])
	history := make([]model.GenerationRecord, 0, g.cfg.Generations)

	for gen := 0; gen < g.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		genCtx, span := g.opts.tracer.Start(ctx, "evo.generation",
			trace.WithAttributes(attribute.String("algorithm", AlgorithmGA), attribute.Int("generation", gen+1)))

		population, err = g.nextGeneration(genCtx, population, gen)
		span.End()
		if err != nil {
			return Result{}, fmt.Errorf("generation %d: %w", gen+1, err)
		}

		best.Offer(population[0])
		bestEver, _ := best.Best()
		rec := summarize(gen+1, fitnessOf(population), population[0], bestEver.Fitness, population[0].Params)
		history = append(history, rec)
		g.opts.metrics.ObserveGeneration(AlgorithmGA, bestEver.Fitness)

		if (gen+1)%progressEvery == 0 {
			log.Info(ctx, "ga progress",
				logging.Int("generation", gen+1),
				logging.Float("best_fitness", rec.BestFitness),
				logging.Float("avg_fitness", rec.AvgFitness),
				logging.Float("best_length_mm", rec.BestGeometry.LengthMM),
				logging.Float("best_width_mm", rec.BestGeometry.WidthMM))
		}
	}

	bestEver, _ := best.Best()
	return Result{
		Best:    bestEver,
		History: history,
		Top:     topOf(population, TopK),
	}, nil
}

// nextGeneration carries the elites over and breeds the remainder. Every
// child is drawn from the generator before any is evaluated, so results do
// not depend on the worker count.
func (g *GA) nextGeneration(ctx context.Context, ranked []model.Candidate, gen int) ([]model.Candidate, error) {
	next := make([]model.Candidate, 0, g.cfg.PopulationSize)
	for _, elite := range ranked[:g.cfg.EliteSize] {
		next = append(next, elite.Clone())
	}

	childCount := g.cfg.PopulationSize - len(next)
	params := make([]model.Params, 0, childCount)
	vectors := make([]model.Vector, 0, childCount)
	for len(params) < childCount {
		p1, err := g.selector.PickParent(g.rng, ranked)
		if err != nil {
			return nil, err
		}
		p2, err := g.selector.PickParent(g.rng, ranked)
		if err != nil {
			return nil, err
		}

		var child model.Vector
		if g.rng.Float64() < g.cfg.CrossoverRate {
			child = g.crossover.Apply(g.rng, p1.Vector, p2.Vector)
		} else {
			child = p1.Vector.Clone()
		}
		if g.rng.Float64() < g.cfg.MutationRate {
			child = g.mutator.Apply(g.rng, child)
		}

		p := g.space.Denormalize(child)
		params = append(params, p)
		vectors = append(vectors, g.space.Normalize(p))
		g.opts.log.Debug(ctx, "ga child",
			logging.Int("generation", gen+1),
			logging.Int("individual", len(next)+len(params)),
			logging.Float("length_mm", p.Get("length_mm", 0)),
			logging.Float("width_mm", p.Get("width_mm", 0)),
			logging.Float("feed_offset_mm", p.Get("feed_offset_mm", 0)))
	}

	children, err := evaluateAll(ctx, g.oracle, g.cfg.Workers, params, vectors)
	if err != nil {
		return nil, err
	}
	next = append(next, children...)
	sortByFitness(next)
	return next, nil
}
