package evo

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"antennaforge/internal/logging"
	"antennaforge/internal/model"
)

const AlgorithmPSO = "pso"

type PSOConfig struct {
	SwarmSize  int     `json:"swarm_size"`
	Iterations int     `json:"iterations"`
	Inertia    float64 `json:"inertia"`
	Cognitive  float64 `json:"cognitive"`
	Social     float64 `json:"social"`
	VMax       float64 `json:"v_max"`
	Workers    int     `json:"workers"`
	Seed       int64   `json:"seed"`
}

func DefaultPSOConfig() PSOConfig {
	return PSOConfig{
		SwarmSize:  30,
		Iterations: 40,
		Inertia:    0.7,
		Cognitive:  1.5,
		Social:     1.5,
		VMax:       0.2,
		Workers:    1,
	}
}

func (c PSOConfig) validate() (PSOConfig, error) {
	if c.SwarmSize <= 0 {
		return c, fmt.Errorf("swarm size must be > 0")
	}
	if c.Iterations <= 0 {
		return c, fmt.Errorf("iterations must be > 0")
	}
	if c.Inertia < 0 || c.Cognitive < 0 || c.Social < 0 {
		return c, fmt.Errorf("inertia and acceleration coefficients must be >= 0")
	}
	if c.VMax <= 0 {
		return c, fmt.Errorf("v_max must be > 0")
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c, nil
}

// Particle is one swarm member. Its current position need not be its best.
type Particle struct {
	Position model.Vector
	Velocity model.Vector
	Current  model.Candidate
	Best     model.Candidate
}

// PSO is a global-best particle swarm with synchronous updates: every
// particle of an iteration steers toward the global best as it stood when
// the iteration began.
type PSO struct {
	cfg    PSOConfig
	space  Space
	oracle Oracle
	opts   options
	rng    *rand.Rand
}

func NewPSO(cfg PSOConfig, sp Space, oracle Oracle, opts ...Option) (*PSO, error) {
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
	return &PSO{
		cfg:    cfg,
		space:  sp,
		oracle: oracle,
		opts:   buildOptions(opts),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (p *PSO) Run(ctx context.Context) (Result, error) {
	log := p.opts.log
	params, vectors := initialParams(p.space, p.rng, p.opts.seed, p.cfg.SwarmSize)
	scored, err := evaluateAll(ctx, p.oracle, p.cfg.Workers, params, vectors)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate initial swarm: %w", err)
	}

	swarm := make([]Particle, len(scored))
	var global BestTracker
	for i, c := range scored {
		swarm[i] = Particle{
			Position: c.Vector.Clone(),
			Velocity: make(model.Vector, len(c.Vector)),
			Current:  c,
			Best:     c.Clone(),
		}
		global.Offer(c)
	}
	history := make([]model.GenerationRecord, 0, p.cfg.Iterations)

	for it := 0; it < p.cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		itCtx, span := p.opts.tracer.Start(ctx, "evo.generation",
			trace.WithAttributes(attribute.String("algorithm", AlgorithmPSO), attribute.Int("generation", it+1)))

		gbest, _ := global.Best()
		err := p.step(itCtx, swarm, gbest.Vector, it)
		span.End()
		if err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", it+1, err)
		}
		for _, particle := range swarm {
			global.Offer(particle.Current)
		}

		current := make([]model.Candidate, len(swarm))
		for i, particle := range swarm {
			current[i] = particle.Current
		}
		sortByFitness(current)
		gbest, _ = global.Best()
		rec := summarize(it+1, fitnessOf(current), current[0], gbest.Fitness, gbest.Params)
		history = append(history, rec)
		p.opts.metrics.ObserveGeneration(AlgorithmPSO, gbest.Fitness)

		if (it+1)%progressEvery == 0 {
			log.Info(ctx, "pso progress",
				logging.Int("generation", it+1),
				logging.Float("best_fitness", gbest.Fitness),
				logging.Float("avg_fitness", rec.AvgFitness),
				logging.Float("best_length_mm", rec.BestGeometry.LengthMM),
				logging.Float("best_width_mm", rec.BestGeometry.WidthMM))
		}
	}

	current := make([]model.Candidate, len(swarm))
	for i, particle := range swarm {
		current[i] = particle.Current
	}
	sortByFitness(current)
	gbest, _ := global.Best()
	return Result{
		Best:    gbest,
		History: history,
		Top:     topOf(current, TopK),
	}, nil
}

// step moves every particle against the fixed gbest snapshot, scores the
// new positions in parallel and updates personal bests.
func (p *PSO) step(ctx context.Context, swarm []Particle, gbest model.Vector, it int) error {
	params := make([]model.Params, len(swarm))
	vectors := make([]model.Vector, len(swarm))
	for i := range swarm {
		particle := &swarm[i]
		for d := range particle.Position {
			r1, r2 := p.rng.Float64(), p.rng.Float64()
			v := p.cfg.Inertia*particle.Velocity[d] +
				p.cfg.Cognitive*r1*(particle.Best.Vector[d]-particle.Position[d]) +
				p.cfg.Social*r2*(gbest[d]-particle.Position[d])
			particle.Velocity[d] = math.Max(-p.cfg.VMax, math.Min(p.cfg.VMax, v))
			particle.Position[d] = math.Max(0, math.Min(1, particle.Position[d]+particle.Velocity[d]))
		}
		params[i] = p.space.Denormalize(particle.Position)
		vectors[i] = particle.Position.Clone()
		if i == 0 {
			p.opts.log.Debug(ctx, "pso particle",
				logging.Int("generation", it+1),
				logging.Float("length_mm", params[i].Get("length_mm", 0)),
				logging.Float("width_mm", params[i].Get("width_mm", 0)),
				logging.Float("feed_offset_mm", params[i].Get("feed_offset_mm", 0)))
		}
	}

	scored, err := evaluateAll(ctx, p.oracle, p.cfg.Workers, params, vectors)
	if err != nil {
		return err
	}
	for i := range swarm {
		swarm[i].Current = scored[i]
		if scored[i].Fitness > swarm[i].Best.Fitness {
			swarm[i].Best = scored[i].Clone()
		}
	}
	return nil
}
