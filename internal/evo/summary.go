package evo

import (
	"math/rand"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"antennaforge/internal/logging"
	"antennaforge/internal/model"
	"antennaforge/internal/observability"
)

// Space is the parameter-space view the optimizers need.
type Space interface {
	Dim() int
	Sample(rng *rand.Rand) model.Params
	Normalize(p model.Params) model.Vector
	Denormalize(v model.Vector) model.Params
	Clamp(p model.Params) model.Params
}

// progressEvery is the generation interval of info-level progress logs.
const progressEvery = 5

type options struct {
	log     logging.Logger
	metrics *observability.Collector
	seed    model.Params
	tracer  trace.Tracer
}

type Option func(*options)

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = logging.OrNoop(l) }
}

func WithCollector(c *observability.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithSeedParams places p, clamped into the space, at index 0 of the
// initial population.
func WithSeedParams(p model.Params) Option {
	return func(o *options) { o.seed = p.Clone() }
}

func buildOptions(opts []Option) options {
	o := options{log: logging.Noop(), tracer: observability.Tracer()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// initialParams returns n bundles: the optional seed first, the rest
// sampled uniformly.
func initialParams(sp Space, rng *rand.Rand, seed model.Params, n int) ([]model.Params, []model.Vector) {
	params := make([]model.Params, 0, n)
	if seed != nil && n > 0 {
		params = append(params, sp.Clamp(seed))
	}
	for len(params) < n {
		params = append(params, sp.Sample(rng))
	}
	vectors := make([]model.Vector, n)
	for i, p := range params {
		vectors[i] = sp.Normalize(p)
	}
	return params, vectors
}

func sortByFitness(pop []model.Candidate) {
	sort.SliceStable(pop, func(i, j int) bool {
		return pop[i].Fitness > pop[j].Fitness
	})
}

// summarize builds the history entry for one generation.
func summarize(generation int, fitness []float64, best model.Candidate, bestEver float64, geometry model.Params) model.GenerationRecord {
	rec := model.GenerationRecord{
		Generation:      generation,
		BestFitness:     best.Fitness,
		BestEverFitness: bestEver,
		BestGeometry:    model.DigestOf(geometry),
	}
	if len(fitness) == 0 {
		return rec
	}
	rec.AvgFitness, rec.StdDevFitness = stat.PopMeanStdDev(fitness, nil)
	rec.MinFitness = floats.Min(fitness)
	return rec
}

func fitnessOf(pop []model.Candidate) []float64 {
	out := make([]float64, len(pop))
	for i, c := range pop {
		out[i] = c.Fitness
	}
	return out
}

func topOf(pop []model.Candidate, k int) []model.Candidate {
	k = min(k, len(pop))
	out := make([]model.Candidate, k)
	for i := range out {
		out[i] = pop[i].Clone()
	}
	return out
}
