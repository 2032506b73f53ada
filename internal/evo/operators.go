package evo

import (
	"math"
	"math/rand"

	"antennaforge/internal/model"
)

// Crossover recombines two normalized parents into one child.
type Crossover interface {
	Name() string
	Apply(rng *rand.Rand, a, b model.Vector) model.Vector
}

// Mutator returns a perturbed copy of a normalized vector.
type Mutator interface {
	Name() string
	Apply(rng *rand.Rand, v model.Vector) model.Vector
}

// UniformCrossover takes each gene from either parent with equal odds.
type UniformCrossover struct{}

func (UniformCrossover) Name() string {
	return "uniform"
}

func (UniformCrossover) Apply(rng *rand.Rand, a, b model.Vector) model.Vector {
	child := make(model.Vector, len(a))
	for i := range child {
		if i < len(b) && rng.Float64() >= 0.5 {
			child[i] = b[i]
			continue
		}
		child[i] = a[i]
	}
	return child
}

// GaussianMutation adds N(0, Sigma) noise to each gene with probability
// GeneRate and clamps the result to [0,1].
type GaussianMutation struct {
	GeneRate float64
	Sigma    float64
}

func (GaussianMutation) Name() string {
	return "gaussian"
}

func (m GaussianMutation) Apply(rng *rand.Rand, v model.Vector) model.Vector {
	out := v.Clone()
	for i := range out {
		if rng.Float64() < m.GeneRate {
			out[i] = math.Max(0, math.Min(1, out[i]+rng.NormFloat64()*m.Sigma))
		}
	}
	return out
}
