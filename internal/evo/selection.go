package evo

import (
	"fmt"
	"math/rand"

	"antennaforge/internal/model"
)

// Selector chooses a parent from a scored population.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, population []model.Candidate) (model.Candidate, error)
}

// TournamentSelector samples Size distinct candidates and keeps the fittest.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, population []model.Candidate) (model.Candidate, error) {
	if rng == nil {
		return model.Candidate{}, fmt.Errorf("random source is required")
	}
	if len(population) == 0 {
		return model.Candidate{}, fmt.Errorf("population is empty")
	}
	size := s.Size
	if size <= 0 {
		size = 3
	}
	if size > len(population) {
		size = len(population)
	}

	picks := rng.Perm(len(population))[:size]
	best := population[picks[0]]
	for _, idx := range picks[1:] {
		if population[idx].Fitness > best.Fitness {
			best = population[idx]
		}
	}
	return best, nil
}
