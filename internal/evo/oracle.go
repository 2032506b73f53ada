// Package evo holds the population-based design search drivers: a genetic
// algorithm and a particle swarm. Both treat the fitness oracle as opaque
// and work on normalized vectors produced by a space.Space.
package evo

import (
	"context"
	"fmt"
	"sync"

	"antennaforge/internal/model"
)

// Score is what the oracle reports for one geometry.
type Score struct {
	Fitness float64
	Metrics model.Metrics
}

// Oracle scores a geometry. It must be safe for concurrent use; errors are
// reserved for cancellation and abort the run.
type Oracle interface {
	Score(ctx context.Context, p model.Params) (Score, error)
}

type OracleFunc func(ctx context.Context, p model.Params) (Score, error)

func (f OracleFunc) Score(ctx context.Context, p model.Params) (Score, error) {
	return f(ctx, p)
}

// Result is the outcome of one optimizer run.
type Result struct {
	Best    model.Candidate          `json:"best"`
	History []model.GenerationRecord `json:"history"`
	Top     []model.Candidate        `json:"top"`
}

// TopK is the number of ranked candidates reported per run.
const TopK = 10

// evaluateAll scores params on a pool of workers. Results are placed by
// index so the returned slice lines up with the input regardless of
// completion order.
func evaluateAll(ctx context.Context, oracle Oracle, workers int, params []model.Params, vectors []model.Vector) ([]model.Candidate, error) {
	if len(params) != len(vectors) {
		return nil, fmt.Errorf("params/vector mismatch: %d vs %d", len(params), len(vectors))
	}
	if len(params) == 0 {
		return nil, nil
	}
	type job struct {
		idx int
	}
	type result struct {
		idx   int
		score Score
		err   error
	}

	jobs := make(chan job)
	results := make(chan result, len(params))

	workerCount := workers
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(params) {
		workerCount = len(params)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				score, err := oracle.Score(ctx, params[j.idx])
				results <- result{idx: j.idx, score: score, err: err}
			}
		}()
	}

	for i := range params {
		jobs <- job{idx: i}
	}
	close(jobs)

	wg.Wait()
	close(results)

	scored := make([]model.Candidate, len(params))
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		scored[res.idx] = model.Candidate{
			Params:  params[res.idx],
			Vector:  vectors[res.idx],
			Fitness: res.score.Fitness,
			Metrics: res.score.Metrics,
		}
	}
	return scored, nil
}
