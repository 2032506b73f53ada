package storage

import (
	"context"

	"antennaforge/internal/model"
)

// Store persists optimization runs: the run header, the ranked candidates
// and the per-generation history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveCandidates(ctx context.Context, runID string, candidates []model.CandidateRecord) error
	GetCandidates(ctx context.Context, runID string) ([]model.CandidateRecord, bool, error)
	SaveHistory(ctx context.Context, runID string, history []model.GenerationRecord) error
	GetHistory(ctx context.Context, runID string) ([]model.GenerationRecord, bool, error)
	Reset(ctx context.Context) error
}
