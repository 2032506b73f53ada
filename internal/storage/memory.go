package storage

import (
	"context"
	"errors"
	"sync"

	"antennaforge/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	candidates  map[string][]model.CandidateRecord
	history     map[string][]model.GenerationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.candidates = make(map[string][]model.CandidateRecord)
	s.history = make(map[string][]model.GenerationRecord)
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveCandidates(_ context.Context, runID string, candidates []model.CandidateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.candidates[runID] = cloneCandidates(candidates)
	return nil
}

func (s *MemoryStore) GetCandidates(_ context.Context, runID string) ([]model.CandidateRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates, ok := s.candidates[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneCandidates(candidates), true, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, runID string, history []model.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[runID] = append([]model.GenerationRecord(nil), history...)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, runID string) ([]model.GenerationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.GenerationRecord(nil), history...), true, nil
}
