package storage

import (
	"context"
	"testing"
	"time"

	"antennaforge/internal/model"
)

// exerciseStore runs the round trips every backend must satisfy.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              "run-a",
		Algorithm:       "ga",
		Status:          model.RunRunning,
		StartedAt:       base,
	}
	newer := model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              "run-b",
		Algorithm:       "pso",
		Status:          model.RunRunning,
		StartedAt:       base.Add(time.Minute),
	}
	for _, run := range []model.RunRecord{older, newer} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}

	older.Status = model.RunCompleted
	older.BestFitness = 88
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if got.Status != model.RunCompleted || got.BestFitness != 88 {
		t.Fatalf("run not updated: %+v", got)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing run: ok=%t err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("unexpected run order: %+v", runs)
	}

	candidates := []model.CandidateRecord{
		{VersionedRecord: CurrentVersion(), RunID: "run-a", Rank: 1, IsBest: true, Params: model.Params{"length_mm": 29.5}, Fitness: 88},
		{VersionedRecord: CurrentVersion(), RunID: "run-a", Rank: 2, Params: model.Params{"length_mm": 31}, Fitness: 80},
	}
	if err := store.SaveCandidates(ctx, "run-a", candidates); err != nil {
		t.Fatalf("save candidates: %v", err)
	}
	candidates[0].Params["length_mm"] = -1
	loaded, ok, err := store.GetCandidates(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get candidates: ok=%t err=%v", ok, err)
	}
	if len(loaded) != 2 || !loaded[0].IsBest || loaded[0].Params["length_mm"] != 29.5 {
		t.Fatalf("unexpected candidates: %+v", loaded)
	}

	history := []model.GenerationRecord{
		{Generation: 1, BestFitness: 70, BestEverFitness: 70},
		{Generation: 2, BestFitness: 65, BestEverFitness: 70, BestGeometry: model.BestGeometry{LengthMM: 30}},
	}
	if err := store.SaveHistory(ctx, "run-a", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	gotHistory, ok, err := store.GetHistory(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get history: ok=%t err=%v", ok, err)
	}
	if len(gotHistory) != 2 || gotHistory[1] != history[1] {
		t.Fatalf("unexpected history: %+v", gotHistory)
	}
	if _, ok, err := store.GetHistory(ctx, "run-b"); err != nil || ok {
		t.Fatalf("history of run-b: ok=%t err=%v", ok, err)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err = store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
	if _, ok, _ := store.GetCandidates(ctx, "run-a"); ok {
		t.Fatal("candidates survived reset")
	}
}
