package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"antennaforge/internal/evo"
	"antennaforge/internal/fitness"
	"antennaforge/internal/model"
	"antennaforge/internal/space"
	"antennaforge/internal/storage"
)

func newTestRunner(t *testing.T, store storage.Store) *Runner {
	t.Helper()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	r, err := New(store, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func patchRequest() Request {
	return Request{
		Algorithm:      evo.AlgorithmGA,
		DesignType:     "patch",
		Targets:        model.Targets{FrequencyGHz: 2.4, BandwidthMHz: 80},
		Substrate:      "FR4",
		PopulationSize: 6,
		Generations:    3,
		Seed:           7,
	}
}

func TestRunCompletesAndPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := newTestRunner(t, store)

	summary, err := r.Run(ctx, patchRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := uuid.Parse(summary.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %q", summary.RunID)
	}
	if summary.Status != model.RunCompleted || len(summary.History) != 3 {
		t.Fatalf("unexpected summary: status=%s history=%d", summary.Status, len(summary.History))
	}

	run, ok, err := store.GetRun(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.Status != model.RunCompleted || run.BestFitness != summary.Best.Fitness {
		t.Fatalf("unexpected run record: %+v", run)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Fatalf("finished before start: %+v", run)
	}

	history, ok, err := store.GetHistory(ctx, summary.RunID)
	if err != nil || !ok || len(history) != 3 {
		t.Fatalf("history: ok=%t err=%v len=%d", ok, err, len(history))
	}
	if history[2].BestEverFitness != summary.Best.Fitness {
		t.Fatalf("best-ever %v does not match best %v", history[2].BestEverFitness, summary.Best.Fitness)
	}

	cands, ok, err := store.GetCandidates(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("candidates: ok=%t err=%v", ok, err)
	}
	if len(cands) == 0 || len(cands) > evo.TopK+1 {
		t.Fatalf("unexpected candidate count %d", len(cands))
	}
	for i, c := range cands {
		if c.IsBest != (i == 0) {
			t.Fatalf("candidate %d is_best=%t", i, c.IsBest)
		}
		if c.Rank != i+1 || c.RunID != summary.RunID {
			t.Fatalf("candidate %d mislabelled: %+v", i, c)
		}
		if i > 0 && c.Fitness > cands[i-1].Fitness {
			t.Fatalf("candidates not ranked at %d", i)
		}
		for j := 0; j < i; j++ {
			if c.Params.ApproxEqual(cands[j].Params, evo.DedupTolerance) {
				t.Fatalf("candidates %d and %d are duplicates", j, i)
			}
		}
	}
	if cands[0].Fitness != summary.Best.Fitness {
		t.Fatalf("best candidate fitness %v, want %v", cands[0].Fitness, summary.Best.Fitness)
	}
}

func TestRunUsesGivenIDAndPSO(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestRunner(t, store)

	req := patchRequest()
	req.RunID = "fixed-id"
	req.Algorithm = "PSO"
	summary, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID != "fixed-id" || summary.Algorithm != evo.AlgorithmPSO {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	run, _, _ := store.GetRun(context.Background(), "fixed-id")
	if run.Algorithm != evo.AlgorithmPSO {
		t.Fatalf("unexpected algorithm recorded: %q", run.Algorithm)
	}
}

func TestRunAutoDesignSeedsPopulation(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestRunner(t, store)

	req := patchRequest()
	req.AutoDesign = true
	summary, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Seeded {
		t.Fatal("expected the auto-design seed to be used")
	}

	sp, err := space.New("patch", "", nil)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	seed, err := sp.AutoDesign(2.4, 4.4, 1.6)
	if err != nil {
		t.Fatalf("auto-design: %v", err)
	}
	seedScore, err := fitness.NewEvaluator(nil).Evaluate(context.Background(), fitness.Request{
		Shape:     model.ShapeRectPatch,
		Params:    seed,
		Targets:   req.Targets,
		Substrate: "FR4",
	})
	if err != nil {
		t.Fatalf("evaluate seed: %v", err)
	}
	if summary.Best.Fitness < seedScore.Fitness {
		t.Fatalf("best %v is worse than the seed %v", summary.Best.Fitness, seedScore.Fitness)
	}
}

func TestRunAppliesMaxSize(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestRunner(t, store)

	req := patchRequest()
	req.MaxSizeMM = 25
	summary, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, c := range summary.Candidates {
		if c.Params["length_mm"] > 25 || c.Params["width_mm"] > 25 {
			t.Fatalf("candidate exceeds max size: %+v", c.Params)
		}
	}
	run, _, _ := store.GetRun(context.Background(), summary.RunID)
	if run.Constraints["max_size_mm"] != 25.0 {
		t.Fatalf("constraints not recorded: %+v", run.Constraints)
	}
}

func TestRunFailsFastOnBadRequests(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r := newTestRunner(t, store)

	req := patchRequest()
	req.DesignType = "horn"
	if _, err := r.Run(ctx, req); !errors.Is(err, space.ErrUnknownDesignType) {
		t.Fatalf("expected unknown design type, got %v", err)
	}

	req = patchRequest()
	req.Algorithm = "annealing"
	if _, err := r.Run(ctx, req); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected unknown algorithm, got %v", err)
	}

	req = patchRequest()
	req.PopulationSize = 0
	req.GA = &evo.GAConfig{Generations: 3}
	if _, err := r.Run(ctx, req); err == nil {
		t.Fatal("expected invalid GA config error")
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("rejected requests left %d run records", len(runs))
	}
}

func TestRunRecordsCancellation(t *testing.T) {
	store := storage.NewMemoryStore()
	r := newTestRunner(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := patchRequest()
	req.RunID = "cancelled-run"
	if _, err := r.Run(ctx, req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	run, ok, err := store.GetRun(context.Background(), "cancelled-run")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.Status != model.RunFailed || run.ErrorType != ErrorTypeCancelled || run.Error == "" {
		t.Fatalf("unexpected failed record: %+v", run)
	}
}

type failingCandidatesStore struct {
	*storage.MemoryStore
}

func (failingCandidatesStore) SaveCandidates(context.Context, string, []model.CandidateRecord) error {
	return errors.New("disk full")
}

func TestRunRecordsPersistenceFailure(t *testing.T) {
	store := failingCandidatesStore{MemoryStore: storage.NewMemoryStore()}
	r := newTestRunner(t, store)

	req := patchRequest()
	req.RunID = "persist-fail"
	if _, err := r.Run(context.Background(), req); err == nil {
		t.Fatal("expected persistence error")
	}
	run, _, _ := store.GetRun(context.Background(), "persist-fail")
	if run.Status != model.RunFailed || run.ErrorType != ErrorTypePersistence {
		t.Fatalf("unexpected record: %+v", run)
	}
}

func TestRunUsesInjectedClock(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r, err := New(store, nil, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := r.Run(context.Background(), patchRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Elapsed != time.Second {
		t.Fatalf("elapsed %v, want 1s", summary.Elapsed)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
