package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"antennaforge/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("run_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-fixture-1" || run.Status != model.RunCompleted {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Targets.FrequencyGHz != 2.4 || run.BestFitness != 91.5 {
		t.Fatalf("unexpected run payload: %+v", run)
	}
	if run.Constraints["max_size_mm"] != 40.0 {
		t.Fatalf("unexpected constraints: %+v", run.Constraints)
	}
}

func TestDecodeCandidatesRejectsUnknownSchema(t *testing.T) {
	data, err := os.ReadFile(fixturePath("candidates_v2.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := DecodeCandidates(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	in := model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              "r1",
		Algorithm:       "pso",
		Status:          model.RunFailed,
		Error:           "boom",
		ErrorType:       "solver",
	}
	data, err := EncodeRun(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != in.ID || out.Status != in.Status || out.ErrorType != in.ErrorType {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	in.SchemaVersion = 0
	data, _ = EncodeRun(in)
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestDecodeHistoryMalformed(t *testing.T) {
	if _, err := DecodeHistory([]byte(`{"generation": 1}`)); err == nil {
		t.Fatal("expected error for non-array history")
	}
}

func fixturePath(name string) string {
	return filepath.Join("testdata", name)
}
