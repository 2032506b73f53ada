package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerTagsRunID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx := ContextWithRunID(context.Background(), "run-7")
	log.With(String("component", "evaluator")).Info(ctx, "scored", Float("fitness", 81.5))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["run_id"] != "run-7" {
		t.Fatalf("expected run_id on line, got %v", line["run_id"])
	}
	if line["component"] != "evaluator" {
		t.Fatalf("expected component field, got %v", line["component"])
	}
	if line["fitness"] != 81.5 {
		t.Fatalf("expected fitness=81.5, got %v", line["fitness"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestOrNoop(t *testing.T) {
	log := OrNoop(nil)
	log.Error(context.Background(), "dropped")
	if log.With(Int("k", 1)) == nil {
		t.Fatal("expected non-nil logger from With")
	}
}
