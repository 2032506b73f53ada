package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"antennaforge/internal/emmodel"
	"antennaforge/internal/evo"
	"antennaforge/internal/model"
)

const runIndexFile = "run_index.json"

// Artifact file names inside a run directory.
const (
	ConfigFile        = "config.json"
	HistoryFile       = "history.json"
	TopCandidatesFile = "top_candidates.json"
	HistorySeriesFile = "history.csv"
	HistoryPlotFile   = "history.png"
	TouchstoneFile    = "best.s1p"
)

type RunConfig struct {
	RunID        string             `json:"run_id"`
	Algorithm    string             `json:"algorithm"`
	DesignType   string             `json:"design_type"`
	ShapeFamily  string             `json:"shape_family,omitempty"`
	Substrate    string             `json:"substrate,omitempty"`
	Conductor    string             `json:"conductor,omitempty"`
	Mode         string             `json:"mode,omitempty"`
	Targets      model.Targets      `json:"targets"`
	Constraints  map[string]float64 `json:"constraints,omitempty"`
	AutoDesign   bool               `json:"auto_design"`
	SeedGeometry model.Params       `json:"seed_geometry,omitempty"`
	GA           *evo.GAConfig      `json:"ga,omitempty"`
	PSO          *evo.PSOConfig     `json:"pso,omitempty"`
}

type RunArtifacts struct {
	Config           RunConfig                `json:"config"`
	History          []model.GenerationRecord `json:"history"`
	FinalBestFitness float64                  `json:"final_best_fitness"`
	TopCandidates    []model.CandidateRecord  `json:"top_candidates"`
	// BestSweep, when set, is written as a Touchstone file.
	BestSweep []emmodel.SweepPoint `json:"-"`
	// Plot enables the history PNG.
	Plot bool `json:"-"`
}

type RunIndexEntry struct {
	RunID              string  `json:"run_id"`
	Algorithm          string  `json:"algorithm"`
	DesignType         string  `json:"design_type"`
	ShapeFamily        string  `json:"shape_family,omitempty"`
	TargetFrequencyGHz float64 `json:"target_frequency_ghz"`
	Generations        int     `json:"generations"`
	PopulationSize     int     `json:"population_size"`
	Seed               int64   `json:"seed"`
	Workers            int     `json:"workers"`
	Status             string  `json:"status"`
	FinalBestFitness   float64 `json:"final_best_fitness"`
	CreatedAtUTC       string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, ConfigFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, HistoryFile), map[string]any{
		"history":            nonNilHistory(artifacts.History),
		"final_best_fitness": artifacts.FinalBestFitness,
	}); err != nil {
		return "", err
	}
	top := artifacts.TopCandidates
	if top == nil {
		top = []model.CandidateRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, TopCandidatesFile), top); err != nil {
		return "", err
	}
	if err := WriteHistorySeries(runDir, artifacts.History); err != nil {
		return "", err
	}
	if len(artifacts.BestSweep) > 0 {
		if err := writeTouchstone(filepath.Join(runDir, TouchstoneFile), artifacts.BestSweep); err != nil {
			return "", err
		}
	}
	if artifacts.Plot && len(artifacts.History) > 0 {
		title := fmt.Sprintf("%s %s", strings.ToUpper(artifacts.Config.Algorithm), artifacts.Config.RunID)
		if err := WriteHistoryPlot(filepath.Join(runDir, HistoryPlotFile), title, artifacts.History); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func writeTouchstone(path string, sweep []emmodel.SweepPoint) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := emmodel.WriteTouchstone(file, sweep, emmodel.Z0); err != nil {
		return err
	}
	return file.Sync()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first. Entries with equal
// timestamps keep later appends first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// readRunIndex returns the index in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory's artifacts to outDir/runID.
// The JSON and CSV artifacts are required; the Touchstone file and the plot
// are copied when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{ConfigFile, HistoryFile, TopCandidatesFile, HistorySeriesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{TouchstoneFile, HistoryPlotFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, ConfigFile), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, ConfigFile), cfg)
}

func ReadTopCandidates(baseDir, runID string) ([]model.CandidateRecord, bool, error) {
	var top []model.CandidateRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, TopCandidatesFile), &top)
	return top, ok, err
}

func ReadHistory(baseDir, runID string) ([]model.GenerationRecord, bool, error) {
	var payload struct {
		History []model.GenerationRecord `json:"history"`
	}
	ok, err := readJSON(filepath.Join(baseDir, runID, HistoryFile), &payload)
	return payload.History, ok, err
}

func nonNilHistory(history []model.GenerationRecord) []model.GenerationRecord {
	if history == nil {
		return []model.GenerationRecord{}
	}
	return history
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
