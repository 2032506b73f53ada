package model

import (
	"math"
	"sort"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Params is a geometry parameter bundle keyed by parameter name
// (length_mm, width_mm, eps_r, ...). Iteration order is given by Keys.
type Params map[string]float64

// Keys returns the parameter names in canonical lexicographic order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns p[key], or fallback when the key is absent.
func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// ApproxEqual reports whether p and other carry the same keys with values
// within tol of each other.
func (p Params) ApproxEqual(other Params, tol float64) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		o, ok := other[k]
		if !ok || math.Abs(v-o) > tol {
			return false
		}
	}
	return true
}

// Vector is a normalized parameter vector in [0,1]^n, ordered by Params.Keys.
type Vector []float64

func (v Vector) Clone() Vector {
	return append(Vector(nil), v...)
}

// Shape identifies the geometry encoding a Params bundle follows.
type Shape string

const (
	ShapeRectPatch Shape = "rectangular_patch"
	ShapeStarPatch Shape = "star_patch"
	ShapeSlot      Shape = "slot"
	ShapeFractal   Shape = "fractal"
)

func (s Shape) IsPatch() bool {
	return s == ShapeRectPatch || s == ShapeStarPatch
}

const (
	MethodAnalytical = "analytical"
	MethodFullWave   = "full_wave"
)

type Impedance struct {
	Real float64 `json:"real"`
	Imag float64 `json:"imag"`
}

// Metrics is the full diagnostic bundle produced with every fitness score.
type Metrics struct {
	EstimatedFreqGHz      float64   `json:"estimated_freq_ghz"`
	EstimatedBandwidthMHz float64   `json:"estimated_bandwidth_mhz"`
	FreqErrorGHz          float64   `json:"freq_error_ghz"`
	BandwidthErrorMHz     float64   `json:"bandwidth_error_mhz"`
	GainDBi               float64   `json:"gain_estimate_dBi"`
	ReturnLossDB          float64   `json:"return_loss_dB"`
	VSWR                  float64   `json:"vswr"`
	Impedance             Impedance `json:"impedance"`
	ConductorLossDB       float64   `json:"conductor_loss_db"`
	DielectricLossDB      float64   `json:"dielectric_loss_db"`
	TotalLossDB           float64   `json:"total_loss_db"`
	EfficiencyPercent     float64   `json:"efficiency_percent"`
	ImpedanceError        float64   `json:"impedance_error"`
	GainError             float64   `json:"gain_error"`
	SimulationMethod      string    `json:"simulation_method"`
	InvalidGeometry       bool      `json:"invalid_geometry,omitempty"`
	SolverFallback        string    `json:"solver_fallback,omitempty"`
	SolverUnstable        bool      `json:"solver_unstable,omitempty"`
}

// Candidate is one scored geometry. It is not modified after scoring.
type Candidate struct {
	Params  Params  `json:"params"`
	Vector  Vector  `json:"-"`
	Fitness float64 `json:"fitness"`
	Metrics Metrics `json:"metrics"`
}

func (c Candidate) Clone() Candidate {
	c.Params = c.Params.Clone()
	c.Vector = c.Vector.Clone()
	return c
}

type BestGeometry struct {
	LengthMM     float64 `json:"length_mm"`
	WidthMM      float64 `json:"width_mm"`
	FeedOffsetMM float64 `json:"feed_offset_mm"`
}

// DigestOf extracts the geometry fields tracked in generation history.
func DigestOf(p Params) BestGeometry {
	return BestGeometry{
		LengthMM:     p.Get("length_mm", 0),
		WidthMM:      p.Get("width_mm", 0),
		FeedOffsetMM: p.Get("feed_offset_mm", 0),
	}
}

// GenerationRecord is one entry of the append-only optimizer history.
type GenerationRecord struct {
	Generation      int          `json:"generation"`
	BestFitness     float64      `json:"best_fitness"`
	AvgFitness      float64      `json:"avg_fitness"`
	MinFitness      float64      `json:"min_fitness"`
	StdDevFitness   float64      `json:"std_fitness"`
	BestEverFitness float64      `json:"best_ever_fitness"`
	BestGeometry    BestGeometry `json:"best_geometry"`
}

// Targets are the electrical goals a design is scored against.
type Targets struct {
	FrequencyGHz float64 `json:"frequency_ghz"`
	BandwidthMHz float64 `json:"bandwidth_mhz"`
	GainDBi      float64 `json:"gain_dbi"`
	ImpedanceOhm float64 `json:"impedance_ohm"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the persisted header of one optimization run.
type RunRecord struct {
	VersionedRecord
	ID          string         `json:"id"`
	Algorithm   string         `json:"algorithm"`
	DesignType  string         `json:"design_type"`
	ShapeFamily string         `json:"shape_family"`
	Substrate   string         `json:"substrate"`
	Targets     Targets        `json:"targets"`
	Constraints map[string]any `json:"constraints,omitempty"`
	Status      RunStatus      `json:"status"`
	Error       string         `json:"error,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"`
	BestFitness float64        `json:"best_fitness"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
}

// CandidateRecord is a persisted, ranked candidate of a finished run.
type CandidateRecord struct {
	VersionedRecord
	RunID   string  `json:"run_id"`
	Rank    int     `json:"rank"`
	IsBest  bool    `json:"is_best"`
	Params  Params  `json:"params"`
	Fitness float64 `json:"fitness"`
	Metrics Metrics `json:"metrics"`
}
