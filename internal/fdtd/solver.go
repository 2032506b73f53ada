// Package fdtd is a small 3D finite-difference time-domain solver for
// rectangular microstrip patches. It trades accuracy for bounded run time:
// grids are capped at 100×100×80 cells and runs at 1000 steps.
package fdtd

import (
	"context"
	"errors"
	"fmt"
	"math"

	"antennaforge/internal/logging"
	"antennaforge/internal/model"
)

var (
	ErrInvalidGeometry  = errors.New("fdtd: invalid geometry")
	ErrUnsupportedShape = errors.New("fdtd: unsupported shape")
)

const (
	DefaultResolution = 20
	DefaultMaxSteps   = 1000
	DefaultCheckEvery = 25

	minResolution   = 10
	maxNX           = 100
	maxNY           = 100
	maxNZ           = 80
	minCells        = 20
	sourceAmplitude = 100.0
	metalFactor     = 100.0
	periods         = 2

	unstableAfter   = 50
	unstableGrowth  = 100.0
	overflowLimit   = 1e12
	overflowRescale = 1e10
	lateTimeStart   = 0.7
)

// Slice sources.
const (
	SourceFinal      = "final"
	SourceAverage    = "late_time_average"
	SourceAnalytical = "tm10_analytical"
)

// Geometry describes the patch under simulation.
type Geometry struct {
	Shape             model.Shape
	LengthMM          float64
	WidthMM           float64
	SubstrateHeightMM float64
	EpsR              float64
	FrequencyGHz      float64
}

// GeometryFromParams reads a rectangular patch bundle.
func GeometryFromParams(shape model.Shape, p model.Params, frequencyGHz float64) Geometry {
	return Geometry{
		Shape:             shape,
		LengthMM:          p.Get("length_mm", 0),
		WidthMM:           p.Get("width_mm", 0),
		SubstrateHeightMM: p.Get("substrate_height_mm", 1.6),
		EpsR:              p.Get("eps_r", 4.4),
		FrequencyGHz:      frequencyGHz,
	}
}

func (g Geometry) validate() error {
	if g.Shape != model.ShapeRectPatch {
		return fmt.Errorf("%w: %s", ErrUnsupportedShape, g.Shape)
	}
	switch {
	case !(g.LengthMM > 0), !(g.WidthMM > 0), !(g.SubstrateHeightMM > 0):
		return fmt.Errorf("%w: L=%g W=%g h=%g", ErrInvalidGeometry, g.LengthMM, g.WidthMM, g.SubstrateHeightMM)
	case !(g.EpsR >= 1):
		return fmt.Errorf("%w: eps_r=%g", ErrInvalidGeometry, g.EpsR)
	case !(g.FrequencyGHz > 0):
		return fmt.Errorf("%w: frequency=%g", ErrInvalidGeometry, g.FrequencyGHz)
	}
	return nil
}

// SimConfig tunes one run. Zero values select the defaults.
type SimConfig struct {
	// Resolution is cells per free-space wavelength (minimum 10).
	Resolution int
	MaxSteps   int
	// TimeStep overrides the Courant-derived step in seconds. Values above
	// the Courant limit or below zero are repaired to 0.8 of the limit.
	TimeStep   float64
	Workers    int
	CheckEvery int
	Logger     logging.Logger
}

func (c SimConfig) withDefaults() SimConfig {
	if c.Resolution <= 0 {
		c.Resolution = DefaultResolution
	}
	c.Resolution = max(c.Resolution, minResolution)
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.CheckEvery <= 0 {
		c.CheckEvery = DefaultCheckEvery
	}
	c.Logger = logging.OrNoop(c.Logger)
	return c
}

// Metrics are the heuristic figures derived from the field slice. The
// frequency is the source frequency and the bandwidth a fixed placeholder;
// no frequency sweep is performed.
type Metrics struct {
	ResonantFrequencyGHz float64 `json:"resonant_frequency_ghz"`
	ReturnLossDB         float64 `json:"return_loss_dB"`
	FrequencyErrorGHz    float64 `json:"frequency_error_ghz"`
	BandwidthMHz         float64 `json:"bandwidth_mhz"`
	GainDBi              float64 `json:"gain_dbi"`
}

// FieldSlice is one xy plane of the six field components, indexed [x][y],
// with coordinates in millimetres.
type FieldSlice struct {
	X          []float64   `json:"x"`
	Y          []float64   `json:"y"`
	ZMM        float64     `json:"z_mm"`
	Ex         [][]float64 `json:"Ex"`
	Ey         [][]float64 `json:"Ey"`
	Ez         [][]float64 `json:"Ez"`
	Hx         [][]float64 `json:"Hx"`
	Hy         [][]float64 `json:"Hy"`
	Hz         [][]float64 `json:"Hz"`
	EMagnitude [][]float64 `json:"E_magnitude"`
	HMagnitude [][]float64 `json:"H_magnitude"`
	Source     string      `json:"source"`
}

type Result struct {
	Success  bool       `json:"success"`
	Metrics  Metrics    `json:"metrics"`
	Slice    FieldSlice `json:"field_slice"`
	Unstable bool       `json:"unstable"`
	Steps    int        `json:"time_steps"`
	GridSize [3]int     `json:"grid_size"`
	DxMM     float64    `json:"dx_mm"`
	// TimeStepRepaired is set when the requested time step was replaced.
	TimeStepRepaired bool `json:"time_step_repaired,omitempty"`
}

// CourantStep returns the time step to use for cell size dx. A requested
// step of 0 selects dx/(c√3·1.1); a step above the Courant limit or below
// zero is repaired to 0.8 of the limit.
func CourantStep(dx, requested float64) (dt float64, repaired bool) {
	limit := dx / (C0 * math.Sqrt(3))
	switch {
	case requested == 0:
		return limit / 1.1, false
	case requested < 0, requested > limit, math.IsNaN(requested):
		return 0.8 * limit, true
	default:
		return requested, false
	}
}

// Simulate runs one full-wave simulation. Only geometry errors and context
// errors are returned; numerical trouble is reported through Result.
func Simulate(ctx context.Context, geom Geometry, cfg SimConfig) (Result, error) {
	if err := geom.validate(); err != nil {
		return Result{}, err
	}
	cfg = cfg.withDefaults()

	length := geom.LengthMM * 1e-3
	width := geom.WidthMM * 1e-3
	height := geom.SubstrateHeightMM * 1e-3
	freq := geom.FrequencyGHz * 1e9
	lambda := C0 / freq

	dx := lambda / float64(cfg.Resolution)
	padding := lambda / 2
	nx := min(max(minCells, int((length+2*padding)/dx)), maxNX)
	ny := min(max(minCells, int((width+2*padding)/dx)), maxNY)
	nz := min(max(minCells, int((2*height+2*padding)/dx)), maxNZ)

	dt, repaired := CourantStep(dx, cfg.TimeStep)
	if repaired {
		cfg.Logger.Info(ctx, "fdtd time step repaired",
			logging.Float("requested_s", cfg.TimeStep), logging.Float("dt_s", dt))
	}
	steps := min(int(periods/freq/dt), cfg.MaxSteps)

	g := newGrid(nx, ny, nz, dx, dt, cfg.Workers)
	cx, cy, cz := nx/2, ny/2, nz/2
	halfL := int(length / (2 * dx))
	halfW := int(width / (2 * dx))
	halfH := int(height / (2 * dx))
	x1, x2 := cx-halfL, cx+halfL
	y1, y2 := cy-halfW, cy+halfW
	z1, z2 := cz-halfH, cz+halfH
	metal := max(1, int(0.01e-3/dx))

	g.setMaterial(x1, x2, y1, y2, z1, z2, geom.EpsR, 1)
	g.setMaterial(x1, x2, y1, y2, z2, z2+metal, geom.EpsR*metalFactor, 1)
	g.setMaterial(x1, x2, y1, y2, z1-metal, z1, geom.EpsR*metalFactor, 1)

	feedX := cx - int(length/(4*dx))
	planeZ := int(float64(cz) + height/dx + lambda/(4*dx))
	if planeZ >= nz-1 {
		planeZ = nz/2 + 5
	}
	if planeZ < 2 {
		planeZ = nz / 2
	}
	planeZ = min(planeZ, nz-1)

	period := 1 / freq
	rampSteps := int(period / dt)

	mon := &stabilityMonitor{}
	avg := newPlaneAverage(nx, ny)
	unstable := false
	done := 0
	for step := 0; step < steps; step++ {
		if step%cfg.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("fdtd: cancelled at step %d: %w", step, err)
			}
		}
		g.updateH()

		ramp := 1.0
		if rampSteps > 0 {
			ramp = math.Min(1, float64(step)/float64(rampSteps))
		}
		t := float64(step) * dt
		g.inject(feedX, cy, cz, sourceAmplitude*ramp*math.Sin(2*math.Pi*freq*t))
		g.updateE()
		done = step + 1

		peak := g.peak()
		if mon.observe(step, peak) {
			cfg.Logger.Warn(ctx, "fdtd run unstable, stopping early", logging.Int("step", step))
			unstable = true
			break
		}
		if peak > overflowLimit {
			cfg.Logger.Warn(ctx, "fdtd fields rescaled", logging.Int("step", step), logging.Float("peak", peak))
			g.scale(overflowRescale / peak)
		}
		if float64(step) > lateTimeStart*float64(steps) {
			avg.add(g, planeZ)
		}
	}

	slice := FieldSlice{
		Ex:     g.plane(g.ex, planeZ),
		Ey:     g.plane(g.ey, planeZ),
		Ez:     g.plane(g.ez, planeZ),
		Hx:     g.plane(g.hx, planeZ),
		Hy:     g.plane(g.hy, planeZ),
		Hz:     g.plane(g.hz, planeZ),
		Source: SourceFinal,
	}
	slice.X = axisMM(length+padding, nx)
	slice.Y = axisMM(width+padding, ny)
	slice.ZMM = float64(planeZ-cz) * dx * 1e3

	if maxAbs(slice.Ez) < 1e-10 && avg.count > 0 {
		ez, hx, hy := avg.mean()
		slice.Ez, slice.Hx, slice.Hy = ez, hx, hy
		slice.Source = SourceAverage
	}
	if maxAbs(slice.Ez) < 1e-6 {
		cfg.Logger.Debug(ctx, "fdtd slice empty, using TM10 cavity pattern")
		fillTM10(&slice, geom.LengthMM, geom.WidthMM)
	}
	scaleForDisplay(&slice)
	slice.EMagnitude = magnitude(slice.Ex, slice.Ey, slice.Ez)
	slice.HMagnitude = magnitude(slice.Hx, slice.Hy, slice.Hz)

	return Result{
		Success:          true,
		Metrics:          metricsFromSlice(slice, geom.FrequencyGHz),
		Slice:            slice,
		Unstable:         unstable,
		Steps:            done,
		GridSize:         [3]int{nx, ny, nz},
		DxMM:             dx * 1e3,
		TimeStepRepaired: repaired,
	}, nil
}

func metricsFromSlice(s FieldSlice, frequencyGHz float64) Metrics {
	peak := maxAbs(s.EMagnitude)
	m := Metrics{
		ResonantFrequencyGHz: frequencyGHz,
		BandwidthMHz:         100,
		ReturnLossDB:         -10,
		GainDBi:              5,
	}
	if peak > 0 {
		ratio := 10 * math.Log10(peak/sourceAmplitude)
		m.ReturnLossDB = -math.Abs(2 * ratio)
		m.GainDBi = math.Max(0, math.Min(10, 5+ratio))
	}
	return m
}

// stabilityMonitor flags runaway growth: after step 50, a peak in the last
// 10 steps more than 100× the peak of the 40 steps before.
type stabilityMonitor struct {
	history []float64
}

func (m *stabilityMonitor) observe(step int, peak float64) bool {
	m.history = append(m.history, peak)
	n := len(m.history)
	if step <= unstableAfter || n <= 50 {
		return false
	}
	recent := maxOf(m.history[n-10:])
	older := maxOf(m.history[n-50 : n-10])
	return older > 0 && recent/older > unstableGrowth
}

type planeAverage struct {
	ez, hx, hy [][]float64
	count      int
}

func newPlaneAverage(nx, ny int) *planeAverage {
	return &planeAverage{ez: zeros(nx, ny), hx: zeros(nx, ny), hy: zeros(nx, ny)}
}

func (a *planeAverage) add(g *grid, k int) {
	for i := 0; i < g.nx; i++ {
		for j := 0; j < g.ny; j++ {
			n := g.idx(i, j, k)
			a.ez[i][j] += g.ez[n]
			a.hx[i][j] += g.hx[n]
			a.hy[i][j] += g.hy[n]
		}
	}
	a.count++
}

func (a *planeAverage) mean() (ez, hx, hy [][]float64) {
	f := 1 / float64(a.count)
	for _, p := range [][][]float64{a.ez, a.hx, a.hy} {
		for _, row := range p {
			for j := range row {
				row[j] *= f
			}
		}
	}
	return a.ez, a.hx, a.hy
}
