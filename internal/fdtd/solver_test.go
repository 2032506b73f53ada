package fdtd

import (
	"context"
	"errors"
	"math"
	"testing"

	"antennaforge/internal/model"
)

func testGeometry() Geometry {
	return Geometry{
		Shape:             model.ShapeRectPatch,
		LengthMM:          29.5,
		WidthMM:           38,
		SubstrateHeightMM: 1.6,
		EpsR:              4.4,
		FrequencyGHz:      2.4,
	}
}

func TestSimulateCoarsePatch(t *testing.T) {
	res, err := Simulate(context.Background(), testGeometry(), SimConfig{Resolution: 10})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	for axis, n := range res.GridSize {
		if n < minCells {
			t.Fatalf("grid axis %d has %d cells", axis, n)
		}
	}
	if res.Steps <= 0 || res.Steps > DefaultMaxSteps {
		t.Fatalf("steps = %d", res.Steps)
	}
	if len(res.Slice.Ez) != res.GridSize[0] || len(res.Slice.Ez[0]) != res.GridSize[1] {
		t.Fatalf("slice shape %dx%d, grid %v", len(res.Slice.Ez), len(res.Slice.Ez[0]), res.GridSize)
	}
	if len(res.Slice.X) != res.GridSize[0] || len(res.Slice.Y) != res.GridSize[1] {
		t.Fatal("coordinate axes do not match slice shape")
	}
	if maxAbs(res.Slice.EMagnitude) == 0 {
		t.Fatal("field slice is empty")
	}
	if maxAbs(res.Slice.Ez) > displayMaxE+1e-9 {
		t.Fatalf("Ez not display scaled: %v", maxAbs(res.Slice.Ez))
	}
	m := res.Metrics
	if m.ResonantFrequencyGHz != 2.4 || m.BandwidthMHz != 100 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.ReturnLossDB > 0 || math.IsNaN(m.ReturnLossDB) {
		t.Fatalf("return loss = %v, want <= 0", m.ReturnLossDB)
	}
	if m.GainDBi < 0 || m.GainDBi > 10 {
		t.Fatalf("gain = %v, want within [0,10]", m.GainDBi)
	}
}

func TestSimulateParallelMatchesSerial(t *testing.T) {
	cfg := SimConfig{Resolution: 10, MaxSteps: 20}
	serial, err := Simulate(context.Background(), testGeometry(), cfg)
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	cfg.Workers = 4
	parallel, err := Simulate(context.Background(), testGeometry(), cfg)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	for i := range serial.Slice.Ez {
		for j := range serial.Slice.Ez[i] {
			if serial.Slice.Ez[i][j] != parallel.Slice.Ez[i][j] {
				t.Fatalf("Ez[%d][%d] differs: %v vs %v", i, j, serial.Slice.Ez[i][j], parallel.Slice.Ez[i][j])
			}
		}
	}
}

func TestSimulateHonoursMaxSteps(t *testing.T) {
	res, err := Simulate(context.Background(), testGeometry(), SimConfig{Resolution: 10, MaxSteps: 5})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.Steps != 5 {
		t.Fatalf("steps = %d, want 5", res.Steps)
	}
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Simulate(ctx, testGeometry(), SimConfig{Resolution: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	g := testGeometry()
	g.LengthMM = 0
	if _, err := Simulate(context.Background(), g, SimConfig{}); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	g = testGeometry()
	g.EpsR = math.NaN()
	if _, err := Simulate(context.Background(), g, SimConfig{}); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry for NaN eps_r, got %v", err)
	}
	g = testGeometry()
	g.Shape = model.ShapeSlot
	if _, err := Simulate(context.Background(), g, SimConfig{}); !errors.Is(err, ErrUnsupportedShape) {
		t.Fatalf("expected ErrUnsupportedShape, got %v", err)
	}
}

func TestCourantStep(t *testing.T) {
	dx := 1e-3
	limit := dx / (C0 * math.Sqrt(3))
	if dt, repaired := CourantStep(dx, 0); repaired || math.Abs(dt-limit/1.1) > 1e-24 {
		t.Fatalf("default step = %v repaired=%v", dt, repaired)
	}
	for _, bad := range []float64{-1, 2 * limit} {
		dt, repaired := CourantStep(dx, bad)
		if !repaired || math.Abs(dt-0.8*limit) > 1e-24 {
			t.Fatalf("CourantStep(%v) = %v, %v", bad, dt, repaired)
		}
	}
	if dt, repaired := CourantStep(dx, limit/2); repaired || dt != limit/2 {
		t.Fatalf("valid step changed: %v", dt)
	}
}

func TestStabilityMonitor(t *testing.T) {
	steady := &stabilityMonitor{}
	for step := 0; step < 200; step++ {
		if steady.observe(step, 1) {
			t.Fatalf("steady series flagged at step %d", step)
		}
	}

	growing := &stabilityMonitor{}
	flagged := -1
	for step := 0; step < 60; step++ {
		v := 1.0
		if step >= 50 {
			v = 1000
		}
		if growing.observe(step, v) {
			flagged = step
			break
		}
	}
	if flagged != 51 {
		t.Fatalf("growth flagged at step %d, want 51", flagged)
	}
}

func TestTM10Pattern(t *testing.T) {
	s := FieldSlice{X: axisMM(0.05, 21), Y: axisMM(0.05, 21)}
	fillTM10(&s, 30, 40)
	if s.Source != SourceAnalytical {
		t.Fatalf("source = %q", s.Source)
	}
	if math.Abs(s.Ez[10][10]-10) > 1e-9 {
		t.Fatalf("centre Ez = %v, want 10", s.Ez[10][10])
	}
	corner := 5 * math.Exp(-math.Hypot(50.0/30, 50.0/40)/2)
	if math.Abs(s.Ez[0][0]-corner) > 1e-9 {
		t.Fatalf("corner Ez = %v, want %v", s.Ez[0][0], corner)
	}
	if s.Hx[10][10] != -0.5*s.Ez[10][10]/freeSpaceZ {
		t.Fatalf("Hx not derived from Ez")
	}
}

func TestTM10PatternTinyPatch(t *testing.T) {
	s := FieldSlice{X: axisMM(0.05, 20), Y: axisMM(0.05, 20)}
	fillTM10(&s, 0.01, 0.01)
	if maxAbs(s.Ez) == 0 {
		t.Fatal("tiny patch produced an all-zero pattern")
	}

	g := Geometry{
		Shape:             model.ShapeRectPatch,
		LengthMM:          0.01,
		WidthMM:           0.01,
		SubstrateHeightMM: 0.01,
		EpsR:              4.4,
		FrequencyGHz:      0.01,
	}
	res, err := Simulate(context.Background(), g, SimConfig{Resolution: 10, MaxSteps: 20})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if maxAbs(res.Slice.EMagnitude) == 0 {
		t.Fatalf("field slice is empty, source %q", res.Slice.Source)
	}
}

func TestMetricsFromSlice(t *testing.T) {
	plane := func(v float64) [][]float64 {
		p := zeros(2, 2)
		p[1][1] = v
		return p
	}
	cases := []struct {
		peak, rl, gain float64
	}{
		{0, -10, 5},
		{100, 0, 5},
		{10, -20, 0},
	}
	for _, tc := range cases {
		m := metricsFromSlice(FieldSlice{EMagnitude: plane(tc.peak)}, 2.4)
		if math.Abs(m.ReturnLossDB-tc.rl) > 1e-9 || math.Abs(m.GainDBi-tc.gain) > 1e-9 {
			t.Fatalf("peak %v: got RL=%v gain=%v, want %v %v", tc.peak, m.ReturnLossDB, m.GainDBi, tc.rl, tc.gain)
		}
	}
}
