package emmodel

import (
	"bytes"
	"errors"
	"math"
	"math/cmplx"
	"strings"
	"testing"

	"antennaforge/internal/model"
)

func referencePatch(length float64) model.Params {
	return model.Params{
		"length_mm":           length,
		"width_mm":            25,
		"substrate_height_mm": 1.6,
		"eps_r":               4.4,
		"feed_offset_mm":      0,
	}
}

func TestReferencePatchResonatesNear2p4GHz(t *testing.T) {
	p := referencePatch(30.1)
	f := ResonantFrequency(model.ShapeRectPatch, p)
	if f.Invalid {
		t.Fatal("reference geometry flagged invalid")
	}
	if math.Abs(f.Value-2.4)/2.4 > 0.05 {
		t.Fatalf("f_res = %.4f GHz, want within 5%% of 2.4", f.Value)
	}
	bw := Bandwidth(model.ShapeRectPatch, p, f.Value)
	if bw.Value <= 20 || bw.Value >= 200 {
		t.Fatalf("bandwidth = %.2f MHz, want in (20, 200)", bw.Value)
	}
}

func TestResonanceDecreasesWithLength(t *testing.T) {
	prev := math.Inf(1)
	for l := 10.0; l <= 60; l += 0.5 {
		f := ResonantFrequency(model.ShapeRectPatch, referencePatch(l)).Value
		if f >= prev {
			t.Fatalf("f_res did not decrease at L=%.1f: %.6f >= %.6f", l, f, prev)
		}
		prev = f
	}
}

func TestInvalidGeometryFallsBack(t *testing.T) {
	p := referencePatch(0)
	f := ResonantFrequency(model.ShapeRectPatch, p)
	if !f.Invalid || f.Value != FallbackFrequencyGHz {
		t.Fatalf("expected flagged fallback frequency, got %+v", f)
	}
	bw := Bandwidth(model.ShapeRectPatch, p, f.Value)
	if !bw.Invalid || bw.Value != FallbackBandwidthMHz {
		t.Fatalf("expected flagged fallback bandwidth, got %+v", bw)
	}
	p = referencePatch(30)
	p["substrate_height_mm"] = -1
	if !ResonantFrequency(model.ShapeRectPatch, p).Invalid {
		t.Fatal("negative height should be flagged invalid")
	}
}

func TestNonFiniteGeometryFallsBack(t *testing.T) {
	for _, l := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := referencePatch(l)
		f := ResonantFrequency(model.ShapeRectPatch, p)
		if !f.Invalid || f.Value != FallbackFrequencyGHz {
			t.Fatalf("L=%v: expected flagged fallback frequency, got %+v", l, f)
		}
		bw := Bandwidth(model.ShapeRectPatch, p, f.Value)
		if !bw.Invalid || bw.Value != FallbackBandwidthMHz {
			t.Fatalf("L=%v: expected flagged fallback bandwidth, got %+v", l, bw)
		}
		z := InputImpedance(model.ShapeRectPatch, p, 2.4)
		if cmplx.IsNaN(z) || cmplx.IsInf(z) {
			t.Fatalf("L=%v: impedance not finite: %v", l, z)
		}
	}
	if f := PatchResonance(30, 25, math.NaN(), 4.4); !f.Invalid {
		t.Fatalf("NaN height accepted: %+v", f)
	}
}

func TestShapeSpecificResonance(t *testing.T) {
	slot := ResonantFrequency(model.ShapeSlot, model.Params{"slot_length_mm": 20, "eps_r": 4})
	want := SpeedOfLight / (2 * 0.020 * 2) / 1e9
	if math.Abs(slot.Value-want) > 1e-9 {
		t.Fatalf("slot f = %.6f, want %.6f", slot.Value, want)
	}

	fractal := ResonantFrequency(model.ShapeFractal, model.Params{
		"base_length_mm": 20, "scale_factor": 0.5, "iterations": 2, "eps_r": 4,
	})
	want = SpeedOfLight / (2 * 0.040 * 2) / 1e9
	if math.Abs(fractal.Value-want) > 1e-9 {
		t.Fatalf("fractal f = %.6f, want %.6f", fractal.Value, want)
	}
	if bw := Bandwidth(model.ShapeFractal, model.Params{}, 2); bw.Value != 40 {
		t.Fatalf("fractal bandwidth = %v, want 2%% of 2 GHz", bw.Value)
	}

	small := ResonantFrequency(model.ShapeStarPatch, model.Params{"outer_radius_mm": 15, "eps_r": 4.4, "substrate_height_mm": 1.6})
	large := ResonantFrequency(model.ShapeStarPatch, model.Params{"outer_radius_mm": 30, "eps_r": 4.4, "substrate_height_mm": 1.6})
	if small.Value <= large.Value {
		t.Fatalf("larger star should resonate lower: %.4f vs %.4f", small.Value, large.Value)
	}
}

func TestFractionalBandwidthIsClamped(t *testing.T) {
	if got := FractionalBandwidth(1000, 25, 0.1, 4.4); got != 0.001 {
		t.Fatalf("expected lower clamp, got %g", got)
	}
	if got := FractionalBandwidth(1, 25, 10, 2.2); got != 0.20 {
		t.Fatalf("expected upper clamp, got %g", got)
	}
}

func TestGainModel(t *testing.T) {
	square := model.Params{"length_mm": 30, "width_mm": 30, "eps_r": 2.2, "substrate_height_mm": 1.6}
	if got := Gain(model.ShapeRectPatch, square, 1); math.Abs(got-6.5) > 1e-9 {
		t.Fatalf("lossless square patch gain = %.4f, want 6.5", got)
	}
	if got := Gain(model.ShapeSlot, square, 1); got != 3 {
		t.Fatalf("slot gain = %v, want 3", got)
	}
	withDefault := Gain(model.ShapeRectPatch, square, -1)
	if withDefault >= 6.5 {
		t.Fatalf("default efficiency should reduce gain, got %.3f", withDefault)
	}
	if d := PatchDirectivityDBi(10, 50, 2.2); d != 8.5 {
		t.Fatalf("wide patch directivity = %v, want 8.5", d)
	}
	if d := PatchDirectivityDBi(50, 5, 10); d != 5 {
		t.Fatalf("directivity should clamp to 5, got %v", d)
	}
}

func TestLossBudget(t *testing.T) {
	loss := FeedLoss(2.4, 15, 2, 35, 5.8e7, 4.4, 1.6, 0.02)
	if loss.ConductorDB <= 0 || loss.DielectricDB <= 0 {
		t.Fatalf("expected positive losses, got %+v", loss)
	}
	if math.Abs(loss.TotalDB-(loss.ConductorDB+loss.DielectricDB)) > 1e-12 {
		t.Fatalf("total does not add up: %+v", loss)
	}
	if loss.Efficiency <= 0 || loss.Efficiency > 1 {
		t.Fatalf("efficiency out of range: %v", loss.Efficiency)
	}

	// 35 µm copper is far thicker than the ~1.35 µm skin depth at 2.4 GHz,
	// so the loss must not depend on thickness above 2δ.
	thick := ConductorLossDB(2.4, 15, 2, 35, 5.8e7)
	thicker := ConductorLossDB(2.4, 15, 2, 70, 5.8e7)
	if thick != thicker {
		t.Fatalf("skin-limited loss changed with thickness: %g vs %g", thick, thicker)
	}

	if EfficiencyFromLoss(0) != 1 || EfficiencyFromLoss(-2) != 1 {
		t.Fatal("non-positive loss should give unit efficiency")
	}
	if got := EfficiencyFromLoss(3); math.Abs(got-0.5012) > 1e-3 {
		t.Fatalf("3 dB efficiency = %v", got)
	}
}

func TestSParameterRoundTrip(t *testing.T) {
	loads := []complex128{
		complex(50, 0), complex(25, 0), complex(200, 1), complex(73, -42.5),
		complex(10, 300), complex(1e-3, -5), complex(500, 0),
	}
	for _, z := range loads {
		gamma := ReflectionCoefficient(z, Z0)
		back := ImpedanceFromGamma(gamma, Z0)
		if cmplx.Abs(back-z) > 1e-9*math.Max(1, cmplx.Abs(z)) {
			t.Fatalf("round trip %v -> %v -> %v", z, gamma, back)
		}
		vswr := VSWR(gamma)
		if vswr < 1 {
			t.Fatalf("VSWR < 1 for %v: %v", z, vswr)
		}
		if rl := ReturnLossDB(gamma); !math.IsInf(rl, -1) && rl > 0 {
			t.Fatalf("return loss must be <= 0 dB, got %v for %v", rl, z)
		}
	}

	matched := Port(complex(Z0, 0), Z0)
	if matched.Gamma != 0 || matched.VSWR != 1 || !math.IsInf(matched.ReturnLossDB, -1) || !matched.Matched {
		t.Fatalf("unexpected matched port: %+v", matched)
	}
	if !math.IsInf(VSWR(complex(1, 0)), 1) {
		t.Fatal("expected infinite VSWR for total reflection")
	}
	if !cmplx.IsInf(ImpedanceFromGamma(complex(1, 0), Z0)) {
		t.Fatal("expected infinite impedance for |Γ| = 1")
	}
}

func TestSmithPoints(t *testing.T) {
	gamma := ReflectionCoefficient(complex(25, 30), Z0)
	p := SmithPointOf(gamma)
	if p.X != real(gamma) || p.Y != imag(gamma) || p.Gamma() != gamma {
		t.Fatalf("smith point %+v does not round-trip %v", p, gamma)
	}
	if c := SmithPointOf(0); c != (SmithPoint{}) {
		t.Fatalf("matched load should sit at the chart centre, got %+v", c)
	}

	points, err := Sweep(model.ShapeRectPatch, referencePatch(30.1), 2.0, 3.0, 21)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, sp := range points {
		if sp.Smith.Gamma() != sp.S11 {
			t.Fatalf("%.3f GHz: smith point %+v differs from S11 %v", sp.FrequencyGHz, sp.Smith, sp.S11)
		}
		if math.Hypot(sp.Smith.X, sp.Smith.Y) >= 1 {
			t.Fatalf("%.3f GHz: passive load outside the unit circle: %+v", sp.FrequencyGHz, sp.Smith)
		}
	}
}

func TestMatchedThreshold(t *testing.T) {
	if Matched(2.0) {
		t.Fatal("VSWR 2.0 is not matched")
	}
	if !Matched(1.99) {
		t.Fatal("VSWR 1.99 should be matched")
	}
}

func TestImpedanceFeedPosition(t *testing.T) {
	p := referencePatch(30.1)
	f := ResonantFrequency(model.ShapeRectPatch, p).Value

	edge := InputImpedance(model.ShapeRectPatch, p, f)
	if math.Abs(real(edge)-200) > 1e-9 {
		t.Fatalf("edge-fed resistance at resonance = %v, want 200", real(edge))
	}
	p["feed_offset_mm"] = 15.05
	center := InputImpedance(model.ShapeRectPatch, p, f)
	if math.Abs(real(center)-50) > 1e-9 {
		t.Fatalf("center-fed resistance at resonance = %v, want 50", real(center))
	}
	above := InputImpedance(model.ShapeRectPatch, p, f*1.05)
	below := InputImpedance(model.ShapeRectPatch, p, f*0.95)
	if imag(above) <= 0 || imag(below) >= 0 {
		t.Fatalf("expected inductive above and capacitive below resonance: %v / %v", above, below)
	}
	if real(above) <= real(center) {
		t.Fatal("detuning should raise resistance")
	}
	if z := InputImpedance(model.ShapeSlot, p, 2.4); z != complex(Z0, 0) {
		t.Fatalf("slot impedance = %v, want 50", z)
	}
}

func TestReturnLossSweepHasSingleMinimum(t *testing.T) {
	var lengths, rl []float64
	for l := 26.0; l <= 34.0+1e-9; l += 0.1 {
		z := InputImpedance(model.ShapeRectPatch, referencePatch(l), 2.4)
		lengths = append(lengths, l)
		rl = append(rl, Port(z, Z0).ReturnLossDB)
	}
	best := 0
	for i := range rl {
		if rl[i] < rl[best] {
			best = i
		}
	}
	if lengths[best] < 28 || lengths[best] > 32 {
		t.Fatalf("best match at L=%.2f, want within [28, 32]", lengths[best])
	}
	for i := 1; i <= best; i++ {
		if rl[i] > rl[i-1] {
			t.Fatalf("return loss not descending before minimum at L=%.2f", lengths[i])
		}
	}
	for i := best + 1; i < len(rl); i++ {
		if rl[i] < rl[i-1] {
			t.Fatalf("return loss not ascending after minimum at L=%.2f", lengths[i])
		}
	}
}

func TestDesignMatchingNetwork(t *testing.T) {
	low := DesignMatchingNetwork(complex(25, 0), 2.4, Z0)
	if len(low.Solutions) != 2 {
		t.Fatalf("expected two solutions for 25 Ω, got %+v", low.Solutions)
	}
	best, err := low.Best()
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	if best.Topology != SeriesLShuntC || best.SeriesInductorNH <= 0 || best.ShuntCapPF <= 0 {
		t.Fatalf("unexpected best solution: %+v", best)
	}

	inductive := DesignMatchingNetwork(complex(100, 80), 2.4, Z0)
	if len(inductive.Solutions) != 1 || inductive.Solutions[0].Topology != SeriesLShuntL {
		t.Fatalf("expected L-L solution, got %+v", inductive.Solutions)
	}
	capacitive := DesignMatchingNetwork(complex(100, -80), 2.4, Z0)
	if len(capacitive.Solutions) != 1 || capacitive.Solutions[0].Topology != SeriesCShuntC {
		t.Fatalf("expected C-C solution, got %+v", capacitive.Solutions)
	}

	none := DesignMatchingNetwork(complex(100, 0), 2.4, Z0)
	if _, err := none.Best(); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestSweepAndTouchstone(t *testing.T) {
	points, err := Sweep(model.ShapeRectPatch, referencePatch(30.1), 2.0, 3.0, 11)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(points) != 11 || points[0].FrequencyGHz != 2.0 || math.Abs(points[10].FrequencyGHz-3.0) > 1e-12 {
		t.Fatalf("unexpected sweep grid: first=%v last=%v", points[0].FrequencyGHz, points[len(points)-1].FrequencyGHz)
	}

	var buf bytes.Buffer
	if err := WriteTouchstone(&buf, points, Z0); err != nil {
		t.Fatalf("write touchstone: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[2] != "# GHZ S RI R 50" {
		t.Fatalf("unexpected option line %q", lines[2])
	}
	if len(lines) != 3+len(points) {
		t.Fatalf("expected %d lines, got %d", 3+len(points), len(lines))
	}
	if !strings.HasPrefix(lines[3], "2.000000 ") {
		t.Fatalf("unexpected first data line %q", lines[3])
	}

	if _, err := Sweep(model.ShapeRectPatch, referencePatch(30), 3, 2, 10); !errors.Is(err, ErrInvalidSweep) {
		t.Fatalf("expected ErrInvalidSweep, got %v", err)
	}
}
