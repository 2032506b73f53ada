// Package emmodel holds the closed-form antenna models used to score
// candidates: resonance, bandwidth, gain, losses and one-port network
// quantities. Every function recomputes from its inputs; nothing is cached
// across calls.
package emmodel

import (
	"math"

	"antennaforge/internal/model"
)

const (
	SpeedOfLight = 299792458.0
	Mu0          = 4 * math.Pi * 1e-7

	// FallbackFrequencyGHz and FallbackBandwidthMHz are returned for
	// non-physical geometry.
	FallbackFrequencyGHz = 2.4
	FallbackBandwidthMHz = 100.0

	defaultEpsR   = 4.4
	defaultHeight = 1.6
)

// Estimate is a model output plus a flag telling whether the geometry was
// invalid and a fallback value was substituted.
type Estimate struct {
	Value   float64
	Invalid bool
}

// positive reports whether every x is finite and greater than zero. NaN
// fails the comparison.
func positive(xs ...float64) bool {
	for _, x := range xs {
		if !(x > 0) || math.IsInf(x, 1) {
			return false
		}
	}
	return true
}

func finiteEstimate(v, fallback float64) Estimate {
	if math.IsNaN(v) || math.IsInf(v, 0) || !(v > 0) {
		return Estimate{Value: fallback, Invalid: true}
	}
	return Estimate{Value: v}
}

// EffectivePermittivity is the Hammerstad–Jensen patch permittivity.
func EffectivePermittivity(epsR, h, w float64) float64 {
	return (epsR+1)/2 + (epsR-1)/2*math.Pow(1+12*h/w, -0.5)
}

// MicrostripEffectivePermittivity adds the narrow-strip correction used for
// feed-line loss estimates.
func MicrostripEffectivePermittivity(epsR, h, w float64) float64 {
	if !positive(h, w) {
		return epsR
	}
	f := math.Pow(1+12*h/w, -0.5)
	if w/h < 1 {
		f += 0.04 * (1 - w/h) * (1 - w/h)
	}
	return (epsR+1)/2 + (epsR-1)/2*f
}

// FringingExtension is the per-edge length extension ΔL (same unit as h).
func FringingExtension(epsEff, h, w float64) float64 {
	wh := w / h
	return 0.412 * h * (epsEff + 0.3) * (wh + 0.264) / ((epsEff - 0.258) * (wh + 0.8))
}

// PatchResonance returns the rectangular patch TM10 resonance in GHz for
// dimensions in mm.
func PatchResonance(lengthMM, widthMM, heightMM, epsR float64) Estimate {
	if !positive(widthMM, lengthMM, heightMM) {
		return Estimate{Value: FallbackFrequencyGHz, Invalid: true}
	}
	epsEff := EffectivePermittivity(epsR, heightMM, widthMM)
	lEff := lengthMM + 2*FringingExtension(epsEff, heightMM, widthMM)
	return finiteEstimate(SpeedOfLight/(2*lEff*1e-3*math.Sqrt(epsEff))/1e9, FallbackFrequencyGHz)
}

// StarEffectiveRadius discounts the outer radius for the star indentations.
func StarEffectiveRadius(outerMM float64) float64 {
	return 0.85 * outerMM
}

// ResonantFrequency dispatches on shape. Missing substrate fields default to
// FR4 at 1.6 mm.
func ResonantFrequency(shape model.Shape, p model.Params) Estimate {
	epsR := p.Get("eps_r", defaultEpsR)
	h := p.Get("substrate_height_mm", defaultHeight)

	switch shape {
	case model.ShapeRectPatch:
		return PatchResonance(p.Get("length_mm", 0), p.Get("width_mm", 0), h, epsR)
	case model.ShapeStarPatch:
		r := StarEffectiveRadius(p.Get("outer_radius_mm", 0))
		if !positive(r, h) {
			return Estimate{Value: FallbackFrequencyGHz, Invalid: true}
		}
		epsEff := EffectivePermittivity(epsR, h, 2*r)
		return finiteEstimate(SpeedOfLight/(1.841*r*1e-3*math.Sqrt(epsEff))/1e9, FallbackFrequencyGHz)
	case model.ShapeSlot:
		slot := p.Get("slot_length_mm", 0)
		if !positive(slot, epsR) {
			return Estimate{Value: FallbackFrequencyGHz, Invalid: true}
		}
		return finiteEstimate(SpeedOfLight/(2*slot*1e-3*math.Sqrt(epsR))/1e9, FallbackFrequencyGHz)
	case model.ShapeFractal:
		eff := p.Get("base_length_mm", 0) * (1 + p.Get("scale_factor", 0.5)*p.Get("iterations", 1))
		if !positive(eff, epsR) {
			return Estimate{Value: FallbackFrequencyGHz, Invalid: true}
		}
		return finiteEstimate(SpeedOfLight/(2*eff*1e-3*math.Sqrt(epsR))/1e9, FallbackFrequencyGHz)
	}
	return Estimate{Value: FallbackFrequencyGHz, Invalid: true}
}

// FractionalBandwidth is the patch FBW, clamped to [0.1%, 20%].
func FractionalBandwidth(lengthMM, widthMM, heightMM, epsR float64) float64 {
	epsEff := EffectivePermittivity(epsR, heightMM, widthMM)
	fbw := 3.77 * (epsR - 1) / (epsR * epsR) * (heightMM / (math.Sqrt(epsEff) * lengthMM))
	return clamp(fbw, 0.001, 0.20)
}

// Bandwidth returns the absolute bandwidth in MHz around fResGHz.
func Bandwidth(shape model.Shape, p model.Params, fResGHz float64) Estimate {
	epsR := p.Get("eps_r", defaultEpsR)
	h := p.Get("substrate_height_mm", defaultHeight)

	switch shape {
	case model.ShapeRectPatch, model.ShapeStarPatch:
		l, w := p.Get("length_mm", 0), p.Get("width_mm", 0)
		if shape == model.ShapeStarPatch {
			l = 2 * StarEffectiveRadius(p.Get("outer_radius_mm", 0))
			w = l
		}
		if !positive(l, w, h, epsR-1) {
			return Estimate{Value: FallbackBandwidthMHz, Invalid: true}
		}
		return finiteEstimate(fResGHz*1000*FractionalBandwidth(l, w, h, epsR), FallbackBandwidthMHz)
	case model.ShapeSlot:
		return Estimate{Value: fResGHz * 1000 * 0.03}
	case model.ShapeFractal:
		return Estimate{Value: fResGHz * 1000 * 0.02}
	}
	return Estimate{Value: FallbackBandwidthMHz, Invalid: true}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
