package emmodel

import (
	"math"

	"antennaforge/internal/model"
)

// PatchDirectivityDBi is the empirical patch directivity: 6.5 dBi adjusted
// by aspect ratio W/L and substrate permittivity, clamped to [5, 9].
func PatchDirectivityDBi(lengthMM, widthMM, epsR float64) float64 {
	aspect := 1.0
	if lengthMM > 0 {
		aspect = widthMM / lengthMM
	}
	d := (6.5 + 0.5*(aspect-1)) * (1 - 0.1*(epsR-2.2)/2.2)
	return clamp(d, 5, 9)
}

// DefaultPatchEfficiency is used when no loss budget is available: 85%
// derated by 3% per mm of substrate above 0.8 mm.
func DefaultPatchEfficiency(heightMM float64) float64 {
	return 0.85 * clamp(1-(heightMM-0.8)*0.03, 0.70, 0.95)
}

// Gain returns the gain in dBi. efficiency is linear in (0,1]; pass a
// negative value to use DefaultPatchEfficiency.
func Gain(shape model.Shape, p model.Params, efficiency float64) float64 {
	switch shape {
	case model.ShapeSlot:
		return 3.0
	case model.ShapeFractal:
		return 5.0
	}

	var l, w float64
	switch shape {
	case model.ShapeRectPatch:
		l, w = p.Get("length_mm", 0), p.Get("width_mm", 0)
	case model.ShapeStarPatch:
		l = 2 * StarEffectiveRadius(p.Get("outer_radius_mm", 0))
		w = l
	default:
		return 4.5
	}
	if efficiency < 0 {
		efficiency = DefaultPatchEfficiency(p.Get("substrate_height_mm", defaultHeight))
	}
	linear := efficiency * math.Pow(10, PatchDirectivityDBi(l, w, p.Get("eps_r", defaultEpsR))/10)
	if linear <= 0 {
		return 0
	}
	return 10 * math.Log10(linear)
}
