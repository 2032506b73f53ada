package space

import (
	"errors"
	"fmt"
	"math"

	"antennaforge/internal/emmodel"
	"antennaforge/internal/model"
)

var ErrNoAutoDesign = errors.New("auto-design is only available for rectangular patches")

const (
	autoDesignIterations = 5
	autoDesignTolerance  = 0.01
	autoDesignAspect     = 1.2
	autoDesignMinSizeMM  = 5.0
)

// AutoDesign estimates a rectangular patch resonating at targetGHz on the
// given substrate. Length starts at a half guided wavelength and is refined
// against the fringing-corrected resonance; width tracks 1.2×length. The
// result is clamped into the space.
func (s *Space) AutoDesign(targetGHz, epsR, heightMM float64) (model.Params, error) {
	if s.Shape() != model.ShapeRectPatch {
		return nil, ErrNoAutoDesign
	}
	if targetGHz <= 0 || epsR < 1 || heightMM <= 0 {
		return nil, fmt.Errorf("auto-design: invalid inputs f=%g eps_r=%g h=%g", targetGHz, epsR, heightMM)
	}

	lambdaMM := emmodel.SpeedOfLight / (targetGHz * 1e9) * 1000
	length := lambdaMM / (2 * math.Sqrt(epsR))
	width := autoDesignAspect * length
	for i := 0; i < autoDesignIterations; i++ {
		f := emmodel.PatchResonance(length, width, heightMM, epsR).Value
		length *= targetGHz / f
		width = autoDesignAspect * length
		if math.Abs(f-targetGHz)/targetGHz < autoDesignTolerance {
			break
		}
	}
	if s.maxSize > 0 {
		length = math.Min(length, s.maxSize)
		width = math.Min(width, s.maxSize)
	}
	length = math.Max(autoDesignMinSizeMM, length)
	width = math.Max(autoDesignMinSizeMM, width)

	return s.Clamp(model.Params{
		"length_mm":           length,
		"width_mm":            width,
		"substrate_height_mm": heightMM,
		"eps_r":               epsR,
		"feed_offset_mm":      0,
	}), nil
}
