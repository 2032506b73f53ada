package emmodel

import (
	"math"
	"math/cmplx"

	"antennaforge/internal/model"
)

// Z0 is the reference impedance of every one-port quantity in this package.
const Z0 = 50.0

// MatchedVSWR is the threshold below which a port counts as matched. In the
// negative return-loss convention used here this is RL < -9.54 dB.
const MatchedVSWR = 2.0

const patchQ = 20.0

// ReflectionCoefficient is Γ = (Z - z0)/(Z + z0).
func ReflectionCoefficient(z complex128, z0 float64) complex128 {
	ref := complex(z0, 0)
	return (z - ref) / (z + ref)
}

// ImpedanceFromGamma inverts ReflectionCoefficient. It returns +Inf when
// |Γ| >= 1.
func ImpedanceFromGamma(gamma complex128, z0 float64) complex128 {
	if cmplx.Abs(gamma) >= 1 {
		return cmplx.Inf()
	}
	return complex(z0, 0) * (1 + gamma) / (1 - gamma)
}

// SmithPoint is a reflection coefficient placed on the Smith chart plane:
// X is Re Γ and Y is Im Γ. Passive loads lie inside the unit circle.
type SmithPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func SmithPointOf(gamma complex128) SmithPoint {
	return SmithPoint{X: real(gamma), Y: imag(gamma)}
}

// Gamma returns the reflection coefficient at p.
func (p SmithPoint) Gamma() complex128 {
	return complex(p.X, p.Y)
}

// VSWR returns +Inf for a total reflection.
func VSWR(gamma complex128) float64 {
	mag := cmplx.Abs(gamma)
	if mag >= 1 {
		return math.Inf(1)
	}
	return (1 + mag) / (1 - mag)
}

// ReturnLossDB is 20·log10|Γ|: zero for total reflection, increasingly
// negative as the match improves, -Inf for a perfect match.
func ReturnLossDB(gamma complex128) float64 {
	mag := cmplx.Abs(gamma)
	if mag == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

func Matched(vswr float64) bool {
	return vswr < MatchedVSWR
}

// InputImpedance is the frequency-dependent feed impedance. The rectangular
// patch model moves from ~200 Ω at the edge (offset 0) to ~50 Ω at
// offset = L/2, and detuning raises both resistance and reactance with
// Q = 20. Other shapes report a matched 50 Ω.
func InputImpedance(shape model.Shape, p model.Params, frequencyGHz float64) complex128 {
	if shape != model.ShapeRectPatch {
		return complex(Z0, 0)
	}
	length := p.Get("length_mm", 0)
	width := p.Get("width_mm", length)
	fRes := PatchResonance(length, width, p.Get("substrate_height_mm", defaultHeight), p.Get("eps_r", defaultEpsR)).Value

	detune := 0.0
	if fRes > 0 {
		detune = (frequencyGHz - fRes) / fRes
	}
	ratio := 0.0
	if offset := math.Abs(p.Get("feed_offset_mm", 0)); positive(length) && !math.IsNaN(offset) {
		ratio = math.Min(1, offset/(length/2))
	}

	rBase := 200 - 150*math.Pow(ratio, 1.5)
	r := rBase * (1 + patchQ*math.Abs(detune)*0.5)
	x := 2*patchQ*rBase*detune + 10*(1-2*ratio)*0.1
	return complex(r, x)
}

// PortResult bundles the one-port quantities for an impedance.
type PortResult struct {
	Impedance    complex128
	Gamma        complex128
	VSWR         float64
	ReturnLossDB float64
	Matched      bool
}

func Port(z complex128, z0 float64) PortResult {
	gamma := ReflectionCoefficient(z, z0)
	vswr := VSWR(gamma)
	return PortResult{
		Impedance:    z,
		Gamma:        gamma,
		VSWR:         vswr,
		ReturnLossDB: ReturnLossDB(gamma),
		Matched:      Matched(vswr),
	}
}
