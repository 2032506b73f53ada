package emmodel

import "math"

// npToDB converts nepers to decibels.
const npToDB = 8.686

// referenceZ0 approximates the feed-line characteristic impedance in the
// conductor attenuation estimate.
const referenceZ0 = 50.0

// LossBreakdown is the feed-path loss budget at one frequency.
type LossBreakdown struct {
	ConductorDB  float64
	DielectricDB float64
	TotalDB      float64
	Efficiency   float64 // linear
}

// SkinDepth in metres.
func SkinDepth(frequencyHz, conductivity float64) float64 {
	omega := 2 * math.Pi * frequencyHz
	return math.Sqrt(2 / (omega * Mu0 * conductivity))
}

// ConductorLossDB is the skin-effect loss of a trace. Conductors thicker than
// two skin depths only carry current in one skin depth.
func ConductorLossDB(frequencyGHz, traceLengthMM, traceWidthMM, thicknessUM, conductivity float64) float64 {
	if frequencyGHz <= 0 || traceWidthMM <= 0 || conductivity <= 0 || thicknessUM <= 0 {
		return 0
	}
	deltaUM := SkinDepth(frequencyGHz*1e9, conductivity) * 1e6
	effective := thicknessUM
	if thicknessUM > 2*deltaUM {
		effective = deltaUM
	}
	rs := 1 / (conductivity * effective * 1e-6)
	alpha := rs / (referenceZ0 * traceWidthMM * 1e-3)
	return npToDB * alpha * traceLengthMM * 1e-3
}

// DielectricLossDB is the substrate loss along a trace, proportional to
// f·√eps_eff·tanδ. eps_eff is evaluated for a 2 mm line.
func DielectricLossDB(frequencyGHz, traceLengthMM, epsR, heightMM, lossTangent float64) float64 {
	if frequencyGHz <= 0 || lossTangent <= 0 {
		return 0
	}
	epsEff := MicrostripEffectivePermittivity(epsR, heightMM, 2.0)
	alpha := math.Pi * frequencyGHz * 1e9 * math.Sqrt(epsEff) * lossTangent / SpeedOfLight
	return npToDB * alpha * traceLengthMM * 1e-3
}

// EfficiencyFromLoss converts a total loss in dB into linear efficiency.
func EfficiencyFromLoss(totalDB float64) float64 {
	if totalDB <= 0 {
		return 1
	}
	return math.Pow(10, -totalDB/10)
}

// FeedLoss computes the loss budget of a feed trace of the given length.
func FeedLoss(frequencyGHz, traceLengthMM, traceWidthMM, thicknessUM, conductivity, epsR, heightMM, lossTangent float64) LossBreakdown {
	c := ConductorLossDB(frequencyGHz, traceLengthMM, traceWidthMM, thicknessUM, conductivity)
	d := DielectricLossDB(frequencyGHz, traceLengthMM, epsR, heightMM, lossTangent)
	return LossBreakdown{
		ConductorDB:  c,
		DielectricDB: d,
		TotalDB:      c + d,
		Efficiency:   EfficiencyFromLoss(c + d),
	}
}
