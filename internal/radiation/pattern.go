// Package radiation computes far-field patterns for patch radiators from
// the TM10 cavity model.
package radiation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"antennaforge/internal/emmodel"
	"antennaforge/internal/model"
)

// PatchEfficiency is the radiation efficiency applied to pattern directivity.
const PatchEfficiency = 0.9

const (
	DefaultThetaPoints = 181
	DefaultPhiPoints   = 360
)

var ErrInvalidGrid = errors.New("pattern grid needs at least 3 points per axis")

// Pattern is a normalized far-field amplitude pattern sampled on a
// (phi, theta) grid. Values[i][j] is the amplitude at Phi[i], Theta[j].
type Pattern struct {
	FrequencyGHz    float64     `json:"frequency_ghz"`
	Theta           []float64   `json:"theta"`
	Phi             []float64   `json:"phi"`
	Values          [][]float64 `json:"gain_pattern"`
	DirectivityDBi  float64     `json:"directivity_dBi"`
	GainDBi         float64     `json:"gain_dBi"`
	Efficiency      float64     `json:"efficiency"`
	BeamwidthEDeg   float64     `json:"beamwidth_e_plane_deg"`
	BeamwidthHDeg   float64     `json:"beamwidth_h_plane_deg"`
	MaxGainThetaDeg float64     `json:"max_gain_theta_deg"`
	Isotropic       bool        `json:"isotropic,omitempty"`
}

// Compute returns the pattern of the geometry at frequencyGHz. Rectangular
// patches use the TM10 array-factor model radiating into the upper
// hemisphere over a ground plane; other shapes get an isotropic reference.
func Compute(shape model.Shape, p model.Params, frequencyGHz float64, thetaPoints, phiPoints int) (Pattern, error) {
	if thetaPoints < 3 || phiPoints < 3 {
		return Pattern{}, fmt.Errorf("%w: theta=%d phi=%d", ErrInvalidGrid, thetaPoints, phiPoints)
	}
	if frequencyGHz <= 0 {
		return Pattern{}, fmt.Errorf("pattern frequency must be > 0, got %g", frequencyGHz)
	}
	theta := floats.Span(make([]float64, thetaPoints), 0, math.Pi)
	phi := floats.Span(make([]float64, phiPoints), 0, 2*math.Pi)

	if shape != model.ShapeRectPatch {
		return isotropic(theta, phi, frequencyGHz), nil
	}

	lambda := emmodel.SpeedOfLight / (frequencyGHz * 1e9)
	length := p.Get("length_mm", 30) * 1e-3
	width := p.Get("width_mm", 30) * 1e-3

	values := make([][]float64, phiPoints)
	peak := 0.0
	for i, ph := range phi {
		row := make([]float64, thetaPoints)
		for j, th := range theta {
			if th > math.Pi/2 {
				continue
			}
			st := math.Sin(th)
			e := math.Cos(math.Pi*length*st*math.Cos(ph)/lambda) *
				sinc(width*st*math.Sin(ph)/lambda) *
				math.Cos(th)
			row[j] = math.Abs(e)
		}
		peak = math.Max(peak, floats.Max(row))
		values[i] = row
	}
	if peak > 0 {
		for _, row := range values {
			floats.Scale(1/peak, row)
		}
	}

	out := Pattern{
		FrequencyGHz: frequencyGHz,
		Theta:        theta,
		Phi:          phi,
		Values:       values,
		Efficiency:   PatchEfficiency,
	}
	if d := Directivity(theta, phi, values); d > 0 {
		out.DirectivityDBi = 10 * math.Log10(d)
		out.GainDBi = out.DirectivityDBi + 10*math.Log10(PatchEfficiency)
	}

	eCut := values[0]
	hCut := values[phiPoints/4]
	out.BeamwidthEDeg = Beamwidth(theta, eCut)
	out.BeamwidthHDeg = Beamwidth(theta, hCut)
	out.MaxGainThetaDeg = theta[floats.MaxIdx(eCut)] * 180 / math.Pi
	return out, nil
}

// Directivity is 4π divided by the integral of |E|² sinθ over the sphere.
func Directivity(theta, phi []float64, values [][]float64) float64 {
	perPhi := make([]float64, len(phi))
	integrand := make([]float64, len(theta))
	for i, row := range values {
		for j, th := range theta {
			integrand[j] = row[j] * row[j] * math.Sin(th)
		}
		perPhi[i] = integrate.Trapezoidal(theta, integrand)
	}
	total := integrate.Trapezoidal(phi, perPhi)
	if total <= 0 {
		return 0
	}
	return 4 * math.Pi / total
}

// Beamwidth is the half-power beamwidth of a cut in degrees: the angular
// span between the first and last samples at or above peak/√2.
func Beamwidth(theta, cut []float64) float64 {
	peak := floats.Max(cut)
	if peak <= 0 {
		return 180
	}
	half := peak / math.Sqrt2
	first, last := -1, -1
	for i, v := range cut {
		if v >= half {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 || first == last {
		return 180
	}
	return math.Min(math.Abs(theta[last]-theta[first])*180/math.Pi, 180)
}

func isotropic(theta, phi []float64, frequencyGHz float64) Pattern {
	values := make([][]float64, len(phi))
	for i := range values {
		row := make([]float64, len(theta))
		for j := range row {
			row[j] = 1
		}
		values[i] = row
	}
	return Pattern{
		FrequencyGHz:    frequencyGHz,
		Theta:           theta,
		Phi:             phi,
		Values:          values,
		Efficiency:      1,
		BeamwidthEDeg:   360,
		BeamwidthHDeg:   360,
		MaxGainThetaDeg: 90,
		Isotropic:       true,
	}
}

// sinc is the normalized sinc, sin(πx)/(πx).
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
