package emmodel

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"antennaforge/internal/model"
)

var ErrInvalidSweep = errors.New("invalid frequency sweep")

// SweepPoint is S11 at one frequency.
type SweepPoint struct {
	FrequencyGHz float64
	Impedance    complex128
	S11          complex128
	ReturnLossDB float64
	VSWR         float64
	Smith        SmithPoint
}

// Sweep evaluates the impedance model at points frequencies spaced evenly
// over [startGHz, stopGHz].
func Sweep(shape model.Shape, p model.Params, startGHz, stopGHz float64, points int) ([]SweepPoint, error) {
	if points < 2 || startGHz <= 0 || stopGHz <= startGHz {
		return nil, fmt.Errorf("%w: start=%g stop=%g points=%d", ErrInvalidSweep, startGHz, stopGHz, points)
	}
	out := make([]SweepPoint, points)
	step := (stopGHz - startGHz) / float64(points-1)
	for i := range out {
		f := startGHz + float64(i)*step
		port := Port(InputImpedance(shape, p, f), Z0)
		out[i] = SweepPoint{
			FrequencyGHz: f,
			Impedance:    port.Impedance,
			S11:          port.Gamma,
			ReturnLossDB: port.ReturnLossDB,
			VSWR:         port.VSWR,
			Smith:        SmithPointOf(port.Gamma),
		}
	}
	return out, nil
}

// WriteTouchstone writes a one-port S1P file in GHz / real-imaginary format.
func WriteTouchstone(w io.Writer, points []SweepPoint, z0 float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "! antennaforge one-port S-parameters")
	fmt.Fprintln(bw, "! Frequency unit: GHz, S-parameter: RI (Real/Imaginary)")
	fmt.Fprintf(bw, "# GHZ S RI R %g\n", z0)
	for _, p := range points {
		fmt.Fprintf(bw, "%.6f %.6e %.6e\n", p.FrequencyGHz, real(p.S11), imag(p.S11))
	}
	return bw.Flush()
}
