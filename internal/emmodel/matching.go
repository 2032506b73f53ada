package emmodel

import (
	"errors"
	"fmt"
	"math"
)

var ErrNoMatch = errors.New("load cannot be matched with an L-section")

// Topology names the series/shunt element kinds of an L-section.
type Topology string

const (
	SeriesLShuntC Topology = "L-C"
	SeriesCShuntL Topology = "C-L"
	SeriesLShuntL Topology = "L-L"
	SeriesCShuntC Topology = "C-C"
)

// LSection is one lumped-element matching solution. Element values are in
// nH and pF; the unused fields of a topology are zero.
type LSection struct {
	Topology         Topology `json:"type"`
	SeriesInductorNH float64  `json:"series_inductor_nh,omitempty"`
	SeriesCapPF      float64  `json:"series_capacitor_pf,omitempty"`
	ShuntInductorNH  float64  `json:"shunt_inductor_nh,omitempty"`
	ShuntCapPF       float64  `json:"shunt_capacitor_pf,omitempty"`
}

func (s LSection) String() string {
	switch s.Topology {
	case SeriesLShuntC:
		return fmt.Sprintf("series %.2f nH inductor, shunt %.2f pF capacitor", s.SeriesInductorNH, s.ShuntCapPF)
	case SeriesCShuntL:
		return fmt.Sprintf("series %.2f pF capacitor, shunt %.2f nH inductor", s.SeriesCapPF, s.ShuntInductorNH)
	case SeriesLShuntL:
		return fmt.Sprintf("series %.2f nH inductor, shunt %.2f nH inductor", s.SeriesInductorNH, s.ShuntInductorNH)
	case SeriesCShuntC:
		return fmt.Sprintf("series %.2f pF capacitor, shunt %.2f pF capacitor", s.SeriesCapPF, s.ShuntCapPF)
	}
	return string(s.Topology)
}

type MatchingNetwork struct {
	LoadReal     float64    `json:"load_real_ohm"`
	LoadImag     float64    `json:"load_imag_ohm"`
	FrequencyGHz float64    `json:"frequency_ghz"`
	Solutions    []LSection `json:"solutions"`
}

// Best returns the first solution found.
func (m MatchingNetwork) Best() (LSection, error) {
	if len(m.Solutions) == 0 {
		return LSection{}, ErrNoMatch
	}
	return m.Solutions[0], nil
}

// DesignMatchingNetwork enumerates L-section solutions matching load to z0
// at frequencyGHz. Loads with R < z0 try the L-C and C-L forms, loads with
// R > z0 the L-L and C-C forms; each is kept only when the series element
// realizes with the required sign.
func DesignMatchingNetwork(load complex128, frequencyGHz, z0 float64) MatchingNetwork {
	omega := 2 * math.Pi * frequencyGHz * 1e9
	r, x := real(load), imag(load)
	out := MatchingNetwork{LoadReal: r, LoadImag: x, FrequencyGHz: frequencyGHz}
	if r <= 0 || omega <= 0 {
		return out
	}

	if r < z0 {
		q := math.Sqrt(z0/r - 1)
		if xs := x + q*r; xs > 0 {
			xp := -z0 / q
			out.Solutions = append(out.Solutions, LSection{
				Topology:         SeriesLShuntC,
				SeriesInductorNH: xs / omega * 1e9,
				ShuntCapPF:       -1 / (xp * omega) * 1e12,
			})
		}
		if xs := x - q*r; xs < 0 {
			xp := z0 / q
			out.Solutions = append(out.Solutions, LSection{
				Topology:        SeriesCShuntL,
				SeriesCapPF:     -1 / (xs * omega) * 1e12,
				ShuntInductorNH: xp / omega * 1e9,
			})
		}
	}
	if r > z0 {
		q := math.Sqrt(r/z0 - 1)
		if xs := x - q*z0; xs > 0 {
			out.Solutions = append(out.Solutions, LSection{
				Topology:         SeriesLShuntL,
				SeriesInductorNH: xs / omega * 1e9,
				ShuntInductorNH:  q * z0 / omega * 1e9,
			})
		}
		if xs := x + q*z0; xs < 0 {
			xp := -q * z0
			out.Solutions = append(out.Solutions, LSection{
				Topology:    SeriesCShuntC,
				SeriesCapPF: -1 / (xs * omega) * 1e12,
				ShuntCapPF:  -1 / (xp * omega) * 1e12,
			})
		}
	}
	return out
}
