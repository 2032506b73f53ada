package materials

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	TierBudget   = "budget"
	TierStandard = "standard"
	TierPremium  = "premium"
)

// DefaultConductivity is the copper conductivity (S/m) assumed for
// substrate descriptors that do not name a conductor.
const DefaultConductivity = 5.8e7

// DefaultSubstrate is used whenever a substrate name cannot be resolved.
const DefaultSubstrate = "FR4"

const speedOfLight = 299792458.0

var (
	ErrUnknownMaterial   = errors.New("unknown material")
	ErrDuplicateMaterial = errors.New("duplicate material")
)

type Substrate struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	EpsR        float64 `json:"eps_r"`
	LossTangent float64 `json:"loss_tangent"`
	// ThicknessMM is the typical stock thickness; zero means unspecified.
	ThicknessMM  float64 `json:"thickness_mm,omitempty"`
	Conductivity float64 `json:"conductivity_s_per_m"`
	CostTier     string  `json:"cost_tier"`
	Application  string  `json:"application,omitempty"`
}

type Conductor struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	Conductivity float64 `json:"conductivity_s_per_m"`
	CostTier     string  `json:"cost_tier"`
	Application  string  `json:"application,omitempty"`
}

// Registry is a read-only material library. It is built once and shared by
// reference; no method mutates it.
type Registry struct {
	substrates map[string]Substrate
	conductors map[string]Conductor
}

// NewRegistry validates and indexes the given materials. Lookups are
// case-insensitive on Key.
func NewRegistry(substrates []Substrate, conductors []Conductor) (*Registry, error) {
	r := &Registry{
		substrates: make(map[string]Substrate, len(substrates)),
		conductors: make(map[string]Conductor, len(conductors)),
	}
	for _, s := range substrates {
		if s.Key == "" {
			return nil, fmt.Errorf("substrate key is required")
		}
		if s.EpsR < 1 {
			return nil, fmt.Errorf("substrate %s: eps_r must be >= 1, got %g", s.Key, s.EpsR)
		}
		if s.LossTangent < 0 {
			return nil, fmt.Errorf("substrate %s: loss tangent must be >= 0", s.Key)
		}
		k := normalizeKey(s.Key)
		if _, exists := r.substrates[k]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMaterial, s.Key)
		}
		if s.Conductivity <= 0 {
			s.Conductivity = DefaultConductivity
		}
		r.substrates[k] = s
	}
	for _, c := range conductors {
		if c.Key == "" {
			return nil, fmt.Errorf("conductor key is required")
		}
		if c.Conductivity <= 0 {
			return nil, fmt.Errorf("conductor %s: conductivity must be > 0", c.Key)
		}
		k := normalizeKey(c.Key)
		if _, exists := r.conductors[k]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMaterial, c.Key)
		}
		r.conductors[k] = c
	}
	if _, ok := r.substrates[normalizeKey(DefaultSubstrate)]; !ok {
		return nil, fmt.Errorf("registry must contain the default substrate %s", DefaultSubstrate)
	}
	return r, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(builtinSubstrates(), builtinConductors())
	if err != nil {
		panic(fmt.Sprintf("materials: builtin library is invalid: %v", err))
	}
	return r
})

// Default returns the process-wide built-in library.
func Default() *Registry {
	return defaultRegistry()
}

func (r *Registry) Substrate(name string) (Substrate, bool) {
	s, ok := r.substrates[normalizeKey(name)]
	return s, ok
}

// Resolve returns the named substrate, falling back to FR4 for unknown or
// empty names. The bool reports whether the name was found.
func (r *Registry) Resolve(name string) (Substrate, bool) {
	if s, ok := r.Substrate(name); ok {
		return s, true
	}
	return r.substrates[normalizeKey(DefaultSubstrate)], false
}

func (r *Registry) Conductor(name string) (Conductor, error) {
	c, ok := r.conductors[normalizeKey(name)]
	if !ok {
		return Conductor{}, fmt.Errorf("%w: conductor %q", ErrUnknownMaterial, name)
	}
	return c, nil
}

// Substrates lists substrates sorted by key, filtered by cost tier when tier
// is non-empty.
func (r *Registry) Substrates(tier string) []Substrate {
	out := make([]Substrate, 0, len(r.substrates))
	for _, s := range r.substrates {
		if tier != "" && !strings.EqualFold(s.CostTier, tier) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) Conductors(tier string) []Conductor {
	out := make([]Conductor, 0, len(r.conductors))
	for _, c := range r.conductors {
		if tier != "" && !strings.EqualFold(c.CostTier, tier) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LossDBPerMM estimates bulk substrate loss at frequencyGHz.
func (s Substrate) LossDBPerMM(frequencyGHz float64) float64 {
	fHz := frequencyGHz * 1e9
	perMeter := 8.686 * math.Pi * fHz * math.Sqrt(s.EpsR) * s.LossTangent / speedOfLight
	return perMeter / 1000
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
