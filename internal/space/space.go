package space

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"antennaforge/internal/model"
)

var (
	ErrUnknownDesignType  = errors.New("unknown design type")
	ErrUnknownShapeFamily = errors.New("unknown shape family")
	ErrDimensionMismatch  = errors.New("vector length does not match parameter space")
	ErrConflictingBounds  = errors.New("conflicting constraints")
)

func unknownDesign(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownDesignType, name)
}

func unknownShape(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownShapeFamily, name)
}

// Space is the bounded parameter space of one design type and shape family
// under fixed constraints. It is immutable after New.
type Space struct {
	family  family
	bounds  []Bound
	index   map[string]int
	maxSize float64
}

// New resolves the family and builds its bound table. Unknown design types
// or shape families fail here, before any optimization starts.
func New(designType, shapeFamily string, constraints Constraints) (*Space, error) {
	fam, err := resolve(designType, shapeFamily)
	if err != nil {
		return nil, err
	}
	bounds := fam.bounds(constraints)
	maxSize, hasCeiling := constraints.MaxSize()
	for i := range bounds {
		b := &bounds[i]
		if hasCeiling && lengthLike(b.Name) {
			b.Max = math.Min(b.Max, maxSize)
		}
		if b.Integer {
			b.Min = math.Ceil(b.Min)
			b.Max = math.Floor(b.Max)
		}
		if b.Min > b.Max {
			b.Min = b.Max
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Name < bounds[j].Name })

	index := make(map[string]int, len(bounds))
	for i, b := range bounds {
		index[b.Name] = i
	}
	if !hasCeiling {
		maxSize = 0
	}
	s := &Space{family: fam, bounds: bounds, index: index, maxSize: maxSize}
	if err := s.checkFeedOffset(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkFeedOffset rejects a feed-offset bound that lies entirely outside
// ±halfLength of the smallest radiator, since Clamp would then have to break
// one of the two limits.
func (s *Space) checkFeedOffset() error {
	off, ok := s.Bound("feed_offset_mm")
	if !ok {
		return nil
	}
	var half float64
	if l, ok := s.Bound("length_mm"); ok {
		half = math.Abs(l.Min) / 2
	} else if r, ok := s.Bound("outer_radius_mm"); ok {
		half = math.Abs(r.Min)
	} else {
		return nil
	}
	if off.Min > half || off.Max < -half {
		return fmt.Errorf("%w: feed_offset_mm [%g, %g] unreachable for half length %g",
			ErrConflictingBounds, off.Min, off.Max, half)
	}
	return nil
}

func (s *Space) Shape() model.Shape { return s.family.shape() }

// Bounds returns the bound table in canonical key order.
func (s *Space) Bounds() []Bound {
	return append([]Bound(nil), s.bounds...)
}

func (s *Space) Keys() []string {
	keys := make([]string, len(s.bounds))
	for i, b := range s.bounds {
		keys[i] = b.Name
	}
	return keys
}

func (s *Space) Dim() int { return len(s.bounds) }

func (s *Space) Bound(name string) (Bound, bool) {
	i, ok := s.index[name]
	if !ok {
		return Bound{}, false
	}
	return s.bounds[i], true
}

// Sample draws every parameter uniformly within its bounds. Integer
// parameters are drawn over [min, max+1) and truncated.
func (s *Space) Sample(rng *rand.Rand) model.Params {
	p := make(model.Params, len(s.bounds))
	for _, b := range s.bounds {
		if b.Integer {
			p[b.Name] = math.Min(math.Floor(b.Min+rng.Float64()*(b.Max+1-b.Min)), b.Max)
			continue
		}
		p[b.Name] = b.Min + rng.Float64()*(b.Max-b.Min)
	}
	return s.Clamp(p)
}

// Normalize min-max scales p into a vector ordered by Keys. A degenerate
// bound (min == max) and a missing parameter both map to 0.
func (s *Space) Normalize(p model.Params) model.Vector {
	v := make(model.Vector, len(s.bounds))
	for i, b := range s.bounds {
		val, ok := p[b.Name]
		if !ok || b.Max == b.Min {
			continue
		}
		v[i] = (val - b.Min) / (b.Max - b.Min)
	}
	return v
}

// Denormalize inverts Normalize after clamping every entry to [0,1], then
// applies Clamp. Short vectors are zero-padded and long vectors truncated.
func (s *Space) Denormalize(v model.Vector) model.Params {
	p := make(model.Params, len(s.bounds))
	for i, b := range s.bounds {
		n := 0.0
		if i < len(v) {
			n = clamp01(v[i])
		}
		p[b.Name] = b.Min + n*(b.Max-b.Min)
	}
	return s.Clamp(p)
}

// DenormalizeStrict is Denormalize that rejects vectors of the wrong length.
func (s *Space) DenormalizeStrict(v model.Vector) (model.Params, error) {
	if len(v) != len(s.bounds) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), len(s.bounds))
	}
	return s.Denormalize(v), nil
}

// Clamp returns a copy of p with every bounded field inside its bounds, the
// max-size ceiling applied to length-like fields, integer fields rounded and
// feed_offset_mm limited to half the radiator length. Clamp is idempotent.
// Fields outside the space are kept as-is.
func (s *Space) Clamp(p model.Params) model.Params {
	out := p.Clone()
	if out == nil {
		out = model.Params{}
	}
	for _, b := range s.bounds {
		v, ok := out[b.Name]
		if !ok {
			continue
		}
		if math.IsNaN(v) {
			v = b.Min
		}
		if b.Integer {
			v = math.Round(v)
		}
		v = math.Max(b.Min, math.Min(b.Max, v))
		if s.maxSize > 0 && lengthLike(b.Name) {
			v = math.Min(v, s.maxSize)
		}
		out[b.Name] = v
	}
	if offset, ok := out["feed_offset_mm"]; ok {
		if half, ok := s.halfLength(out); ok {
			out["feed_offset_mm"] = math.Max(-half, math.Min(half, offset))
		}
	}
	return out
}

// halfLength is the feed-offset limit: half the patch length, or the outer
// radius for star patches.
func (s *Space) halfLength(p model.Params) (float64, bool) {
	if l, ok := p["length_mm"]; ok {
		return math.Abs(l) / 2, true
	}
	if r, ok := p["outer_radius_mm"]; ok {
		return math.Abs(r), true
	}
	return 0, false
}

// Contains reports whether every bounded field of p satisfies its bounds,
// the ceiling and the feed-offset limit, within tol.
func (s *Space) Contains(p model.Params, tol float64) bool {
	for _, b := range s.bounds {
		v, ok := p[b.Name]
		if !ok {
			return false
		}
		if v < b.Min-tol || v > b.Max+tol {
			return false
		}
		if s.maxSize > 0 && lengthLike(b.Name) && v > s.maxSize+tol {
			return false
		}
		if b.Integer && v != math.Round(v) {
			return false
		}
	}
	if offset, ok := p["feed_offset_mm"]; ok {
		if half, ok := s.halfLength(p); ok && math.Abs(offset) > half+tol {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
