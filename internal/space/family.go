package space

import (
	"math"
	"strings"

	"antennaforge/internal/model"
)

// Design types accepted by Resolve.
const (
	DesignPatch   = "patch"
	DesignSlot    = "slot"
	DesignFractal = "fractal"
	DesignCustom  = "custom"
)

// Constraints carries caller bound overrides (min_<name>, max_<name>),
// min_size_mm and the max_size_mm ceiling.
type Constraints map[string]float64

func (c Constraints) get(key string, fallback float64) float64 {
	if v, ok := c[key]; ok {
		return v
	}
	return fallback
}

// MaxSize returns the max_size_mm ceiling, if set.
func (c Constraints) MaxSize() (float64, bool) {
	v, ok := c["max_size_mm"]
	return v, ok && v > 0
}

type Bound struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer,omitempty"`
}

// family is the closed set of geometry encodings. Each variant owns its
// bound table.
type family interface {
	shape() model.Shape
	bounds(c Constraints) []Bound
}

type rectangularPatch struct{}
type starPatch struct{}
type slotAntenna struct{}
type fractalAntenna struct{}

func override(c Constraints, name string, lo, hi float64) Bound {
	return Bound{Name: name, Min: c.get("min_"+name, lo), Max: c.get("max_"+name, hi)}
}

func substrateBounds(c Constraints) []Bound {
	return []Bound{
		override(c, "substrate_height_mm", 0.5, 3.0),
		override(c, "eps_r", 2.2, 10.0),
	}
}

func (rectangularPatch) shape() model.Shape { return model.ShapeRectPatch }

func (rectangularPatch) bounds(c Constraints) []Bound {
	minSize := c.get("min_size_mm", 10)
	maxSize := c.get("max_size_mm", 50)
	return append([]Bound{
		override(c, "length_mm", minSize, maxSize),
		override(c, "width_mm", minSize, maxSize),
		override(c, "feed_offset_mm", -10, 10),
	}, substrateBounds(c)...)
}

func (starPatch) shape() model.Shape { return model.ShapeStarPatch }

func (starPatch) bounds(c Constraints) []Bound {
	maxRadius := c.get("max_size_mm", 50) / 2
	points := override(c, "num_points", 4, 12)
	points.Integer = true
	return append([]Bound{
		override(c, "outer_radius_mm", 10, math.Min(maxRadius, 150)),
		override(c, "inner_radius_mm", 5, math.Min(maxRadius*0.7, 100)),
		points,
		override(c, "feed_offset_mm", -10, 10),
	}, substrateBounds(c)...)
}

func (slotAntenna) shape() model.Shape { return model.ShapeSlot }

func (slotAntenna) bounds(c Constraints) []Bound {
	return append([]Bound{
		override(c, "length_mm", 20, 60),
		override(c, "width_mm", 20, 60),
		override(c, "slot_length_mm", 5, 30),
		override(c, "slot_width_mm", 1, 5),
	}, substrateBounds(c)...)
}

func (fractalAntenna) shape() model.Shape { return model.ShapeFractal }

func (fractalAntenna) bounds(c Constraints) []Bound {
	iterations := override(c, "iterations", 1, 4)
	iterations.Integer = true
	return append([]Bound{
		iterations,
		override(c, "scale_factor", 0.3, 0.7),
		{Name: "base_length_mm", Min: c.get("min_length_mm", 15), Max: c.get("max_length_mm", 40)},
		{Name: "base_width_mm", Min: c.get("min_width_mm", 15), Max: c.get("max_width_mm", 40)},
	}, substrateBounds(c)...)
}

// resolve maps a design type and shape family to a family variant. The
// custom design type is optimized as a patch.
func resolve(designType, shapeFamily string) (family, error) {
	dt := strings.ToLower(strings.TrimSpace(designType))
	sf := strings.ToLower(strings.TrimSpace(shapeFamily))

	switch dt {
	case DesignPatch, DesignCustom:
		switch sf {
		case "", "rectangular", "rectangular_patch", "rect":
			return rectangularPatch{}, nil
		case "star", "star_patch":
			return starPatch{}, nil
		}
		return nil, unknownShape(shapeFamily)
	case DesignSlot:
		if sf != "" && sf != DesignSlot {
			return nil, unknownShape(shapeFamily)
		}
		return slotAntenna{}, nil
	case DesignFractal:
		if sf != "" && sf != DesignFractal {
			return nil, unknownShape(shapeFamily)
		}
		return fractalAntenna{}, nil
	}
	return nil, unknownDesign(designType)
}

// lengthLike reports fields subject to the max_size_mm ceiling.
func lengthLike(name string) bool {
	switch name {
	case "length_mm", "width_mm", "base_length_mm", "base_width_mm":
		return true
	}
	return false
}
