package fdtd

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	displayMaxE = 100.0
	displayMaxH = 0.3
	freeSpaceZ  = 377.0
)

// axisMM spans [-extent, extent] metres in n samples, returned in mm.
func axisMM(extent float64, n int) []float64 {
	axis := floats.Span(make([]float64, n), -extent, extent)
	floats.Scale(1e3, axis)
	return axis
}

// fillTM10 replaces the slice with the analytical TM10 cavity pattern of a
// patch of the given size. Coordinates are normalized by patch length and
// width; Ez follows sin inside the patch and decays outside, Ex and Ey
// carry the edge fringing. A patch narrower than two samples is widened to
// two samples so the centre sample always lies inside it.
func fillTM10(s *FieldSlice, lengthMM, widthMM float64) {
	nx, ny := len(s.X), len(s.Y)
	s.Ex, s.Ey, s.Ez = zeros(nx, ny), zeros(nx, ny), zeros(nx, ny)
	s.Hx, s.Hy, s.Hz = zeros(nx, ny), zeros(nx, ny), zeros(nx, ny)
	lengthMM = math.Max(lengthMM, 2*sampleStep(s.X))
	widthMM = math.Max(widthMM, 2*sampleStep(s.Y))
	for i, x := range s.X {
		px := x / lengthMM
		for j, y := range s.Y {
			py := y / widthMM
			var ez float64
			if math.Abs(px) <= 0.5 && math.Abs(py) <= 0.5 {
				ez = 10 * math.Sin(math.Pi*math.Max(-0.5, math.Min(0.5, px))+math.Pi/2)
			} else {
				ez = 5 * math.Exp(-math.Hypot(px, py)/2)
			}
			if math.Abs(math.Abs(px)-0.5) < 0.15 {
				s.Ex[i][j] = 0.3 * math.Exp(-math.Abs(py)/0.4)
			}
			if math.Abs(math.Abs(py)-0.5) < 0.15 {
				s.Ey[i][j] = 0.3 * math.Exp(-math.Abs(px)/0.4)
			}
			s.Ez[i][j] = ez
			s.Hx[i][j] = -0.5 * ez / freeSpaceZ
			s.Hy[i][j] = 0.3 * ez / freeSpaceZ
		}
	}
	s.Source = SourceAnalytical
}

func sampleStep(axis []float64) float64 {
	if len(axis) < 2 {
		return 0
	}
	return math.Abs(axis[len(axis)-1]-axis[0]) / float64(len(axis)-1)
}

// scaleForDisplay caps |Ez| at 100 and |Hx| at 0.3, scaling the other
// components of the same field by the same factor.
func scaleForDisplay(s *FieldSlice) {
	if e := maxAbs(s.Ez); e > displayMaxE {
		f := displayMaxE / e
		for _, p := range [][][]float64{s.Ex, s.Ey, s.Ez} {
			scalePlane(p, f)
		}
	}
	if h := maxAbs(s.Hx); h > displayMaxH {
		f := displayMaxH / h
		for _, p := range [][][]float64{s.Hx, s.Hy, s.Hz} {
			scalePlane(p, f)
		}
	}
}

func magnitude(a, b, c [][]float64) [][]float64 {
	out := zeros(len(a), len(a[0]))
	for i := range out {
		for j := range out[i] {
			out[i][j] = math.Sqrt(a[i][j]*a[i][j] + b[i][j]*b[i][j] + c[i][j]*c[i][j])
		}
	}
	return out
}

func scalePlane(p [][]float64, f float64) {
	for _, row := range p {
		floats.Scale(f, row)
	}
}

func maxAbs(p [][]float64) float64 {
	m := 0.0
	for _, row := range p {
		for _, v := range row {
			m = math.Max(m, math.Abs(v))
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Max(v)
}

func zeros(nx, ny int) [][]float64 {
	out := make([][]float64, nx)
	for i := range out {
		out[i] = make([]float64, ny)
	}
	return out
}
