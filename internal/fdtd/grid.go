package fdtd

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

const (
	Eps0 = 8.854187817e-12
	Mu0  = 4 * math.Pi * 1e-7
	C0   = 2.99792458e8

	pmlCells = 10
)

var eta0 = math.Sqrt(Mu0 / Eps0)

// grid is a collocated 3D field grid stored in flat x-major slices. It is
// owned by a single Simulate call.
type grid struct {
	nx, ny, nz int
	dx, dt     float64

	ex, ey, ez []float64
	hx, hy, hz []float64
	epsR, muR  []float64

	cax, cbx []float64
	cay, cby []float64
	caz, cbz []float64

	workers int
}

func newGrid(nx, ny, nz int, dx, dt float64, workers int) *grid {
	n := nx * ny * nz
	g := &grid{
		nx: nx, ny: ny, nz: nz,
		dx: dx, dt: dt,
		ex: make([]float64, n), ey: make([]float64, n), ez: make([]float64, n),
		hx: make([]float64, n), hy: make([]float64, n), hz: make([]float64, n),
		epsR: make([]float64, n), muR: make([]float64, n),
		cax: make([]float64, n), cbx: make([]float64, n),
		cay: make([]float64, n), cby: make([]float64, n),
		caz: make([]float64, n), cbz: make([]float64, n),
		workers: max(1, workers),
	}
	for i := range g.epsR {
		g.epsR[i] = 1
		g.muR[i] = 1
	}
	g.updatePML()
	return g
}

func (g *grid) idx(i, j, k int) int { return (i*g.ny+j)*g.nz + k }

func (g *grid) inside(i, j, k int) bool {
	return i >= 0 && i < g.nx && j >= 0 && j < g.ny && k >= 0 && k < g.nz
}

// setMaterial fills the half-open box [x1,x2)×[y1,y2)×[z1,z2), clipped to
// the grid, and recomputes the PML coefficients.
func (g *grid) setMaterial(x1, x2, y1, y2, z1, z2 int, epsR, muR float64) {
	x1, x2 = clipRange(x1, x2, g.nx)
	y1, y2 = clipRange(y1, y2, g.ny)
	z1, z2 = clipRange(z1, z2, g.nz)
	for i := x1; i < x2; i++ {
		for j := y1; j < y2; j++ {
			for k := z1; k < z2; k++ {
				n := g.idx(i, j, k)
				g.epsR[n] = epsR
				g.muR[n] = muR
			}
		}
	}
	g.updatePML()
}

func clipRange(lo, hi, n int) (int, int) {
	return max(0, min(lo, n)), max(0, min(hi, n))
}

// pmlProfile returns the graded conductivity along one axis of length n.
func pmlProfile(n int, sigmaMax float64) []float64 {
	sigma := make([]float64, n)
	for c := 0; c < pmlCells && c < n; c++ {
		s := sigmaMax * math.Pow((float64(c)+0.5)/pmlCells, 3)
		sigma[c] = s
		sigma[n-1-c] = s
	}
	return sigma
}

func (g *grid) updatePML() {
	var sumEps, sumMu float64
	for i := range g.epsR {
		sumEps += g.epsR[i]
		sumMu += g.muR[i]
	}
	sigmaMax := 0.8 * math.Sqrt(sumMu/sumEps) / eta0 / g.dx
	sx := pmlProfile(g.nx, sigmaMax)
	sy := pmlProfile(g.ny, sigmaMax)
	sz := pmlProfile(g.nz, sigmaMax)

	coeff := func(sigma, eps float64) (float64, float64) {
		loss := sigma * g.dt / (2 * Eps0 * eps)
		return (1 - loss) / (1 + loss), g.dt / (Eps0 * eps * (1 + loss))
	}
	for i := 0; i < g.nx; i++ {
		for j := 0; j < g.ny; j++ {
			for k := 0; k < g.nz; k++ {
				n := g.idx(i, j, k)
				eps := g.epsR[n]
				g.cax[n], g.cbx[n] = coeff(sx[i], eps)
				g.cay[n], g.cby[n] = coeff(sy[j], eps)
				g.caz[n], g.cbz[n] = coeff(sz[k], eps)
			}
		}
	}
}

// slabs runs fn over contiguous x ranges in parallel and waits for all of
// them. Each fn call writes only cells inside its own range.
func (g *grid) slabs(fn func(lo, hi int)) {
	eg, _ := errgroup.WithContext(context.Background())
	eg.SetLimit(g.workers)
	size := (g.nx + g.workers - 1) / g.workers
	for lo := 0; lo < g.nx; lo += size {
		lo, hi := lo, min(lo+size, g.nx)
		eg.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = eg.Wait()
}

// updateH advances H by one step from central differences of E.
func (g *grid) updateH() {
	d := 2 * g.dx
	sj, sk := g.nz, 1
	si := g.ny * g.nz
	g.slabs(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			xInterior := i > 0 && i < g.nx-1
			for j := 0; j < g.ny; j++ {
				yInterior := j > 0 && j < g.ny-1
				for k := 0; k < g.nz; k++ {
					zInterior := k > 0 && k < g.nz-1
					n := g.idx(i, j, k)
					coef := g.dt / (Mu0 * g.muR[n])
					if yInterior && zInterior {
						g.hx[n] += coef * ((g.ey[n+sk]-g.ey[n-sk])/d - (g.ez[n+sj]-g.ez[n-sj])/d)
					}
					if xInterior && zInterior {
						g.hy[n] += coef * ((g.ez[n+si]-g.ez[n-si])/d - (g.ex[n+sk]-g.ex[n-sk])/d)
					}
					if xInterior && yInterior {
						g.hz[n] += coef * ((g.ex[n+sj]-g.ex[n-sj])/d - (g.ey[n+si]-g.ey[n-si])/d)
					}
				}
			}
		}
	})
}

// updateE advances E by one step: E = ca·E + cb·curl H.
func (g *grid) updateE() {
	d := 2 * g.dx
	sj, sk := g.nz, 1
	si := g.ny * g.nz
	g.slabs(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			xInterior := i > 0 && i < g.nx-1
			for j := 0; j < g.ny; j++ {
				yInterior := j > 0 && j < g.ny-1
				for k := 0; k < g.nz; k++ {
					zInterior := k > 0 && k < g.nz-1
					n := g.idx(i, j, k)
					if yInterior && zInterior {
						curl := (g.hz[n+sj]-g.hz[n-sj])/d - (g.hy[n+sk]-g.hy[n-sk])/d
						g.ex[n] = g.cax[n]*g.ex[n] + g.cbx[n]*curl
					}
					if xInterior && zInterior {
						curl := (g.hx[n+sk]-g.hx[n-sk])/d - (g.hz[n+si]-g.hz[n-si])/d
						g.ey[n] = g.cay[n]*g.ey[n] + g.cby[n]*curl
					}
					if xInterior && yInterior {
						curl := (g.hy[n+si]-g.hy[n-si])/d - (g.hx[n+sj]-g.hx[n-sj])/d
						g.ez[n] = g.caz[n]*g.ez[n] + g.cbz[n]*curl
					}
				}
			}
		}
	})
}

// inject adds a soft Ez source spread over the feed cell and its x
// neighbours. Cells on the grid boundary are skipped.
func (g *grid) inject(i, j, k int, value float64) {
	if i < 1 || i >= g.nx-1 || j < 1 || j >= g.ny-1 || k < 1 || k >= g.nz-1 {
		return
	}
	g.ez[g.idx(i, j, k)] += 0.5 * value
	g.ez[g.idx(i+1, j, k)] += 0.25 * value
	g.ez[g.idx(i-1, j, k)] += 0.25 * value
}

// peak returns max(|Ez|, |Hz|) over the whole grid.
func (g *grid) peak() float64 {
	m := 0.0
	for n := range g.ez {
		m = math.Max(m, math.Max(math.Abs(g.ez[n]), math.Abs(g.hz[n])))
	}
	return m
}

func (g *grid) scale(f float64) {
	for _, a := range [][]float64{g.ex, g.ey, g.ez, g.hx, g.hy, g.hz} {
		for n := range a {
			a[n] *= f
		}
	}
}

// plane copies one z plane of a field as [x][y].
func (g *grid) plane(field []float64, k int) [][]float64 {
	out := make([][]float64, g.nx)
	for i := range out {
		row := make([]float64, g.ny)
		for j := range row {
			row[j] = field[g.idx(i, j, k)]
		}
		out[i] = row
	}
	return out
}
