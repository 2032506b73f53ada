package evo

import (
	"github.com/petar/GoLLRB/llrb"

	"antennaforge/internal/model"
)

// DedupTolerance is the per-parameter tolerance under which two geometries
// count as the same design.
const DedupTolerance = 1e-6

// BestTracker holds the best-ever candidate of a run. A candidate replaces
// the holder only when strictly fitter, so the tracked fitness never
// decreases.
type BestTracker struct {
	best model.Candidate
	set  bool
}

func (b *BestTracker) Offer(c model.Candidate) bool {
	if b.set && c.Fitness <= b.best.Fitness {
		return false
	}
	b.best = c.Clone()
	b.set = true
	return true
}

func (b *BestTracker) Best() (model.Candidate, bool) {
	return b.best, b.set
}

type rankedItem struct {
	candidate model.Candidate
	seq       int
}

// Less orders by fitness, then by insertion so equal scores stay distinct
// and the earlier candidate ranks higher.
func (a rankedItem) Less(than llrb.Item) bool {
	b := than.(rankedItem)
	if a.candidate.Fitness != b.candidate.Fitness {
		return a.candidate.Fitness < b.candidate.Fitness
	}
	return a.seq > b.seq
}

// Ranked keeps the Limit fittest distinct candidates. Candidates whose
// parameters all match an existing entry within Tolerance are treated as
// duplicates and only the fitter one is kept.
type Ranked struct {
	tree      *llrb.LLRB
	limit     int
	tolerance float64
	seq       int
}

func NewRanked(limit int, tolerance float64) *Ranked {
	if limit <= 0 {
		limit = TopK
	}
	return &Ranked{tree: llrb.New(), limit: limit, tolerance: tolerance}
}

// Offer inserts c unless a fitter or equal duplicate is already ranked. It
// reports whether c is now in the ranking.
func (r *Ranked) Offer(c model.Candidate) bool {
	var dup llrb.Item
	r.each(func(item rankedItem) bool {
		if item.candidate.Params.ApproxEqual(c.Params, r.tolerance) {
			dup = item
			return false
		}
		return true
	})
	if dup != nil {
		if c.Fitness <= dup.(rankedItem).candidate.Fitness {
			return false
		}
		r.tree.Delete(dup)
	}

	item := rankedItem{candidate: c.Clone(), seq: r.seq}
	r.seq++
	r.tree.InsertNoReplace(item)
	for r.tree.Len() > r.limit {
		if evicted := r.tree.DeleteMin(); evicted.(rankedItem).seq == item.seq {
			return false
		}
	}
	return true
}

func (r *Ranked) Len() int { return r.tree.Len() }

// Candidates returns the ranking in descending fitness order.
func (r *Ranked) Candidates() []model.Candidate {
	out := make([]model.Candidate, 0, r.tree.Len())
	r.each(func(item rankedItem) bool {
		out = append(out, item.candidate.Clone())
		return true
	})
	return out
}

func (r *Ranked) each(fn func(rankedItem) bool) {
	top := r.tree.Max()
	if top == nil {
		return
	}
	r.tree.DescendLessOrEqual(top, func(i llrb.Item) bool {
		return fn(i.(rankedItem))
	})
}

// RankDistinct ranks candidates with duplicates removed and returns at most
// limit of them, fittest first.
func RankDistinct(candidates []model.Candidate, limit int, tolerance float64) []model.Candidate {
	r := NewRanked(limit, tolerance)
	for _, c := range candidates {
		r.Offer(c)
	}
	return r.Candidates()
}
