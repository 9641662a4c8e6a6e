package ml

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Cosine returns the cosine similarity of a and b, or 0 when either has zero magnitude.
// It panics if the lengths differ.
func Cosine(a, b []float64) float64 {
	dot := floats.Dot(a, b)
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(dot / (na * nb))
}

// PairwiseCosine computes the cosine similarity of every pair of rows of m in one pass: rows are
// L2-normalized and multiplied by their own transpose. Zero rows are similar to nothing, themselves
// included. Works for any row space (users over products, products over terms).
func PairwiseCosine(m mat.Matrix) (*mat.SymDense, error) {
	r, _ := m.Dims()
	if r == 0 {
		return nil, ErrNoData
	}

	normalized := mat.DenseCopyOf(m)
	zero := make([]bool, r)
	for i := 0; i < r; i++ {
		row := normalized.RawRowView(i)
		n := floats.Norm(row, 2)
		if n == 0 {
			zero[i] = true
			continue
		}
		floats.Scale(1/n, row)
	}

	var sim mat.SymDense
	sim.SymOuterK(1, normalized)

	for i := 0; i < r; i++ {
		if zero[i] {
			sim.SetSym(i, i, 0)
		} else {
			sim.SetSym(i, i, 1)
		}
		for j := i + 1; j < r; j++ {
			sim.SetSym(i, j, clamp(sim.At(i, j)))
		}
	}

	return &sim, nil
}

func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
