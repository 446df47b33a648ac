package registration

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// minHomographyDet rejects fitted homographies whose determinant (after
// normalizing the scale element) is too close to singular to invert.
const minHomographyDet = 1e-9

// EstimateHomography fits a frame-to-reference homography to the
// correspondences with RANSAC around a normalized DLT solve, then refits on
// the consensus set. It returns the homography, the inlier count and the
// inlier mask. ok is false when no non-degenerate model with at least four
// inliers was found.
func EstimateHomography(corr []Correspondence, threshold float64, iterations int, rng *rand.Rand) (h [9]float64, inliers int, mask []bool, ok bool) {
	if len(corr) < 4 {
		return h, 0, nil, false
	}
	if threshold <= 0 {
		threshold = 5.0
	}
	if iterations <= 0 {
		iterations = 500
	}

	bestInliers := 0
	var bestMask []bool
	sample := make([]Correspondence, 4)
	idx := make([]int, 4)

	for iter := 0; iter < iterations; iter++ {
		sampleIndices(rng, len(corr), idx)
		for i, j := range idx {
			sample[i] = corr[j]
		}
		if degenerateSample(sample) {
			continue
		}
		cand, solved := solveDLT(sample)
		if !solved {
			continue
		}
		n, m := countInliers(corr, cand, threshold)
		if n > bestInliers {
			bestInliers = n
			bestMask = m
		}
	}
	if bestInliers < 4 {
		return h, 0, nil, false
	}

	// Refit on the full consensus set for the final model.
	consensus := make([]Correspondence, 0, bestInliers)
	for i, in := range bestMask {
		if in {
			consensus = append(consensus, corr[i])
		}
	}
	final, solved := solveDLT(consensus)
	if !solved {
		return h, 0, nil, false
	}
	if !invertible(final) {
		return h, 0, nil, false
	}
	// Recount against the refit model so inliers and mask match the
	// returned homography.
	inliers, mask = countInliers(corr, final, threshold)
	if inliers < 4 {
		return h, 0, nil, false
	}
	return final, inliers, mask, true
}

// sampleIndices fills idx with distinct random indices in [0, n).
func sampleIndices(rng *rand.Rand, n int, idx []int) {
	for i := range idx {
		for {
			v := rng.Intn(n)
			dup := false
			for j := 0; j < i; j++ {
				if idx[j] == v {
					dup = true
					break
				}
			}
			if !dup {
				idx[i] = v
				break
			}
		}
	}
}

// degenerateSample reports whether any three of the four points are
// (near-)collinear on either side of the correspondence.
func degenerateSample(s []Correspondence) bool {
	for i := 0; i < len(s); i++ {
		for j := i + 1; j < len(s); j++ {
			for k := j + 1; k < len(s); k++ {
				if collinear(s[i].FrameX, s[i].FrameY, s[j].FrameX, s[j].FrameY, s[k].FrameX, s[k].FrameY) ||
					collinear(s[i].RefX, s[i].RefY, s[j].RefX, s[j].RefY, s[k].RefX, s[k].RefY) {
					return true
				}
			}
		}
	}
	return false
}

func collinear(x1, y1, x2, y2, x3, y3 float64) bool {
	area2 := (x2-x1)*(y3-y1) - (x3-x1)*(y2-y1)
	return math.Abs(area2) < 1e-6
}

// countInliers counts correspondences whose reprojection error under h stays
// below the threshold.
func countInliers(corr []Correspondence, h [9]float64, threshold float64) (int, []bool) {
	mask := make([]bool, len(corr))
	n := 0
	t2 := threshold * threshold
	for i, c := range corr {
		w := h[6]*c.FrameX + h[7]*c.FrameY + h[8]
		if math.Abs(w) < 1e-12 {
			continue
		}
		px := (h[0]*c.FrameX + h[1]*c.FrameY + h[2]) / w
		py := (h[3]*c.FrameX + h[4]*c.FrameY + h[5]) / w
		dx := px - c.RefX
		dy := py - c.RefY
		if dx*dx+dy*dy <= t2 {
			mask[i] = true
			n++
		}
	}
	return n, mask
}

// solveDLT computes a homography from >= 4 correspondences via the direct
// linear transform with Hartley normalization, taking the null-space vector
// from a full SVD.
func solveDLT(corr []Correspondence) ([9]float64, bool) {
	var h [9]float64
	if len(corr) < 4 {
		return h, false
	}

	tf, tfOK := normalizingTransform(corr, false)
	tr, trOK := normalizingTransform(corr, true)
	if !tfOK || !trOK {
		return h, false
	}

	a := mat.NewDense(2*len(corr), 9, nil)
	for i, c := range corr {
		fx, fy := applyAffine(tf, c.FrameX, c.FrameY)
		rx, ry := applyAffine(tr, c.RefX, c.RefY)
		a.SetRow(2*i, []float64{-fx, -fy, -1, 0, 0, 0, rx * fx, rx * fy, rx})
		a.SetRow(2*i+1, []float64{0, 0, 0, -fx, -fy, -1, ry * fx, ry * fy, ry})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return h, false
	}
	var v mat.Dense
	svd.VTo(&v)

	// The null-space estimate is the right singular vector of the smallest
	// singular value: the last column of V.
	var hn [9]float64
	for i := 0; i < 9; i++ {
		hn[i] = v.At(i, 8)
	}

	// Denormalize: H = Tr^-1 * Hn * Tf.
	trInv, invOK := invertAffine(tr)
	if !invOK {
		return h, false
	}
	h = mul3(mul3(trInv, hn), tf)

	if math.Abs(h[8]) < 1e-12 {
		return h, false
	}
	for i := range h {
		h[i] /= h[8]
	}
	return h, true
}

// normalizingTransform builds the Hartley normalization for one side of the
// correspondences: translate the centroid to the origin and scale the mean
// distance to sqrt(2). Returned as a 3x3 row-major affine matrix; ok is
// false when the points coincide.
func normalizingTransform(corr []Correspondence, refSide bool) (t [9]float64, ok bool) {
	var cx, cy float64
	for _, c := range corr {
		if refSide {
			cx += c.RefX
			cy += c.RefY
		} else {
			cx += c.FrameX
			cy += c.FrameY
		}
	}
	n := float64(len(corr))
	cx /= n
	cy /= n

	var meanDist float64
	for _, c := range corr {
		x, y := c.FrameX, c.FrameY
		if refSide {
			x, y = c.RefX, c.RefY
		}
		meanDist += math.Hypot(x-cx, y-cy)
	}
	meanDist /= n
	if meanDist < 1e-9 {
		return [9]float64{}, false
	}
	s := math.Sqrt2 / meanDist
	return [9]float64{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, true
}

func applyAffine(t [9]float64, x, y float64) (float64, float64) {
	return t[0]*x + t[1]*y + t[2], t[3]*x + t[4]*y + t[5]
}

// invertAffine inverts a similarity transform of the normalizingTransform
// shape [s 0 tx; 0 s ty; 0 0 1].
func invertAffine(t [9]float64) ([9]float64, bool) {
	s := t[0]
	if math.Abs(s) < 1e-12 {
		return [9]float64{}, false
	}
	return [9]float64{1 / s, 0, -t[2] / s, 0, 1 / s, -t[5] / s, 0, 0, 1}, true
}

func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a[r*3+k] * b[k*3+c]
			}
			out[r*3+c] = sum
		}
	}
	return out
}

// invertible checks the fitted homography's determinant after scale
// normalization; the data-model invariant requires invertibility.
func invertible(h [9]float64) bool {
	det := h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
	return math.Abs(det) > minHomographyDet && !math.IsNaN(det)
}
