package registration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applyH projects a point through a row-major homography.
func applyH(h [9]float64, x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// synthCorrespondences builds n correspondences consistent with h on a
// deterministic point grid.
func synthCorrespondences(h [9]float64, n int, rng *rand.Rand) []Correspondence {
	corr := make([]Correspondence, 0, n)
	for i := 0; i < n; i++ {
		fx := 20 + rng.Float64()*600
		fy := 20 + rng.Float64()*440
		rx, ry := applyH(h, fx, fy)
		corr = append(corr, Correspondence{FrameX: fx, FrameY: fy, RefX: rx, RefY: ry})
	}
	return corr
}

func assertHomographyClose(t *testing.T, want, got [9]float64, tol float64) {
	t.Helper()
	probes := [][2]float64{{0, 0}, {640, 0}, {0, 480}, {640, 480}, {320, 240}}
	for _, p := range probes {
		wx, wy := applyH(want, p[0], p[1])
		gx, gy := applyH(got, p[0], p[1])
		assert.InDelta(t, wx, gx, tol)
		assert.InDelta(t, wy, gy, tol)
	}
}

func TestEstimateHomography(t *testing.T) {
	t.Parallel()

	t.Run("recovers a translation", func(t *testing.T) {
		t.Parallel()
		want := [9]float64{1, 0, 42, 0, 1, -17, 0, 0, 1}
		rng := rand.New(rand.NewSource(2))
		corr := synthCorrespondences(want, 40, rng)

		got, inliers, _, ok := EstimateHomography(corr, 5.0, 500, rng)
		require.True(t, ok)
		assert.Equal(t, len(corr), inliers)
		assertHomographyClose(t, want, got, 1e-3)
	})

	t.Run("recovers a projective transform", func(t *testing.T) {
		t.Parallel()
		want := [9]float64{0.95, 0.08, 12, -0.05, 1.02, 30, 1e-4, -5e-5, 1}
		rng := rand.New(rand.NewSource(3))
		corr := synthCorrespondences(want, 50, rng)

		got, inliers, _, ok := EstimateHomography(corr, 5.0, 500, rng)
		require.True(t, ok)
		assert.Equal(t, len(corr), inliers)
		assertHomographyClose(t, want, got, 1e-2)
	})

	t.Run("rejects outliers", func(t *testing.T) {
		t.Parallel()
		want := [9]float64{1, 0, 10, 0, 1, 5, 0, 0, 1}
		rng := rand.New(rand.NewSource(4))
		corr := synthCorrespondences(want, 40, rng)
		// Ten gross outliers, displaced far beyond the threshold.
		for i := 0; i < 10; i++ {
			fx := 20 + rng.Float64()*600
			fy := 20 + rng.Float64()*440
			corr = append(corr, Correspondence{
				FrameX: fx, FrameY: fy,
				RefX: fx + 200 + rng.Float64()*100, RefY: fy - 150,
			})
		}

		got, inliers, mask, ok := EstimateHomography(corr, 5.0, 1000, rng)
		require.True(t, ok)
		assert.Equal(t, 40, inliers)
		for i := 0; i < 40; i++ {
			assert.True(t, mask[i], "true correspondence %d must be an inlier", i)
		}
		for i := 40; i < 50; i++ {
			assert.False(t, mask[i], "outlier %d must be rejected", i)
		}
		assertHomographyClose(t, want, got, 1e-2)
	})

	t.Run("fails on collinear geometry", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(5))
		corr := make([]Correspondence, 0, 12)
		for i := 0; i < 12; i++ {
			x := float64(i * 10)
			corr = append(corr, Correspondence{FrameX: x, FrameY: 2 * x, RefX: x, RefY: 2 * x})
		}
		_, _, _, ok := EstimateHomography(corr, 5.0, 200, rng)
		assert.False(t, ok)
	})

	t.Run("fails below four correspondences", func(t *testing.T) {
		t.Parallel()
		rng := rand.New(rand.NewSource(6))
		corr := synthCorrespondences([9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, 3, rng)
		_, _, _, ok := EstimateHomography(corr, 5.0, 200, rng)
		assert.False(t, ok)
	})
}
