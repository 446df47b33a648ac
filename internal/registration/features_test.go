package registration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockTexture generates a deterministic high-contrast test image built from
// flat blocks, which gives the corner detector plenty to find.
func blockTexture(w, h, block int, seed int64) *Image {
	rng := rand.New(rand.NewSource(seed))
	bw := (w + block - 1) / block
	bh := (h + block - 1) / block
	values := make([]uint8, bw*bh)
	for i := range values {
		values[i] = uint8(rng.Intn(256))
	}
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pix[y*w+x] = values[(y/block)*bw+x/block]
		}
	}
	im, _ := NewImage(w, h, pix)
	return im
}

// window cuts a copy of a rectangular region out of a larger image.
func window(src *Image, x0, y0, w, h int) *Image {
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		copy(pix[y*w:(y+1)*w], src.Pix[(y0+y)*src.W+x0:(y0+y)*src.W+x0+w])
	}
	im, _ := NewImage(w, h, pix)
	return im
}

func TestDetectKeypoints(t *testing.T) {
	t.Parallel()

	t.Run("finds corners of a bright square", func(t *testing.T) {
		t.Parallel()
		pix := make([]uint8, 64*64)
		for y := 20; y < 44; y++ {
			for x := 20; x < 44; x++ {
				pix[y*64+x] = 200
			}
		}
		im, err := NewImage(64, 64, pix)
		require.NoError(t, err)

		kps := DetectKeypoints(im, 7, 0)
		require.NotEmpty(t, kps)
		// Every detection must sit near one of the four square corners;
		// edges and flat regions fail the segment test.
		for _, kp := range kps {
			nearCorner := false
			for _, c := range [][2]int{{20, 20}, {43, 20}, {20, 43}, {43, 43}} {
				dx, dy := kp.X-c[0], kp.Y-c[1]
				if dx*dx+dy*dy <= 9 {
					nearCorner = true
					break
				}
			}
			assert.True(t, nearCorner, "keypoint (%d,%d) is not near a corner", kp.X, kp.Y)
		}
	})

	t.Run("flat image has no keypoints", func(t *testing.T) {
		t.Parallel()
		im, err := NewImage(64, 64, make([]uint8, 64*64))
		require.NoError(t, err)
		assert.Empty(t, DetectKeypoints(im, 7, 0))
	})

	t.Run("respects the feature budget", func(t *testing.T) {
		t.Parallel()
		im := blockTexture(128, 128, 6, 11)
		kps := DetectKeypoints(im, 7, 25)
		assert.LessOrEqual(t, len(kps), 25)
		require.NotEmpty(t, kps)
		// Budgeted list keeps the strongest corners first.
		for i := 1; i < len(kps); i++ {
			assert.GreaterOrEqual(t, kps[i-1].Score, kps[i].Score)
		}
	})
}

func TestComputeDescriptor(t *testing.T) {
	t.Parallel()

	im := blockTexture(96, 96, 6, 12)

	t.Run("identical patches match exactly", func(t *testing.T) {
		t.Parallel()
		kp := Keypoint{X: 48, Y: 48}
		d1, ok := ComputeDescriptor(im, kp)
		require.True(t, ok)
		d2, ok := ComputeDescriptor(im, kp)
		require.True(t, ok)
		assert.Zero(t, HammingDistance(d1, d2))
	})

	t.Run("distinct patches differ", func(t *testing.T) {
		t.Parallel()
		d1, ok := ComputeDescriptor(im, Keypoint{X: 30, Y: 30})
		require.True(t, ok)
		d2, ok := ComputeDescriptor(im, Keypoint{X: 66, Y: 62})
		require.True(t, ok)
		assert.Greater(t, HammingDistance(d1, d2), 0)
	})

	t.Run("border keypoints carry no descriptor", func(t *testing.T) {
		t.Parallel()
		_, ok := ComputeDescriptor(im, Keypoint{X: 3, Y: 3})
		assert.False(t, ok)
	})

	t.Run("translation preserves descriptors", func(t *testing.T) {
		t.Parallel()
		a := window(im, 10, 8, 70, 70)
		b := window(im, 14, 11, 70, 70)
		// The same texture point seen through both windows.
		da, ok := ComputeDescriptor(a, Keypoint{X: 40, Y: 40})
		require.True(t, ok)
		db, ok := ComputeDescriptor(b, Keypoint{X: 36, Y: 37})
		require.True(t, ok)
		assert.Zero(t, HammingDistance(da, db))
	})
}
