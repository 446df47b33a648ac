package registration

import (
	"math/bits"
	"math/rand"
	"sort"
)

// Keypoint is a detected corner with its detection score.
type Keypoint struct {
	X, Y  int
	Score int
}

// Descriptor is a 256-bit binary patch descriptor.
type Descriptor [32]byte

// fastCircle holds the 16 Bresenham circle offsets of radius 3 used by the
// segment test, in clockwise order starting from the top.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// fastArc is the minimum contiguous run of circle pixels that must all be
// brighter or all darker than the center for a corner.
const fastArc = 9

// descPatchRadius bounds the sampling pattern; keypoints closer than this to
// the image border carry no descriptor.
const descPatchRadius = 15

// descPairs is the fixed pseudo-random comparison pattern shared by every
// descriptor. Generated once with a constant seed so descriptors are
// comparable across processes and sessions.
var descPairs [256][4]int

func init() {
	rng := rand.New(rand.NewSource(0x5eed))
	for i := range descPairs {
		// Offsets stay inside the patch after the 2px smoothing border.
		const r = descPatchRadius - 2
		descPairs[i] = [4]int{
			rng.Intn(2*r+1) - r, rng.Intn(2*r+1) - r,
			rng.Intn(2*r+1) - r, rng.Intn(2*r+1) - r,
		}
	}
}

// DetectKeypoints runs the FAST segment test over the image, applies 3x3
// non-maximum suppression and returns at most maxFeatures keypoints ordered
// by score. threshold is the intensity delta of the segment test.
func DetectKeypoints(im *Image, threshold, maxFeatures int) []Keypoint {
	if im == nil || im.W < 8 || im.H < 8 {
		return nil
	}
	scores := make([]int, im.W*im.H)
	var candidates []Keypoint

	for y := 3; y < im.H-3; y++ {
		for x := 3; x < im.W-3; x++ {
			score := fastScore(im, x, y, threshold)
			if score > 0 {
				scores[y*im.W+x] = score
				candidates = append(candidates, Keypoint{X: x, Y: y, Score: score})
			}
		}
	}

	// 3x3 non-maximum suppression.
	kept := candidates[:0]
	for _, kp := range candidates {
		best := true
		for dy := -1; dy <= 1 && best; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				if scores[(kp.Y+dy)*im.W+kp.X+dx] > kp.Score {
					best = false
					break
				}
			}
		}
		if best {
			kept = append(kept, kp)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		if kept[i].Y != kept[j].Y {
			return kept[i].Y < kept[j].Y
		}
		return kept[i].X < kept[j].X
	})
	if maxFeatures > 0 && len(kept) > maxFeatures {
		kept = kept[:maxFeatures]
	}
	return kept
}

// fastScore returns a positive corner score when the segment test passes at
// (x, y), zero otherwise. The score is the sum of absolute center deltas over
// the qualifying arc.
func fastScore(im *Image, x, y, threshold int) int {
	center := int(im.At(x, y))
	var brighter, darker [16]bool
	var delta [16]int
	for i, off := range fastCircle {
		v := int(im.At(x+off[0], y+off[1]))
		d := v - center
		delta[i] = d
		brighter[i] = d > threshold
		darker[i] = -d > threshold
	}
	score := arcScore(brighter[:], delta[:], false)
	if s := arcScore(darker[:], delta[:], true); s > score {
		score = s
	}
	return score
}

// arcScore looks for a contiguous run of at least fastArc qualifying pixels
// on the (wrapped) circle and scores the longest such run.
func arcScore(flags []bool, delta []int, negate bool) int {
	best := 0
	run := 0
	sum := 0
	// Walk the circle twice to handle wrap-around runs.
	for i := 0; i < 2*len(flags); i++ {
		idx := i % len(flags)
		if flags[idx] {
			run++
			d := delta[idx]
			if negate {
				d = -d
			}
			sum += d
			if run >= fastArc && sum > best {
				best = sum
			}
			if run >= 2*len(flags) {
				break
			}
		} else {
			run = 0
			sum = 0
		}
	}
	return best
}

// ComputeDescriptor builds the binary descriptor for a keypoint, or ok=false
// when the keypoint sits too close to the border.
func ComputeDescriptor(im *Image, kp Keypoint) (Descriptor, bool) {
	var d Descriptor
	if kp.X < descPatchRadius || kp.Y < descPatchRadius ||
		kp.X >= im.W-descPatchRadius || kp.Y >= im.H-descPatchRadius {
		return d, false
	}
	for i, p := range descPairs {
		a := smoothed(im, kp.X+p[0], kp.Y+p[1])
		b := smoothed(im, kp.X+p[2], kp.Y+p[3])
		if a < b {
			d[i/8] |= 1 << uint(i%8)
		}
	}
	return d, true
}

// smoothed returns the 5x5 box average around (x, y), which makes the point
// comparisons tolerant to pixel noise.
func smoothed(im *Image, x, y int) int {
	sum := 0
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			sum += int(im.At(x+dx, y+dy))
		}
	}
	return sum / 25
}

// HammingDistance counts differing bits between two descriptors.
func HammingDistance(a, b Descriptor) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}
