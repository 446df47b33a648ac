package aoi

import "math"

// boundaryEps is the tolerance for classifying a point as exactly on a
// polygon edge.
const boundaryEps = 1e-9

// Contains reports whether p lies inside the polygon, using the winding
// number. Points exactly on an edge or vertex count as inside, and the
// classification is deterministic across repeated evaluations.
func Contains(polygon []Point, p Point) bool {
	if len(polygon) < 3 {
		return false
	}
	// Boundary counts as inside, checked first so edge points never fall
	// to floating-point luck in the winding computation.
	for i := range polygon {
		a := polygon[i]
		b := polygon[(i+1)%len(polygon)]
		if onSegment(a, b, p) {
			return true
		}
	}
	return windingNumber(polygon, p) != 0
}

// onSegment reports whether p lies on the segment a-b within boundaryEps.
func onSegment(a, b, p Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	// Scale tolerance with segment length so long edges behave like short ones.
	seg := math.Hypot(b.X-a.X, b.Y-a.Y)
	if seg == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y) <= boundaryEps
	}
	if math.Abs(cross)/seg > boundaryEps {
		return false
	}
	dot := (p.X-a.X)*(b.X-a.X) + (p.Y-a.Y)*(b.Y-a.Y)
	return dot >= -boundaryEps && dot <= seg*seg+boundaryEps
}

// windingNumber computes the signed winding of the polygon around p.
func windingNumber(polygon []Point, p Point) int {
	wn := 0
	for i := range polygon {
		a := polygon[i]
		b := polygon[(i+1)%len(polygon)]
		if a.Y <= p.Y {
			if b.Y > p.Y && isLeft(a, b, p) > 0 {
				wn++
			}
		} else {
			if b.Y <= p.Y && isLeft(a, b, p) < 0 {
				wn--
			}
		}
	}
	return wn
}

// isLeft is positive when p lies left of the directed line a->b.
func isLeft(a, b, p Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (p.X-a.X)*(b.Y-a.Y)
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
