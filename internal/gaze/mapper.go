package gaze

import (
	"math"
	"time"
)

// degenerateScaleEps rejects projections whose homogeneous scale component is
// numerically indistinguishable from zero.
const degenerateScaleEps = 1e-9

// clockPenalty scales confidence for samples normalized without a clock
// anchor (ClockAnchorMissing is degraded confidence, not an error).
const clockPenalty = 0.5

// Project applies a 3x3 homography (row-major, up to scale) to a point.
// It reports ok=false when the homogeneous scale component is degenerate.
func Project(h [9]float64, x, y float64) (rx, ry float64, ok bool) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < degenerateScaleEps || math.IsNaN(w) {
		return 0, 0, false
	}
	rx = (h[0]*x + h[1]*y + h[2]) / w
	ry = (h[3]*x + h[4]*y + h[5]) / w
	if math.IsNaN(rx) || math.IsNaN(ry) || math.IsInf(rx, 0) || math.IsInf(ry, 0) {
		return 0, 0, false
	}
	return rx, ry, true
}

// DecayConfidence derives mapping confidence from the transform confidence
// and the sample-to-transform gap. Exponential decay with time constant tau:
// strictly decreasing in the gap and never exceeding base.
func DecayConfidence(base float64, gap, tau time.Duration) float64 {
	if gap < 0 {
		gap = 0
	}
	if tau <= 0 {
		return base
	}
	return base * math.Exp(-float64(gap)/float64(tau))
}

// Map applies t to the raw sample s, producing a mapped sample with derived
// confidence. tau is the confidence decay time constant. Map is pure: the
// same transform and sample always yield the same result.
//
// A nil transform, a loss-of-track sample, or a degenerate projection yield
// a null mapping (Valid=false) rather than an error; every raw sample
// produces exactly one output.
func Map(t *Transform, s RawSample, tau time.Duration) MappedSample {
	out := MappedSample{Nanos: s.Nanos, Raw: s}
	if t == nil || !s.Valid {
		return out
	}
	rx, ry, ok := Project(t.H, s.X, s.Y)
	if !ok {
		return out
	}
	gap := time.Duration(s.Nanos - t.ValidFromNanos)
	conf := DecayConfidence(t.Confidence, gap, tau)
	if !s.ClockConfident {
		conf *= clockPenalty
	}
	out.RefX = rx
	out.RefY = ry
	out.Confidence = conf
	out.Valid = true
	out.SourceFrameSeq = t.SourceFrameSeq
	return out
}
