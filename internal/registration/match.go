package registration

import "fmt"

// Correspondence pairs a scene-frame point with its matched reference-image
// point. Homographies are fitted to map frame coordinates to reference
// coordinates.
type Correspondence struct {
	FrameX, FrameY float64
	RefX, RefY     float64
}

// Matcher produces frame-to-reference correspondences for a scene frame.
// Implementations must tolerate partial occlusion and motion blur by simply
// returning fewer correspondences; a FailureReason other than FailureNone
// signals that matching is not usable at all for this frame.
type Matcher interface {
	Match(frame *Image) ([]Correspondence, FailureReason)
}

// featureMatcher matches FAST/binary-descriptor features of incoming frames
// against the reference image's precomputed descriptor set.
type featureMatcher struct {
	cfg     Config
	refKPs  []Keypoint
	refDesc []Descriptor
}

// newFeatureMatcher extracts the reference feature set once at session start.
func newFeatureMatcher(ref *Image, cfg Config) (*featureMatcher, error) {
	kps := DetectKeypoints(ref, cfg.FASTThreshold, cfg.MaxFeatures)
	m := &featureMatcher{cfg: cfg}
	for _, kp := range kps {
		d, ok := ComputeDescriptor(ref, kp)
		if !ok {
			continue
		}
		m.refKPs = append(m.refKPs, kp)
		m.refDesc = append(m.refDesc, d)
	}
	if len(m.refKPs) < cfg.MinMatches {
		return nil, fmt.Errorf("registration: reference image has %d trackable features, want at least %d", len(m.refKPs), cfg.MinMatches)
	}
	return m, nil
}

// Match implements Matcher with 2-nearest-neighbour Hamming matching and a
// ratio test against the second-best candidate.
func (m *featureMatcher) Match(frame *Image) ([]Correspondence, FailureReason) {
	kps := DetectKeypoints(frame, m.cfg.FASTThreshold, m.cfg.MaxFeatures)
	if len(kps) < m.cfg.MinMatches {
		return nil, FailureInsufficientFeatures
	}

	frameKPs := make([]Keypoint, 0, len(kps))
	frameDesc := make([]Descriptor, 0, len(kps))
	for _, kp := range kps {
		d, ok := ComputeDescriptor(frame, kp)
		if !ok {
			continue
		}
		frameKPs = append(frameKPs, kp)
		frameDesc = append(frameDesc, d)
	}
	if len(frameKPs) < m.cfg.MinMatches {
		return nil, FailureInsufficientFeatures
	}

	var corr []Correspondence
	for ri, rd := range m.refDesc {
		best := -1
		bestDist, secondDist := 257, 257
		for fi := range frameDesc {
			dist := HammingDistance(rd, frameDesc[fi])
			switch {
			case dist < bestDist:
				secondDist = bestDist
				best, bestDist = fi, dist
			case dist < secondDist:
				secondDist = dist
			}
		}
		if best < 0 {
			continue
		}
		// Ratio test: the best match must be clearly better than the
		// runner-up, otherwise the feature is ambiguous.
		if secondDist < 257 && float64(bestDist) >= m.cfg.RatioTest*float64(secondDist) {
			continue
		}
		corr = append(corr, Correspondence{
			FrameX: float64(frameKPs[best].X),
			FrameY: float64(frameKPs[best].Y),
			RefX:   float64(m.refKPs[ri].X),
			RefY:   float64(m.refKPs[ri].Y),
		})
	}
	if len(corr) < m.cfg.MinMatches {
		return nil, FailureInsufficientFeatures
	}
	return corr, FailureNone
}
