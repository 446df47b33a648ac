// Package gaze defines the core data model of the mapping pipeline: raw gaze
// samples as delivered by the eye tracker, scene-to-reference transforms
// produced by frame registration, and mapped samples in reference-image space.
package gaze

// RawSample is a single gaze measurement in scene-camera pixel coordinates.
// Immutable after creation; consumed exactly once by the synchronizer.
type RawSample struct {
	// CaptureNanos is the producer-clock timestamp of the measurement.
	CaptureNanos int64 `json:"capture_nanos"`

	// Nanos is the timestamp on the shared reference timeline.
	Nanos int64 `json:"nanos"`

	// X, Y are scene-camera pixel coordinates.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Valid is false when the tracker reported loss of track. Invalid
	// samples are recorded but never mapped.
	Valid bool `json:"valid"`

	// ScoreLeft, ScoreRight are per-eye tracker quality scores.
	ScoreLeft  float64 `json:"score_left"`
	ScoreRight float64 `json:"score_right"`

	// ClockConfident is false while the timeline normalizer has no anchor
	// for the gaze source; it degrades mapping confidence downstream.
	ClockConfident bool `json:"clock_confident"`
}

// Transform maps scene-camera coordinates to reference-image coordinates.
// Produced by the frame registrar, read-only once published.
type Transform struct {
	// ValidFromNanos is the reference-timeline timestamp of the frame the
	// transform was estimated from.
	ValidFromNanos int64 `json:"valid_from_nanos"`

	// H is the 3x3 homography in row-major order, defined up to scale.
	H [9]float64 `json:"h"`

	// Confidence is inlier_count / total_matched, in [0,1].
	Confidence float64 `json:"confidence"`

	// SourceFrameSeq identifies the scene frame the transform came from.
	SourceFrameSeq uint64 `json:"source_frame_seq"`

	// Inliers is the RANSAC inlier count behind Confidence.
	Inliers int `json:"inliers"`
}

// MappedSample is a gaze sample expressed in reference-image coordinates.
type MappedSample struct {
	Nanos int64 `json:"nanos"`

	RefX float64 `json:"ref_x"`
	RefY float64 `json:"ref_y"`

	// Confidence is a monotone function of the source transform's
	// confidence and the sample-to-transform time gap. It never exceeds
	// the transform's confidence.
	Confidence float64 `json:"confidence"`

	// Valid is false for null mappings: no transform yet, tracker loss of
	// track, or a numerically degenerate projection.
	Valid bool `json:"valid"`

	// Stale marks samples whose gap to the chosen transform exceeded the
	// configured staleness bound. Stale samples are still mapped.
	Stale bool `json:"stale"`

	// SourceFrameSeq is carried from the transform used for mapping.
	SourceFrameSeq uint64 `json:"source_frame_seq"`

	// Raw is the sample this mapping was derived from.
	Raw RawSample `json:"raw"`
}
