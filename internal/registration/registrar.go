package registration

import (
	"context"
	"math/rand"
	"sync"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/monitoring"
)

// FailureReason classifies why a frame produced no transform update.
// Registration failure is recoverable: the previous transform stays current
// and the next frame is retried.
type FailureReason string

const (
	// FailureNone means registration succeeded.
	FailureNone FailureReason = ""

	// FailureInsufficientFeatures: too few keypoints or good matches.
	FailureInsufficientFeatures FailureReason = "insufficient_features"

	// FailureLowInlierRatio: a model was found but fell below the
	// configured inlier or confidence floor.
	FailureLowInlierRatio FailureReason = "low_inlier_ratio"

	// FailureDegenerateGeometry: no invertible model could be fitted.
	FailureDegenerateGeometry FailureReason = "degenerate_geometry"
)

// Config holds registration tuning parameters.
type Config struct {
	MaxFeatures      int     // keypoint budget per image
	FASTThreshold    int     // corner detection intensity delta
	RatioTest        float64 // 2-NN ratio test bound
	MinMatches       int     // good matches required to attempt a fit
	MinInliers       int     // inlier floor for accepting a transform
	MinConfidence    float64 // inliers/matches floor for accepting
	RANSACThreshold  float64 // reprojection tolerance in reference pixels
	RANSACIterations int
}

// DefaultConfig returns the default registration configuration. The feature
// budget, match floor and reprojection tolerance follow the values the
// upstream capture rig was calibrated with.
func DefaultConfig() Config {
	return Config{
		MaxFeatures:      300,
		FASTThreshold:    7,
		RatioTest:        0.75,
		MinMatches:       10,
		MinInliers:       10,
		MinConfidence:    0.4,
		RANSACThreshold:  5.0,
		RANSACIterations: 500,
	}
}

// Stats is a snapshot of cumulative registrar counters. Counters reset only
// at session start.
type Stats struct {
	FramesProcessed int64                   `json:"frames_processed"`
	FramesDropped   int64                   `json:"frames_dropped"`
	Accepted        int64                   `json:"accepted"`
	Failures        map[FailureReason]int64 `json:"failures"`
}

// Registrar turns scene frames into frame-to-reference transforms.
//
// Concurrency: Submit may be called from the frame producer at any rate; a
// single-slot most-recent-wins mailbox bounds latency by dropping all but the
// newest pending frame. Run owns the registration computation; only Run's
// goroutine writes transforms, readers observe the latest committed one via
// Current.
type Registrar struct {
	cfg     Config
	matcher Matcher
	rng     *rand.Rand

	mailbox chan Frame

	mu          sync.Mutex
	current     *gaze.Transform
	onTransform func(*gaze.Transform)
	stats       Stats
}

// NewRegistrar builds a registrar around the built-in feature matcher,
// precomputing the reference image's descriptor set. A reference image with
// too few features is a fatal startup error.
func NewRegistrar(ref *Image, cfg Config) (*Registrar, error) {
	m, err := newFeatureMatcher(ref, cfg)
	if err != nil {
		return nil, err
	}
	return NewRegistrarWithMatcher(m, cfg), nil
}

// NewRegistrarWithMatcher builds a registrar around a custom Matcher. Any
// implementation satisfying the accept/reject contract is substitutable.
func NewRegistrarWithMatcher(m Matcher, cfg Config) *Registrar {
	return &Registrar{
		cfg:     cfg,
		matcher: m,
		// Fixed seed: registration is reproducible for a given frame
		// sequence, which the replay tools rely on.
		rng:     rand.New(rand.NewSource(1)),
		mailbox: make(chan Frame, 1),
		stats:   Stats{Failures: make(map[FailureReason]int64)},
	}
}

// OnTransform installs a callback invoked from the Run goroutine for every
// accepted transform. Must be set before Run starts.
func (r *Registrar) OnTransform(fn func(*gaze.Transform)) {
	r.onTransform = fn
}

// Submit offers a frame for registration. If a frame is already pending it
// is discarded in favour of the newer one (most-recent-wins), keeping
// latency bounded when registration runs slower than the frame rate.
func (r *Registrar) Submit(f Frame) {
	for {
		select {
		case r.mailbox <- f:
			return
		default:
		}
		select {
		case stale := <-r.mailbox:
			r.mu.Lock()
			r.stats.FramesDropped++
			r.mu.Unlock()
			monitoring.Debugf("registration: dropped pending frame %d for newer %d", stale.SequenceID, f.SequenceID)
		default:
		}
	}
}

// Run processes submitted frames until the context is cancelled. In-flight
// registration is abandoned at teardown, not awaited.
func (r *Registrar) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.mailbox:
			t, reason := r.Register(f)
			if reason != FailureNone {
				monitoring.Debugf("registration: frame %d failed: %s", f.SequenceID, reason)
				continue
			}
			if r.onTransform != nil {
				r.onTransform(t)
			}
		}
	}
}

// Register registers a single frame synchronously. On success the returned
// transform becomes the registrar's current transform; on failure the
// previous transform remains current and the failure reason is returned.
// The registrar never emits a degraded transform, only "no update".
func (r *Registrar) Register(f Frame) (*gaze.Transform, FailureReason) {
	corr, reason := r.matcher.Match(f.Image)

	r.mu.Lock()
	r.stats.FramesProcessed++
	r.mu.Unlock()

	if reason != FailureNone {
		r.recordFailure(reason)
		return nil, reason
	}

	h, inliers, _, ok := EstimateHomography(corr, r.cfg.RANSACThreshold, r.cfg.RANSACIterations, r.rng)
	if !ok {
		r.recordFailure(FailureDegenerateGeometry)
		return nil, FailureDegenerateGeometry
	}

	confidence := float64(inliers) / float64(len(corr))
	if inliers < r.cfg.MinInliers || confidence < r.cfg.MinConfidence {
		r.recordFailure(FailureLowInlierRatio)
		return nil, FailureLowInlierRatio
	}

	t := &gaze.Transform{
		ValidFromNanos: f.Nanos,
		H:              h,
		Confidence:     confidence,
		SourceFrameSeq: f.SequenceID,
		Inliers:        inliers,
	}

	r.mu.Lock()
	r.current = t
	r.stats.Accepted++
	r.mu.Unlock()
	return t, FailureNone
}

func (r *Registrar) recordFailure(reason FailureReason) {
	r.mu.Lock()
	r.stats.Failures[reason]++
	r.mu.Unlock()
}

// Current returns the latest committed transform, or nil before the first
// successful registration.
func (r *Registrar) Current() *gaze.Transform {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stats returns a copy of the cumulative counters.
func (r *Registrar) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	out.Failures = make(map[FailureReason]int64, len(r.stats.Failures))
	for k, v := range r.stats.Failures {
		out.Failures[k] = v
	}
	return out
}
