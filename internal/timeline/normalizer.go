// Package timeline converts heterogeneous producer-clock timestamps onto one
// monotonic reference timeline shared by all pipeline stages.
//
// Each source (scene camera, eye tracker) carries its own clock. The
// normalizer keeps a per-source running offset estimate, anchored on the
// first observed pair and refreshed by exponential smoothing on every later
// observation, which absorbs slow drift between the producer clocks.
package timeline

import (
	"sync"

	"github.com/refgaze-data/refgaze/internal/timeutil"
)

// DefaultSmoothing is the default exponential smoothing factor applied to
// offset observations after the anchor.
const DefaultSmoothing = 0.05

// Normalizer maintains per-source clock offset estimates.
type Normalizer struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	alpha   float64
	sources map[string]*sourceState
}

type sourceState struct {
	anchored bool
	// offsetNanos is the smoothed estimate of reference - producer.
	offsetNanos float64
}

// NewNormalizer creates a Normalizer. alpha is the smoothing factor in (0,1];
// values <= 0 fall back to DefaultSmoothing.
func NewNormalizer(clock timeutil.Clock, alpha float64) *Normalizer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothing
	}
	return &Normalizer{
		clock:   clock,
		alpha:   alpha,
		sources: make(map[string]*sourceState),
	}
}

// Observe records a time reference for a source: a producer timestamp seen at
// the current reference time. The first observation anchors the source;
// later ones refresh the offset estimate by exponential smoothing.
func (n *Normalizer) Observe(sourceID string, producerNanos int64) {
	n.ObservePair(sourceID, producerNanos, n.clock.Now().UnixNano())
}

// ObservePair records an explicit (producer, reference) timestamp pair, for
// transports that carry their own receive timestamps.
func (n *Normalizer) ObservePair(sourceID string, producerNanos, referenceNanos int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.sources[sourceID]
	if !ok {
		st = &sourceState{}
		n.sources[sourceID] = st
	}
	observed := float64(referenceNanos - producerNanos)
	if !st.anchored {
		st.anchored = true
		st.offsetNanos = observed
		return
	}
	st.offsetNanos += n.alpha * (observed - st.offsetNanos)
}

// Normalize converts a producer timestamp onto the reference timeline.
// Before any anchor has been observed for the source the timestamp passes
// through unadjusted and anchored is false; callers propagate that flag into
// downstream confidence.
func (n *Normalizer) Normalize(sourceID string, producerNanos int64) (nanos int64, anchored bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.sources[sourceID]
	if !ok || !st.anchored {
		return producerNanos, false
	}
	return producerNanos + int64(st.offsetNanos), true
}

// Anchored reports whether the source has an offset estimate.
func (n *Normalizer) Anchored(sourceID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.sources[sourceID]
	return ok && st.anchored
}
