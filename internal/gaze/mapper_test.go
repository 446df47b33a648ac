package gaze

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func TestProject(t *testing.T) {
	t.Parallel()

	t.Run("identity maps point to itself", func(t *testing.T) {
		t.Parallel()
		x, y, ok := Project(identity(), 150, 230)
		require.True(t, ok)
		assert.InDelta(t, 150.0, x, 1e-12)
		assert.InDelta(t, 230.0, y, 1e-12)
	})

	t.Run("translation", func(t *testing.T) {
		t.Parallel()
		h := [9]float64{1, 0, 40, 0, 1, -25, 0, 0, 1}
		x, y, ok := Project(h, 10, 10)
		require.True(t, ok)
		assert.InDelta(t, 50.0, x, 1e-12)
		assert.InDelta(t, -15.0, y, 1e-12)
	})

	t.Run("projective division by homogeneous scale", func(t *testing.T) {
		t.Parallel()
		// w = 0.001*x + 1, so the result must be divided by 1.1 at x=100.
		h := [9]float64{1, 0, 0, 0, 1, 0, 0.001, 0, 1}
		x, y, ok := Project(h, 100, 50)
		require.True(t, ok)
		assert.InDelta(t, 100.0/1.1, x, 1e-9)
		assert.InDelta(t, 50.0/1.1, y, 1e-9)
	})

	t.Run("degenerate scale is rejected", func(t *testing.T) {
		t.Parallel()
		// Last row chosen so w = 0 at (1, 1).
		h := [9]float64{1, 0, 0, 0, 1, 0, 1, 1, -2}
		_, _, ok := Project(h, 1, 1)
		assert.False(t, ok)
	})
}

func TestDecayConfidenceMonotone(t *testing.T) {
	t.Parallel()

	const base = 0.9
	tau := 500 * time.Millisecond

	prev := DecayConfidence(base, 0, tau)
	assert.InDelta(t, base, prev, 1e-12, "zero gap keeps base confidence")

	for gap := 10 * time.Millisecond; gap <= 2*time.Second; gap += 90 * time.Millisecond {
		c := DecayConfidence(base, gap, tau)
		assert.Less(t, c, prev, "confidence must strictly decrease with the gap")
		assert.LessOrEqual(t, c, base, "confidence never exceeds the transform's")
		prev = c
	}
}

func TestMap(t *testing.T) {
	t.Parallel()

	tau := time.Second
	tr := &Transform{
		ValidFromNanos: 0,
		H:              identity(),
		Confidence:     1.0,
		SourceFrameSeq: 7,
	}

	t.Run("valid sample maps with decayed confidence", func(t *testing.T) {
		t.Parallel()
		s := RawSample{Nanos: int64(time.Second), X: 3, Y: 4, Valid: true, ClockConfident: true}
		m := Map(tr, s, tau)
		require.True(t, m.Valid)
		assert.InDelta(t, 3.0, m.RefX, 1e-12)
		assert.InDelta(t, 4.0, m.RefY, 1e-12)
		assert.InDelta(t, DecayConfidence(1.0, time.Second, tau), m.Confidence, 1e-12)
		assert.Equal(t, uint64(7), m.SourceFrameSeq)
	})

	t.Run("nil transform yields null mapping", func(t *testing.T) {
		t.Parallel()
		s := RawSample{Nanos: 5, X: 1, Y: 1, Valid: true, ClockConfident: true}
		m := Map(nil, s, tau)
		assert.False(t, m.Valid)
		assert.Equal(t, s, m.Raw)
	})

	t.Run("loss of track yields null mapping", func(t *testing.T) {
		t.Parallel()
		s := RawSample{Nanos: 5, X: 1, Y: 1, Valid: false, ClockConfident: true}
		m := Map(tr, s, tau)
		assert.False(t, m.Valid)
	})

	t.Run("missing clock anchor halves confidence", func(t *testing.T) {
		t.Parallel()
		anchored := Map(tr, RawSample{Nanos: 0, X: 1, Y: 1, Valid: true, ClockConfident: true}, tau)
		unanchored := Map(tr, RawSample{Nanos: 0, X: 1, Y: 1, Valid: true}, tau)
		assert.InDelta(t, anchored.Confidence*clockPenalty, unanchored.Confidence, 1e-12)
	})

	t.Run("mapping is deterministic under replay", func(t *testing.T) {
		t.Parallel()
		samples := []RawSample{
			{Nanos: 100, X: 10, Y: 20, Valid: true, ClockConfident: true},
			{Nanos: 200, X: 11, Y: 21, Valid: true, ClockConfident: true},
			{Nanos: 300, X: 500, Y: 400, Valid: false, ClockConfident: true},
		}
		first := make([]MappedSample, len(samples))
		second := make([]MappedSample, len(samples))
		for i, s := range samples {
			first[i] = Map(tr, s, tau)
		}
		for i, s := range samples {
			second[i] = Map(tr, s, tau)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("replay produced different mappings (-first +second):\n%s", diff)
		}
	})
}
