package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refgaze-data/refgaze/internal/registration"
)

func TestSimulatorProducesFramesAndGaze(t *testing.T) {
	t.Parallel()

	ref, err := registration.NewImage(64, 64, make([]uint8, 64*64))
	require.NoError(t, err)

	sim := NewSimulator(ref, SimulatorConfig{FrameRate: 100, GazeRate: 100, MaxShift: 4, Seed: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)

	select {
	case f := <-sim.Frames():
		assert.Equal(t, 60, f.Image.W, "windows shrink by the shift budget")
		assert.Equal(t, 60, f.Image.H)
		assert.NotZero(t, f.Nanos)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame produced")
	}

	select {
	case s := <-sim.Gaze():
		require.True(t, s.Valid)
		assert.GreaterOrEqual(t, s.X, 0.0)
		assert.LessOrEqual(t, s.X, 64.0)
		assert.GreaterOrEqual(t, s.ScoreLeft, 0.9)
	case <-time.After(2 * time.Second):
		t.Fatal("no gaze sample produced")
	}
}
