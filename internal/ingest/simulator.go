package ingest

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/registration"
	"github.com/refgaze-data/refgaze/internal/timeutil"
)

// SimulatorConfig holds the synthetic producer parameters.
type SimulatorConfig struct {
	FrameRate float64 // scene frames per second
	GazeRate  float64 // gaze samples per second

	// MaxShift bounds the simulated camera translation, in pixels.
	MaxShift int

	// Seed fixes the camera walk for reproducible runs.
	Seed int64
}

// DefaultSimulatorConfig returns rates matching the original capture rig.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		FrameRate: 10,
		GazeRate:  60,
		MaxShift:  20,
		Seed:      1,
	}
}

// Simulator produces synthetic scene frames and gaze samples against a
// reference image: frames are randomly shifted windows of the reference, and
// gaze follows a Lissajous path over it. Used for headless runs and demos.
type Simulator struct {
	cfg   SimulatorConfig
	ref   *registration.Image
	clock timeutil.Clock

	frames chan registration.Frame
	gazeCh chan gaze.RawSample
}

// NewSimulator builds a simulator over a reference image. The image must be
// larger than 2*MaxShift in both dimensions.
func NewSimulator(ref *registration.Image, cfg SimulatorConfig, clock timeutil.Clock) *Simulator {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultSimulatorConfig().FrameRate
	}
	if cfg.GazeRate <= 0 {
		cfg.GazeRate = DefaultSimulatorConfig().GazeRate
	}
	if cfg.MaxShift < 0 {
		cfg.MaxShift = 0
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Simulator{
		cfg:    cfg,
		ref:    ref,
		clock:  clock,
		frames: make(chan registration.Frame, 8),
		gazeCh: make(chan gaze.RawSample, 256),
	}
}

// Frames returns the synthetic scene frame channel. Closed when Run returns.
func (s *Simulator) Frames() <-chan registration.Frame {
	return s.frames
}

// Gaze returns the synthetic gaze channel. Closed when Run returns.
func (s *Simulator) Gaze() <-chan gaze.RawSample {
	return s.gazeCh
}

// Run produces until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	defer close(s.frames)
	defer close(s.gazeCh)

	rng := rand.New(rand.NewSource(s.cfg.Seed))
	frameTicker := s.clock.NewTicker(time.Duration(float64(time.Second) / s.cfg.FrameRate))
	defer frameTicker.Stop()
	gazeTicker := s.clock.NewTicker(time.Duration(float64(time.Second) / s.cfg.GazeRate))
	defer gazeTicker.Stop()

	var frameSeq uint64
	start := s.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-frameTicker.C():
			frameSeq++
			dx := rng.Intn(s.cfg.MaxShift + 1)
			dy := rng.Intn(s.cfg.MaxShift + 1)
			img := s.window(dx, dy)
			if img == nil {
				continue
			}
			f := registration.Frame{SequenceID: frameSeq, Nanos: now.UnixNano(), Image: img}
			select {
			case s.frames <- f:
			case <-ctx.Done():
				return
			}

		case now := <-gazeTicker.C():
			t := now.Sub(start).Seconds()
			// Lissajous sweep covering the central region.
			x := float64(s.ref.W) * (0.5 + 0.35*math.Sin(2*math.Pi*0.11*t))
			y := float64(s.ref.H) * (0.5 + 0.35*math.Sin(2*math.Pi*0.07*t+math.Pi/3))
			sample := gaze.RawSample{
				CaptureNanos: now.UnixNano(),
				X:            x,
				Y:            y,
				Valid:        true,
				ScoreLeft:    0.9 + 0.1*rng.Float64(),
				ScoreRight:   0.9 + 0.1*rng.Float64(),
			}
			select {
			case s.gazeCh <- sample:
			case <-ctx.Done():
				return
			}
		}
	}
}

// window crops the reference at offset (dx, dy), shrinking by MaxShift so
// every shift yields the same dimensions.
func (s *Simulator) window(dx, dy int) *registration.Image {
	w := s.ref.W - s.cfg.MaxShift
	h := s.ref.H - s.cfg.MaxShift
	if w <= 0 || h <= 0 || dx+w > s.ref.W || dy+h > s.ref.H {
		return nil
	}
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		copy(pix[y*w:(y+1)*w], s.ref.Pix[(y+dy)*s.ref.W+dx:(y+dy)*s.ref.W+dx+w])
	}
	img, err := registration.NewImage(w, h, pix)
	if err != nil {
		return nil
	}
	return img
}
