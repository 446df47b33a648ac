package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/refgaze-data/refgaze/internal/aoi"
	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/heatmap"
	"github.com/refgaze-data/refgaze/internal/monitoring"
	"github.com/refgaze-data/refgaze/internal/record"
	"github.com/refgaze-data/refgaze/internal/registration"
	"github.com/refgaze-data/refgaze/internal/timeline"
	"github.com/refgaze-data/refgaze/internal/timeutil"
)

// Config holds session-level pipeline parameters. Registration, AOI and
// heatmap tuning live in their packages' Configs.
type Config struct {
	// ReferenceW, ReferenceH are the reference image dimensions; the
	// heatmap surface covers them.
	ReferenceW int
	ReferenceH int

	// GazeSource and FrameSource name the producer clocks for the
	// timeline normalizer.
	GazeSource  string
	FrameSource string

	// Smoothing is the normalizer's offset smoothing factor.
	Smoothing float64

	// DecayTau is the mapping confidence decay time constant.
	DecayTau time.Duration

	// StalenessBound marks mappings whose sample-to-transform gap exceeds
	// it as stale. Stale samples are still mapped and recorded.
	StalenessBound time.Duration

	// HistorySize bounds the transform history ring.
	HistorySize int

	AOI     aoi.Config
	Heatmap heatmap.Config
}

// DefaultConfig returns the default session parameters.
func DefaultConfig() Config {
	return Config{
		GazeSource:     "gaze",
		FrameSource:    "scene",
		Smoothing:      timeline.DefaultSmoothing,
		DecayTau:       2 * time.Second,
		StalenessBound: 500 * time.Millisecond,
		HistorySize:    DefaultHistorySize,
		AOI:            aoi.DefaultConfig(),
		Heatmap:        heatmap.DefaultConfig(),
	}
}

// Stats is a snapshot of the session's cumulative counters. Counters reset
// only at session start.
type Stats struct {
	GazeSamples   int64 `json:"gaze_samples"`
	MappedValid   int64 `json:"mapped_valid"`
	NullMappings  int64 `json:"null_mappings"`
	StaleMappings int64 `json:"stale_mappings"`

	Registration registration.Stats `json:"registration"`

	RecorderDropped int64 `json:"recorder_dropped"`
	RecorderWritten int64 `json:"recorder_written"`
}

// Session owns one recording run: the normalizer, registrar, transform
// history, AOI tracker, heatmap surface and recorder. All state is scoped to
// the session; constructing a new one starts every counter from zero.
//
// Concurrency: OnFrame and OnGaze may be called from different producer
// goroutines. Run must be started for transforms to flow. Snapshot methods
// are safe from any goroutine and never block the mapping path.
type Session struct {
	cfg Config

	normalizer *timeline.Normalizer
	registrar  *registration.Registrar
	history    *TransformHistory
	tracker    *aoi.Tracker
	surface    *heatmap.Surface
	recorder   *record.Recorder

	mu         sync.Mutex
	latest     gaze.MappedSample
	haveLatest bool
	counters   Stats
	onMapped   func(gaze.MappedSample)
}

// NewSession wires a session around an already-constructed registrar. The
// recorder is optional; a nil recorder disables persistence.
func NewSession(reg *registration.Registrar, regions []aoi.RegionDef, cfg Config, clock timeutil.Clock, rec *record.Recorder) (*Session, error) {
	if reg == nil {
		return nil, fmt.Errorf("pipeline: registrar is required")
	}
	if cfg.GazeSource == "" {
		cfg.GazeSource = DefaultConfig().GazeSource
	}
	if cfg.FrameSource == "" {
		cfg.FrameSource = DefaultConfig().FrameSource
	}
	if cfg.DecayTau <= 0 {
		cfg.DecayTau = DefaultConfig().DecayTau
	}
	if cfg.StalenessBound <= 0 {
		cfg.StalenessBound = DefaultConfig().StalenessBound
	}

	tracker, err := aoi.NewTracker(regions, cfg.AOI)
	if err != nil {
		return nil, err
	}
	surface, err := heatmap.NewSurface(cfg.ReferenceW, cfg.ReferenceH, cfg.Heatmap)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		normalizer: timeline.NewNormalizer(clock, cfg.Smoothing),
		registrar:  reg,
		history:    NewTransformHistory(cfg.HistorySize),
		tracker:    tracker,
		surface:    surface,
		recorder:   rec,
	}
	reg.OnTransform(s.handleTransform)
	return s, nil
}

// Run drives frame registration until the context is cancelled.
func (s *Session) Run(ctx context.Context) {
	s.registrar.Run(ctx)
}

// OnMapped installs a callback invoked for every mapped sample, from the
// OnGaze caller's goroutine. Used by the live read surface; must not block.
func (s *Session) OnMapped(fn func(gaze.MappedSample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMapped = fn
}

// OnFrame normalizes a scene frame's timestamp onto the reference timeline
// and offers it for registration. Returns immediately; registration happens
// on the Run goroutine and older pending frames are dropped.
func (s *Session) OnFrame(f registration.Frame) {
	s.normalizer.Observe(s.cfg.FrameSource, f.Nanos)
	f.Nanos, _ = s.normalizer.Normalize(s.cfg.FrameSource, f.Nanos)
	s.registrar.Submit(f)
}

// handleTransform commits an accepted transform into the history. Runs on the
// registrar's Run goroutine.
func (s *Session) handleTransform(t *gaze.Transform) {
	s.history.Add(t)
	monitoring.Debugf("pipeline: transform from frame %d committed, confidence %.2f", t.SourceFrameSeq, t.Confidence)
}

// OnGaze processes one raw gaze sample through the whole mapping path:
// timeline normalization, nearest-past transform selection, projection,
// staleness marking, then fan-out to the AOI tracker, heatmap surface and
// recorder. Every delivered sample yields exactly one mapped result and one
// record entry, null-mapped when no usable transform exists.
func (s *Session) OnGaze(raw gaze.RawSample) gaze.MappedSample {
	anchored := s.normalizer.Anchored(s.cfg.GazeSource)
	s.normalizer.Observe(s.cfg.GazeSource, raw.CaptureNanos)
	raw.Nanos, _ = s.normalizer.Normalize(s.cfg.GazeSource, raw.CaptureNanos)
	raw.ClockConfident = anchored

	t := s.history.Select(raw.Nanos)
	mapped := gaze.Map(t, raw, s.cfg.DecayTau)
	if mapped.Valid && time.Duration(raw.Nanos-t.ValidFromNanos) > s.cfg.StalenessBound {
		mapped.Stale = true
	}

	var aoiName string
	if names := s.tracker.Observe(mapped); len(names) > 0 {
		aoiName = names[0]
	}
	if mapped.Valid && mapped.Confidence >= s.cfg.AOI.MinConfidence {
		s.surface.Deposit(mapped.RefX, mapped.RefY, mapped.Confidence, mapped.Nanos)
	}
	if s.recorder != nil {
		var mp *gaze.MappedSample
		if mapped.Valid {
			m := mapped
			mp = &m
		}
		s.recorder.Append(raw.Nanos, raw, mp, aoiName)
	}

	s.mu.Lock()
	s.counters.GazeSamples++
	if mapped.Valid {
		s.counters.MappedValid++
		if mapped.Stale {
			s.counters.StaleMappings++
		}
	} else {
		s.counters.NullMappings++
	}
	s.latest = mapped
	s.haveLatest = true
	fn := s.onMapped
	s.mu.Unlock()

	if fn != nil {
		fn(mapped)
	}
	return mapped
}

// Heatmap returns a copy of the attention surface.
func (s *Session) Heatmap() heatmap.Snapshot {
	return s.surface.Snapshot()
}

// AOIStats returns a copy of every region's statistics.
func (s *Session) AOIStats() []aoi.RegionStats {
	return s.tracker.Snapshot()
}

// Latest returns the most recent mapped sample, if any sample has arrived.
func (s *Session) Latest() (gaze.MappedSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.haveLatest
}

// History exposes the transform history for read-only inspection by tools.
func (s *Session) History() *TransformHistory {
	return s.history
}

// Stats returns a snapshot of the session's cumulative counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	out := s.counters
	s.mu.Unlock()
	out.Registration = s.registrar.Stats()
	if s.recorder != nil {
		out.RecorderDropped = s.recorder.DroppedCount()
		out.RecorderWritten = s.recorder.WrittenCount()
	}
	return out
}

// Close drains and flushes the recorder. Idempotent for sessions without one.
func (s *Session) Close(ctx context.Context) error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Close(ctx)
}
