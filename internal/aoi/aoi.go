// Package aoi maintains named polygonal areas of interest in reference-image
// space and their attention statistics: dwell time, entry (hit) counts and
// fixation counts.
package aoi

import (
	"fmt"
	"sync"
	"time"

	"github.com/refgaze-data/refgaze/internal/gaze"
)

// Point is a vertex in reference-image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RegionDef declares a region at configuration time. Polygons must have at
// least three vertices and be non-self-intersecting (input contract, not
// re-validated here beyond the vertex count).
type RegionDef struct {
	Name    string  `json:"name"`
	Polygon []Point `json:"polygon"`
}

// RegionStats is a read-only snapshot of one region's statistics.
type RegionStats struct {
	Name          string  `json:"name"`
	DwellNanos    int64   `json:"dwell_nanos"`
	DwellSeconds  float64 `json:"dwell_seconds"`
	HitCount      int64   `json:"hit_count"`
	FixationCount int64   `json:"fixation_count"`
	GazeInside    bool    `json:"gaze_inside"`
}

// region is the mutable tracker-internal state of one AOI. Regions live for
// the whole session and are mutated only by the Tracker.
type region struct {
	name    string
	polygon []Point

	dwellNanos    int64
	hitCount      int64
	fixationCount int64
	inside        bool
}

// Config holds AOI tracking parameters.
type Config struct {
	// MinConfidence is the usability threshold: mapped samples below it
	// are recorded elsewhere but never touch region statistics.
	MinConfidence float64

	// FixationRadius is the spatial radius (reference pixels) within which
	// consecutive samples count towards one fixation.
	FixationRadius float64

	// FixationMinDuration is the minimum dwell within the radius for a
	// sample run to count as a fixation event.
	FixationMinDuration time.Duration
}

// DefaultConfig returns the default AOI tracking parameters. The fixation
// thresholds are configuration, not fixed behaviour; these defaults follow
// common I-DT style settings (radius in pixels, 100ms minimum duration).
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.2,
		FixationRadius:      25,
		FixationMinDuration: 100 * time.Millisecond,
	}
}

// Tracker updates region statistics from the mapped gaze stream. It is safe
// for concurrent use, though in the pipeline a single goroutine feeds it.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	regions []*region

	haveLast  bool
	lastNanos int64

	// Fixation detection state: the anchor is the first point of the
	// current candidate run.
	fixAnchor  Point
	fixStart   int64
	fixActive  bool
	fixCounted bool
}

// NewTracker builds a Tracker over the session's region set.
func NewTracker(defs []RegionDef, cfg Config) (*Tracker, error) {
	t := &Tracker{cfg: cfg}
	for _, def := range defs {
		if len(def.Polygon) < 3 {
			return nil, fmt.Errorf("aoi: region %q has %d vertices, need at least 3", def.Name, len(def.Polygon))
		}
		poly := make([]Point, len(def.Polygon))
		copy(poly, def.Polygon)
		t.regions = append(t.regions, &region{name: def.Name, polygon: poly})
	}
	return t, nil
}

// Observe feeds one mapped sample into the statistics. It returns the names
// of the regions containing the point, or nil for unusable samples.
//
// Dwell accounting: the inter-sample delta accrues to the regions that
// contained the previous usable sample, so a dwell runs from entry until the
// first sample outside.
func (t *Tracker) Observe(s gaze.MappedSample) []string {
	if !s.Valid || s.Confidence < t.cfg.MinConfidence {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var delta int64
	if t.haveLast && s.Nanos > t.lastNanos {
		delta = s.Nanos - t.lastNanos
	}

	p := Point{X: s.RefX, Y: s.RefY}
	var containing []string
	for _, r := range t.regions {
		if r.inside {
			r.dwellNanos += delta
		}
		in := Contains(r.polygon, p)
		if in {
			if !r.inside {
				r.hitCount++
			}
			containing = append(containing, r.name)
		}
		r.inside = in
	}

	t.observeFixation(p, s.Nanos)

	t.haveLast = true
	t.lastNanos = s.Nanos
	return containing
}

// observeFixation advances the dwell/radius fixation detector. A run of
// consecutive usable samples within FixationRadius of its anchor counts as
// exactly one fixation once it lasts FixationMinDuration; the event is
// attributed to the regions containing the anchor.
func (t *Tracker) observeFixation(p Point, nanos int64) {
	if t.cfg.FixationRadius <= 0 || t.cfg.FixationMinDuration <= 0 {
		return
	}
	if !t.fixActive || distance(p, t.fixAnchor) > t.cfg.FixationRadius {
		t.fixAnchor = p
		t.fixStart = nanos
		t.fixActive = true
		t.fixCounted = false
		return
	}
	if !t.fixCounted && nanos-t.fixStart >= int64(t.cfg.FixationMinDuration) {
		t.fixCounted = true
		for _, r := range t.regions {
			if Contains(r.polygon, t.fixAnchor) {
				r.fixationCount++
			}
		}
	}
}

// Snapshot returns a copy of every region's statistics, in definition order.
func (t *Tracker) Snapshot() []RegionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RegionStats, 0, len(t.regions))
	for _, r := range t.regions {
		out = append(out, RegionStats{
			Name:          r.name,
			DwellNanos:    r.dwellNanos,
			DwellSeconds:  time.Duration(r.dwellNanos).Seconds(),
			HitCount:      r.hitCount,
			FixationCount: r.fixationCount,
			GazeInside:    r.inside,
		})
	}
	return out
}
