// Package heatmap accumulates gaze attention density over reference-image
// space. Each usable mapped sample deposits a normalized 2D Gaussian kernel,
// weighted by mapping confidence.
package heatmap

import (
	"fmt"
	"math"
	"sync"
)

// Policy selects how deposits accumulate over the session. Fixed at session
// start, not switchable mid-session.
type Policy string

const (
	// PolicyCumulative keeps every contribution for whole-session analysis.
	PolicyCumulative Policy = "cumulative"

	// PolicyDecaying exponentially fades older contributions, for live
	// visualization.
	PolicyDecaying Policy = "decaying"
)

// Config holds heatmap accumulation parameters.
type Config struct {
	// Sigma is the Gaussian kernel width in reference pixels.
	Sigma float64

	// Policy selects cumulative or decaying accumulation.
	Policy Policy

	// DecayHalfLife is the half-life of deposited mass under
	// PolicyDecaying; ignored for PolicyCumulative.
	DecayHalfLife float64 // seconds
}

// DefaultConfig returns the default heatmap parameters. Sigma follows the
// blur the upstream visualization used.
func DefaultConfig() Config {
	return Config{
		Sigma:         15,
		Policy:        PolicyCumulative,
		DecayHalfLife: 10,
	}
}

// Surface is the accumulation grid. One instance per session, owned by the
// session object; all access is internally synchronized.
type Surface struct {
	mu sync.Mutex

	w, h    int
	weights []float64
	cfg     Config

	// kernel is the precomputed normalized Gaussian, (2r+1)^2 entries.
	kernel []float64
	radius int

	// scale implements O(1) exponential decay: the logical cell value is
	// weights[i] * scale, decay only shrinks scale, and deposits are
	// divided by it. Renormalized when it underflows.
	scale     float64
	lastNanos int64
	haveLast  bool

	deposits int64
}

// NewSurface creates a surface covering a w x h reference image.
func NewSurface(w, h int, cfg Config) (*Surface, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("heatmap: invalid surface size %dx%d", w, h)
	}
	if cfg.Sigma <= 0 {
		cfg.Sigma = DefaultConfig().Sigma
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyCumulative
	}
	if cfg.Policy != PolicyCumulative && cfg.Policy != PolicyDecaying {
		return nil, fmt.Errorf("heatmap: unknown accumulation policy %q", cfg.Policy)
	}
	s := &Surface{
		w:       w,
		h:       h,
		weights: make([]float64, w*h),
		cfg:     cfg,
		scale:   1,
	}
	s.buildKernel()
	return s, nil
}

// buildKernel precomputes the Gaussian kernel, truncated at three sigma and
// normalized to unit mass.
func (s *Surface) buildKernel() {
	s.radius = int(math.Ceil(3 * s.cfg.Sigma))
	size := 2*s.radius + 1
	s.kernel = make([]float64, size*size)
	sum := 0.0
	inv := 1 / (2 * s.cfg.Sigma * s.cfg.Sigma)
	for dy := -s.radius; dy <= s.radius; dy++ {
		for dx := -s.radius; dx <= s.radius; dx++ {
			v := math.Exp(-float64(dx*dx+dy*dy) * inv)
			s.kernel[(dy+s.radius)*size+dx+s.radius] = v
			sum += v
		}
	}
	for i := range s.kernel {
		s.kernel[i] /= sum
	}
}

// Deposit adds a kernel centered at (x, y), weighted by confidence, at the
// given timestamp. Deposits outside the surface are clipped; a center
// entirely off-grid still decays the surface but adds nothing.
func (s *Surface) Deposit(x, y, confidence float64, nanos int64) {
	if confidence <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyDecay(nanos)

	cx := int(math.Round(x))
	cy := int(math.Round(y))
	size := 2*s.radius + 1
	amount := confidence / s.scale

	for dy := -s.radius; dy <= s.radius; dy++ {
		gy := cy + dy
		if gy < 0 || gy >= s.h {
			continue
		}
		row := s.kernel[(dy+s.radius)*size:]
		for dx := -s.radius; dx <= s.radius; dx++ {
			gx := cx + dx
			if gx < 0 || gx >= s.w {
				continue
			}
			s.weights[gy*s.w+gx] += amount * row[dx+s.radius]
		}
	}
	s.deposits++
}

// applyDecay advances the decay scale to the given timestamp. Cumulative
// surfaces never decay.
func (s *Surface) applyDecay(nanos int64) {
	if s.cfg.Policy != PolicyDecaying || s.cfg.DecayHalfLife <= 0 {
		return
	}
	if !s.haveLast {
		s.haveLast = true
		s.lastNanos = nanos
		return
	}
	dt := float64(nanos-s.lastNanos) / 1e9
	if dt <= 0 {
		return
	}
	s.lastNanos = nanos
	s.scale *= math.Exp2(-dt / s.cfg.DecayHalfLife)
	if s.scale < 1e-12 {
		// Fold the scale back into the grid to keep deposits finite.
		for i := range s.weights {
			s.weights[i] *= s.scale
		}
		s.scale = 1
	}
}

// Snapshot is a read-only copy of the surface for UI consumers.
type Snapshot struct {
	W        int       `json:"w"`
	H        int       `json:"h"`
	Weights  []float64 `json:"weights"`
	Max      float64   `json:"max"`
	Deposits int64     `json:"deposits"`
	Policy   Policy    `json:"policy"`
}

// Snapshot copies the current surface state with the decay scale applied.
func (s *Surface) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		W:        s.w,
		H:        s.h,
		Weights:  make([]float64, len(s.weights)),
		Deposits: s.deposits,
		Policy:   s.cfg.Policy,
	}
	for i, v := range s.weights {
		lv := v * s.scale
		out.Weights[i] = lv
		if lv > out.Max {
			out.Max = lv
		}
	}
	return out
}

// Mass returns the total accumulated weight, mostly useful in tests.
func (s *Surface) Mass() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0.0
	for _, v := range s.weights {
		sum += v
	}
	return sum * s.scale
}
