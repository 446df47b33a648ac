// Package pipeline connects the timeline normalizer, frame registrar, gaze
// mapper, AOI tracker, heatmap surface and recorder into one session-scoped
// processing graph with explicit ownership.
package pipeline

import (
	"sort"
	"sync"

	"github.com/refgaze-data/refgaze/internal/gaze"
)

// DefaultHistorySize bounds the transform history ring.
const DefaultHistorySize = 256

// TransformHistory is a bounded buffer of accepted transforms ordered by
// their valid-from timestamp. Selection is nearest-past: a sample is never
// mapped through a transform from its future.
type TransformHistory struct {
	mu       sync.Mutex
	capacity int
	items    []*gaze.Transform
}

// NewTransformHistory creates a history holding at most capacity transforms;
// capacity <= 0 falls back to DefaultHistorySize.
func NewTransformHistory(capacity int) *TransformHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &TransformHistory{capacity: capacity}
}

// Add inserts a transform, keeping timestamp order and evicting the oldest
// entry when full. A transform older than everything in a full history is
// discarded outright.
func (h *TransformHistory) Add(t *gaze.Transform) {
	if t == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.items), func(i int) bool {
		return h.items[i].ValidFromNanos > t.ValidFromNanos
	})
	h.items = append(h.items, nil)
	copy(h.items[i+1:], h.items[i:])
	h.items[i] = t

	if len(h.items) > h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:h.capacity]
	}
}

// Select returns the latest transform with ValidFromNanos <= nanos, or nil
// when no past transform exists.
func (h *TransformHistory) Select(nanos int64) *gaze.Transform {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := sort.Search(len(h.items), func(i int) bool {
		return h.items[i].ValidFromNanos > nanos
	})
	if i == 0 {
		return nil
	}
	return h.items[i-1]
}

// Latest returns the newest transform, or nil when empty.
func (h *TransformHistory) Latest() *gaze.Transform {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return nil
	}
	return h.items[len(h.items)-1]
}

// Len returns the number of buffered transforms.
func (h *TransformHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}
