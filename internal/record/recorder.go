// Package record persists the session's raw and mapped gaze stream as an
// append-only, sequence-numbered log.
//
// The recorder is the only pipeline stage allowed to introduce backpressure,
// and it converts that backpressure into bounded loss: a many-producer/
// single-consumer bounded queue decouples the mapping path from disk I/O, and
// on overflow the oldest queued entry is dropped in favour of the newest
// (stale buffered data is worth less than current throughput in a live
// pipeline). Every drop increments DroppedCount, and sequence numbers are
// assigned before queueing, so completeness gaps are always detectable when
// reading the log back.
package record

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/monitoring"
	"github.com/refgaze-data/refgaze/internal/timeutil"
)

// Entry is one element of the append-only session log. Exactly one Entry
// exists per delivered raw gaze sample, mapped or not.
type Entry struct {
	// Seq is assigned in arrival order, strictly increasing from 1.
	Seq uint64 `json:"seq"`

	// Nanos is the entry timestamp on the reference timeline.
	Nanos int64 `json:"nanos"`

	// Raw is the sample as delivered.
	Raw gaze.RawSample `json:"raw"`

	// Mapped is nil for null mappings (no transform yet, loss of track,
	// degenerate projection).
	Mapped *gaze.MappedSample `json:"mapped,omitempty"`

	// AOI is the name of the first region containing the mapped point,
	// empty otherwise.
	AOI string `json:"aoi,omitempty"`
}

// Sink receives drained entries in sequence order.
type Sink interface {
	WriteEntries(entries []Entry) error
}

// Config holds recorder queue parameters.
type Config struct {
	QueueSize     int           // bounded queue capacity
	BatchSize     int           // max entries per sink write
	FlushInterval time.Duration // max latency before a partial batch is written
	FlushTimeout  time.Duration // teardown drain bound
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		BatchSize:     128,
		FlushInterval: 250 * time.Millisecond,
		FlushTimeout:  5 * time.Second,
	}
}

// Recorder is the append-only sink feeding a Sink from a bounded queue.
type Recorder struct {
	cfg   Config
	sink  Sink
	clock timeutil.Clock

	mu      sync.Mutex
	nextSeq uint64
	dropped int64
	written int64
	closed  bool

	queue chan Entry
	done  chan struct{}

	errMu   sync.Mutex
	sinkErr error
}

// NewRecorder starts a recorder draining into sink on its own goroutine.
func NewRecorder(sink Sink, cfg Config, clock timeutil.Clock) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig().FlushTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Recorder{
		cfg:     cfg,
		sink:    sink,
		clock:   clock,
		nextSeq: 1,
		queue:   make(chan Entry, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go r.drain()
	return r
}

// Append assigns the next sequence number and enqueues the entry. It never
// blocks: when the queue is full the oldest queued entry is discarded and
// counted. Returns the assigned sequence number, or 0 after Close.
func (r *Recorder) Append(nanos int64, raw gaze.RawSample, mapped *gaze.MappedSample, aoiName string) uint64 {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	e := Entry{Seq: r.nextSeq, Nanos: nanos, Raw: raw, Mapped: mapped, AOI: aoiName}
	r.nextSeq++

	for {
		select {
		case r.queue <- e:
			r.mu.Unlock()
			return e.Seq
		default:
		}
		select {
		case old := <-r.queue:
			r.dropped++
			monitoring.Debugf("record: queue full, dropped entry seq=%d", old.Seq)
		default:
		}
	}
}

// DroppedCount returns the cumulative number of entries lost to queue
// overflow. Resets only at session start (recorder construction).
func (r *Recorder) DroppedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// WrittenCount returns the number of entries handed to the sink.
func (r *Recorder) WrittenCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Err returns the first sink write error, if any. Sink errors are data-loss
// events, not pipeline failures: draining continues past them.
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.sinkErr
}

// Close stops accepting entries, drains the queue and flushes the final
// batch. Draining is bounded by the context and by FlushTimeout, whichever
// ends first; entries still queued after that are dropped and counted.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.Err()
	}
	r.closed = true
	r.mu.Unlock()

	close(r.queue)

	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("record: drain interrupted: %w", ctx.Err())
	case <-time.After(r.cfg.FlushTimeout):
		return fmt.Errorf("record: drain exceeded flush timeout %v", r.cfg.FlushTimeout)
	}
	return r.Err()
}

// drain is the single consumer: it batches queued entries and writes them to
// the sink so slow storage never stalls the mapping path.
func (r *Recorder) drain() {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.sink.WriteEntries(batch); err != nil {
			r.recordSinkErr(err)
		} else {
			r.mu.Lock()
			r.written += int64(len(batch))
			r.mu.Unlock()
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-r.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C():
			flush()
		}
	}
}

func (r *Recorder) recordSinkErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.sinkErr == nil {
		r.sinkErr = err
	}
	monitoring.Logf("record: sink write failed: %v", err)
}
