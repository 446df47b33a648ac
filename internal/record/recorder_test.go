package record

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/timeutil"
)

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *memorySink) WriteEntries(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memorySink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// blockingSink stalls its first write until released, so tests can hold the
// consumer mid-flush and fill the queue deterministically.
type blockingSink struct {
	memorySink
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) WriteEntries(entries []Entry) error {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.memorySink.WriteEntries(entries)
}

type failingSink struct{}

func (failingSink) WriteEntries([]Entry) error {
	return fmt.Errorf("disk full")
}

func rawAt(nanos int64) gaze.RawSample {
	return gaze.RawSample{Nanos: nanos, CaptureNanos: nanos, X: 1, Y: 2, Valid: true}
}

func TestRecorderPreservesCountAndOrder(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	r := NewRecorder(sink, Config{QueueSize: 64, BatchSize: 8}, timeutil.NewFakeClock(time.Unix(0, 0)))

	const n = 50
	for i := 0; i < n; i++ {
		seq := r.Append(int64(i), rawAt(int64(i)), nil, "")
		assert.Equal(t, uint64(i+1), seq)
	}
	require.NoError(t, r.Close(context.Background()))

	got := sink.all()
	require.Len(t, got, n, "one entry per appended sample")
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq, "sequence numbers dense and in arrival order")
	}
	assert.Zero(t, r.DroppedCount())
	assert.Equal(t, int64(n), r.WrittenCount())
}

func TestRecorderOverflowDropsOldestWithoutBlocking(t *testing.T) {
	t.Parallel()

	sink := newBlockingSink()
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	// BatchSize 1 sends the consumer into the sink after the first entry;
	// the fake clock never fires the flush ticker on its own.
	r := NewRecorder(sink, Config{QueueSize: 4, BatchSize: 1, FlushInterval: time.Hour}, clock)

	r.Append(0, rawAt(0), nil, "")
	<-sink.started // consumer is now stalled inside the sink

	// Fill the queue, then push three more: each one evicts the oldest.
	for i := 1; i <= 7; i++ {
		done := make(chan uint64, 1)
		go func(n int64) { done <- r.Append(n, rawAt(n), nil, "") }(int64(i))
		select {
		case seq := <-done:
			assert.Equal(t, uint64(i+1), seq)
		case <-time.After(2 * time.Second):
			t.Fatal("Append blocked on a full queue")
		}
	}
	assert.Equal(t, int64(3), r.DroppedCount())

	close(sink.release)
	require.NoError(t, r.Close(context.Background()))

	var seqs []uint64
	for _, e := range sink.all() {
		seqs = append(seqs, e.Seq)
	}
	// Seqs 2, 3 and 4 were evicted; the gap makes the loss detectable.
	assert.Equal(t, []uint64{1, 5, 6, 7, 8}, seqs)
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	r := NewRecorder(sink, Config{QueueSize: 64, BatchSize: 128, FlushInterval: 100 * time.Millisecond}, clock)
	defer r.Close(context.Background())

	r.Append(0, rawAt(0), nil, "")
	r.Append(1, rawAt(1), nil, "")

	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return r.WrittenCount() == 2
	}, 2*time.Second, 10*time.Millisecond, "partial batch flushes on the interval tick")
}

func TestRecorderSinkErrorIsSurfacedNotFatal(t *testing.T) {
	t.Parallel()

	r := NewRecorder(failingSink{}, Config{QueueSize: 8, BatchSize: 1}, timeutil.NewFakeClock(time.Unix(0, 0)))
	r.Append(0, rawAt(0), nil, "")
	r.Append(1, rawAt(1), nil, "")

	err := r.Close(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, r.WrittenCount())
}

func TestAppendAfterCloseReturnsZero(t *testing.T) {
	t.Parallel()

	r := NewRecorder(&memorySink{}, Config{}, timeutil.NewFakeClock(time.Unix(0, 0)))
	require.NoError(t, r.Close(context.Background()))
	assert.Zero(t, r.Append(0, rawAt(0), nil, ""))
}
