package ingest

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/monitoring"
	"github.com/refgaze-data/refgaze/internal/registration"
)

// recvTimeout bounds each socket receive so context cancellation is noticed
// between messages.
const recvTimeout = 250 * time.Millisecond

// Stats is a snapshot of the subscriber's cumulative counters.
type Stats struct {
	Messages      int64 `json:"messages"`
	GazeSamples   int64 `json:"gaze_samples"`
	Frames        int64 `json:"frames"`
	DroppedLate   int64 `json:"dropped_late"`
	DecodeErrors  int64 `json:"decode_errors"`
	ChannelStalls int64 `json:"channel_stalls"`
}

// Subscriber pulls the capture rig's CBOR stream off a ZMQ SUB socket and
// fans it out onto bounded frame and gaze channels. Frames arriving with a
// producer timestamp older than the newest already seen are dropped; the gaze
// stream is passed through in arrival order.
type Subscriber struct {
	endpoint string

	frames chan registration.Frame
	gazeCh chan gaze.RawSample

	mu             sync.Mutex
	stats          Stats
	lastFrameNanos int64
}

// NewSubscriber creates a subscriber for the given ZMQ endpoint, e.g.
// "tcp://127.0.0.1:5555".
func NewSubscriber(endpoint string) *Subscriber {
	return &Subscriber{
		endpoint: endpoint,
		frames:   make(chan registration.Frame, 8),
		gazeCh:   make(chan gaze.RawSample, 256),
	}
}

// Frames returns the scene frame channel. Closed when Run returns.
func (s *Subscriber) Frames() <-chan registration.Frame {
	return s.frames
}

// Gaze returns the raw gaze sample channel. Closed when Run returns.
func (s *Subscriber) Gaze() <-chan gaze.RawSample {
	return s.gazeCh
}

// Run connects and pumps messages until the context is cancelled. Transport
// receive errors are logged and retried; only socket setup fails hard.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.frames)
	defer close(s.gazeCh)

	socket, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("ingest: create socket: %w", err)
	}
	defer socket.Close()
	if err := socket.Connect(s.endpoint); err != nil {
		return fmt.Errorf("ingest: connect %s: %w", s.endpoint, err)
	}
	if err := socket.SetSubscribe(""); err != nil {
		return fmt.Errorf("ingest: subscribe: %w", err)
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		return fmt.Errorf("ingest: set receive timeout: %w", err)
	}
	monitoring.Logf("ingest: subscribed to %s", s.endpoint)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			// Timeouts are the cancellation poll; anything else is a
			// transient transport fault.
			if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) {
				monitoring.Logf("ingest: recv error: %v", err)
			}
			continue
		}
		s.handle(ctx, msg)
	}
}

// handle decodes one wire message and forwards it downstream.
func (s *Subscriber) handle(ctx context.Context, msg []byte) {
	s.count(func(st *Stats) { st.Messages++ })

	m, err := DecodeMessage(msg)
	if err != nil {
		s.count(func(st *Stats) { st.DecodeErrors++ })
		monitoring.Debugf("ingest: %v", err)
		return
	}

	switch m.Type {
	case TypeGaze:
		sample, err := m.RawSample()
		if err != nil {
			s.count(func(st *Stats) { st.DecodeErrors++ })
			monitoring.Debugf("ingest: %v", err)
			return
		}
		s.count(func(st *Stats) { st.GazeSamples++ })
		s.send(ctx, sample)

	case TypeFrame:
		f, err := m.Frame()
		if err != nil {
			s.count(func(st *Stats) { st.DecodeErrors++ })
			monitoring.Debugf("ingest: %v", err)
			return
		}
		if s.lateFrame(f.Nanos) {
			s.count(func(st *Stats) { st.DroppedLate++ })
			monitoring.Debugf("ingest: dropped out-of-order frame %d", f.SequenceID)
			return
		}
		s.count(func(st *Stats) { st.Frames++ })
		s.sendFrame(ctx, f)
	}
}

// lateFrame reports whether nanos regresses behind the newest frame seen, and
// advances the high-water mark otherwise.
func (s *Subscriber) lateFrame(nanos int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nanos < s.lastFrameNanos {
		return true
	}
	s.lastFrameNanos = nanos
	return false
}

func (s *Subscriber) send(ctx context.Context, sample gaze.RawSample) {
	select {
	case s.gazeCh <- sample:
	default:
		s.count(func(st *Stats) { st.ChannelStalls++ })
		select {
		case s.gazeCh <- sample:
		case <-ctx.Done():
		}
	}
}

func (s *Subscriber) sendFrame(ctx context.Context, f registration.Frame) {
	select {
	case s.frames <- f:
	default:
		s.count(func(st *Stats) { st.ChannelStalls++ })
		select {
		case s.frames <- f:
		case <-ctx.Done():
		}
	}
}

func (s *Subscriber) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// Stats returns a copy of the cumulative counters.
func (s *Subscriber) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
