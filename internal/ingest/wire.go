// Package ingest adapts the capture rig's ZMQ stream onto the pipeline's
// frame and gaze channels, and provides a synthetic producer for headless
// runs.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/registration"
)

// Message is the CBOR wire schema published by the capture rig. One message
// carries a gaze measurement and, when the scene camera produced a new frame,
// the frame's grayscale pixels.
type Message struct {
	Type string `cbor:"type"`

	// FrameSeq numbers scene frames at the producer.
	FrameSeq uint64 `cbor:"frame"`

	// CaptureNanos is the producer-clock timestamp. When zero, SystemTime
	// is parsed instead.
	CaptureNanos int64 `cbor:"capture_nanos,omitempty"`

	// SystemTime is the legacy wall-time string, 'YYYY:MM:DD:HH:MM:SS:ms'.
	SystemTime string `cbor:"system_time,omitempty"`

	// Gaze fields. Valid is false on loss of track.
	GazeX      float64 `cbor:"gaze_x"`
	GazeY      float64 `cbor:"gaze_y"`
	Valid      bool    `cbor:"valid"`
	ScoreLeft  float64 `cbor:"score_left"`
	ScoreRight float64 `cbor:"score_right"`

	// Frame fields, present on type "frame" messages only. Pixels is
	// row-major grayscale, Width*Height bytes.
	Width  int    `cbor:"width,omitempty"`
	Height int    `cbor:"height,omitempty"`
	Pixels []byte `cbor:"image,omitempty"`
}

// Message types on the wire.
const (
	TypeGaze  = "gaze"
	TypeFrame = "frame"
)

// DecodeMessage unmarshals one wire message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("ingest: cbor decode: %w", err)
	}
	if m.Type != TypeGaze && m.Type != TypeFrame {
		return Message{}, fmt.Errorf("ingest: unknown message type %q", m.Type)
	}
	return m, nil
}

// Timestamp resolves the message's producer timestamp, falling back to the
// legacy wall-time string when no nanosecond timestamp was sent.
func (m Message) Timestamp() (int64, error) {
	if m.CaptureNanos != 0 {
		return m.CaptureNanos, nil
	}
	if m.SystemTime == "" {
		return 0, fmt.Errorf("ingest: message carries no timestamp")
	}
	return ParseSystemTime(m.SystemTime)
}

// RawSample converts a gaze message into the pipeline's raw sample type.
// The reference-timeline Nanos field is left for the session to fill.
func (m Message) RawSample() (gaze.RawSample, error) {
	nanos, err := m.Timestamp()
	if err != nil {
		return gaze.RawSample{}, err
	}
	return gaze.RawSample{
		CaptureNanos: nanos,
		X:            m.GazeX,
		Y:            m.GazeY,
		Valid:        m.Valid,
		ScoreLeft:    m.ScoreLeft,
		ScoreRight:   m.ScoreRight,
	}, nil
}

// Frame converts a frame message into a registration frame.
func (m Message) Frame() (registration.Frame, error) {
	nanos, err := m.Timestamp()
	if err != nil {
		return registration.Frame{}, err
	}
	img, err := registration.NewImage(m.Width, m.Height, m.Pixels)
	if err != nil {
		return registration.Frame{}, fmt.Errorf("ingest: frame %d: %w", m.FrameSeq, err)
	}
	return registration.Frame{SequenceID: m.FrameSeq, Nanos: nanos, Image: img}, nil
}

// ParseSystemTime parses the capture rig's 'YYYY:MM:DD:HH:MM:SS:ms' wall-time
// format into Unix nanoseconds. The final field is milliseconds.
func ParseSystemTime(s string) (int64, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return 0, fmt.Errorf("ingest: malformed system time %q", s)
	}
	base, msPart := s[:i], s[i+1:]
	ms, err := strconv.Atoi(msPart)
	if err != nil || ms < 0 || ms > 999 {
		return 0, fmt.Errorf("ingest: malformed milliseconds in system time %q", s)
	}
	t, err := time.Parse("2006:01:02:15:04:05", base)
	if err != nil {
		return 0, fmt.Errorf("ingest: malformed system time %q: %w", s, err)
	}
	return t.UnixNano() + int64(ms)*int64(time.Millisecond), nil
}
