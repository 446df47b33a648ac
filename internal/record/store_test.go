package record

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refgaze-data/refgaze/internal/gaze"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	id, err := s.CreateSession(1000, 1920, 1080, "bench run")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	raw1 := gaze.RawSample{
		CaptureNanos: 10, Nanos: 10, X: 0.4, Y: 0.6,
		Valid: true, ScoreLeft: 0.9, ScoreRight: 0.8, ClockConfident: true,
	}
	raw2 := gaze.RawSample{CaptureNanos: 20, Nanos: 20, X: 0.5, Y: 0.5, Valid: true}
	raw3 := gaze.RawSample{CaptureNanos: 30, Nanos: 30, Valid: false}

	entries := []Entry{
		{
			Seq: 1, Nanos: 10, Raw: raw1,
			Mapped: &gaze.MappedSample{
				Nanos: 10, RefX: 412.5, RefY: 300.25, Confidence: 0.75,
				Valid: true, Stale: false, SourceFrameSeq: 7, Raw: raw1,
			},
			AOI: "Target",
		},
		{
			// Loss of track: confidence present, no coordinates.
			Seq: 2, Nanos: 20, Raw: raw2,
			Mapped: &gaze.MappedSample{Nanos: 20, Confidence: 0, Valid: false, Stale: true, Raw: raw2},
		},
		{
			// Never mapped at all.
			Seq: 3, Nanos: 30, Raw: raw3,
		},
	}
	require.NoError(t, s.Writer(id).WriteEntries(entries))

	got, err := s.ReadEntries(id)
	require.NoError(t, err)
	require.Equal(t, entries, got)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, int64(1000), sessions[0].StartedAt)
	assert.Equal(t, 1920, sessions[0].ReferenceW)
	assert.Equal(t, int64(3), sessions[0].Entries)
}

func TestStoreSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, err := s.CreateSession(1, 100, 100, "")
	require.NoError(t, err)
	b, err := s.CreateSession(2, 100, 100, "")
	require.NoError(t, err)

	require.NoError(t, s.Writer(a).WriteEntries([]Entry{{Seq: 1, Nanos: 5, Raw: gaze.RawSample{Nanos: 5}}}))

	gotA, err := s.ReadEntries(a)
	require.NoError(t, err)
	gotB, err := s.ReadEntries(b)
	require.NoError(t, err)
	assert.Len(t, gotA, 1)
	assert.Empty(t, gotB)
}

func TestStoreReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.CreateSession(1, 10, 10, "")
	require.NoError(t, err)
	require.NoError(t, s.Writer(id).WriteEntries([]Entry{{Seq: 1, Nanos: 1, Raw: gaze.RawSample{Nanos: 1}}}))
	require.NoError(t, s.Close())

	// Reopen runs migrations again; they must be a no-op.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.ReadEntries(id)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	raw := gaze.RawSample{CaptureNanos: 10, Nanos: 10, X: 0.25, Y: 0.5, Valid: true, ScoreLeft: 0.7, ScoreRight: 0.9}
	entries := []Entry{
		{
			Seq: 1, Nanos: 10, Raw: raw,
			Mapped: &gaze.MappedSample{Nanos: 10, RefX: 100, RefY: 200, Confidence: 0.8, Valid: true, SourceFrameSeq: 3, Raw: raw},
			AOI:    "Target",
		},
		{Seq: 2, Nanos: 20, Raw: gaze.RawSample{Nanos: 20, X: 0.1, Y: 0.2}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1", "10", "0.25", "0.5", "100", "200", "Target", "0.9", "0.7", "0.8", "true", "false", "3"}, rows[1])
	assert.Equal(t, []string{"2", "20", "0.1", "0.2", "", "", "", "0", "0", "", "false", "", ""}, rows[2])
}
