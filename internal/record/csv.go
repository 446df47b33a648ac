package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// csvHeader mirrors the analysis spreadsheet layout downstream tooling
// already consumes.
var csvHeader = []string{
	"Seq", "TimestampNanos", "GazeX", "GazeY",
	"RefX", "RefY", "AOI",
	"ScoreRight", "ScoreLeft", "Confidence",
	"Mapped", "Stale", "SourceFrame",
}

// WriteCSV exports entries, one row per entry, in the given order. Null
// mappings leave the reference columns empty.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("record: write csv header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatUint(e.Seq, 10),
			strconv.FormatInt(e.Nanos, 10),
			formatFloat(e.Raw.X),
			formatFloat(e.Raw.Y),
			"", "", e.AOI,
			formatFloat(e.Raw.ScoreRight),
			formatFloat(e.Raw.ScoreLeft),
			"",
			"false", "", "",
		}
		if e.Mapped != nil {
			row[9] = formatFloat(e.Mapped.Confidence)
			row[10] = strconv.FormatBool(e.Mapped.Valid)
			row[11] = strconv.FormatBool(e.Mapped.Stale)
			if e.Mapped.Valid {
				row[4] = formatFloat(e.Mapped.RefX)
				row[5] = formatFloat(e.Mapped.RefY)
				row[12] = strconv.FormatUint(e.Mapped.SourceFrameSeq, 10)
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("record: write csv row %d: %w", e.Seq, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
