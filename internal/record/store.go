package record

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists session logs in a sqlite database. The schema is managed by
// embedded migrations so existing databases upgrade in place on open.
type Store struct {
	db *sql.DB
}

// SessionInfo describes one recorded session.
type SessionInfo struct {
	ID         string `json:"id"`
	StartedAt  int64  `json:"started_at"`
	ReferenceW int    `json:"reference_w"`
	ReferenceH int    `json:"reference_h"`
	Notes      string `json:"notes,omitempty"`
	Entries    int64  `json:"entries"`
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	// sqlite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("record: load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("record: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("record: migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// Closing m would close the underlying *sql.DB, so it is left to the GC.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("record: migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession registers a new session row and returns its generated ID.
func (s *Store) CreateSession(startedAtNanos int64, refW, refH int, notes string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, started_at, reference_w, reference_h, notes) VALUES (?, ?, ?, ?, ?)`,
		id, startedAtNanos, refW, refH, notes,
	)
	if err != nil {
		return "", fmt.Errorf("record: create session: %w", err)
	}
	return id, nil
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(`
		SELECT s.session_id, s.started_at, s.reference_w, s.reference_h, s.notes,
		       COUNT(e.seq)
		FROM sessions s
		LEFT JOIN gaze_entries e ON e.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		if err := rows.Scan(&si.ID, &si.StartedAt, &si.ReferenceW, &si.ReferenceH, &si.Notes, &si.Entries); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// Writer returns a Sink writing entries under the given session.
func (s *Store) Writer(sessionID string) *SessionWriter {
	return &SessionWriter{store: s, sessionID: sessionID}
}

// SessionWriter binds a Store to one session ID so it satisfies Sink.
type SessionWriter struct {
	store     *Store
	sessionID string
}

// WriteEntries inserts a batch transactionally.
func (w *SessionWriter) WriteEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := w.store.db.Begin()
	if err != nil {
		return fmt.Errorf("record: begin batch: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO gaze_entries (
			session_id, seq, ts_nanos, capture_nanos, raw_x, raw_y, raw_valid,
			score_left, score_right, clock_confident, mapped,
			ref_x, ref_y, confidence, stale, source_frame_seq, aoi
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("record: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var refX, refY, confidence sql.NullFloat64
		var stale sql.NullBool
		var frameSeq sql.NullInt64
		mapped := e.Mapped != nil && e.Mapped.Valid
		if e.Mapped != nil {
			refX = sql.NullFloat64{Float64: e.Mapped.RefX, Valid: e.Mapped.Valid}
			refY = sql.NullFloat64{Float64: e.Mapped.RefY, Valid: e.Mapped.Valid}
			confidence = sql.NullFloat64{Float64: e.Mapped.Confidence, Valid: true}
			stale = sql.NullBool{Bool: e.Mapped.Stale, Valid: true}
			frameSeq = sql.NullInt64{Int64: int64(e.Mapped.SourceFrameSeq), Valid: e.Mapped.Valid}
		}
		_, err := stmt.Exec(
			w.sessionID, e.Seq, e.Nanos, e.Raw.CaptureNanos, e.Raw.X, e.Raw.Y, e.Raw.Valid,
			e.Raw.ScoreLeft, e.Raw.ScoreRight, e.Raw.ClockConfident, mapped,
			refX, refY, confidence, stale, frameSeq, e.AOI,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record: insert entry %d: %w", e.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record: commit batch: %w", err)
	}
	return nil
}

// ReadEntries returns a session's log in sequence order.
func (s *Store) ReadEntries(sessionID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT seq, ts_nanos, capture_nanos, raw_x, raw_y, raw_valid,
		       score_left, score_right, clock_confident, mapped,
		       ref_x, ref_y, confidence, stale, source_frame_seq, aoi
		FROM gaze_entries WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var mapped bool
		var refX, refY, confidence sql.NullFloat64
		var stale sql.NullBool
		var frameSeq sql.NullInt64
		err := rows.Scan(
			&e.Seq, &e.Nanos, &e.Raw.CaptureNanos, &e.Raw.X, &e.Raw.Y, &e.Raw.Valid,
			&e.Raw.ScoreLeft, &e.Raw.ScoreRight, &e.Raw.ClockConfident, &mapped,
			&refX, &refY, &confidence, &stale, &frameSeq, &e.AOI,
		)
		if err != nil {
			return nil, err
		}
		e.Raw.Nanos = e.Nanos
		if confidence.Valid {
			m := &gaze.MappedSample{
				Nanos:      e.Nanos,
				Confidence: confidence.Float64,
				Valid:      mapped,
				Raw:        e.Raw,
			}
			if refX.Valid {
				m.RefX = refX.Float64
				m.RefY = refY.Float64
			}
			if stale.Valid {
				m.Stale = stale.Bool
			}
			if frameSeq.Valid {
				m.SourceFrameSeq = uint64(frameSeq.Int64)
			}
			e.Mapped = m
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
