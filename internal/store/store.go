// Package store keeps a sqlite journal of the runs the dispatchers have seen
// and the thumbnails exported for them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nsls2/ariadne/internal/bluesky"
	"github.com/nsls2/ariadne/internal/monitoring"
)

// ErrNotFound is returned when a run has not been recorded.
var ErrNotFound = errors.New("store: not found")

var logf = monitoring.Prefixed("store")

type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the journal at path and applies any
// pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	logf("opened %s", path)
	return s, nil
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	UID        string   `json:"uid"`
	View       string   `json:"view"`
	Source     string   `json:"source,omitempty"`
	PlanName   string   `json:"plan_name"`
	ScanID     *int64   `json:"scan_id,omitempty"`
	Element    string   `json:"element,omitempty"`
	StartTime  float64  `json:"start_time"`
	StopTime   *float64 `json:"stop_time,omitempty"`
	ExitStatus string   `json:"exit_status,omitempty"`
}

// Closed reports whether a stop document has been recorded for the run.
func (r RunRecord) Closed() bool { return r.StopTime != nil }

// NewRunRecord extracts the journal fields from a run's start document.
func NewRunRecord(run *bluesky.Run, view, source string) RunRecord {
	rec := RunRecord{
		UID:      run.UID(),
		View:     view,
		Source:   source,
		PlanName: run.PlanName(),
		Element:  run.ElementSymbol(),
	}
	if id, ok := run.ScanID(); ok {
		n := int64(id)
		rec.ScanID = &n
	}
	if t, ok := run.Metadata().Start.Float("time"); ok {
		rec.StartTime = t
	}
	return rec
}

// RecordRunStart inserts a run, replacing the start fields of an existing
// row with the same uid.
func (s *Store) RecordRunStart(ctx context.Context, rec RunRecord) error {
	if rec.UID == "" {
		return fmt.Errorf("record run start: empty uid")
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO runs (uid, view, source, plan_name, scan_id, element, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			view = excluded.view,
			source = excluded.source,
			plan_name = excluded.plan_name,
			scan_id = excluded.scan_id,
			element = excluded.element,
			start_time = excluded.start_time`,
		rec.UID, rec.View, rec.Source, rec.PlanName, rec.ScanID, rec.Element, rec.StartTime,
	)
	if err != nil {
		return fmt.Errorf("record run start %s: %w", rec.UID, err)
	}
	return nil
}

// RecordRunStop marks a recorded run as finished.
func (s *Store) RecordRunStop(ctx context.Context, uid string, stopTime float64, exitStatus string) error {
	res, err := s.ExecContext(ctx,
		`UPDATE runs SET stop_time = ?, exit_status = ? WHERE uid = ?`,
		stopTime, exitStatus, uid,
	)
	if err != nil {
		return fmt.Errorf("record run stop %s: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record run stop %s: %w", uid, ErrNotFound)
	}
	return nil
}

const runColumns = `uid, view, source, plan_name, scan_id, element, start_time, stop_time, exit_status`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var (
		rec    RunRecord
		scanID sql.NullInt64
		start  sql.NullFloat64
		stop   sql.NullFloat64
	)
	if err := row.Scan(&rec.UID, &rec.View, &rec.Source, &rec.PlanName, &scanID,
		&rec.Element, &start, &stop, &rec.ExitStatus); err != nil {
		return RunRecord{}, err
	}
	if scanID.Valid {
		rec.ScanID = &scanID.Int64
	}
	rec.StartTime = start.Float64
	if stop.Valid {
		rec.StopTime = &stop.Float64
	}
	return rec, nil
}

// Run returns the recorded run with the given uid.
func (s *Store) Run(ctx context.Context, uid string) (RunRecord, error) {
	row := s.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE uid = ?`, uid)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", uid, ErrNotFound)
	}
	return rec, err
}

// RecentRuns returns up to limit runs, newest start first. view filters by
// view when non-empty.
func (s *Store) RecentRuns(ctx context.Context, view string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE (? = '' OR view = ?)
		ORDER BY start_time DESC, recorded_at DESC
		LIMIT ?`, view, view, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Thumbnail is an exported PNG of one figure for one run.
type Thumbnail struct {
	RunUID      string    `json:"run_uid"`
	FigureTitle string    `json:"figure_title"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordThumbnail stores (or replaces) the thumbnail of a figure for a run.
func (s *Store) RecordThumbnail(ctx context.Context, runUID, figureTitle, path string) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO thumbnails (run_uid, figure_title, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_uid, figure_title) DO UPDATE SET
			path = excluded.path,
			created_at = excluded.created_at`,
		runUID, figureTitle, path, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record thumbnail %s/%s: %w", runUID, figureTitle, err)
	}
	return nil
}

// Thumbnails lists the thumbnails of a run ordered by figure title.
func (s *Store) Thumbnails(ctx context.Context, runUID string) ([]Thumbnail, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT run_uid, figure_title, path, created_at
		FROM thumbnails WHERE run_uid = ? ORDER BY figure_title`, runUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Thumbnail
	for rows.Next() {
		var t Thumbnail
		if err := rows.Scan(&t.RunUID, &t.FigureTitle, &t.Path, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
