package station

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// ScanStatus is the replay state of a queued scan
type ScanStatus string

const (
	StatusPending  ScanStatus = "pending"
	StatusSynced   ScanStatus = "synced"
	StatusRejected ScanStatus = "rejected"
)

// Scan is one locally captured scan awaiting (or done with) replay.
type Scan struct {
	ID          int64
	Token       string
	CheckinType model.CheckinType
	SessionID   *uuid.UUID
	CapturedAt  time.Time
	Status      ScanStatus
	Outcome     checkin.Outcome
	Attempts    int
	LastError   string
}

// QueueStats summarizes the queue for the status command.
type QueueStats struct {
	Pending       int        `json:"pending"`
	Synced        int        `json:"synced"`
	Rejected      int        `json:"rejected"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// Queue is the station's durable offline store. Besides queued scans it keeps
// the per-event delta cursor and a cached copy of the attendance list.
//
// Backed by SQLite in WAL mode. A single connection serializes writers, so
// the queue is safe for concurrent use by one process.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// OpenQueue creates or opens the queue database at path and applies the schema.
// Use ":memory:" in tests.
func OpenQueue(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("open queue: %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("open queue: apply schema: %w", err)
	}

	return &Queue{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullableUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Enqueue stores a scan as pending and returns its queue id.
func (q *Queue) Enqueue(ctx context.Context, s Scan) (int64, error) {
	if s.Token == "" {
		return 0, fmt.Errorf("enqueue: empty token")
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = q.now()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO scans (token, checkin_type, session_id, captured_at_us)
		VALUES (?, ?, ?, ?)
	`, s.Token, string(s.CheckinType), nullableUUID(s.SessionID), toMicros(s.CapturedAt))
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue: last insert id: %w", err)
	}
	return id, nil
}

// Pending returns pending scans in capture order. limit <= 0 means all.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, token, checkin_type, session_id, captured_at_us, status, outcome, attempts, last_error
		FROM scans
		WHERE status = 'pending'
		ORDER BY captured_at_us, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending scans: %w", err)
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		var s Scan
		var checkinType, status string
		var sessionID, outcome, lastError sql.NullString
		var capturedAt int64
		if err := rows.Scan(&s.ID, &s.Token, &checkinType, &sessionID, &capturedAt, &status, &outcome, &s.Attempts, &lastError); err != nil {
			return nil, fmt.Errorf("pending scans: scan: %w", err)
		}
		s.SessionID, err = parseNullableUUID(sessionID)
		if err != nil {
			return nil, fmt.Errorf("pending scans: scan %d session id: %w", s.ID, err)
		}
		s.CheckinType = model.CheckinType(checkinType)
		s.CapturedAt = fromMicros(capturedAt)
		s.Status = ScanStatus(status)
		s.Outcome = checkin.Outcome(outcome.String)
		s.LastError = lastError.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending scans: %w", err)
	}
	return out, nil
}

func (q *Queue) resolve(ctx context.Context, id int64, status ScanStatus, outcome checkin.Outcome) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE scans
		SET status = ?, outcome = ?, attempts = attempts + 1, resolved_at_us = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), string(outcome), toMicros(q.now()), id)
	if err != nil {
		return fmt.Errorf("mark scan %d %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark scan %d %s: no pending scan with that id", id, status)
	}
	return nil
}

// MarkSynced records that the server accepted the scan (checked in, or
// already checked in).
func (q *Queue) MarkSynced(ctx context.Context, id int64, outcome checkin.Outcome) error {
	return q.resolve(ctx, id, StatusSynced, outcome)
}

// MarkRejected records a permanent rejection. The row is kept for audit.
func (q *Queue) MarkRejected(ctx context.Context, id int64, outcome checkin.Outcome) error {
	return q.resolve(ctx, id, StatusRejected, outcome)
}

// RecordAttempt notes a failed replay; the scan stays pending.
func (q *Queue) RecordAttempt(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE scans SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, msg, id)
	if err != nil {
		return fmt.Errorf("record attempt for scan %d: %w", id, err)
	}
	return nil
}

// Stats counts scans by status.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scans GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("queue stats: %w", err)
		}
		switch ScanStatus(status) {
		case StatusPending:
			st.Pending = n
		case StatusSynced:
			st.Synced = n
		case StatusRejected:
			st.Rejected = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}

	var oldest sql.NullInt64
	if err := q.db.QueryRowContext(ctx, `
		SELECT MIN(captured_at_us) FROM scans WHERE status = 'pending'
	`).Scan(&oldest); err != nil {
		return st, fmt.Errorf("queue stats: oldest pending: %w", err)
	}
	if oldest.Valid {
		t := fromMicros(oldest.Int64)
		st.OldestPending = &t
	}
	return st, nil
}

// Cursor returns the server_time of the last completed pull for the event,
// or nil if the event was never pulled.
func (q *Queue) Cursor(ctx context.Context, eventID uuid.UUID) (*time.Time, error) {
	var us int64
	err := q.db.QueryRowContext(ctx, `
		SELECT server_time_us FROM cursors WHERE event_id = ?
	`, eventID.String()).Scan(&us)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	t := fromMicros(us)
	return &t, nil
}

// SetCursor stores the event's cursor. A cursor never moves backwards.
func (q *Queue) SetCursor(ctx context.Context, eventID uuid.UUID, serverTime time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cursors (event_id, server_time_us) VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET server_time_us = MAX(server_time_us, excluded.server_time_us)
	`, eventID.String(), toMicros(serverTime))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// StoreCheckins caches check-ins from a delta pull. Records already cached
// (by id) are skipped, so overlapping pulls are harmless. Returns how many
// new rows were stored.
func (q *Queue) StoreCheckins(ctx context.Context, checkins []model.Checkin) (int, error) {
	if len(checkins) == 0 {
		return 0, nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store checkins: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO checkins (id, person_id, event_id, session_id, checkin_type, source, checked_in_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("store checkins: prepare: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, c := range checkins {
		res, err := stmt.ExecContext(ctx,
			c.ID.String(),
			c.PersonID.String(),
			c.EventID.String(),
			nullableUUID(c.SessionID),
			string(c.CheckinType),
			string(c.Source),
			toMicros(c.CheckedInAt),
		)
		if err != nil {
			return 0, fmt.Errorf("store checkins: insert %s: %w", c.ID, err)
		}
		n, _ := res.RowsAffected()
		stored += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store checkins: commit: %w", err)
	}
	return stored, nil
}

// CountCached returns how many check-ins of the event are cached locally.
func (q *Queue) CountCached(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM checkins WHERE event_id = ?
	`, eventID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cached checkins: %w", err)
	}
	return n, nil
}
