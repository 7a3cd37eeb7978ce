package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/epass/server/internal/model"
)

// CheckinRepo defines the interface for check-in repository operations
type CheckinRepo interface {
	InsertIfAbsent(ctx context.Context, c model.Checkin) (model.Checkin, bool, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, since, before *time.Time, limit int) ([]model.Checkin, error)
}

type checkinRepo struct {
	db *sql.DB
}

// NewCheckinRepo creates a new CheckinRepo instance
func NewCheckinRepo(db *sql.DB) CheckinRepo {
	return &checkinRepo{db: db}
}

const checkinColumns = `id, person_id, event_id, session_id, checkin_type, source, performed_by, checked_in_at, captured_at`

func scanCheckin(row rowScanner) (model.Checkin, error) {
	var c model.Checkin
	var sessionID uuid.NullUUID
	var checkinType, source string
	var capturedAt sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.PersonID,
		&c.EventID,
		&sessionID,
		&checkinType,
		&source,
		&c.PerformedBy,
		&c.CheckedInAt,
		&capturedAt,
	)
	if err != nil {
		return model.Checkin{}, err
	}
	if sessionID.Valid {
		id := sessionID.UUID
		c.SessionID = &id
	}
	c.CheckinType = model.CheckinType(checkinType)
	c.Source = model.CheckinSource(source)
	c.CheckedInAt = c.CheckedInAt.UTC()
	if capturedAt.Valid {
		t := capturedAt.Time.UTC()
		c.CapturedAt = &t
	}
	return c, nil
}

// InsertIfAbsent inserts the check-in unless one already exists for the same
// (person, event, session, type). It returns the stored row and whether this
// call created it. The unique index uq_checkins_once decides the race, so two
// concurrent callers can never both get inserted == true.
func (r *checkinRepo) InsertIfAbsent(ctx context.Context, c model.Checkin) (model.Checkin, bool, error) {
	// A concurrent insert that rolls back after we lost the conflict leaves
	// nothing to select; one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		stored, err := scanCheckin(r.db.QueryRowContext(ctx, `
			INSERT INTO checkins (person_id, event_id, session_id, checkin_type, source, performed_by, checked_in_at, captured_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT DO NOTHING
			RETURNING `+checkinColumns,
			c.PersonID, c.EventID, c.SessionID, string(c.CheckinType), string(c.Source),
			c.PerformedBy, c.CheckedInAt, c.CapturedAt))
		if err == nil {
			return stored, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Checkin{}, false, fmt.Errorf("insert checkin: %w", err)
		}

		existing, err := r.findExisting(ctx, c)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Checkin{}, false, err
		}
	}
	return model.Checkin{}, false, fmt.Errorf("insert checkin: conflicting row vanished")
}

func (r *checkinRepo) findExisting(ctx context.Context, c model.Checkin) (model.Checkin, error) {
	existing, err := scanCheckin(r.db.QueryRowContext(ctx, `
		SELECT `+checkinColumns+`
		FROM checkins
		WHERE person_id = $1
		  AND event_id = $2
		  AND COALESCE(session_id, '00000000-0000-0000-0000-000000000000'::uuid)
		      = COALESCE($3::uuid, '00000000-0000-0000-0000-000000000000'::uuid)
		  AND checkin_type = $4
	`, c.PersonID, c.EventID, c.SessionID, string(c.CheckinType)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Checkin{}, ErrNotFound
		}
		return model.Checkin{}, fmt.Errorf("find existing checkin: %w", err)
	}
	return existing, nil
}

// ListByEvent returns check-ins of an event newest first. since is exclusive
// and before is exclusive; either may be nil.
func (r *checkinRepo) ListByEvent(ctx context.Context, eventID uuid.UUID, since, before *time.Time, limit int) ([]model.Checkin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+checkinColumns+`
		FROM checkins
		WHERE event_id = $1
		  AND ($2::timestamptz IS NULL OR checked_in_at > $2)
		  AND ($3::timestamptz IS NULL OR checked_in_at < $3)
		ORDER BY checked_in_at DESC, id DESC
		LIMIT $4
	`, eventID, since, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkins: %w", err)
	}
	defer rows.Close()

	out := make([]model.Checkin, 0)
	for rows.Next() {
		c, err := scanCheckin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkin: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkins: %w", err)
	}
	return out, nil
}
