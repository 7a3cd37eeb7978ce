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

// EventRepo defines the interface for event and session repository operations
type EventRepo interface {
	Create(ctx context.Context, name string) (model.Event, error)
	CreateSession(ctx context.Context, eventID uuid.UUID, start, end time.Time) (model.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (model.Session, error)
	SetSessionActive(ctx context.Context, id uuid.UUID, active bool) error
}

type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new EventRepo instance
func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

// Create inserts an event
func (r *eventRepo) Create(ctx context.Context, name string) (model.Event, error) {
	e := model.Event{Name: name}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO events (name) VALUES ($1) RETURNING id
	`, name).Scan(&e.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return e, nil
}

// CreateSession inserts an active session; its date is the UTC date of start
func (r *eventRepo) CreateSession(ctx context.Context, eventID uuid.UUID, start, end time.Time) (model.Session, error) {
	start, end = start.UTC(), end.UTC()
	s := model.Session{
		EventID:   eventID,
		Date:      time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   end,
		Active:    true,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (event_id, date, start_time, end_time, active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id
	`, eventID, s.Date, start, end).Scan(&s.ID)
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return s, nil
}

// GetSession retrieves a session by ID
func (r *eventRepo) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, date, start_time, end_time, active
		FROM sessions
		WHERE id = $1
	`, id).Scan(
		&s.ID,
		&s.EventID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	s.Date, s.StartTime, s.EndTime = s.Date.UTC(), s.StartTime.UTC(), s.EndTime.UTC()
	return s, nil
}

// SetSessionActive toggles whether a session accepts check-ins
func (r *eventRepo) SetSessionActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
