package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/epass/server/internal/model"
)

// RegistrationRepo defines the interface for registration repository operations
type RegistrationRepo interface {
	Create(ctx context.Context, personID, eventID uuid.UUID) (model.Registration, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Registration, error)
	GetByConfirmationCode(ctx context.Context, code string) (model.Registration, error)
	Confirm(ctx context.Context, id uuid.UUID, code, tokenDigest string) (model.Registration, model.EpassToken, error)
	Cancel(ctx context.Context, id uuid.UUID) (model.Registration, error)
}

type registrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo creates a new RegistrationRepo instance
func NewRegistrationRepo(db *sql.DB) RegistrationRepo {
	return &registrationRepo{db: db}
}

const registrationColumns = `id, person_id, event_id, status, confirmation_code, created_at`

func scanRegistration(row rowScanner) (model.Registration, error) {
	var reg model.Registration
	var status string
	var code sql.NullString
	if err := row.Scan(&reg.ID, &reg.PersonID, &reg.EventID, &status, &code, &reg.CreatedAt); err != nil {
		return model.Registration{}, err
	}
	reg.Status = model.RegistrationStatus(status)
	if code.Valid {
		reg.ConfirmationCode = &code.String
	}
	reg.CreatedAt = reg.CreatedAt.UTC()
	return reg, nil
}

// Create inserts a PENDING registration
func (r *registrationRepo) Create(ctx context.Context, personID, eventID uuid.UUID) (model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, `
		INSERT INTO registrations (person_id, event_id)
		VALUES ($1, $2)
		RETURNING `+registrationColumns,
		personID, eventID))
	if err != nil {
		return model.Registration{}, fmt.Errorf("insert registration: %w", err)
	}
	return reg, nil
}

// GetByID retrieves a registration by ID
func (r *registrationRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Registration{}, fmt.Errorf("registration %s: %w", id, ErrNotFound)
		}
		return model.Registration{}, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

// GetByConfirmationCode looks up a registration by its normalized code
func (r *registrationRepo) GetByConfirmationCode(ctx context.Context, code string) (model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE confirmation_code = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Registration{}, fmt.Errorf("registration by code: %w", ErrNotFound)
		}
		return model.Registration{}, fmt.Errorf("find registration by code: %w", err)
	}
	return reg, nil
}

// Confirm moves a PENDING registration to CONFIRMED, assigns its code and stores
// the e-pass token digest, all in one transaction. A code or digest collision
// yields ErrConflict so the caller can regenerate and retry.
func (r *registrationRepo) Confirm(ctx context.Context, id uuid.UUID, code, tokenDigest string) (model.Registration, model.EpassToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Registration{}, model.EpassToken{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	reg, err := scanRegistration(tx.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'CONFIRMED', confirmation_code = $2
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+registrationColumns,
		id, code))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Registration{}, model.EpassToken{}, fmt.Errorf("confirmation code: %w", ErrConflict)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return model.Registration{}, model.EpassToken{}, r.explainMissing(ctx, tx, id)
		}
		return model.Registration{}, model.EpassToken{}, fmt.Errorf("confirm registration: %w", err)
	}

	token, err := insertEpassToken(ctx, tx, reg.PersonID, reg.ID, tokenDigest)
	if err != nil {
		return model.Registration{}, model.EpassToken{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Registration{}, model.EpassToken{}, fmt.Errorf("commit: %w", err)
	}
	return reg, token, nil
}

// Cancel marks the registration CANCELLED and deactivates its tokens.
// Cancelling twice is not an error.
func (r *registrationRepo) Cancel(ctx context.Context, id uuid.UUID) (model.Registration, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Registration{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	reg, err := scanRegistration(tx.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = 'CANCELLED'
		WHERE id = $1
		RETURNING `+registrationColumns,
		id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Registration{}, fmt.Errorf("registration %s: %w", id, ErrNotFound)
		}
		return model.Registration{}, fmt.Errorf("cancel registration: %w", err)
	}

	if _, err := deactivateTokens(ctx, tx, id); err != nil {
		return model.Registration{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Registration{}, fmt.Errorf("commit: %w", err)
	}
	return reg, nil
}

func (r *registrationRepo) explainMissing(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM registrations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("registration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("find registration: %w", err)
	}
	return fmt.Errorf("registration %s is %s: %w", id, status, ErrInvalidState)
}
