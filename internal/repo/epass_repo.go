package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/epass/server/internal/model"
)

// EpassRepo defines the interface for e-pass token repository operations
type EpassRepo interface {
	Create(ctx context.Context, personID, registrationID uuid.UUID, digest string) (model.EpassToken, error)
	GetByDigest(ctx context.Context, digest string) (model.EpassToken, error)
	DeactivateForRegistration(ctx context.Context, registrationID uuid.UUID) (int64, error)
}

type epassRepo struct {
	db *sql.DB
}

// NewEpassRepo creates a new EpassRepo instance
func NewEpassRepo(db *sql.DB) EpassRepo {
	return &epassRepo{db: db}
}

// Create stores the digest of a freshly issued token
func (r *epassRepo) Create(ctx context.Context, personID, registrationID uuid.UUID, digest string) (model.EpassToken, error) {
	return insertEpassToken(ctx, r.db, personID, registrationID, digest)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEpassToken(ctx context.Context, q queryRower, personID, registrationID uuid.UUID, digest string) (model.EpassToken, error) {
	t := model.EpassToken{
		PersonID:       personID,
		RegistrationID: registrationID,
		TokenDigest:    digest,
		Active:         true,
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO epass_tokens (person_id, registration_id, token_digest)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, personID, registrationID, digest).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.EpassToken{}, fmt.Errorf("epass token digest: %w", ErrConflict)
		}
		return model.EpassToken{}, fmt.Errorf("insert epass token: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// GetByDigest returns the token row whether or not it is still active
func (r *epassRepo) GetByDigest(ctx context.Context, digest string) (model.EpassToken, error) {
	var t model.EpassToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, person_id, registration_id, token_digest, active, created_at
		FROM epass_tokens
		WHERE token_digest = $1
	`, digest).Scan(
		&t.ID,
		&t.PersonID,
		&t.RegistrationID,
		&t.TokenDigest,
		&t.Active,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EpassToken{}, fmt.Errorf("epass token: %w", ErrNotFound)
		}
		return model.EpassToken{}, fmt.Errorf("find epass token: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// DeactivateForRegistration turns off every active token of a registration
func (r *epassRepo) DeactivateForRegistration(ctx context.Context, registrationID uuid.UUID) (int64, error) {
	return deactivateTokens(ctx, r.db, registrationID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// deactivateTokens runs on *sql.DB or inside a registration tx
func deactivateTokens(ctx context.Context, e execer, registrationID uuid.UUID) (int64, error) {
	result, err := e.ExecContext(ctx, `
		UPDATE epass_tokens SET active = false
		WHERE registration_id = $1 AND active
	`, registrationID)
	if err != nil {
		return 0, fmt.Errorf("deactivate epass tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
