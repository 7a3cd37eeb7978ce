package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/epass/server/internal/model"
)

// PersonRepo defines the interface for person repository operations.
// Persons are owned by the registration subsystem; check-in only reads them.
type PersonRepo interface {
	Create(ctx context.Context, displayName string, localizedName *string) (model.Person, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Person, error)
}

type personRepo struct {
	db *sql.DB
}

// NewPersonRepo creates a new PersonRepo instance
func NewPersonRepo(db *sql.DB) PersonRepo {
	return &personRepo{db: db}
}

// Create inserts a person
func (r *personRepo) Create(ctx context.Context, displayName string, localizedName *string) (model.Person, error) {
	p := model.Person{DisplayName: displayName, LocalizedName: localizedName}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO persons (display_name, localized_name)
		VALUES ($1, $2)
		RETURNING id
	`, displayName, localizedName).Scan(&p.ID)
	if err != nil {
		return model.Person{}, fmt.Errorf("failed to insert person: %w", err)
	}
	return p, nil
}

// GetByID retrieves a person by ID
func (r *personRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Person, error) {
	query := `
		SELECT id, display_name, localized_name
		FROM persons
		WHERE id = $1
	`
	var p model.Person
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.LocalizedName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Person{}, fmt.Errorf("person %s: %w", id, ErrNotFound)
		}
		return model.Person{}, fmt.Errorf("failed to query person: %w", err)
	}
	return p, nil
}
