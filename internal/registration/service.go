package registration

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/confcode"
	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/repo"
)

const (
	// ProfanityRetries is how many codes GenerateSafe may draw per attempt
	ProfanityRetries = 10
	// ConflictRetries is how many times a colliding code is regenerated
	ConflictRetries = 5
)

var (
	ErrNotFound     = errors.New("registration not found")
	ErrInvalidState = errors.New("registration is not pending")
	// ErrCodeSpaceExhausted is returned when every regenerated code collided
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique confirmation code")
)

// Confirmation is returned once per confirmed registration. EpassToken is the
// only copy of the raw token; the server keeps its digest.
type Confirmation struct {
	Registration     model.Registration
	ConfirmationCode string
	EpassToken       string
}

// Service manages the registration states check-in depends on
type Service struct {
	registrations repo.RegistrationRepo
	tokens        *auth.TokenService
	codes         *confcode.Generator
}

// NewService creates a registration service
func NewService(registrations repo.RegistrationRepo, tokens *auth.TokenService, codes *confcode.Generator) *Service {
	return &Service{
		registrations: registrations,
		tokens:        tokens,
		codes:         codes,
	}
}

// Confirm moves a pending registration to CONFIRMED, assigning a confirmation
// code and issuing its e-pass token. The store's unique constraints arbitrate
// code collisions; on conflict a fresh code and token are drawn.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (Confirmation, error) {
	for attempt := 0; attempt <= ConflictRetries; attempt++ {
		code, err := s.codes.GenerateSafe(ProfanityRetries)
		if err != nil {
			return Confirmation{}, fmt.Errorf("generate confirmation code: %w", err)
		}
		token, digest, err := s.tokens.Issue()
		if err != nil {
			return Confirmation{}, fmt.Errorf("issue epass token: %w", err)
		}

		reg, _, err := s.registrations.Confirm(ctx, id, code, digest)
		switch {
		case err == nil:
			log.Printf("registration %s confirmed (code attempts=%d)", id, attempt+1)
			return Confirmation{Registration: reg, ConfirmationCode: code, EpassToken: token}, nil
		case errors.Is(err, repo.ErrConflict):
			log.Printf("registration %s: confirmation code collision, regenerating", id)
			continue
		case errors.Is(err, repo.ErrNotFound):
			return Confirmation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		case errors.Is(err, repo.ErrInvalidState):
			return Confirmation{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
		default:
			return Confirmation{}, fmt.Errorf("confirm registration: %w", err)
		}
	}
	return Confirmation{}, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, ConflictRetries+1)
}

// Cancel marks the registration CANCELLED; its tokens stop verifying but are kept
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (model.Registration, error) {
	reg, err := s.registrations.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Registration{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Registration{}, fmt.Errorf("cancel registration: %w", err)
	}
	log.Printf("registration %s cancelled", id)
	return reg, nil
}

// LookupByCode finds a registration by a confirmation code as typed by a person,
// tolerating case, separators and full-width characters
func (s *Service) LookupByCode(ctx context.Context, typed string) (model.Registration, error) {
	code := confcode.Normalize(typed)
	if !confcode.Valid(code) {
		return model.Registration{}, ErrNotFound
	}
	reg, err := s.registrations.GetByConfirmationCode(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Registration{}, ErrNotFound
		}
		return model.Registration{}, fmt.Errorf("lookup registration: %w", err)
	}
	return reg, nil
}
