package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/repo"
)

// MemStore is an in-memory implementation of every repository, for service
// and handler tests. Uniqueness rules mirror the PostgreSQL schema.
type MemStore struct {
	mu            sync.Mutex
	persons       map[uuid.UUID]model.Person
	events        map[uuid.UUID]model.Event
	sessions      map[uuid.UUID]model.Session
	registrations map[uuid.UUID]model.Registration
	tokens        map[uuid.UUID]model.EpassToken
	checkins      []model.Checkin
	failWith      error
	// codeTaken forces the next N Confirm calls to report a code conflict
	codeTaken int
}

// NewMemStore returns an empty store
func NewMemStore() *MemStore {
	return &MemStore{
		persons:       make(map[uuid.UUID]model.Person),
		events:        make(map[uuid.UUID]model.Event),
		sessions:      make(map[uuid.UUID]model.Session),
		registrations: make(map[uuid.UUID]model.Registration),
		tokens:        make(map[uuid.UUID]model.EpassToken),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *MemStore) Repositories() *repo.Repositories {
	return &repo.Repositories{
		Persons:       memPersons{s},
		Events:        memEvents{s},
		Registrations: memRegistrations{s},
		Epass:         memEpass{s},
		Checkins:      memCheckins{s},
	}
}

// FailWith makes every subsequent call return err; nil restores normal behavior
func (s *MemStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// ConflictNextCodes makes the next n confirmations fail with repo.ErrConflict
func (s *MemStore) ConflictNextCodes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeTaken = n
}

// Checkins returns a copy of every stored check-in
func (s *MemStore) Checkins() []model.Checkin {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Checkin, len(s.checkins))
	copy(out, s.checkins)
	return out
}

// Tokens returns a copy of every stored token row
func (s *MemStore) Tokens() []model.EpassToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EpassToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out
}

func (s *MemStore) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.failWith != nil {
		err := s.failWith
		s.mu.Unlock()
		return err
	}
	return nil
}

type memPersons struct{ s *MemStore }

func (m memPersons) Create(ctx context.Context, displayName string, localizedName *string) (model.Person, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Person{}, err
	}
	defer m.s.mu.Unlock()
	p := model.Person{ID: uuid.New(), DisplayName: displayName, LocalizedName: localizedName}
	m.s.persons[p.ID] = p
	return p, nil
}

func (m memPersons) GetByID(ctx context.Context, id uuid.UUID) (model.Person, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Person{}, err
	}
	defer m.s.mu.Unlock()
	p, ok := m.s.persons[id]
	if !ok {
		return model.Person{}, fmt.Errorf("person %s: %w", id, repo.ErrNotFound)
	}
	return p, nil
}

type memEvents struct{ s *MemStore }

func (m memEvents) Create(ctx context.Context, name string) (model.Event, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Event{}, err
	}
	defer m.s.mu.Unlock()
	e := model.Event{ID: uuid.New(), Name: name}
	m.s.events[e.ID] = e
	return e, nil
}

func (m memEvents) CreateSession(ctx context.Context, eventID uuid.UUID, start, end time.Time) (model.Session, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Session{}, err
	}
	defer m.s.mu.Unlock()
	if _, ok := m.s.events[eventID]; !ok {
		return model.Session{}, fmt.Errorf("event %s: %w", eventID, repo.ErrNotFound)
	}
	start, end = start.UTC(), end.UTC()
	sess := model.Session{
		ID:        uuid.New(),
		EventID:   eventID,
		Date:      time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime: start,
		EndTime:   end,
		Active:    true,
	}
	m.s.sessions[sess.ID] = sess
	return sess, nil
}

func (m memEvents) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Session{}, err
	}
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("session %s: %w", id, repo.ErrNotFound)
	}
	return sess, nil
}

func (m memEvents) SetSessionActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := m.s.lock(ctx); err != nil {
		return err
	}
	defer m.s.mu.Unlock()
	sess, ok := m.s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, repo.ErrNotFound)
	}
	sess.Active = active
	m.s.sessions[id] = sess
	return nil
}

type memRegistrations struct{ s *MemStore }

func (m memRegistrations) Create(ctx context.Context, personID, eventID uuid.UUID) (model.Registration, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Registration{}, err
	}
	defer m.s.mu.Unlock()
	reg := model.Registration{
		ID:        uuid.New(),
		PersonID:  personID,
		EventID:   eventID,
		Status:    model.RegistrationPending,
		CreatedAt: time.Now().UTC(),
	}
	m.s.registrations[reg.ID] = reg
	return reg, nil
}

func (m memRegistrations) GetByID(ctx context.Context, id uuid.UUID) (model.Registration, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Registration{}, err
	}
	defer m.s.mu.Unlock()
	reg, ok := m.s.registrations[id]
	if !ok {
		return model.Registration{}, fmt.Errorf("registration %s: %w", id, repo.ErrNotFound)
	}
	return reg, nil
}

func (m memRegistrations) GetByConfirmationCode(ctx context.Context, code string) (model.Registration, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Registration{}, err
	}
	defer m.s.mu.Unlock()
	for _, reg := range m.s.registrations {
		if reg.ConfirmationCode != nil && *reg.ConfirmationCode == code {
			return reg, nil
		}
	}
	return model.Registration{}, fmt.Errorf("registration by code: %w", repo.ErrNotFound)
}

func (m memRegistrations) Confirm(ctx context.Context, id uuid.UUID, code, tokenDigest string) (model.Registration, model.EpassToken, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Registration{}, model.EpassToken{}, err
	}
	defer m.s.mu.Unlock()

	reg, ok := m.s.registrations[id]
	if !ok {
		return model.Registration{}, model.EpassToken{}, fmt.Errorf("registration %s: %w", id, repo.ErrNotFound)
	}
	if reg.Status != model.RegistrationPending {
		return model.Registration{}, model.EpassToken{}, fmt.Errorf("registration %s is %s: %w", id, reg.Status, repo.ErrInvalidState)
	}
	if m.s.codeTaken > 0 {
		m.s.codeTaken--
		return model.Registration{}, model.EpassToken{}, fmt.Errorf("confirmation code: %w", repo.ErrConflict)
	}
	for _, other := range m.s.registrations {
		if other.ConfirmationCode != nil && *other.ConfirmationCode == code {
			return model.Registration{}, model.EpassToken{}, fmt.Errorf("confirmation code: %w", repo.ErrConflict)
		}
	}
	for _, t := range m.s.tokens {
		if t.TokenDigest == tokenDigest {
			return model.Registration{}, model.EpassToken{}, fmt.Errorf("epass token digest: %w", repo.ErrConflict)
		}
	}

	reg.Status = model.RegistrationConfirmed
	reg.ConfirmationCode = &code
	m.s.registrations[id] = reg

	tok := model.EpassToken{
		ID:             uuid.New(),
		PersonID:       reg.PersonID,
		RegistrationID: reg.ID,
		TokenDigest:    tokenDigest,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	m.s.tokens[tok.ID] = tok
	return reg, tok, nil
}

func (m memRegistrations) Cancel(ctx context.Context, id uuid.UUID) (model.Registration, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Registration{}, err
	}
	defer m.s.mu.Unlock()
	reg, ok := m.s.registrations[id]
	if !ok {
		return model.Registration{}, fmt.Errorf("registration %s: %w", id, repo.ErrNotFound)
	}
	reg.Status = model.RegistrationCancelled
	m.s.registrations[id] = reg
	for tid, t := range m.s.tokens {
		if t.RegistrationID == id {
			t.Active = false
			m.s.tokens[tid] = t
		}
	}
	return reg, nil
}

type memEpass struct{ s *MemStore }

func (m memEpass) Create(ctx context.Context, personID, registrationID uuid.UUID, digest string) (model.EpassToken, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.EpassToken{}, err
	}
	defer m.s.mu.Unlock()
	for _, t := range m.s.tokens {
		if t.TokenDigest == digest {
			return model.EpassToken{}, fmt.Errorf("epass token digest: %w", repo.ErrConflict)
		}
	}
	tok := model.EpassToken{
		ID:             uuid.New(),
		PersonID:       personID,
		RegistrationID: registrationID,
		TokenDigest:    digest,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
	m.s.tokens[tok.ID] = tok
	return tok, nil
}

func (m memEpass) GetByDigest(ctx context.Context, digest string) (model.EpassToken, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.EpassToken{}, err
	}
	defer m.s.mu.Unlock()
	for _, t := range m.s.tokens {
		if t.TokenDigest == digest {
			return t, nil
		}
	}
	return model.EpassToken{}, fmt.Errorf("epass token: %w", repo.ErrNotFound)
}

func (m memEpass) DeactivateForRegistration(ctx context.Context, registrationID uuid.UUID) (int64, error) {
	if err := m.s.lock(ctx); err != nil {
		return 0, err
	}
	defer m.s.mu.Unlock()
	var n int64
	for id, t := range m.s.tokens {
		if t.RegistrationID == registrationID && t.Active {
			t.Active = false
			m.s.tokens[id] = t
			n++
		}
	}
	return n, nil
}

type memCheckins struct{ s *MemStore }

func sameSession(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m memCheckins) InsertIfAbsent(ctx context.Context, c model.Checkin) (model.Checkin, bool, error) {
	if err := m.s.lock(ctx); err != nil {
		return model.Checkin{}, false, err
	}
	defer m.s.mu.Unlock()
	for _, existing := range m.s.checkins {
		if existing.PersonID == c.PersonID &&
			existing.EventID == c.EventID &&
			sameSession(existing.SessionID, c.SessionID) &&
			existing.CheckinType == c.CheckinType {
			return existing, false, nil
		}
	}
	c.ID = uuid.New()
	c.CheckedInAt = c.CheckedInAt.UTC()
	m.s.checkins = append(m.s.checkins, c)
	return c, true, nil
}

func (m memCheckins) ListByEvent(ctx context.Context, eventID uuid.UUID, since, before *time.Time, limit int) ([]model.Checkin, error) {
	if err := m.s.lock(ctx); err != nil {
		return nil, err
	}
	defer m.s.mu.Unlock()
	out := make([]model.Checkin, 0)
	for _, c := range m.s.checkins {
		if c.EventID != eventID {
			continue
		}
		if since != nil && !c.CheckedInAt.After(*since) {
			continue
		}
		if before != nil && !c.CheckedInAt.Before(*before) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckedInAt.Equal(out[j].CheckedInAt) {
			return out[i].CheckedInAt.After(out[j].CheckedInAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
