package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/repo"
)

// MaxDeltaRecords caps a single delta response
const MaxDeltaRecords = 500

// DefaultTimeout bounds every store call made by the service
const DefaultTimeout = 5 * time.Second

var (
	// ErrTransient marks store or network failures the caller should retry
	ErrTransient = errors.New("transient failure")
	// ErrInvalidRequest marks a request the caller must fix before retrying
	ErrInvalidRequest = errors.New("invalid request")
)

// Outcome is the typed result of a check-in attempt
type Outcome string

const (
	OutcomeCheckedIn        Outcome = "checked_in"
	OutcomeAlreadyCheckedIn Outcome = "already_checked_in"
	OutcomeInvalidToken     Outcome = "invalid_token"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeTransientFailure Outcome = "transient_failure"
)

// Message is the text a scanning station shows for the outcome
func (o Outcome) Message() string {
	switch o {
	case OutcomeCheckedIn:
		return "Checked in"
	case OutcomeAlreadyCheckedIn:
		return "Already checked in"
	case OutcomeInvalidToken:
		return "Invalid pass, verify identity manually"
	case OutcomeNotFound:
		return "No active registration for this event or session"
	case OutcomeRateLimited:
		return "Too many scans, wait and retry"
	case OutcomeTransientFailure:
		return "Network problem, scan saved for retry"
	default:
		return string(o)
	}
}

// Terminal reports whether a queued scan with this outcome is finished
// (synced or permanently rejected) rather than awaiting retry
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeCheckedIn, OutcomeAlreadyCheckedIn, OutcomeInvalidToken, OutcomeNotFound:
		return true
	default:
		return false
	}
}

// Request is one scan presented for check-in
type Request struct {
	Token       string
	SessionID   *uuid.UUID
	CheckinType model.CheckinType
	StaffID     uuid.UUID
	Source      model.CheckinSource
	CapturedAt  *time.Time
}

// Result is the outcome of RecordCheckin. Checkin and Person are set for
// checked_in and already_checked_in only.
type Result struct {
	Outcome Outcome
	Checkin *model.Checkin
	Person  *model.Person
}

// DeltaQuery selects check-ins of one event in the open range (Since, Before)
type DeltaQuery struct {
	EventID uuid.UUID
	Since   *time.Time
	Before  *time.Time
}

// Delta is one page of check-ins, newest first
type Delta struct {
	Checkins   []model.Checkin
	ServerTime time.Time
	HasMore    bool
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source used for check-in timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTimeout overrides the per-call store timeout
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service records attendance and serves the delta sync feed
type Service struct {
	tokens  *auth.TokenService
	repos   *repo.Repositories
	now     func() time.Time
	timeout time.Duration
}

// NewService creates a check-in service
func NewService(tokens *auth.TokenService, repos *repo.Repositories, opts ...Option) *Service {
	s := &Service{
		tokens:  tokens,
		repos:   repos,
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// RecordCheckin verifies the token and records the check-in at most once per
// (person, event, session, type). Expected outcomes come back in Result; the
// error is non-nil only for ErrTransient and ErrInvalidRequest.
func (s *Service) RecordCheckin(ctx context.Context, req Request) (Result, error) {
	if _, err := model.ParseCheckinType(string(req.CheckinType)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.StaffID == uuid.Nil {
		return Result{}, fmt.Errorf("%w: staff id required", ErrInvalidRequest)
	}
	if req.Source == "" {
		req.Source = model.SourceOnline
	}

	if !auth.WellFormed(req.Token) {
		return Result{Outcome: OutcomeInvalidToken}, nil
	}

	tok, err := s.lookupToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{Outcome: OutcomeInvalidToken}, nil
		}
		return Result{}, transient("lookup token", err)
	}
	if !tok.Active || !s.tokens.Verify(req.Token, tok.TokenDigest) {
		return Result{Outcome: OutcomeInvalidToken}, nil
	}

	reg, person, err := s.resolveAttendee(ctx, tok, req.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{Outcome: OutcomeNotFound}, nil
		}
		return Result{}, transient("resolve attendee", err)
	}

	var capturedAt *time.Time
	if req.CapturedAt != nil {
		t := req.CapturedAt.UTC().Truncate(time.Microsecond)
		capturedAt = &t
	}

	insertCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	stored, inserted, err := s.repos.Checkins.InsertIfAbsent(insertCtx, model.Checkin{
		PersonID:    person.ID,
		EventID:     reg.EventID,
		SessionID:   req.SessionID,
		CheckinType: req.CheckinType,
		Source:      req.Source,
		PerformedBy: req.StaffID,
		CheckedInAt: s.timestamp(),
		CapturedAt:  capturedAt,
	})
	if err != nil {
		return Result{}, transient("insert checkin", err)
	}

	if !inserted {
		return Result{Outcome: OutcomeAlreadyCheckedIn, Checkin: &stored, Person: &person}, nil
	}
	log.Printf("checkin: person=%s event=%s type=%s source=%s staff=%s", person.ID, reg.EventID, stored.CheckinType, stored.Source, req.StaffID)
	return Result{Outcome: OutcomeCheckedIn, Checkin: &stored, Person: &person}, nil
}

func (s *Service) lookupToken(ctx context.Context, token string) (model.EpassToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repos.Epass.GetByDigest(ctx, s.tokens.Digest(token))
}

// resolveAttendee returns repo.ErrNotFound when the registration is not
// active, the person is gone, or the session does not admit check-ins
func (s *Service) resolveAttendee(ctx context.Context, tok model.EpassToken, sessionID *uuid.UUID) (model.Registration, model.Person, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reg, err := s.repos.Registrations.GetByID(ctx, tok.RegistrationID)
	if err != nil {
		return model.Registration{}, model.Person{}, err
	}
	if !reg.Active() || reg.PersonID != tok.PersonID {
		return model.Registration{}, model.Person{}, repo.ErrNotFound
	}

	person, err := s.repos.Persons.GetByID(ctx, reg.PersonID)
	if err != nil {
		return model.Registration{}, model.Person{}, err
	}

	if sessionID != nil {
		session, err := s.repos.Events.GetSession(ctx, *sessionID)
		if err != nil {
			return model.Registration{}, model.Person{}, err
		}
		if !session.Active || session.EventID != reg.EventID {
			return model.Registration{}, model.Person{}, repo.ErrNotFound
		}
	}
	return reg, person, nil
}

// GetDelta returns up to MaxDeltaRecords check-ins newer than Since, newest
// first. ServerTime is read before the query; a check-in stamped just before it
// may commit after the query, so stations re-read a short overlap window.
func (s *Service) GetDelta(ctx context.Context, q DeltaQuery) (Delta, error) {
	if q.EventID == uuid.Nil {
		return Delta{}, fmt.Errorf("%w: event id required", ErrInvalidRequest)
	}
	if q.Since != nil && q.Before != nil && !q.Since.Before(*q.Before) {
		return Delta{}, fmt.Errorf("%w: since must precede before", ErrInvalidRequest)
	}

	serverTime := s.timestamp()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	// One extra row tells us whether the cap cut the result short.
	rows, err := s.repos.Checkins.ListByEvent(ctx, q.EventID, q.Since, q.Before, MaxDeltaRecords+1)
	if err != nil {
		return Delta{}, transient("list checkins", err)
	}

	hasMore := len(rows) > MaxDeltaRecords
	if hasMore {
		rows = rows[:MaxDeltaRecords]
	}
	return Delta{Checkins: rows, ServerTime: serverTime, HasMore: hasMore}, nil
}
