package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CheckinType distinguishes independent attendance facts for the same person and session
type CheckinType string

const (
	CheckinArrival CheckinType = "ARRIVAL"
	CheckinSession CheckinType = "SESSION"
	CheckinMeal    CheckinType = "MEAL"
)

// ParseCheckinType accepts a case-insensitive checkin type name
func ParseCheckinType(s string) (CheckinType, error) {
	switch t := CheckinType(strings.ToUpper(strings.TrimSpace(s))); t {
	case CheckinArrival, CheckinSession, CheckinMeal:
		return t, nil
	default:
		return "", fmt.Errorf("unknown checkin type %q", s)
	}
}

// CheckinSource records how a check-in reached the server
type CheckinSource string

const (
	SourceOnline        CheckinSource = "ONLINE"
	SourceOfflineSynced CheckinSource = "OFFLINE_SYNCED"
)

// ParseCheckinSource accepts a case-insensitive source name; empty means ONLINE
func ParseCheckinSource(s string) (CheckinSource, error) {
	switch src := CheckinSource(strings.ToUpper(strings.TrimSpace(s))); src {
	case "":
		return SourceOnline, nil
	case SourceOnline, SourceOfflineSynced:
		return src, nil
	default:
		return "", fmt.Errorf("unknown checkin source %q", s)
	}
}

// RegistrationStatus is the lifecycle state of a registration
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "PENDING"
	RegistrationConfirmed RegistrationStatus = "CONFIRMED"
	RegistrationCancelled RegistrationStatus = "CANCELLED"
)

// Person is the identity being checked in
type Person struct {
	ID            uuid.UUID `json:"id"`
	DisplayName   string    `json:"display_name"`
	LocalizedName *string   `json:"localized_name,omitempty"`
}

// Event is the minimal event record check-in needs
type Event struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Session is a schedulable slot within an event
type Session struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Date      time.Time `json:"date"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Active    bool      `json:"active"`
}

// Registration binds a person to an event
type Registration struct {
	ID               uuid.UUID          `json:"id"`
	PersonID         uuid.UUID          `json:"person_id"`
	EventID          uuid.UUID          `json:"event_id"`
	Status           RegistrationStatus `json:"status"`
	ConfirmationCode *string            `json:"confirmation_code,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Active reports whether the registration admits check-ins
func (r Registration) Active() bool {
	return r.Status == RegistrationConfirmed
}

// EpassToken is the server-side record of an issued e-pass.
// Only the digest is stored; the raw token lives with the attendee.
type EpassToken struct {
	ID             uuid.UUID
	PersonID       uuid.UUID
	RegistrationID uuid.UUID
	TokenDigest    string
	Active         bool
	CreatedAt      time.Time
}

// Checkin is an attendance fact. SessionID nil means an event-level check-in.
type Checkin struct {
	ID          uuid.UUID     `json:"id"`
	PersonID    uuid.UUID     `json:"person_id"`
	EventID     uuid.UUID     `json:"event_id"`
	SessionID   *uuid.UUID    `json:"session_id"`
	CheckinType CheckinType   `json:"checkin_type"`
	Source      CheckinSource `json:"source"`
	PerformedBy uuid.UUID     `json:"performed_by"`
	CheckedInAt time.Time     `json:"checked_in_at"`
	CapturedAt  *time.Time    `json:"captured_at,omitempty"`
}
