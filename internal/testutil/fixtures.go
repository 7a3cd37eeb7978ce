package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/repo"
)

var codeSeq atomic.Int64

// Attendee is a person with a confirmed registration and a live e-pass token
type Attendee struct {
	Person       model.Person
	Event        model.Event
	Registration model.Registration
	Token        string
}

// SeedEvent creates an event with one active session
func SeedEvent(t *testing.T, repos *repo.Repositories, name string) (model.Event, model.Session) {
	t.Helper()
	ctx := context.Background()

	event, err := repos.Events.Create(ctx, name)
	require.NoError(t, err)

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	session, err := repos.Events.CreateSession(ctx, event.ID, start, start.Add(90*time.Minute))
	require.NoError(t, err)
	return event, session
}

// SeedAttendee registers and confirms a new person for event and returns
// the raw token the attendee would carry in their QR code
func SeedAttendee(t *testing.T, repos *repo.Repositories, event model.Event, name string) Attendee {
	t.Helper()
	ctx := context.Background()

	person, err := repos.Persons.Create(ctx, name, nil)
	require.NoError(t, err)

	reg, err := repos.Registrations.Create(ctx, person.ID, event.ID)
	require.NoError(t, err)

	token, digest, err := auth.NewTokenService().Issue()
	require.NoError(t, err)

	code := fmt.Sprintf("T%05d", codeSeq.Add(1)%100000)
	reg, _, err = repos.Registrations.Confirm(ctx, reg.ID, code, digest)
	require.NoError(t, err)

	return Attendee{Person: person, Event: event, Registration: reg, Token: token}
}
