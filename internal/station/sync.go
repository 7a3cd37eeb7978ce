package station

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/model"
)

// OutcomeQueued is reported when a scan could not reach the server and was
// stored for later replay.
const OutcomeQueued checkin.Outcome = "queued"

// OutcomeBadRequest marks a queued scan the server refused as malformed.
const OutcomeBadRequest checkin.Outcome = "bad_request"

// ScanInput is what the station operator (or QR reader) provides.
type ScanInput struct {
	Token       string
	CheckinType model.CheckinType
	SessionID   *uuid.UUID
}

// ScanResult is shown to the operator after a scan.
type ScanResult struct {
	Outcome  checkin.Outcome `json:"outcome"`
	Message  string          `json:"message"`
	Person   *model.Person   `json:"person,omitempty"`
	Checkin  *model.Checkin  `json:"checkin,omitempty"`
	QueuedID int64           `json:"queued_id,omitempty"`
	// RetryAfterMs is set for rate_limited; the scan was not recorded or queued
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// ReplayReport summarizes one replay pass.
type ReplayReport struct {
	Synced   int `json:"synced"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

// PullReport summarizes one delta pull.
type PullReport struct {
	Pages   int       `json:"pages"`
	Fetched int       `json:"fetched"`
	Stored  int       `json:"stored"`
	Cursor  time.Time `json:"cursor"`
	// Stalled is set when paging could not make progress; Cursor is then the
	// previous value (zero if the event was never pulled)
	Stalled bool `json:"stalled,omitempty"`
}

// Syncer is the station side of check-in. Scans go online first and fall back
// to the local queue; Pull mirrors the attendance list.
type Syncer struct {
	client  *Client
	queue   *Queue
	overlap time.Duration
	now     func() time.Time
}

// NewSyncer creates a syncer. overlap is re-read on every pull (see Config.DeltaOverlap).
func NewSyncer(client *Client, queue *Queue, overlap time.Duration) *Syncer {
	return &Syncer{client: client, queue: queue, overlap: overlap, now: time.Now}
}

// Scan verifies a scan online. If the server cannot be reached the scan is
// queued with its capture time and OutcomeQueued is returned. A rate-limited
// scan is not queued: the operator rescans after RetryAfterMs.
func (s *Syncer) Scan(ctx context.Context, in ScanInput) (ScanResult, error) {
	captured := s.now().UTC()
	res, err := s.client.Verify(ctx, VerifyRequest{
		Token:       in.Token,
		SessionID:   in.SessionID,
		CheckinType: in.CheckinType,
		Source:      model.SourceOnline,
		CapturedAt:  &captured,
	})
	if err == nil {
		return ScanResult{Outcome: res.Outcome, Message: res.Message, Person: res.Person, Checkin: res.Checkin}, nil
	}
	if errors.Is(err, ErrRateLimited) {
		log.Printf("station: scan not recorded: %v", err)
		return ScanResult{
			Outcome:      checkin.OutcomeRateLimited,
			Message:      checkin.OutcomeRateLimited.Message(),
			RetryAfterMs: res.RetryAfterMs,
		}, nil
	}
	if !errors.Is(err, ErrTransient) {
		return ScanResult{}, err
	}

	id, qerr := s.queue.Enqueue(ctx, Scan{
		Token:       in.Token,
		CheckinType: in.CheckinType,
		SessionID:   in.SessionID,
		CapturedAt:  captured,
	})
	if qerr != nil {
		return ScanResult{}, fmt.Errorf("queue scan after %v: %w", err, qerr)
	}
	log.Printf("station: scan queued as #%d: %v", id, err)
	return ScanResult{
		Outcome:  OutcomeQueued,
		Message:  checkin.OutcomeTransientFailure.Message(),
		QueuedID: id,
	}, nil
}

// Replay submits every pending scan with source OFFLINE_SYNCED. Accepted
// scans (checked in or already checked in) become synced; invalid_token and
// not_found are permanent and become rejected. The pass stops at the first
// transient failure and leaves the rest pending.
func (s *Syncer) Replay(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport

	pending, err := s.queue.Pending(ctx, 0)
	if err != nil {
		return report, err
	}

	for i, scan := range pending {
		captured := scan.CapturedAt
		res, err := s.client.Verify(ctx, VerifyRequest{
			Token:       scan.Token,
			SessionID:   scan.SessionID,
			CheckinType: scan.CheckinType,
			Source:      model.SourceOfflineSynced,
			CapturedAt:  &captured,
		})

		switch {
		case errors.Is(err, ErrTransient):
			if rerr := s.queue.RecordAttempt(ctx, scan.ID, err); rerr != nil {
				return report, rerr
			}
			report.Pending = len(pending) - i
			log.Printf("station: replay paused at #%d: %v", scan.ID, err)
			return report, nil
		case errors.Is(err, ErrBadRequest):
			if err := s.queue.MarkRejected(ctx, scan.ID, OutcomeBadRequest); err != nil {
				return report, err
			}
			report.Rejected++
			continue
		case err != nil:
			report.Pending = len(pending) - i
			return report, err
		}

		switch res.Outcome {
		case checkin.OutcomeCheckedIn, checkin.OutcomeAlreadyCheckedIn:
			err = s.queue.MarkSynced(ctx, scan.ID, res.Outcome)
			report.Synced++
		case checkin.OutcomeInvalidToken, checkin.OutcomeNotFound:
			err = s.queue.MarkRejected(ctx, scan.ID, res.Outcome)
			report.Rejected++
		default:
			err = s.queue.RecordAttempt(ctx, scan.ID, fmt.Errorf("unexpected outcome %q", res.Outcome))
			report.Pending++
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// Pull mirrors the event's check-ins into the local cache. It starts from the
// stored cursor minus the overlap window and walks backwards with before=
// while the server reports more pages. The cursor advances to the first
// page's server_time only once every page is stored. If paging stalls the
// cursor stays where it was, so the next pull reads the same range again.
func (s *Syncer) Pull(ctx context.Context, eventID uuid.UUID) (PullReport, error) {
	var report PullReport

	cursor, err := s.queue.Cursor(ctx, eventID)
	if err != nil {
		return report, err
	}
	var since *time.Time
	if cursor != nil {
		t := cursor.Add(-s.overlap)
		since = &t
	}

	var before *time.Time
	var serverTime time.Time
	for {
		page, err := s.client.Delta(ctx, eventID, since, before)
		if err != nil {
			return report, err
		}
		if report.Pages == 0 {
			serverTime = page.ServerTime
		}
		report.Pages++
		report.Fetched += len(page.Checkins)

		stored, err := s.queue.StoreCheckins(ctx, page.Checkins)
		if err != nil {
			return report, err
		}
		report.Stored += stored

		if !page.HasMore || len(page.Checkins) == 0 {
			break
		}
		// before is exclusive; stepping one microsecond past the oldest
		// record re-reads rows sharing its timestamp, and the cache skips them.
		next := page.Checkins[len(page.Checkins)-1].CheckedInAt.Add(time.Microsecond)
		if before != nil && !next.Before(*before) {
			log.Printf("station: pull for %s stalled at %s, keeping cursor", eventID, next)
			report.Stalled = true
			if cursor != nil {
				report.Cursor = *cursor
			}
			return report, nil
		}
		before = &next
	}

	if err := s.queue.SetCursor(ctx, eventID, serverTime); err != nil {
		return report, err
	}
	report.Cursor = serverTime
	return report, nil
}
