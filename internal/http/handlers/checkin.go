package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/middleware"
	"github.com/epass/server/internal/model"
)

// CheckinHandler serves the station-facing verification and delta endpoints
type CheckinHandler struct {
	service *checkin.Service
	limiter *middleware.RateLimiter
	limit   int
	window  time.Duration
}

// NewCheckinHandler creates a check-in handler. Verification is limited to
// limit scans per window per station.
func NewCheckinHandler(service *checkin.Service, limiter *middleware.RateLimiter, limit int, window time.Duration) *CheckinHandler {
	return &CheckinHandler{
		service: service,
		limiter: limiter,
		limit:   limit,
		window:  window,
	}
}

// verifyRequest is the request body for POST /checkin/verify
type verifyRequest struct {
	Token       string     `json:"token"`
	SessionID   *uuid.UUID `json:"session_id"`
	CheckinType string     `json:"checkin_type"`
	Source      string     `json:"source"`
	CapturedAt  *time.Time `json:"captured_at"`
}

// VerifyResponse is the JSON response for POST /checkin/verify
type VerifyResponse struct {
	Outcome      checkin.Outcome `json:"outcome"`
	Message      string          `json:"message"`
	Checkin      *model.Checkin  `json:"checkin,omitempty"`
	Person       *model.Person   `json:"person,omitempty"`
	RetryAfterMs int64           `json:"retry_after_ms,omitempty"`
}

// DeltaResponse is the JSON response for GET /checkin/delta
type DeltaResponse struct {
	Checkins   []model.Checkin `json:"checkins"`
	ServerTime time.Time       `json:"server_time"`
	HasMore    bool            `json:"has_more"`
}

var outcomeStatus = map[checkin.Outcome]int{
	checkin.OutcomeCheckedIn:        http.StatusCreated,
	checkin.OutcomeAlreadyCheckedIn: http.StatusOK,
	checkin.OutcomeInvalidToken:     http.StatusUnauthorized,
	checkin.OutcomeNotFound:         http.StatusNotFound,
	checkin.OutcomeRateLimited:      http.StatusTooManyRequests,
	checkin.OutcomeTransientFailure: http.StatusServiceUnavailable,
}

func respondWithOutcome(w http.ResponseWriter, resp VerifyResponse) {
	resp.Message = resp.Outcome.Message()
	respondWithJSON(w, outcomeStatus[resp.Outcome], resp)
}

// HandleVerify handles POST /checkin/verify
func (h *CheckinHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	staffID, ok := middleware.GetStaffID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	station, _ := middleware.GetStationID(r.Context())
	if d := h.limiter.Check(middleware.GetStationKey(r), h.limit, h.window); !d.Allowed {
		log.Printf("Verify rate limited: station=%q ip=%s retry_after_ms=%d", station, middleware.ClientIP(r), d.RetryAfterMs())
		w.Header().Set("Retry-After", d.RetryAfterHeader())
		respondWithOutcome(w, VerifyResponse{Outcome: checkin.OutcomeRateLimited, RetryAfterMs: d.RetryAfterMs()})
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	checkinType, err := model.ParseCheckinType(req.CheckinType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := model.ParseCheckinSource(req.Source)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.RecordCheckin(r.Context(), checkin.Request{
		Token:       strings.TrimSpace(req.Token),
		SessionID:   req.SessionID,
		CheckinType: checkinType,
		StaffID:     staffID,
		Source:      source,
		CapturedAt:  req.CapturedAt,
	})
	if err != nil {
		if errors.Is(err, checkin.ErrInvalidRequest) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Verify failed: station=%q staff=%s: %v", station, staffID, err)
		respondWithOutcome(w, VerifyResponse{Outcome: checkin.OutcomeTransientFailure})
		return
	}

	if res.Outcome == checkin.OutcomeInvalidToken || res.Outcome == checkin.OutcomeNotFound {
		log.Printf("Verify rejected: station=%q staff=%s outcome=%s", station, staffID, res.Outcome)
	}
	respondWithOutcome(w, VerifyResponse{Outcome: res.Outcome, Checkin: res.Checkin, Person: res.Person})
}

// HandleDelta handles GET /checkin/delta
func (h *CheckinHandler) HandleDelta(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	eventID, err := uuid.Parse(q.Get("event_id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "event_id must be a UUID")
		return
	}
	since, err := parseTimeParam(q.Get("since"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "since: "+err.Error())
		return
	}
	before, err := parseTimeParam(q.Get("before"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "before: "+err.Error())
		return
	}

	delta, err := h.service.GetDelta(r.Context(), checkin.DeltaQuery{EventID: eventID, Since: since, Before: before})
	if err != nil {
		if errors.Is(err, checkin.ErrInvalidRequest) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Delta failed: event=%s: %v", eventID, err)
		respondWithError(w, http.StatusServiceUnavailable, string(checkin.OutcomeTransientFailure))
		return
	}

	respondWithJSON(w, http.StatusOK, DeltaResponse{
		Checkins:   delta.Checkins,
		ServerTime: delta.ServerTime,
		HasMore:    delta.HasMore,
	})
}

// parseTimeParam accepts RFC 3339 or Unix milliseconds. Empty and "0" mean no bound.
func parseTimeParam(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return nil, fmt.Errorf("negative timestamp")
		}
		if ms == 0 {
			return nil, nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("want RFC 3339 or unix milliseconds")
	}
	t = t.UTC()
	return &t, nil
}
