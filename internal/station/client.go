package station

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/middleware"
	"github.com/epass/server/internal/model"
)

// configMissingCode is the error body the server sends when a setting it
// needs for the request is absent
const configMissingCode = "config_missing"

var (
	// ErrTransient covers network errors, timeouts, 5xx and 429 responses.
	// The request may be retried unchanged.
	ErrTransient = errors.New("server unreachable")
	// ErrRateLimited is the 429 case of ErrTransient. The server was reached
	// and refused the scan until the window resets.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrTransient)
	// ErrServerMisconfigured means the server lacks required configuration.
	// It is not transient; retrying will fail the same way until an operator
	// fixes the server.
	ErrServerMisconfigured = errors.New("server configuration missing")
	// ErrUnauthorized means the staff token was rejected; retrying will not help.
	ErrUnauthorized = errors.New("staff token rejected")
	// ErrBadRequest means the server refused the request as malformed.
	ErrBadRequest = errors.New("request rejected by server")
)

// VerifyRequest is one scan sent to POST /checkin/verify
type VerifyRequest struct {
	Token       string              `json:"token"`
	SessionID   *uuid.UUID          `json:"session_id,omitempty"`
	CheckinType model.CheckinType   `json:"checkin_type"`
	Source      model.CheckinSource `json:"source,omitempty"`
	CapturedAt  *time.Time          `json:"captured_at,omitempty"`
}

// VerifyResult mirrors the server's verification response
type VerifyResult struct {
	Outcome      checkin.Outcome `json:"outcome"`
	Message      string          `json:"message"`
	Checkin      *model.Checkin  `json:"checkin,omitempty"`
	Person       *model.Person   `json:"person,omitempty"`
	RetryAfterMs int64           `json:"retry_after_ms,omitempty"`
}

// DeltaPage mirrors the server's delta response
type DeltaPage struct {
	Checkins   []model.Checkin `json:"checkins"`
	ServerTime time.Time       `json:"server_time"`
	HasMore    bool            `json:"has_more"`
}

// Client talks to the check-in API on behalf of one station
type Client struct {
	baseURL    string
	stationID  string
	staffToken string
	http       *http.Client
}

// NewClient creates a client from station config. Missing server settings
// yield ErrConfigMissing.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    cfg.ServerURL,
		stationID:  cfg.StationID,
		staffToken: cfg.StaffToken,
		http:       &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.staffToken)
	req.Header.Set(middleware.StationHeader, c.stationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// serverError maps a 5xx response. config_missing is fatal to the operation;
// everything else may be retried.
func serverError(status int, body []byte) error {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error == configMissingCode {
		return fmt.Errorf("%w: status %d", ErrServerMisconfigured, status)
	}
	return fmt.Errorf("%w: status %d", ErrTransient, status)
}

// Verify submits a scan. Outcomes the server decided (including invalid_token
// and not_found) come back as a result with a nil error. A rate-limited
// response returns both the result and ErrRateLimited.
func (c *Client) Verify(ctx context.Context, vr VerifyRequest) (VerifyResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/checkin/verify", vr)
	if err != nil {
		return VerifyResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	var res VerifyResult
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(body, &res)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if res.RetryAfterMs == 0 {
			if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				res.RetryAfterMs = int64(s) * 1000
			}
		}
		res.Outcome = checkin.OutcomeRateLimited
		res.Message = res.Outcome.Message()
		return res, fmt.Errorf("%w, retry after %dms", ErrRateLimited, res.RetryAfterMs)
	case resp.StatusCode >= 500:
		return VerifyResult{}, serverError(resp.StatusCode, body)
	case res.Outcome != "":
		return res, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return VerifyResult{}, ErrUnauthorized
	default:
		return VerifyResult{}, fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, bytes.TrimSpace(body))
	}
}

// Delta fetches one page of check-ins for the event. since and before are
// exclusive bounds; nil means unbounded.
func (c *Client) Delta(ctx context.Context, eventID uuid.UUID, since, before *time.Time) (DeltaPage, error) {
	q := url.Values{}
	q.Set("event_id", eventID.String())
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if before != nil {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/checkin/delta?"+q.Encode(), nil)
	if err != nil {
		return DeltaPage{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return DeltaPage{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return DeltaPage{}, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
		case resp.StatusCode >= 500:
			return DeltaPage{}, serverError(resp.StatusCode, body)
		case resp.StatusCode == http.StatusUnauthorized:
			return DeltaPage{}, ErrUnauthorized
		default:
			return DeltaPage{}, fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, bytes.TrimSpace(body))
		}
	}

	var page DeltaPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return DeltaPage{}, fmt.Errorf("%w: decode delta: %v", ErrTransient, err)
	}
	return page, nil
}
