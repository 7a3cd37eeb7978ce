package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/station"
)

const testEventID = "6f1c2a52-3a8e-4d5c-9d1b-0a7f4c1e2b3d"

func clearStationEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"EPASS_SERVER_URL", "EPASS_STATION_ID", "EPASS_STAFF_TOKEN", "EPASS_EVENT_ID", "EPASS_QUEUE_PATH"} {
		t.Setenv(key, "")
	}
}

// writeStationConfig writes a station.yaml whose queue lives in the same temp dir.
// The server URL points at a port nothing listens on.
func writeStationConfig(t *testing.T, extra string) (configPath, queuePath string) {
	t.Helper()
	clearStationEnv(t)
	dir := t.TempDir()
	queuePath = filepath.Join(dir, "queue.db")
	configPath = filepath.Join(dir, "station.yaml")
	body := "server_url: http://127.0.0.1:1\n" +
		"station_id: gate-a\n" +
		"staff_token: test-staff-token\n" +
		"timeout: 1s\n" +
		"queue_path: " + queuePath + "\n" + extra
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))
	return configPath, queuePath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seedQueue leaves one pending, one synced and one rejected scan, a cursor and
// two cached check-ins, all at fixed times.
func seedQueue(t *testing.T, queuePath string) {
	t.Helper()
	ctx := context.Background()
	q, err := station.OpenQueue(queuePath)
	require.NoError(t, err)
	defer q.Close()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, station.Scan{Token: "tok", CheckinType: model.CheckinArrival, CapturedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, q.MarkSynced(ctx, ids[0], checkin.OutcomeCheckedIn))
	require.NoError(t, q.MarkRejected(ctx, ids[1], checkin.OutcomeInvalidToken))

	event := uuid.MustParse(testEventID)
	require.NoError(t, q.SetCursor(ctx, event, time.Date(2026, 3, 14, 10, 0, 0, 500000000, time.UTC)))
	_, err = q.StoreCheckins(ctx, []model.Checkin{
		{ID: uuid.New(), PersonID: uuid.New(), EventID: event, CheckinType: model.CheckinArrival, Source: model.SourceOnline, CheckedInAt: base},
		{ID: uuid.New(), PersonID: uuid.New(), EventID: event, CheckinType: model.CheckinMeal, Source: model.SourceOfflineSynced, CheckedInAt: base},
	})
	require.NoError(t, err)
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestStatus_Text(t *testing.T) {
	configPath, queuePath := writeStationConfig(t, "event_id: "+testEventID+"\n")
	seedQueue(t, queuePath)

	out, err := execute(t, "status", "--config", configPath)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "status_text", []byte(out))
}

func TestStatus_JSON(t *testing.T) {
	configPath, queuePath := writeStationConfig(t, "event_id: "+testEventID+"\n")
	seedQueue(t, queuePath)

	out, err := execute(t, "status", "--config", configPath, "--format", "json")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "status_json", []byte(out))
}

func TestStatus_EmptyWithoutEvent(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")

	out, err := execute(t, "status", "-c", configPath)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "status_empty", []byte(out))
}

func TestInvalidFormat(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")
	_, err := execute(t, "status", "--config", configPath, "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestScan_RequiresToken(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")
	_, err := execute(t, "scan", "--config", configPath)
	require.Error(t, err)
}

func TestScan_InvalidArgs(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")

	_, err := execute(t, "scan", "--config", configPath, "--token", "abc", "--type", "BRUNCH")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "scan", "--config", configPath, "--token", "abc", "--session", "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScan_MissingServerConfig(t *testing.T) {
	clearStationEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "station.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("queue_path: "+filepath.Join(dir, "q.db")+"\n"), 0o600))

	out, err := execute(t, "scan", "--config", configPath, "--token", "abc", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CONFIG", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "server_url")
}

func TestScan_QueuesWhenServerUnreachable(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")

	out, err := execute(t, "scan", "--config", configPath, "--token", "9f86d081884c7d659a2feaa0c55ad015")
	require.NoError(t, err)
	assert.Contains(t, out, "queued: ")
	assert.Contains(t, out, "Queued as #1")

	out, err = execute(t, "status", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:  1 (oldest ")

	_, err = execute(t, "sync", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err), "scans left pending")
}

func TestSync_EmptyQueue(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")

	out, err := execute(t, "sync", "--config", configPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string               `json:"status"`
		Data   station.ReplayReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, station.ReplayReport{}, resp.Data)
}

func TestPull_RequiresEvent(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")
	_, err := execute(t, "pull", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPull_ServerUnreachable(t *testing.T) {
	configPath, _ := writeStationConfig(t, "")
	_, err := execute(t, "pull", "--config", configPath, "--event", testEventID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

// serveFixed points the station at a server that answers every request with
// the same status and body.
func serveFixed(t *testing.T, status int, header http.Header, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header()[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("EPASS_SERVER_URL", srv.URL)
}

func pendingScans(t *testing.T, queuePath string) int {
	t.Helper()
	q, err := station.OpenQueue(queuePath)
	require.NoError(t, err)
	defer q.Close()
	st, err := q.Stats(context.Background())
	require.NoError(t, err)
	return st.Pending
}

func TestScan_RateLimitedIsNotQueued(t *testing.T) {
	configPath, queuePath := writeStationConfig(t, "")
	serveFixed(t, http.StatusTooManyRequests, http.Header{"Retry-After": {"30"}},
		`{"outcome":"rate_limited","retry_after_ms":30000}`)

	out, err := execute(t, "scan", "--config", configPath, "--token", "9f86d081884c7d659a2feaa0c55ad015", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string             `json:"status"`
		Data   station.ScanResult `json:"data"`
		Error  *CLIError          `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_RATE_LIMITED", resp.Error.Code)
	assert.Equal(t, checkin.OutcomeRateLimited, resp.Data.Outcome)
	assert.Equal(t, int64(30000), resp.Data.RetryAfterMs)
	assert.Zero(t, resp.Data.QueuedID)
	assert.Zero(t, pendingScans(t, queuePath))

	out, err = execute(t, "scan", "--config", configPath, "--token", "9f86d081884c7d659a2feaa0c55ad015")
	require.Error(t, err)
	assert.Contains(t, out, "rate_limited: ")
	assert.Contains(t, out, "Retry in 30s")
	assert.NotContains(t, out, "Queued")
}

func TestServerMisconfigured_IsCommandError(t *testing.T) {
	configPath, queuePath := writeStationConfig(t, "")
	serveFixed(t, http.StatusInternalServerError, nil, `{"error":"config_missing"}`)

	out, err := execute(t, "scan", "--config", configPath, "--token", "9f86d081884c7d659a2feaa0c55ad015", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SERVER_CONFIG", resp.Error.Code)
	assert.Zero(t, pendingScans(t, queuePath), "nothing queued")

	q, err := station.OpenQueue(queuePath)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), station.Scan{Token: "9f86d081884c7d659a2feaa0c55ad015", CheckinType: model.CheckinArrival, CapturedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	_, err = execute(t, "sync", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, 1, pendingScans(t, queuePath))

	_, err = execute(t, "pull", "--config", configPath, "--event", testEventID)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
