package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/confcode"
	httphandler "github.com/epass/server/internal/http"
	"github.com/epass/server/internal/http/handlers"
	"github.com/epass/server/internal/middleware"
	"github.com/epass/server/internal/registration"
	"github.com/epass/server/internal/repo"
	"github.com/epass/server/internal/testutil"
)

const testJWTSecret = "e2e-jwt-secret-at-least-32-characters"

// testServer is the full API over a real PostgreSQL database.
type testServer struct {
	Server *httptest.Server
	DB     *testutil.TestDB
	Repos  *repo.Repositories
	JWT    *auth.JWTService
	Bearer string

	// down makes the server drop every connection, as a network outage would
	down atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tdb := testutil.NewTestDB(t)
	repos := repo.NewRepositories(tdb.DB)

	jwtService := auth.NewJWTService(testJWTSecret, time.Hour)
	bearer, err := jwtService.SignStaffToken(uuid.New(), "staff")
	require.NoError(t, err)

	tokens := auth.NewTokenService()
	limiter := middleware.NewRateLimiter(middleware.WithSweepInterval(time.Minute))
	limiter.Start()
	t.Cleanup(limiter.Stop)

	router := httphandler.NewRouter(httphandler.Handlers{
		Health:       handlers.NewHealthHandler(tdb.DB),
		Checkin:      handlers.NewCheckinHandler(checkin.NewService(tokens, repos), limiter, 1000, time.Minute),
		Registration: handlers.NewRegistrationHandler(registration.NewService(repos.Registrations, tokens, confcode.NewGenerator(confcode.DefaultBlocklist()))),
	}, jwtService, httphandler.LookupLimit{Limiter: limiter, Limit: 100, Window: time.Minute})

	ts := &testServer{DB: tdb, Repos: repos, JWT: jwtService, Bearer: bearer}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ts.down.Load() {
			panic(http.ErrAbortHandler)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Server.Close)

	return ts
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// SetDown toggles the simulated outage.
func (s *testServer) SetDown(down bool) { s.down.Store(down) }

// do sends an authenticated request from station "e2e" and returns status and body.
func (s *testServer) do(t *testing.T, method, path string, body any) (int, string) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.BaseURL()+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.Bearer)
	req.Header.Set(middleware.StationHeader, "e2e")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, readBody(resp)
}

func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
