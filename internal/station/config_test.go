package station

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epass/server/internal/config"
)

func clearStationEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"EPASS_SERVER_URL", "EPASS_STATION_ID", "EPASS_STAFF_TOKEN", "EPASS_EVENT_ID", "EPASS_QUEUE_PATH"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	clearStationEnv(t)
	path := writeConfig(t, `
server_url: https://checkin.example.org/
station_id: gate-a
staff_token: eyJhbGciOi
event_id: 6f1c2a52-3a8e-4d5c-9d1b-0a7f4c1e2b3d
queue_path: /var/lib/epass/gate-a.db
timeout: 3s
delta_overlap: 10s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://checkin.example.org", cfg.ServerURL, "trailing slash trimmed")
	assert.Equal(t, "gate-a", cfg.StationID)
	assert.Equal(t, "eyJhbGciOi", cfg.StaffToken)
	assert.Equal(t, "6f1c2a52-3a8e-4d5c-9d1b-0a7f4c1e2b3d", cfg.EventID)
	assert.Equal(t, "/var/lib/epass/gate-a.db", cfg.QueuePath)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.DeltaOverlap)
	assert.NoError(t, cfg.RequireServer())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearStationEnv(t)
	path := writeConfig(t, "server_url: http://old:8080\nstation_id: gate-a\n")
	t.Setenv("EPASS_SERVER_URL", "http://new:8080")
	t.Setenv("EPASS_STAFF_TOKEN", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://new:8080", cfg.ServerURL)
	assert.Equal(t, "gate-a", cfg.StationID)
	assert.Equal(t, "from-env", cfg.StaffToken)
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearStationEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultQueuePath, cfg.QueuePath)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, defaultDeltaOverlap, cfg.DeltaOverlap)

	cfg, err = LoadConfig(writeConfig(t, "delta_overlap: -1s\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.DeltaOverlap)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearStationEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	t.Chdir(t.TempDir())
	cfg, err := LoadConfig(DefaultConfigPath)
	require.NoError(t, err, "the default path may be absent")
	assert.Equal(t, defaultQueuePath, cfg.QueuePath)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	clearStationEnv(t)
	_, err := LoadConfig(writeConfig(t, "timeout: [not, a, duration]\n"))
	assert.Error(t, err)
}

func TestRequireServer(t *testing.T) {
	err := (&Config{StationID: "gate-a"}).RequireServer()
	require.ErrorIs(t, err, config.ErrConfigMissing)
	assert.Contains(t, err.Error(), "server_url")
	assert.Contains(t, err.Error(), "staff_token")
	assert.NotContains(t, err.Error(), "station_id")
}
