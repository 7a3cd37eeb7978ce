package station

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/epass/server/internal/config"
)

// DefaultConfigPath is read when no --config flag is given; it may be absent
const DefaultConfigPath = "station.yaml"

const (
	defaultQueuePath    = "epass-station.db"
	defaultTimeout      = 5 * time.Second
	defaultDeltaOverlap = 5 * time.Second
)

// Config is the scan station configuration. It is read from a YAML file and
// then overridden by EPASS_* environment variables.
type Config struct {
	ServerURL  string `yaml:"server_url"`
	StationID  string `yaml:"station_id"`
	StaffToken string `yaml:"staff_token"`
	EventID    string `yaml:"event_id"`
	QueuePath  string `yaml:"queue_path"`

	// Timeout bounds each request to the server
	Timeout time.Duration `yaml:"timeout"`
	// DeltaOverlap is subtracted from the stored cursor on every pull so
	// check-ins committed late around the previous server_time are not missed
	DeltaOverlap time.Duration `yaml:"delta_overlap"`
}

// LoadConfig reads path (if non-empty) and applies environment overrides.
// It does not validate; callers check the fields their operation needs.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath) {
			return nil, fmt.Errorf("read station config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse station config %s: %w", path, err)
			}
		}
	}

	overrides := map[string]*string{
		"EPASS_SERVER_URL":  &cfg.ServerURL,
		"EPASS_STATION_ID":  &cfg.StationID,
		"EPASS_STAFF_TOKEN": &cfg.StaffToken,
		"EPASS_EVENT_ID":    &cfg.EventID,
		"EPASS_QUEUE_PATH":  &cfg.QueuePath,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*field = v
		}
	}

	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.QueuePath == "" {
		cfg.QueuePath = defaultQueuePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DeltaOverlap < 0 {
		cfg.DeltaOverlap = 0
	} else if cfg.DeltaOverlap == 0 {
		cfg.DeltaOverlap = defaultDeltaOverlap
	}
	return cfg, nil
}

// RequireServer reports ErrConfigMissing unless everything needed to talk to
// the server is set
func (c *Config) RequireServer() error {
	var missing []string
	if c.ServerURL == "" {
		missing = append(missing, "server_url")
	}
	if c.StationID == "" {
		missing = append(missing, "station_id")
	}
	if c.StaffToken == "" {
		missing = append(missing, "staff_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", config.ErrConfigMissing, strings.Join(missing, ", "))
	}
	return nil
}
