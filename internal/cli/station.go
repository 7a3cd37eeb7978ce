package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/epass/server/internal/config"
	"github.com/epass/server/internal/station"
)

// stationEnv is what a command needs after loading config and opening the queue.
type stationEnv struct {
	cfg   *station.Config
	queue *station.Queue
}

func (e *stationEnv) Close() {
	if e.queue != nil {
		e.queue.Close()
	}
}

// openStation loads config and opens the local queue.
func openStation(opts *RootOptions, out *OutputFormatter) (*stationEnv, error) {
	cfg, err := station.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "E_CONFIG", "failed to load station config", err)
	}
	out.VerboseLog("config: %s, queue: %s", opts.ConfigPath, cfg.QueuePath)

	queue, err := station.OpenQueue(cfg.QueuePath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "E_QUEUE", "failed to open queue", err)
	}
	return &stationEnv{cfg: cfg, queue: queue}, nil
}

// syncer builds a Syncer; it fails when the server settings are incomplete.
func (e *stationEnv) syncer(out *OutputFormatter) (*station.Syncer, error) {
	client, err := station.NewClient(e.cfg)
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			return nil, out.Fail(ExitCommandError, "E_CONFIG", "station is not configured", err)
		}
		return nil, out.Fail(ExitCommandError, "E_CONFIG", "failed to create client", err)
	}
	return station.NewSyncer(client, e.queue, e.cfg.DeltaOverlap), nil
}

// eventID resolves the event from a flag value, falling back to config.
func (e *stationEnv) eventID(flag string) (uuid.UUID, error) {
	raw := flag
	if raw == "" {
		raw = e.cfg.EventID
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: event_id", config.ErrConfigMissing)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("event id %q: %w", raw, err)
	}
	return id, nil
}
