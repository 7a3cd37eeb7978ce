package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/epass/server/internal/station"
)

// StatusReport is the station's local state.
type StatusReport struct {
	StationID string             `json:"station_id,omitempty"`
	ServerURL string             `json:"server_url,omitempty"`
	Queue     station.QueueStats `json:"queue"`
	EventID   string             `json:"event_id,omitempty"`
	Cursor    *time.Time         `json:"cursor,omitempty"`
	Cached    int                `json:"cached_checkins"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue and cache state",
		Long: `Show pending, synced and rejected scan counts and the delta cursor.

Does not contact the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts, cmd)

	env, err := openStation(opts, out)
	if err != nil {
		return err
	}
	defer env.Close()

	report := StatusReport{StationID: env.cfg.StationID, ServerURL: env.cfg.ServerURL}
	report.Queue, err = env.queue.Stats(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, "E_QUEUE", "failed to read queue", err)
	}

	if env.cfg.EventID != "" {
		eventID, err := env.eventID("")
		if err != nil {
			return out.Fail(ExitCommandError, "E_CONFIG", "invalid event_id", err)
		}
		report.EventID = eventID.String()
		if report.Cursor, err = env.queue.Cursor(ctx, eventID); err != nil {
			return out.Fail(ExitCommandError, "E_QUEUE", "failed to read cursor", err)
		}
		if report.Cached, err = env.queue.CountCached(ctx, eventID); err != nil {
			return out.Fail(ExitCommandError, "E_QUEUE", "failed to count cache", err)
		}
	}

	if out.JSON() {
		return out.Respond(CLIResponse{Status: "ok", Data: report})
	}
	writeStatusText(cmd.OutOrStdout(), report)
	return nil
}

func writeStatusText(w io.Writer, r StatusReport) {
	orUnset := func(s string) string {
		if s == "" {
			return "(not set)"
		}
		return s
	}
	fmt.Fprintf(w, "Station: %s\n", orUnset(r.StationID))
	fmt.Fprintf(w, "Server:  %s\n", orUnset(r.ServerURL))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Pending:  %d", r.Queue.Pending)
	if r.Queue.OldestPending != nil {
		fmt.Fprintf(w, " (oldest %s)", r.Queue.OldestPending.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Synced:   %d\n", r.Queue.Synced)
	fmt.Fprintf(w, "Rejected: %d\n", r.Queue.Rejected)

	if r.EventID == "" {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Event:   %s\n", r.EventID)
	if r.Cursor != nil {
		fmt.Fprintf(w, "Cursor:  %s\n", r.Cursor.UTC().Format(time.RFC3339Nano))
	} else {
		fmt.Fprintln(w, "Cursor:  never pulled")
	}
	fmt.Fprintf(w, "Cached:  %d check-in(s)\n", r.Cached)
}
