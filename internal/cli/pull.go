package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/epass/server/internal/station"
)

// PullOptions holds flags for the pull command.
type PullOptions struct {
	*RootOptions
	EventID string
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PullOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Mirror the event's check-ins locally",
		Long: `Fetch check-ins recorded since the last pull and cache them locally.

Examples:
  epass-station pull
  epass-station pull --event 6f1c2a52-3a8e-4d5c-9d1b-0a7f4c1e2b3d --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event", "", "event id (defaults to event_id from config)")

	return cmd
}

func runPull(ctx context.Context, opts *PullOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)

	env, err := openStation(opts.RootOptions, out)
	if err != nil {
		return err
	}
	defer env.Close()

	eventID, err := env.eventID(opts.EventID)
	if err != nil {
		return out.Fail(ExitCommandError, "E_CONFIG", "no event selected", err)
	}
	syncer, err := env.syncer(out)
	if err != nil {
		return err
	}

	report, err := syncer.Pull(ctx, eventID)
	if errors.Is(err, station.ErrServerMisconfigured) {
		return out.Fail(ExitCommandError, "E_SERVER_CONFIG", "server is missing required configuration", err)
	}
	if err != nil {
		return out.Fail(ExitFailure, "E_SERVER", "pull failed", err)
	}
	out.VerboseLog("pulled %d page(s) for %s", report.Pages, eventID)

	if out.JSON() {
		return out.Respond(CLIResponse{Status: "ok", Data: report})
	}
	if report.Stalled {
		fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d check-in(s), %d new. Paging stalled; cursor not advanced.\n",
			report.Fetched, report.Stored)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d check-in(s), %d new. Cursor: %s\n",
		report.Fetched, report.Stored, report.Cursor.UTC().Format(time.RFC3339))
	return nil
}
