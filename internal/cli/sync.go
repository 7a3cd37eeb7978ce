package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/epass/server/internal/station"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued scans",
		Long: `Submit every pending scan to the server in capture order.

Scans the server accepts (checked in or already checked in) are marked synced.
Invalid passes and unknown registrations are marked rejected and kept for
audit. The pass stops at the first network failure; remaining scans stay
queued for the next run.

Exit codes:
  0 - Queue drained
  1 - Scans still pending (server unreachable)
  2 - Command error (including a misconfigured server)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts, cmd)

	env, err := openStation(opts, out)
	if err != nil {
		return err
	}
	defer env.Close()

	syncer, err := env.syncer(out)
	if err != nil {
		return err
	}

	report, err := syncer.Replay(ctx)
	if errors.Is(err, station.ErrServerMisconfigured) {
		return out.Fail(ExitCommandError, "E_SERVER_CONFIG", "server is missing required configuration; scans stay queued", err)
	}
	if err != nil {
		return out.Fail(ExitCommandError, "E_QUEUE", "replay failed", err)
	}

	if out.JSON() {
		resp := CLIResponse{Status: "ok", Data: report}
		if report.Pending > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_PENDING", Message: "server unreachable, scans still pending"}
		}
		if err := out.Respond(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Synced:   %d\n", report.Synced)
		fmt.Fprintf(w, "Rejected: %d\n", report.Rejected)
		fmt.Fprintf(w, "Pending:  %d\n", report.Pending)
	}

	if report.Pending > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scan(s) still pending", report.Pending))
	}
	return nil
}
