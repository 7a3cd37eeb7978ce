package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/epass/server/internal/checkin"
	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/station"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Token       string
	CheckinType string
	SessionID   string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check in one e-pass",
		Long: `Verify a scanned e-pass and record the check-in.

If the server cannot be reached the scan is queued locally with its capture
time and submitted later by "sync". A rate-limited scan is not queued; scan
the pass again once the retry delay has passed.

Exit codes:
  0 - Checked in, already checked in, or queued
  1 - Pass rejected (invalid pass, or no registration for this event/session),
      or rate limited
  2 - Command error (missing config, server refused the request or is
      misconfigured)

Examples:
  epass-station scan --token 9f86d081884c7d659a2feaa0c55ad015
  epass-station scan --token 9f86d081884c7d659a2feaa0c55ad015 --type SESSION --session 7d4e1c9a-2b3f-4e5d-8a6b-1c2d3e4f5a6b`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Token, "token", "t", "", "token read from the QR code (required)")
	_ = cmd.MarkFlagRequired("token")
	cmd.Flags().StringVar(&opts.CheckinType, "type", string(model.CheckinArrival), "check-in type (ARRIVAL|SESSION|MEAL)")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session id for session-level check-ins")

	return cmd
}

func runScan(ctx context.Context, opts *ScanOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)

	checkinType, err := model.ParseCheckinType(opts.CheckinType)
	if err != nil {
		return out.Fail(ExitCommandError, "E_ARGS", "invalid --type", err)
	}
	var sessionID *uuid.UUID
	if opts.SessionID != "" {
		id, err := uuid.Parse(opts.SessionID)
		if err != nil {
			return out.Fail(ExitCommandError, "E_ARGS", "invalid --session", err)
		}
		sessionID = &id
	}

	env, err := openStation(opts.RootOptions, out)
	if err != nil {
		return err
	}
	defer env.Close()

	syncer, err := env.syncer(out)
	if err != nil {
		return err
	}

	res, err := syncer.Scan(ctx, station.ScanInput{Token: opts.Token, CheckinType: checkinType, SessionID: sessionID})
	if err != nil {
		if errors.Is(err, station.ErrUnauthorized) {
			return out.Fail(ExitCommandError, "E_AUTH", "staff token rejected", err)
		}
		if errors.Is(err, station.ErrServerMisconfigured) {
			return out.Fail(ExitCommandError, "E_SERVER_CONFIG", "server is missing required configuration", err)
		}
		return out.Fail(ExitCommandError, "E_SERVER", "scan failed", err)
	}

	rejected := res.Outcome == checkin.OutcomeInvalidToken || res.Outcome == checkin.OutcomeNotFound
	limited := res.Outcome == checkin.OutcomeRateLimited

	if out.JSON() {
		resp := CLIResponse{Status: "ok", Data: res}
		switch {
		case rejected:
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_REJECTED", Message: res.Message}
		case limited:
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_RATE_LIMITED", Message: res.Message}
		}
		if err := out.Respond(resp); err != nil {
			return err
		}
	} else {
		writeScanText(cmd, res)
	}

	if rejected || limited {
		return NewExitError(ExitFailure, string(res.Outcome))
	}
	return nil
}

func writeScanText(cmd *cobra.Command, res station.ScanResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s\n", res.Outcome, res.Message)
	if res.Person != nil {
		fmt.Fprintf(w, "  Name: %s\n", res.Person.DisplayName)
		if res.Person.LocalizedName != nil {
			fmt.Fprintf(w, "  Localized: %s\n", *res.Person.LocalizedName)
		}
	}
	if res.Checkin != nil {
		fmt.Fprintf(w, "  At: %s\n", res.Checkin.CheckedInAt.Format("2006-01-02 15:04:05 MST"))
	}
	if res.RetryAfterMs > 0 {
		fmt.Fprintf(w, "  Retry in %s\n", time.Duration(res.RetryAfterMs)*time.Millisecond)
	}
	if res.QueuedID != 0 {
		fmt.Fprintf(w, "  Queued as #%d\n", res.QueuedID)
	}
}
