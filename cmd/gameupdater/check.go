package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"gameupdater/internal/config"
	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/lifecycle"
)

const (
	statusDelay    = 150 * time.Millisecond
	notesWrapWidth = 72
)

type checkOptions struct {
	yes bool
}

func newCheckCmd(e *env, root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check for an update without the interactive screen",
		Long: `Check asks for an update and prints the result. When the game is up to date
it is launched. With --yes an offered update is installed before launching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, e, root)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), e, settings, opts, func() statusReporter {
				return newStatusLine(e.stderr, statusDelay)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Install an offered update without asking")
	return cmd
}

// runCheck drives one attempt headlessly and reports the outcome on stdout.
func runCheck(ctx context.Context, e *env, settings config.Settings, opts *checkOptions, newStatus func() statusReporter) error {
	status := newStatus()
	stopped := false
	stop := func() {
		if !stopped {
			status.Stop()
			stopped = true
		}
	}
	defer stop()

	updater, err := buildUpdater(ctx, settings, status.Observe)
	if err != nil {
		return err
	}
	defer updater.close()

	if err := updater.orch.Start(ctx); err != nil {
		stop()
		return err
	}
	snap := updater.orch.State()

	if snap.State == lifecycle.StateUpdateFound {
		if !opts.yes {
			stop()
			printOffer(e.stdout, snap)
			_, _ = fmt.Fprintln(e.stdout, "Run with --yes to install it.")
			return nil
		}
		if err := updater.orch.Confirm(ctx); err != nil {
			stop()
			return err
		}
		snap = updater.orch.State()
	}

	stop()
	return printOutcome(e.stdout, snap)
}

func printOffer(w io.Writer, snap lifecycle.Snapshot) {
	of := snap.Offer
	current := snap.Current.Version
	latest := of.LatestVersion
	if latest == "" {
		latest = "new build"
	}
	_, _ = fmt.Fprintf(w, "Update available: %s -> %s (%s)\n", current, latest, of.Source.Label())
	if notes := strings.TrimSpace(of.ReleaseNotes); notes != "" {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, indent.String(wordwrap.String(notes, notesWrapWidth), 2))
		_, _ = fmt.Fprintln(w)
	}
}

func printOutcome(w io.Writer, snap lifecycle.Snapshot) error {
	switch snap.State {
	case lifecycle.StateFailed:
		return snap.Err
	case lifecycle.StateUpToDate:
		_, _ = fmt.Fprintf(w, "Up to date (%s).\n", snap.Current.Version)
	case lifecycle.StateReadyToLaunch:
		_, _ = fmt.Fprintf(w, "Installed %s (was %s).\n", snap.Installed.Version, snap.Current.Version)
	default:
		return appErrors.New(appErrors.CodeUnknown, "update stopped in state "+snap.State.String(), nil)
	}
	if snap.Launched {
		_, _ = fmt.Fprintln(w, "Game started.")
	}
	return nil
}
