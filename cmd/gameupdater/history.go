package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/history"
)

var (
	styleHistoryHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleHistoryCell   = lipgloss.NewStyle().Padding(0, 1)
)

func newHistoryCmd(e *env, root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent update attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, e, root)
			if err != nil {
				return err
			}
			if settings.HistoryDB == "" {
				return appErrors.New(appErrors.CodeConfigurationError, "attempt history is disabled (history_db)", nil)
			}
			return runHistory(cmd.Context(), e.stdout, settings.HistoryDB, limit, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of attempts to show")
	return cmd
}

func runHistory(ctx context.Context, w io.Writer, path string, limit int, now time.Time) error {
	store, err := history.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	attempts, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		_, _ = fmt.Fprintln(w, "No update attempts recorded yet.")
		return nil
	}
	_, _ = fmt.Fprintln(w, renderHistory(attempts, now))
	return nil
}

func renderHistory(attempts []history.Attempt, now time.Time) string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			humanize.RelTime(a.StartedAt, now, "ago", "from now"),
			a.Outcome,
			dash(a.FromVersion),
			dash(a.ToVersion),
			dash(a.Source),
			a.Duration().Round(time.Millisecond).String(),
			failureSummary(a),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "OUTCOME", "FROM", "TO", "SOURCE", "TOOK", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHistoryHeader
			}
			return styleHistoryCell
		})
	return t.Render()
}

func failureSummary(a history.Attempt) string {
	if a.Outcome != history.OutcomeFailed {
		return ""
	}
	if a.Stage == "" {
		return a.Error
	}
	return fmt.Sprintf("%s: %s", a.Stage, a.Error)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
