package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gameupdater/internal/config"
	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/ui"
)

type rootOptions struct {
	configPath   string
	debug        bool
	outputFormat string
}

func newRootCmd(e *env) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "gameupdater",
		Short: "Keep a game installation current, then launch it",
		Long: `gameupdater checks the update server (or offline media) for a newer build,
installs it after you confirm, and starts the game.

Settings are read from settings.json next to the executable and in the working
directory, then from --config, then from GU_* environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, e, opts)
			if err != nil {
				return err
			}
			return runTUI(cmd.Context(), e, settings, opts.outputFormat)
		},
	}
	rootCmd.SetOut(e.stdout)
	rootCmd.SetErr(e.stderr)
	rootCmd.SetVersionTemplate(versionString() + "\n")

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a settings file (JSON)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Write a debug log")
	rootCmd.Flags().StringVar(&opts.outputFormat, "output-format", "rich", "Release notes style (rich, light, plain)")
	_ = rootCmd.RegisterFlagCompletionFunc("output-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"rich", "light", "plain"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newCheckCmd(e, opts))
	rootCmd.AddCommand(newHistoryCmd(e, opts))
	rootCmd.AddCommand(newVersionCmd(e))
	return rootCmd
}

// loadSettings reads the configuration and starts the debug log.
func loadSettings(cmd *cobra.Command, e *env, opts *rootOptions) (config.Settings, error) {
	loadOpts := []config.Option{config.WithSettingsFile(opts.configPath)}
	if e.workDir != "" {
		loadOpts = append(loadOpts, config.WithWorkingDir(e.workDir))
	}
	if e.exeDir != "" {
		loadOpts = append(loadOpts, config.WithExecutableDir(e.exeDir))
	}
	if flagChanged(cmd.Flags(), "debug") {
		loadOpts = append(loadOpts, config.WithOverrides(map[string]any{config.KeyDebug: opts.debug}))
	}

	settings, err := config.Load(loadOpts...)
	if err != nil {
		return config.Settings{}, err
	}

	var debugOpts []debug.Option
	if settings.LogFile != "" {
		debugOpts = append(debugOpts, debug.WithPath(settings.LogFile))
	}
	if err := debug.Init(settings.Debug, debugOpts...); err != nil {
		_, _ = fmt.Fprintf(e.stderr, "Warning: debug log unavailable: %v\n", err)
	}
	debug.WithFields(map[string]any{
		"sources": strings.Join(settings.SourceFiles, ","),
		"install": settings.InstallLocation,
		"api":     settings.APIURL,
	}).Info("settings loaded")
	return settings, nil
}

// flagChanged reports whether name was set on the command line.
func flagChanged(fs *pflag.FlagSet, name string) bool {
	flag := fs.Lookup(name)
	return flag != nil && flag.Changed
}

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(ctx context.Context, app *ui.App) programRunner

func newTeaProgram(ctx context.Context, app *ui.App) programRunner {
	return tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
}

// runTUI runs the status screen until the game is launched or the user quits.
func runTUI(ctx context.Context, e *env, settings config.Settings, outputFormat string) error {
	started := time.Now()
	relay := &ui.Relay{}
	updater, err := buildUpdater(ctx, settings, relay.Observe)
	if err != nil {
		return err
	}
	defer updater.close()

	app := ui.NewApp(ctx, updater.orch, ui.Config{
		Title:        gameName(settings),
		OutputFormat: outputFormat,
		Version:      Version,
	})
	if e.newProgram == nil {
		return fmt.Errorf("program factory is nil")
	}
	prog := e.newProgram(ctx, app)
	if p, ok := prog.(*tea.Program); ok {
		relay.Attach(p)
	}

	_, runErr := prog.Run()
	switch {
	case errors.Is(runErr, tea.ErrProgramKilled):
		return appErrors.New(appErrors.CodeCancelled, "interrupted", runErr)
	case runErr != nil:
		return fmt.Errorf("run UI: %w", runErr)
	}

	err = app.Err()
	printExitSummary(e.stdout, ExitSummary{
		Version:   Version,
		StartTime: started,
		Snapshot:  app.Snapshot(),
		Quit:      ui.IsQuit(err),
	})
	return err
}

// gameName is shown before the installed version record has been read.
func gameName(settings config.Settings) string {
	name := filepath.Base(settings.LaunchCommand)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
