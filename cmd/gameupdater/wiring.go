package main

import (
	"context"

	"gameupdater/internal/config"
	"gameupdater/internal/debug"
	"gameupdater/internal/history"
	"gameupdater/internal/launch"
	"gameupdater/internal/lifecycle"
	"gameupdater/internal/update"
)

// updater bundles the orchestrator with the resources it holds open.
type updater struct {
	orch    *lifecycle.Orchestrator
	history *history.Store
}

// buildUpdater wires the update components described by settings.
// A history database that cannot be opened is logged and skipped.
func buildUpdater(ctx context.Context, settings config.Settings, observer lifecycle.Observer) (*updater, error) {
	deps := lifecycle.Deps{
		Checker: update.NewClient(settings.APIURL,
			update.WithTimeout(settings.CheckTimeout),
			update.WithUserAgent(update.DefaultUserAgent+"/"+Version),
		),
		Fetcher:   update.NewDownloader(update.WithDownloadTimeout(settings.DownloadTimeout)),
		Installer: update.NewInstaller(),
		Store:     update.NewFileStore(settings.VersionFile),
		Launcher: launch.Command{
			Path: settings.LaunchCommand,
			Args: settings.LaunchArgs,
		},
		Probe: lifecycle.FileProbe{Path: settings.OfflineArtifactPath},
	}

	u := &updater{}
	if settings.HistoryDB != "" {
		store, err := history.Open(ctx, settings.HistoryDB)
		if err != nil {
			debug.WithField("path", settings.HistoryDB).WithError(err).Warn("attempt history disabled")
		} else {
			u.history = store
			deps.Recorder = store
		}
	}

	var opts []lifecycle.Option
	if observer != nil {
		opts = append(opts, lifecycle.WithObserver(observer))
	}
	orch, err := lifecycle.New(lifecycle.Config{
		DownloadPath:       settings.DownloadPath(),
		InstallDir:         settings.InstallLocation,
		PayloadVersionPath: settings.PayloadVersionPath(),
	}, deps, opts...)
	if err != nil {
		u.close()
		return nil, err
	}
	u.orch = orch
	return u, nil
}

// close stops any in-flight work, then releases the history database.
func (u *updater) close() {
	if u.orch != nil {
		if err := u.orch.Close(); err != nil {
			debug.WithError(err).Warn("close updater")
		}
	}
	if u.history != nil {
		if err := u.history.Close(); err != nil {
			debug.WithError(err).Warn("close history")
		}
	}
}
