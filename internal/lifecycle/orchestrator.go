// Package lifecycle coordinates one update attempt at a time: check, download,
// install, record the new version and hand off to the game.
//
// Commands run on the caller's goroutine. A mutex guards the state and the
// state check under it is what keeps a second Start or Confirm from starting
// concurrent work.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/history"
	"gameupdater/internal/update"
)

// Error variables for rejected commands.
var (
	ErrBusy            = errors.New("an update operation is already running")
	ErrConfirmDisabled = errors.New("cannot resume after this failure; check for updates again")
	ErrNoOffer         = errors.New("no update is waiting for confirmation")
	ErrClosed          = errors.New("updater is closed")
)

// recordTimeout bounds how long a terminal outcome may spend in the Recorder.
const recordTimeout = 5 * time.Second

// Checker asks the update server whether a newer build exists.
type Checker interface {
	CheckForUpdate(ctx context.Context, title, version string) (update.CheckResult, error)
}

// Fetcher downloads an artifact to dest.
type Fetcher interface {
	Download(ctx context.Context, url, dest string, onProgress func(update.DownloadProgress)) error
}

// Installer replaces installDir with the contents of an archive.
type Installer interface {
	Install(ctx context.Context, archivePath, installDir string) error
}

// Store persists the installed version record.
type Store interface {
	Load() (update.VersionRecord, error)
	Save(update.VersionRecord) error
}

// Launcher starts the game.
type Launcher interface {
	Start() error
}

// Recorder keeps a log of finished attempts.
type Recorder interface {
	Record(ctx context.Context, a history.Attempt) error
}

// Config holds the paths an attempt works with.
type Config struct {
	// DownloadPath is where a remote artifact is written.
	DownloadPath string
	// InstallDir is the live game directory.
	InstallDir string
	// PayloadVersionPath is the version record shipped inside the artifact,
	// read after install.
	PayloadVersionPath string
}

// Deps are the collaborators an Orchestrator drives. Probe and Recorder are
// optional.
type Deps struct {
	Checker   Checker
	Fetcher   Fetcher
	Installer Installer
	Store     Store
	Launcher  Launcher
	Probe     Probe
	Recorder  Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithClock overrides time.Now for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator is the update state machine.
type Orchestrator struct {
	cfg         Config
	deps        Deps
	observer    Observer
	now         func() time.Time
	readPayload func(path string) (update.VersionRecord, error)

	mu      sync.Mutex
	snap    Snapshot
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// New validates the configuration and returns an idle orchestrator.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	var missing []string
	for name, ok := range map[string]bool{
		"checker":              deps.Checker != nil,
		"fetcher":              deps.Fetcher != nil,
		"installer":            deps.Installer != nil,
		"store":                deps.Store != nil,
		"launcher":             deps.Launcher != nil,
		"download path":        strings.TrimSpace(cfg.DownloadPath) != "",
		"install directory":    strings.TrimSpace(cfg.InstallDir) != "",
		"payload version path": strings.TrimSpace(cfg.PayloadVersionPath) != "",
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		msg := "updater is missing " + strings.Join(missing, ", ")
		return nil, appErrors.New(appErrors.CodeConfigurationError, msg, nil)
	}

	o := &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		now:         time.Now,
		readPayload: update.ReadRecord,
		snap:        Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Start begins a fresh attempt: load the current record, look for offline
// media, then ask the update server. It returns once the attempt reaches
// UpdateFound or a terminal state. Start is accepted from Idle and Failed once
// the previous attempt has fully unwound.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.done != nil {
		o.mu.Unlock()
		return ErrBusy
	}
	if s := o.snap.State; s != StateIdle && s != StateFailed {
		o.mu.Unlock()
		return ErrBusy
	}
	prev := o.session
	o.session = newSession(o.now())
	o.snap = Snapshot{SessionID: o.session.ID}
	opCtx, finish := o.beginLocked(ctx, StateChecking)
	snap := o.snap
	o.mu.Unlock()
	defer finish()

	prev.cleanup()
	debug.WithField("session", snap.SessionID).Info("update attempt started")
	o.emit(EventState, snap)
	return o.check(opCtx)
}

// Confirm applies the pending offer. From Failed it re-runs the check when the
// check failed and retries the offer when the offer could not be started.
// Failures during download, install or finalize need a fresh Start.
func (o *Orchestrator) Confirm(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.done != nil {
		o.mu.Unlock()
		return ErrBusy
	}
	switch o.snap.State {
	case StateUpdateFound:
	case StateFailed:
		switch o.snap.Stage {
		case StateChecking:
			o.mu.Unlock()
			return o.Start(ctx)
		case StateUpdateFound:
		default:
			o.mu.Unlock()
			return ErrConfirmDisabled
		}
	case StateChecking, StateDownloading, StateInstalling, StateFinalizing:
		o.mu.Unlock()
		return ErrBusy
	default:
		o.mu.Unlock()
		return ErrNoOffer
	}

	sess := o.session
	if sess == nil || sess.Offer.Source == SourceNone {
		o.mu.Unlock()
		return ErrNoOffer
	}
	first := StateDownloading
	if sess.Offer.Source == SourceOffline {
		first = StateInstalling
	}
	o.snap.Progress = update.DownloadProgress{}
	opCtx, finish := o.beginLocked(ctx, first)
	snap := o.snap
	o.mu.Unlock()
	defer finish()

	o.emit(EventState, snap)
	return o.apply(opCtx, sess)
}

// Cancel interrupts the in-flight operation, if any. The operation ends in
// Failed for the stage it was in.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Close cancels any in-flight operation, waits for it to unwind and removes
// the files the current attempt created. Later commands return ErrClosed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	sess.cleanup()
	debug.Log("updater closed")
	return nil
}

// beginLocked moves into state and derives the operation context. The caller
// must hold o.mu and must call the returned finish func when done.
func (o *Orchestrator) beginLocked(parent context.Context, state State) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	o.setLocked(state)

	finish := func() {
		cancel()
		o.mu.Lock()
		if o.done == done {
			o.cancel = nil
			o.done = nil
		}
		o.mu.Unlock()
		close(done)
	}
	return ctx, finish
}

func (o *Orchestrator) setLocked(state State) {
	o.snap.State = state
	if state != StateFailed {
		o.snap.Stage = StateIdle
		o.snap.Err = nil
	}
}

func (o *Orchestrator) check(ctx context.Context) error {
	current, err := o.deps.Store.Load()
	if err != nil {
		return o.fail(StateChecking, err)
	}
	o.mutate(EventState, func(s *Snapshot) { s.Current = current })

	if o.deps.Probe != nil {
		if path, ok := o.deps.Probe.Probe(); ok {
			debug.WithField("archive", path).Info("offline update media found")
			return o.offer(Offer{Source: SourceOffline, ArchivePath: path})
		}
	}

	res, err := o.deps.Checker.CheckForUpdate(ctx, current.Title, current.Version)
	if err != nil {
		return o.fail(StateChecking, err)
	}
	if !res.Available || (res.LatestVersion != "" && !update.Differs(current.Version, res.LatestVersion)) {
		o.transition(StateUpToDate)
		return o.launch(ctx, StateUpToDate)
	}
	return o.offer(Offer{
		Source:        SourceRemote,
		DownloadURL:   res.DownloadURL,
		LatestVersion: res.LatestVersion,
		ReleaseNotes:  res.ReleaseNotes,
		Relation:      update.Compare(current.Version, res.LatestVersion),
	})
}

func (o *Orchestrator) offer(of Offer) error {
	o.mu.Lock()
	o.session.Offer = of
	o.snap.Offer = of
	o.setLocked(StateUpdateFound)
	snap := o.snap
	o.mu.Unlock()

	debug.WithFields(map[string]any{
		"source":  of.Source.String(),
		"version": of.LatestVersion,
		"url":     of.DownloadURL,
	}).Info("update found")
	o.emit(EventState, snap)
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, sess *Session) error {
	offer := sess.Offer
	archive := offer.ArchivePath

	switch offer.Source {
	case SourceOffline:
		if _, ok := (FileProbe{Path: archive}).Probe(); !ok {
			err := appErrors.New(appErrors.CodeInstall, fmt.Sprintf("offline update %s is no longer available", archive), nil)
			return o.fail(StateUpdateFound, err)
		}
	case SourceRemote:
		o.mu.Lock()
		sess.DownloadPath = o.cfg.DownloadPath
		o.mu.Unlock()
		if err := o.deps.Fetcher.Download(ctx, offer.DownloadURL, o.cfg.DownloadPath, o.progress); err != nil {
			return o.fail(StateDownloading, err)
		}
		archive = o.cfg.DownloadPath
		o.transition(StateInstalling)
	}

	o.mu.Lock()
	sess.StagingPath = stagingFor(o.cfg.InstallDir)
	o.mu.Unlock()
	if err := o.deps.Installer.Install(ctx, archive, o.cfg.InstallDir); err != nil {
		return o.fail(StateInstalling, err)
	}

	o.transition(StateFinalizing)
	installed, err := o.readPayload(o.cfg.PayloadVersionPath)
	if err != nil {
		return o.fail(StateFinalizing, err)
	}
	if strings.TrimSpace(installed.Title) == "" {
		installed.Title = o.State().Current.Title
	}
	if err := o.deps.Store.Save(installed); err != nil {
		return o.fail(StateFinalizing, err)
	}

	o.mu.Lock()
	o.snap.Installed = installed
	o.setLocked(StateReadyToLaunch)
	snap := o.snap
	o.mu.Unlock()
	sess.cleanup()

	debug.WithFields(map[string]any{"title": installed.Title, "version": installed.Version}).Info("update installed")
	o.emit(EventState, snap)
	return o.launch(ctx, StateReadyToLaunch)
}

func (o *Orchestrator) launch(ctx context.Context, stage State) error {
	if err := ctx.Err(); err != nil {
		return o.fail(stage, appErrors.New(appErrors.CodeCancelled, "launch skipped: updater closed", err))
	}
	if err := o.deps.Launcher.Start(); err != nil {
		if !appErrors.IsCode(err, appErrors.CodeLaunch) {
			err = appErrors.New(appErrors.CodeLaunch, err.Error(), err)
		}
		return o.fail(stage, err)
	}

	o.mu.Lock()
	o.snap.Launched = true
	snap := o.snap
	sess := o.session
	o.mu.Unlock()

	debug.WithField("stage", stage.String()).Info("game launched")
	o.emit(EventLaunched, snap)
	o.record(sess, snap)
	return nil
}

// fail moves to Failed{stage, err}, removes the attempt's files and returns err.
func (o *Orchestrator) fail(stage State, err error) error {
	o.mu.Lock()
	o.snap.State = StateFailed
	o.snap.Stage = stage
	o.snap.Err = err
	snap := o.snap
	sess := o.session
	o.mu.Unlock()

	debug.WithFields(map[string]any{
		"stage": stage.String(),
		"code":  string(appErrors.CodeOf(err)),
	}).WithError(err).Error("update attempt failed")

	sess.cleanup()
	o.emit(EventState, snap)
	o.record(sess, snap)
	return err
}

func (o *Orchestrator) transition(state State) {
	o.mutate(EventState, func(s *Snapshot) { s.State = state })
	debug.WithField("state", state.String()).Info("update state changed")
}

func (o *Orchestrator) progress(p update.DownloadProgress) {
	o.mutate(EventProgress, func(s *Snapshot) { s.Progress = p })
}

func (o *Orchestrator) mutate(kind EventKind, fn func(*Snapshot)) {
	o.mu.Lock()
	fn(&o.snap)
	snap := o.snap
	o.mu.Unlock()
	o.emit(kind, snap)
}

func (o *Orchestrator) emit(kind EventKind, snap Snapshot) {
	if o.observer != nil {
		o.observer(Event{Kind: kind, Snapshot: snap})
	}
}

// record stores a terminal outcome. Recorder errors never change the outcome.
func (o *Orchestrator) record(sess *Session, snap Snapshot) {
	if o.deps.Recorder == nil || sess == nil {
		return
	}
	a := history.Attempt{
		ID:          sess.ID,
		StartedAt:   sess.StartedAt,
		FinishedAt:  o.now(),
		FromVersion: snap.Current.Version,
		ToVersion:   snap.Offer.LatestVersion,
		Source:      snap.Offer.Source.String(),
	}
	if snap.Installed.Version != "" {
		a.ToVersion = snap.Installed.Version
	}
	switch snap.State {
	case StateUpToDate:
		a.Outcome = history.OutcomeUpToDate
		a.Source = SourceRemote.String()
	case StateReadyToLaunch:
		a.Outcome = history.OutcomeUpdated
	default:
		a.Outcome = history.OutcomeFailed
		a.Stage = snap.Stage.String()
		if snap.Err != nil {
			a.ErrorCode = string(appErrors.CodeOf(snap.Err))
			a.Error = snap.Err.Error()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := o.deps.Recorder.Record(ctx, a); err != nil {
		debug.WithField("session", sess.ID).WithError(err).Warn("record update attempt")
	}
}
