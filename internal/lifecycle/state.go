package lifecycle

import (
	"gameupdater/internal/update"
)

// State is a step of the update lifecycle.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateUpToDate
	StateUpdateFound
	StateDownloading
	StateInstalling
	StateFinalizing
	StateReadyToLaunch
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateUpToDate:
		return "up_to_date"
	case StateUpdateFound:
		return "update_found"
	case StateDownloading:
		return "downloading"
	case StateInstalling:
		return "installing"
	case StateFinalizing:
		return "finalizing"
	case StateReadyToLaunch:
		return "ready_to_launch"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether an operation is in flight in this state.
func (s State) Busy() bool {
	switch s {
	case StateChecking, StateDownloading, StateInstalling, StateFinalizing:
		return true
	default:
		return false
	}
}

// Source says where an update artifact comes from.
type Source int

const (
	SourceNone Source = iota
	SourceRemote
	SourceOffline
)

// String returns the string representation of a Source.
func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceOffline:
		return "offline"
	default:
		return ""
	}
}

// Label returns a human description of the source.
func (s Source) Label() string {
	switch s {
	case SourceRemote:
		return "update server"
	case SourceOffline:
		return "offline media"
	default:
		return ""
	}
}

// Offer is the pending update waiting for confirmation.
type Offer struct {
	Source        Source
	DownloadURL   string // remote only
	ArchivePath   string // offline only
	LatestVersion string // may be empty
	ReleaseNotes  string
	Relation      update.Relation
}

// Snapshot is a copy of the orchestrator's observable state.
type Snapshot struct {
	State State
	// Stage is the state that failed when State is StateFailed.
	Stage State
	Err   error

	SessionID string
	Current   update.VersionRecord
	Offer     Offer
	Progress  update.DownloadProgress
	Installed update.VersionRecord
	// Launched is set once the game process has been started.
	Launched bool
}

// CanConfirm reports whether Confirm would start work from this snapshot.
func (s Snapshot) CanConfirm() bool {
	switch s.State {
	case StateUpdateFound:
		return true
	case StateFailed:
		return s.Stage == StateChecking || s.Stage == StateUpdateFound
	default:
		return false
	}
}

// EventKind distinguishes state changes from progress ticks.
type EventKind int

const (
	EventState EventKind = iota
	EventProgress
	EventLaunched
)

// Event is delivered to the Observer on every transition and progress tick.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Observer receives events synchronously on the goroutine doing the work.
type Observer func(Event)
