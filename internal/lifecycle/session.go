package lifecycle

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"gameupdater/internal/debug"
	"gameupdater/internal/update"
)

// Session is one update attempt. It owns whatever files it creates and
// removes them when the attempt ends.
type Session struct {
	ID        string
	StartedAt time.Time
	Offer     Offer

	// DownloadPath is set once a remote download has been started.
	DownloadPath string
	// StagingPath is set once installation has been started.
	StagingPath string
}

func newSession(now time.Time) *Session {
	return &Session{ID: uuid.NewString(), StartedAt: now}
}

// cleanup removes the temporary download and staging directory. An offline
// archive is never removed because the session did not create it.
func (s *Session) cleanup() {
	if s == nil {
		return
	}
	log := debug.WithField("session", s.ID)
	if s.DownloadPath != "" {
		if err := os.Remove(s.DownloadPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Warn("remove downloaded artifact")
		}
		s.DownloadPath = ""
	}
	if s.StagingPath != "" {
		if err := os.RemoveAll(s.StagingPath); err != nil {
			log.WithError(err).Warn("remove staging directory")
		}
		s.StagingPath = ""
	}
}

// Probe reports whether an offline update archive is available.
type Probe interface {
	Probe() (path string, ok bool)
}

// FileProbe looks for an archive at a fixed path.
type FileProbe struct {
	Path string
}

// Probe implements Probe. Directories and empty paths never match.
func (p FileProbe) Probe() (string, bool) {
	path := strings.TrimSpace(p.Path)
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// stagingFor returns the staging directory the installer will use.
func stagingFor(installDir string) string {
	return update.StagingDir(installDir)
}
