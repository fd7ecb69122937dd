// Package debug provides debug logging infrastructure for gameupdater.
// Logging is only enabled when --debug (or the debug setting) is passed at startup.
// Logs are written to ~/.gameupdater/debug.log; each launch starts a fresh file
// and the previous one is kept as a rotated backup.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LogFileName is the name of the debug log file.
	LogFileName = "debug.log"
	// LogDirName is the name of the directory containing the log file.
	LogDirName = ".gameupdater"
)

var (
	mu      sync.RWMutex
	enabled bool
	logger  *log.Logger
	logFile *lumberjack.Logger

	// getLogPath is a function variable to allow overriding in tests.
	getLogPath = defaultGetLogPath
)

type initSettings struct {
	path string
}

// Option configures Init.
type Option func(*initSettings)

// WithPath writes the log to path instead of the default location.
func WithPath(path string) Option {
	return func(s *initSettings) {
		s.path = path
	}
}

// Init initializes the debug logging system.
// If enable is false, all logging operations become no-ops.
func Init(enable bool, opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	settings := initSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	enabled = enable
	if !enable {
		logger = newLogger(io.Discard)
		return nil
	}

	logPath := settings.path
	if logPath == "" {
		p, err := getLogPath()
		if err != nil {
			return fmt.Errorf("determine log path: %w", err)
		}
		logPath = p
	}

	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.ToSlash(logPath),
		MaxSize:    5, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	// Start every launch on a fresh file.
	if err := lj.Rotate(); err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logFile = lj

	logger = newLogger(lj)
	logger.Infof("=== gameupdater debug log started at %s ===", time.Now().Format(time.RFC3339))

	return nil
}

func newLogger(w io.Writer) *log.Logger {
	l := log.New()
	l.SetOutput(w)
	l.SetLevel(log.DebugLevel)
	l.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	return l
}

// Close closes the debug log file if open.
// Safe to call even if logging is disabled.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Log writes a debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Print.
func Log(v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return
	}
	logger.Info(v...)
}

// Logf writes a formatted debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Printf.
func Logf(format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return
	}
	logger.Infof(format, v...)
}

// WithField returns a structured entry carrying a single field.
func WithField(key string, value any) *log.Entry {
	return WithFields(log.Fields{key: value})
}

// WithError returns a structured entry carrying err.
func WithError(err error) *log.Entry {
	return WithFields(log.Fields{}).WithError(err)
}

// WithFields returns a structured entry. When logging is disabled the entry
// writes to a discarding logger.
func WithFields(fields log.Fields) *log.Entry {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled || logger == nil {
		return log.NewEntry(discard).WithFields(fields)
	}
	return logger.WithFields(fields)
}

var discard = newLogger(io.Discard)

// Enabled returns whether debug logging is currently enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// defaultGetLogPath returns the path to the debug log file.
func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

// GetLogPath returns the path to the debug log file.
// Exported for use by other packages that need to know where logs are.
func GetLogPath() (string, error) {
	return getLogPath()
}
