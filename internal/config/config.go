package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	appErrors "gameupdater/internal/errors"
)

const (
	KeyAPIURL              = "api_url"
	KeyLaunchCommand       = "launch_command"
	KeyLaunchArgs          = "launch_args"
	KeyDownloadLocation    = "download_location"
	KeyInstallLocation     = "install_location"
	KeyVersionFile         = "version_file"
	KeyOfflineArtifactPath = "offline_artifact_path"
	KeyPayloadVersionFile  = "payload_version_file"
	KeyCheckTimeout        = "check_timeout"
	KeyDownloadTimeout     = "download_timeout"
	KeyHistoryDB           = "history_db"
	KeyDebug               = "debug"
	KeyLogFile             = "log_file"

	KeyGameBatchFile = "game_batch_file" // Deprecated: use KeyLaunchCommand.
	KeyUnzipLocation = "unzip_location"  // Deprecated: use KeyInstallLocation.
)

const (
	// SettingsFileName is the file looked up next to the executable and in the working directory.
	SettingsFileName = "settings.json"

	DefaultPayloadVersionFile = "new_version.json"
	DefaultCheckTimeout       = 15 * time.Second
	DefaultHistoryFileName    = "history.db"
	historyDisabled           = "none"

	envPrefix = "GU"
)

// Settings is the validated, typed configuration consumed by the rest of the program.
type Settings struct {
	APIURL              string
	LaunchCommand       string
	LaunchArgs          []string
	DownloadLocation    string
	InstallLocation     string
	VersionFile         string
	OfflineArtifactPath string
	PayloadVersionFile  string
	CheckTimeout        time.Duration
	DownloadTimeout     time.Duration
	HistoryDB           string // empty disables attempt history
	Debug               bool
	LogFile             string

	// SourceFiles lists the settings files that were merged, lowest precedence first.
	SourceFiles []string
}

// DownloadPath is where remote artifacts are written before install.
func (s Settings) DownloadPath() string {
	return filepath.Join(s.DownloadLocation, "update.zip")
}

// PayloadVersionPath is the version record shipped inside an installed payload.
func (s Settings) PayloadVersionPath() string {
	return filepath.Join(s.InstallLocation, s.PayloadVersionFile)
}

type loadSettings struct {
	workingDir    string
	executableDir string
	settingsFile  string
	overrides     map[string]any
}

// Option configures Load behaviour. Useful for tests to override paths.
type Option func(*loadSettings)

// WithWorkingDir overrides the directory searched for settings.json.
func WithWorkingDir(dir string) Option {
	return func(cfg *loadSettings) {
		cfg.workingDir = dir
	}
}

// WithExecutableDir overrides the directory of the running binary.
func WithExecutableDir(dir string) Option {
	return func(cfg *loadSettings) {
		cfg.executableDir = dir
	}
}

// WithSettingsFile merges an explicit settings file on top of discovered ones.
// Unlike discovered files it must exist.
func WithSettingsFile(path string) Option {
	return func(cfg *loadSettings) {
		cfg.settingsFile = path
	}
}

// WithOverrides injects values typically coming from CLI flags.
func WithOverrides(overrides map[string]any) Option {
	return func(cfg *loadSettings) {
		if cfg.overrides == nil {
			cfg.overrides = map[string]any{}
		}
		for k, v := range overrides {
			cfg.overrides[k] = v
		}
	}
}

// Load reads configuration using the precedence:
// defaults < executable-dir settings.json < working-dir settings.json < --config file
// < environment variables < overrides. The result is validated once; any missing or
// invalid key fails with CodeConfigurationError.
func Load(opts ...Option) (Settings, error) {
	settings := loadSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	v, sources, baseDir, err := configure(&settings)
	if err != nil {
		return Settings{}, appErrors.New(appErrors.CodeConfigurationError, err.Error(), err)
	}
	s, err := build(v, baseDir)
	if err != nil {
		return Settings{}, err
	}
	s.SourceFiles = sources
	return s, nil
}

func configure(settings *loadSettings) (*viper.Viper, []string, string, error) {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, "", fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	exeDir := strings.TrimSpace(settings.executableDir)
	if exeDir == "" {
		if exe, err := os.Executable(); err == nil {
			exeDir = filepath.Dir(exe)
		}
	}

	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var sources []string
	baseDir := workingDir
	candidates := []string{}
	if exeDir != "" {
		candidates = append(candidates, filepath.Join(exeDir, SettingsFileName))
	}
	candidates = append(candidates, filepath.Join(workingDir, SettingsFileName))
	seen := map[string]struct{}{}
	for _, path := range candidates {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		merged, err := mergeConfigFile(v, path, false)
		if err != nil {
			return nil, nil, "", fmt.Errorf("load settings: %w", err)
		}
		if merged {
			sources = append(sources, path)
			baseDir = filepath.Dir(path)
		}
	}

	if explicit := strings.TrimSpace(settings.settingsFile); explicit != "" {
		if _, err := mergeConfigFile(v, explicit, true); err != nil {
			return nil, nil, "", fmt.Errorf("load settings: %w", err)
		}
		sources = append(sources, explicit)
		baseDir = filepath.Dir(explicit)
	}

	applyLegacyKeys(v)

	for k, val := range settings.overrides {
		v.Set(k, val)
	}
	return v, sources, baseDir, nil
}

func mergeConfigFile(v *viper.Viper, path string, required bool) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return false, fmt.Errorf("settings file %s does not exist", path)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads settings files
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPayloadVersionFile, DefaultPayloadVersionFile)
	v.SetDefault(KeyCheckTimeout, DefaultCheckTimeout)
	v.SetDefault(KeyDownloadTimeout, time.Duration(0))
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLaunchArgs, []string{})
	v.SetDefault(KeyOfflineArtifactPath, "")

	// Registered so AutomaticEnv can resolve them even without a file.
	for _, k := range []string{KeyAPIURL, KeyLaunchCommand, KeyDownloadLocation, KeyInstallLocation, KeyVersionFile, KeyLogFile} {
		v.SetDefault(k, "")
	}
}

// applyLegacyKeys maps keys used by older settings.json files onto their replacements
// unless the new key was set explicitly.
func applyLegacyKeys(v *viper.Viper) {
	legacy := map[string]string{
		KeyGameBatchFile: KeyLaunchCommand,
		KeyUnzipLocation: KeyInstallLocation,
	}
	for old, current := range legacy {
		if strings.TrimSpace(v.GetString(current)) != "" {
			continue
		}
		if v.IsSet(old) {
			v.Set(current, v.GetString(old))
		}
	}
}

func build(v *viper.Viper, baseDir string) (Settings, error) {
	s := Settings{
		APIURL:              strings.TrimSpace(v.GetString(KeyAPIURL)),
		LaunchCommand:       strings.TrimSpace(v.GetString(KeyLaunchCommand)),
		LaunchArgs:          v.GetStringSlice(KeyLaunchArgs),
		DownloadLocation:    resolvePath(baseDir, v.GetString(KeyDownloadLocation)),
		InstallLocation:     resolvePath(baseDir, v.GetString(KeyInstallLocation)),
		VersionFile:         resolvePath(baseDir, v.GetString(KeyVersionFile)),
		OfflineArtifactPath: resolvePath(baseDir, v.GetString(KeyOfflineArtifactPath)),
		PayloadVersionFile:  strings.TrimSpace(v.GetString(KeyPayloadVersionFile)),
		CheckTimeout:        v.GetDuration(KeyCheckTimeout),
		DownloadTimeout:     v.GetDuration(KeyDownloadTimeout),
		Debug:               v.GetBool(KeyDebug),
		LogFile:             resolvePath(baseDir, v.GetString(KeyLogFile)),
	}

	var problems []string
	if s.APIURL == "" {
		problems = append(problems, KeyAPIURL+" is required")
	} else if u, err := url.Parse(s.APIURL); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("%s %q must be an absolute http(s) URL", KeyAPIURL, s.APIURL))
	}
	if s.LaunchCommand == "" {
		problems = append(problems, KeyLaunchCommand+" is required")
	}
	if s.DownloadLocation == "" {
		problems = append(problems, KeyDownloadLocation+" is required")
	}
	if s.InstallLocation == "" {
		problems = append(problems, KeyInstallLocation+" is required")
	}
	if s.VersionFile == "" {
		problems = append(problems, KeyVersionFile+" is required")
	}
	if s.PayloadVersionFile == "" || filepath.IsAbs(s.PayloadVersionFile) || strings.HasPrefix(filepath.Clean(s.PayloadVersionFile), "..") {
		problems = append(problems, KeyPayloadVersionFile+" must be a path relative to "+KeyInstallLocation)
	}
	if s.CheckTimeout <= 0 {
		problems = append(problems, KeyCheckTimeout+" must be positive")
	}
	if s.DownloadTimeout < 0 {
		problems = append(problems, KeyDownloadTimeout+" must not be negative")
	}
	if len(problems) > 0 {
		msg := "invalid settings: " + strings.Join(problems, "; ")
		return Settings{}, appErrors.New(appErrors.CodeConfigurationError, msg, nil)
	}

	switch history := strings.TrimSpace(v.GetString(KeyHistoryDB)); {
	case !v.IsSet(KeyHistoryDB):
		s.HistoryDB = filepath.Join(s.DownloadLocation, DefaultHistoryFileName)
	case history == "" || history == historyDisabled:
		s.HistoryDB = ""
	default:
		s.HistoryDB = resolvePath(baseDir, history)
	}

	return s, nil
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
