// Package config loads presgen settings: built-in defaults, then an optional
// TOML file, then environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// PathEnv names the environment variable that points at the TOML file.
const PathEnv = "PRESGEN_CONFIG"

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Source bool   `toml:"source"`
}

// HTTP contains configuration for the api process.
type HTTP struct {
	Port                  string   `toml:"port"`
	CORSOrigins           []string `toml:"cors_origins"`
	MaxUploadMB           int      `toml:"max_upload_mb"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
}

// Store selects the job status backend.
type Store struct {
	Driver      string `toml:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
}

// Queue contains the Redis dispatch settings.
type Queue struct {
	RedisAddr         string `toml:"redis_addr"`
	Name              string `toml:"name"`
	PopTimeoutSeconds int    `toml:"pop_timeout_seconds"`
}

// GDrive holds the OAuth client used by the gdrive storage provider.
type GDrive struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	FolderID     string `toml:"folder_id"`
}

// Storage selects where uploaded sources and rendered videos live.
type Storage struct {
	Provider  string `toml:"provider"` // "localfs" or "gdrive"
	LocalRoot string `toml:"local_root"`
	GDrive    GDrive `toml:"gdrive"`
}

// Media contains the external binaries and the frame geometry of the
// composed video.
type Media struct {
	FFmpeg             string  `toml:"ffmpeg"`
	FFprobe            string  `toml:"ffprobe"`
	Pdftoppm           string  `toml:"pdftoppm"`
	RasterDPI          int     `toml:"raster_dpi"`
	SlideWidth         int     `toml:"slide_width"`
	SlideHeight        int     `toml:"slide_height"`
	SpeakerWidth       int     `toml:"speaker_width"`
	SpeakerHeight      int     `toml:"speaker_height"`
	VideoCodec         string  `toml:"video_codec"`
	AudioCodec         string  `toml:"audio_codec"`
	CheckNarrationSpan bool    `toml:"check_narration_span"`
	NarrationTolerance float64 `toml:"narration_tolerance_seconds"`
}

// Worker contains job execution settings.
type Worker struct {
	WorkRoot                  string `toml:"work_root"`
	JobTimeoutSeconds         int    `toml:"job_timeout_seconds"`
	StaleWorkMaxAgeSeconds    int    `toml:"stale_work_max_age_seconds"`
	StaleSweepIntervalSeconds int    `toml:"stale_sweep_interval_seconds"`
	KeepSources               bool   `toml:"keep_sources"`
	// ID names this worker as the owner of the jobs it runs. Empty means
	// "<hostname>-<pid>".
	ID           string `toml:"id"`
	LeaseSeconds int    `toml:"lease_seconds"`
}

// Config encapsulates all configuration values.
//
// Sections by subsystem:
//   - Logging: level, format and source locations
//   - HTTP: api listen port, CORS and upload limits
//   - Store: job status backend (postgres or sqlite)
//   - Queue: Redis list used to dispatch jobs
//   - Storage: object storage for sources and rendered videos
//   - Media: ffmpeg tooling and frame sizes
//   - Worker: working directories, timeouts and the stale work sweep
type Config struct {
	Logging Logging `toml:"logging"`
	HTTP    HTTP    `toml:"http"`
	Store   Store   `toml:"store"`
	Queue   Queue   `toml:"queue"`
	Storage Storage `toml:"storage"`
	Media   Media   `toml:"media"`
	Worker  Worker  `toml:"worker"`
}

// Load parses the TOML file at path (or $PRESGEN_CONFIG when path is empty),
// applies environment overrides and validates the result. It returns the
// resolved file path and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(PathEnv))
	}

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	} else if path != "" {
		return nil, "", false, fmt.Errorf("config file %s does not exist", resolved)
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		projectPath, err := filepath.Abs("presgen.toml")
		if err != nil {
			return "", false, err
		}
		if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
			return projectPath, true, nil
		}
		return "", false, nil
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

// applyEnv overlays the environment variables the containers are deployed
// with. Unset variables keep the file or default value.
func (c *Config) applyEnv() {
	c.Logging.Level = Env("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = Env("LOG_FORMAT", c.Logging.Format)
	c.Logging.Source = BoolEnv("LOG_SOURCE", c.Logging.Source)

	c.HTTP.Port = Env("HTTP_PORT", c.HTTP.Port)
	c.HTTP.CORSOrigins = ListEnv("CORS_ALLOWED_ORIGINS", c.HTTP.CORSOrigins)
	c.HTTP.MaxUploadMB = IntEnv("MAX_UPLOAD_MB", c.HTTP.MaxUploadMB)
	c.HTTP.RequestTimeoutSeconds = seconds(DurationEnv("REQUEST_TIMEOUT", secondsDuration(c.HTTP.RequestTimeoutSeconds)))

	c.Store.Driver = Env("STORE_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = Env("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = Env("SQLITE_PATH", c.Store.SQLitePath)

	c.Queue.RedisAddr = Env("REDIS_ADDR", c.Queue.RedisAddr)
	c.Queue.Name = Env("JOB_QUEUE_NAME", c.Queue.Name)
	c.Queue.PopTimeoutSeconds = seconds(DurationEnv("QUEUE_POP_TIMEOUT", secondsDuration(c.Queue.PopTimeoutSeconds)))

	c.Storage.Provider = Env("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.LocalRoot = Env("STORAGE_LOCAL_ROOT", c.Storage.LocalRoot)
	c.Storage.GDrive.ClientID = Env("GDRIVE_CLIENT_ID", c.Storage.GDrive.ClientID)
	c.Storage.GDrive.ClientSecret = Env("GDRIVE_CLIENT_SECRET", c.Storage.GDrive.ClientSecret)
	c.Storage.GDrive.RefreshToken = Env("GDRIVE_REFRESH_TOKEN", c.Storage.GDrive.RefreshToken)
	c.Storage.GDrive.FolderID = Env("GDRIVE_FOLDER_ID", c.Storage.GDrive.FolderID)

	c.Media.FFmpeg = Env("FFMPEG_BIN", c.Media.FFmpeg)
	c.Media.FFprobe = Env("FFPROBE_BIN", c.Media.FFprobe)
	c.Media.Pdftoppm = Env("PDFTOPPM_BIN", c.Media.Pdftoppm)
	c.Media.VideoCodec = Env("VIDEO_CODEC", c.Media.VideoCodec)
	c.Media.AudioCodec = Env("AUDIO_CODEC", c.Media.AudioCodec)
	c.Media.CheckNarrationSpan = BoolEnv("CHECK_NARRATION_SPAN", c.Media.CheckNarrationSpan)

	c.Worker.WorkRoot = Env("WORK_ROOT", c.Worker.WorkRoot)
	c.Worker.JobTimeoutSeconds = seconds(DurationEnv("JOB_TIMEOUT", secondsDuration(c.Worker.JobTimeoutSeconds)))
	c.Worker.StaleWorkMaxAgeSeconds = seconds(DurationEnv("STALE_WORK_MAX_AGE", secondsDuration(c.Worker.StaleWorkMaxAgeSeconds)))
	c.Worker.StaleSweepIntervalSeconds = seconds(DurationEnv("STALE_SWEEP_INTERVAL", secondsDuration(c.Worker.StaleSweepIntervalSeconds)))
	c.Worker.KeepSources = BoolEnv("KEEP_SOURCES", c.Worker.KeepSources)
	c.Worker.ID = Env("WORKER_ID", c.Worker.ID)
	c.Worker.LeaseSeconds = seconds(DurationEnv("WORKER_LEASE", secondsDuration(c.Worker.LeaseSeconds)))
}

func (c *Config) normalize() error {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	c.HTTP.Port = strings.TrimPrefix(strings.TrimSpace(c.HTTP.Port), ":")

	var err error
	if c.Worker.WorkRoot, err = expandPath(c.Worker.WorkRoot); err != nil {
		return err
	}
	if c.Storage.LocalRoot, err = expandPath(c.Storage.LocalRoot); err != nil {
		return err
	}
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return err
	}
	return nil
}

// JobTimeout bounds a single pipeline run inside the worker.
func (c *Config) JobTimeout() time.Duration {
	return secondsDuration(c.Worker.JobTimeoutSeconds)
}

// StaleWorkMaxAge is the age after which an abandoned job directory is swept.
func (c *Config) StaleWorkMaxAge() time.Duration {
	return secondsDuration(c.Worker.StaleWorkMaxAgeSeconds)
}

// StaleSweepInterval is how often the worker repeats the sweep.
func (c *Config) StaleSweepInterval() time.Duration {
	return secondsDuration(c.Worker.StaleSweepIntervalSeconds)
}

// Lease is how long a RUNNING job stays owned by its worker without a
// heartbeat. Other workers fail it after that.
func (c *Config) Lease() time.Duration {
	return secondsDuration(c.Worker.LeaseSeconds)
}

// PopTimeout is the BRPOP block time of the worker loop.
func (c *Config) PopTimeout() time.Duration {
	return secondsDuration(c.Queue.PopTimeoutSeconds)
}

// RequestTimeout bounds synchronous api handlers such as deck rendering.
func (c *Config) RequestTimeout() time.Duration {
	return secondsDuration(c.HTTP.RequestTimeoutSeconds)
}

// MaxUploadBytes is the multipart body limit of POST /videos.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.HTTP.MaxUploadMB) << 20
}

// EnsureDirectories creates the directories the worker writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Worker.WorkRoot}
	if c.Storage.Provider == "localfs" {
		dirs = append(dirs, c.Storage.LocalRoot)
	}
	if c.Store.Driver == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Store.SQLitePath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

func secondsDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}
