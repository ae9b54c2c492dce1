package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	return c.validateWorker()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres driver (set DATABASE_URL)")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Provider {
	case "localfs":
		if c.Storage.LocalRoot == "" {
			return errors.New("storage.local_root must be set for the localfs provider")
		}
	case "gdrive":
		g := c.Storage.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return errors.New("storage.gdrive requires client_id, client_secret and refresh_token")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	return nil
}

func (c *Config) validateMedia() error {
	m := c.Media
	if m.FFmpeg == "" || m.FFprobe == "" || m.Pdftoppm == "" {
		return errors.New("media.ffmpeg, media.ffprobe and media.pdftoppm must be set")
	}
	for name, v := range map[string]int{
		"slide_width":    m.SlideWidth,
		"slide_height":   m.SlideHeight,
		"speaker_width":  m.SpeakerWidth,
		"speaker_height": m.SpeakerHeight,
	} {
		// libx264 rejects odd frame dimensions.
		if v <= 0 || v%2 != 0 {
			return fmt.Errorf("media.%s must be a positive even number, got %d", name, v)
		}
	}
	if m.SlideHeight != m.SpeakerHeight {
		return fmt.Errorf("media.slide_height (%d) and media.speaker_height (%d) must match for side-by-side composition", m.SlideHeight, m.SpeakerHeight)
	}
	if m.RasterDPI <= 0 {
		return errors.New("media.raster_dpi must be positive")
	}
	if m.NarrationTolerance < 0 {
		return errors.New("media.narration_tolerance_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.WorkRoot == "" {
		return errors.New("worker.work_root must be set")
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		return errors.New("worker.job_timeout_seconds must be positive")
	}
	if c.Worker.StaleWorkMaxAgeSeconds <= 0 {
		return errors.New("worker.stale_work_max_age_seconds must be positive")
	}
	// The janitor must never sweep the directory of a job still inside its timeout.
	if c.Worker.StaleWorkMaxAgeSeconds <= c.Worker.JobTimeoutSeconds {
		return errors.New("worker.stale_work_max_age_seconds must be greater than worker.job_timeout_seconds")
	}
	if c.Worker.StaleSweepIntervalSeconds <= 0 {
		return errors.New("worker.stale_sweep_interval_seconds must be positive")
	}
	if c.Worker.LeaseSeconds <= 0 {
		return errors.New("worker.lease_seconds must be positive")
	}
	return nil
}
