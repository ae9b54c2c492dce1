package config

import (
	"io"

	"github.com/DrPeryCox/pres-gen-new/internal/pipeline"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
	"github.com/DrPeryCox/pres-gen-new/internal/transcode"
)

// LoggerConfig returns the logger settings for the named service.
func (c *Config) LoggerConfig(service string, out io.Writer) logger.Config {
	return logger.Config{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		Output:      out,
		AddSource:   c.Logging.Source,
		ServiceName: service,
	}
}

// TranscodeOptions returns the media tool settings.
func (c *Config) TranscodeOptions() transcode.Options {
	m := c.Media
	return transcode.Options{
		FFmpeg:        m.FFmpeg,
		FFprobe:       m.FFprobe,
		Pdftoppm:      m.Pdftoppm,
		RasterDPI:     m.RasterDPI,
		SlideWidth:    m.SlideWidth,
		SlideHeight:   m.SlideHeight,
		SpeakerWidth:  m.SpeakerWidth,
		SpeakerHeight: m.SpeakerHeight,
		VideoCodec:    m.VideoCodec,
		AudioCodec:    m.AudioCodec,
	}
}

// PipelineConfig returns the orchestrator settings. Sources are removed
// after each run unless worker.keep_sources is set.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		WorkRoot:           c.Worker.WorkRoot,
		RemoveSources:      !c.Worker.KeepSources,
		CheckNarrationSpan: c.Media.CheckNarrationSpan,
		NarrationTolerance: c.Media.NarrationTolerance,
	}
}
