package config

const (
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultHTTPPort           = "8080"
	defaultMaxUploadMB        = 1024
	defaultRequestTimeout     = 120
	defaultStoreDriver        = "sqlite"
	defaultSQLitePath         = "./data/presgen.db"
	defaultRedisAddr          = "localhost:6379"
	defaultQueueName          = "presgen:jobs"
	defaultPopTimeout         = 5
	defaultStorageProvider    = "localfs"
	defaultStorageRoot        = "./data/objects"
	defaultFFmpeg             = "ffmpeg"
	defaultFFprobe            = "ffprobe"
	defaultPdftoppm           = "pdftoppm"
	defaultRasterDPI          = 150
	defaultSlideSize          = 1080
	defaultSpeakerWidth       = 840
	defaultSpeakerHeight      = 1080
	defaultVideoCodec         = "libx264"
	defaultAudioCodec         = "aac"
	defaultNarrationTolerance = 0.05
	defaultWorkRoot           = "./data/work"
	defaultJobTimeout         = 3600
	defaultStaleWorkMaxAge    = 6 * 3600
	defaultStaleSweepInterval = 1800
	defaultWorkerLease        = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		HTTP: HTTP{
			Port:                  defaultHTTPPort,
			CORSOrigins:           []string{"*"},
			MaxUploadMB:           defaultMaxUploadMB,
			RequestTimeoutSeconds: defaultRequestTimeout,
		},
		Store: Store{
			Driver:     defaultStoreDriver,
			SQLitePath: defaultSQLitePath,
		},
		Queue: Queue{
			RedisAddr:         defaultRedisAddr,
			Name:              defaultQueueName,
			PopTimeoutSeconds: defaultPopTimeout,
		},
		Storage: Storage{
			Provider:  defaultStorageProvider,
			LocalRoot: defaultStorageRoot,
		},
		Media: Media{
			FFmpeg:             defaultFFmpeg,
			FFprobe:            defaultFFprobe,
			Pdftoppm:           defaultPdftoppm,
			RasterDPI:          defaultRasterDPI,
			SlideWidth:         defaultSlideSize,
			SlideHeight:        defaultSlideSize,
			SpeakerWidth:       defaultSpeakerWidth,
			SpeakerHeight:      defaultSpeakerHeight,
			VideoCodec:         defaultVideoCodec,
			AudioCodec:         defaultAudioCodec,
			CheckNarrationSpan: true,
			NarrationTolerance: defaultNarrationTolerance,
		},
		Worker: Worker{
			WorkRoot:                  defaultWorkRoot,
			JobTimeoutSeconds:         defaultJobTimeout,
			StaleWorkMaxAgeSeconds:    defaultStaleWorkMaxAge,
			StaleSweepIntervalSeconds: defaultStaleSweepInterval,
			LeaseSeconds:              defaultWorkerLease,
		},
	}
}
