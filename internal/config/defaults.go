package config

const (
	defaultStagingDir       = "~/.local/share/mamlarr/staging"
	defaultLibraryDir       = "~/audiobooks"
	defaultLogDir           = "~/.local/share/mamlarr/logs"
	defaultCoverCacheDir    = "~/.local/share/mamlarr/cache/covers"
	defaultDownloadEndpoint = "/tor/download.php?tid={id}"
	defaultTrackerTimeout   = 30
	defaultBackend          = BackendQBittorrent
	defaultBackendTimeout   = 30
	defaultRetryAttempts    = 4
	defaultRetryDelayMS     = 500
	defaultRetryJitterMS    = 250
	defaultTargetSeedHours  = 72.0
	defaultRatioFloor       = 1.0
	defaultMaxUnsatisfied   = 10
	defaultRatioScope       = RatioScopeAccount
	defaultFFmpegBinary     = "ffmpeg"
	defaultToolTimeout      = 1800
	defaultNtfyTimeout      = 10
	defaultPollInterval     = 30
	defaultErrorRetry       = 10
	defaultWorkerCount      = 4
	defaultMaxRetries       = 5
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Backend identifiers accepted by torrents.backend.
const (
	BackendQBittorrent  = "qbittorrent"
	BackendTransmission = "transmission"
)

// Ratio scope values accepted by seeding.ratio_scope.
const (
	RatioScopeAccount = "account"
	RatioScopeJob     = "job"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:    defaultStagingDir,
			LibraryDir:    defaultLibraryDir,
			LogDir:        defaultLogDir,
			CoverCacheDir: defaultCoverCacheDir,
		},
		Tracker: Tracker{
			DownloadEndpoint: defaultDownloadEndpoint,
			RequestTimeout:   defaultTrackerTimeout,
		},
		Torrents: Torrents{
			Backend:        defaultBackend,
			RequestTimeout: defaultBackendTimeout,
			RetryAttempts:  defaultRetryAttempts,
			RetryDelayMS:   defaultRetryDelayMS,
			RetryJitterMS:  defaultRetryJitterMS,
		},
		Seeding: Seeding{
			TargetSeedHours: defaultTargetSeedHours,
			RatioFloor:      defaultRatioFloor,
			MaxUnsatisfied:  defaultMaxUnsatisfied,
			RatioScope:      defaultRatioScope,
		},
		PostProcess: PostProcess{
			EnableMerge:  true,
			FFmpegBinary: defaultFFmpegBinary,
			ToolTimeout:  defaultToolTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			Downloads:      true,
			Completion:     true,
			Errors:         true,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetry,
			WorkerCount:        defaultWorkerCount,
			MaxRetries:         defaultMaxRetries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
