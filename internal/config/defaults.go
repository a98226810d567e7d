package config

const (
	defaultStudyKeyColumn        = "study_id"
	defaultLocatorColumn         = "path"
	defaultOutputPathColumn      = "dcm_path"
	defaultErrorColumn           = "dcm_error"
	defaultMetadataKeyColumn     = "study_id"
	defaultMetadataSQLiteTable   = "metadata"
	defaultTimeoutSeconds        = 60
	defaultCheckpointEvery       = 2000
	defaultStartupTimeoutSeconds = 30
	defaultShutdownGraceSeconds  = 5
	defaultMaxRespawnFailures    = 3
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultErrorLogSuffix        = ".errors.log"
	defaultConfigRelPath         = "~/.config/ecgbatch/config.toml"
	projectConfigName            = "ecgbatch.toml"
)

var defaultMetadataRequired = []string{"subject_id", "cart_id", "ecg_time"}

// Default returns a Config populated with repository defaults. Workers is left
// at zero and resolved to the CPU count during normalization.
func Default() Config {
	return Config{
		Columns: Columns{
			StudyKey:            defaultStudyKeyColumn,
			Locator:             defaultLocatorColumn,
			OutputPath:          defaultOutputPathColumn,
			Error:               defaultErrorColumn,
			MetadataKey:         defaultMetadataKeyColumn,
			MetadataRequired:    append([]string(nil), defaultMetadataRequired...),
			MetadataSQLiteTable: defaultMetadataSQLiteTable,
		},
		Run: Run{
			TimeoutSeconds:        defaultTimeoutSeconds,
			CheckpointEvery:       defaultCheckpointEvery,
			StartupTimeoutSeconds: defaultStartupTimeoutSeconds,
			ShutdownGraceSeconds:  defaultShutdownGraceSeconds,
			MaxRespawnFailures:    defaultMaxRespawnFailures,
			Progress:              true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
