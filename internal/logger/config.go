package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" json:"default_level"` // default log level for all modules
	Timezone     string            `yaml:"timezone" json:"timezone"`           // "Local", "UTC", or IANA timezone name
	Console      *ConsoleOutput    `yaml:"console" json:"console"`             // console output configuration
	FilePath     string            `yaml:"file" json:"file"`                   // optional JSON log file, empty disables
	ModuleLevels map[string]string `yaml:"module_levels" json:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output goes to stderr so stdout stays clean for command results.
type ConsoleOutput struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	JSON    bool `yaml:"json" json:"json"`
}

// DefaultLogLevel matches the default in conf/defaults.go
const DefaultLogLevel = "info"

// applyConfigDefaults fills nil sections so a bare config still logs to the console
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true}
	}
}
