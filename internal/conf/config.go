package conf

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// Catalog types.
const (
	CatalogLabels = "labels"
	CatalogSQLite = "sqlite"
	CatalogNone   = "none"
)

// EnvPrefix is prepended to every environment override, e.g.
// FIELDALIAS_STORAGE_ROOT for storage.root.
const EnvPrefix = "FIELDALIAS"

// StorageSettings locates the alias files.
type StorageSettings struct {
	Root        string `validate:"required"`                                    // storage root directory
	MasterFile  string `validate:"required,excludesall=/\\"`                    // Master file name inside Root
	CacheFile   string `validate:"required,excludesall=/\\,nefield=MasterFile"` // cache file name inside Root
	MaxFileSize int64  `validate:"gte=0"`                                       // read limit in bytes, 0 keeps the securefs default
}

// CatalogSettings selects the species catalog used for seeding.
type CatalogSettings struct {
	Type string `validate:"oneof=labels sqlite none"`
	Path string // label file or SQLite database
}

// IndexSettings selects the rich or lean feature set.
type IndexSettings struct {
	Signatures   bool // build MinHash/SimHash signatures
	QGram        int  `validate:"gte=2,lte=5"`
	MinHashSeeds int  `validate:"gte=8,lte=512"`
}

// WriteBehindSettings controls when taught aliases are persisted.
type WriteBehindSettings struct {
	SizeThreshold int           `validate:"gte=1,lte=1000"`
	TimeThreshold time.Duration `validate:"gt=0"`
	FlushTimeout  time.Duration `validate:"gt=0"`
}

// MatcherSettings tunes query ranking.
type MatcherSettings struct {
	Limit             int           `validate:"gte=1,lte=50"`
	MinScore          float64       `validate:"gte=0,lte=1"`
	MemoTTL           time.Duration `validate:"gt=0"`
	SignatureFallback bool
}

// WatcherSettings controls reloading of externally edited Masters.
type WatcherSettings struct {
	Enabled  bool
	Debounce time.Duration `validate:"gt=0"`
}

// LoggingSettings configures the central logger.
type LoggingSettings struct {
	Level        string `validate:"oneof=trace debug info warn error"`
	JSON         bool
	File         string
	Timezone     string
	ModuleLevels map[string]string `validate:"dive,oneof=trace debug info warn error"`
}

// TelemetrySettings configures optional error reporting.
type TelemetrySettings struct {
	SentryDSN string `validate:"omitempty,url"`
}

// MetricsSettings configures Prometheus metrics.
type MetricsSettings struct {
	Enabled bool
	Listen  string `validate:"omitempty,hostname_port"` // empty keeps metrics in-process only
}

// Settings contains all configuration options.
type Settings struct {
	Debug bool

	Storage     StorageSettings
	Catalog     CatalogSettings
	Index       IndexSettings
	WriteBehind WriteBehindSettings `mapstructure:"writebehind"`
	Matcher     MatcherSettings
	Watcher     WatcherSettings
	Logging     LoggingSettings
	Telemetry   TelemetrySettings
	Metrics     MetricsSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile, or config.yaml from the default config paths when
// configFile is empty, applies FIELDALIAS_* environment overrides and
// validates the result. A missing default config file is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Context("operation", "read_config").
				Build()
		}
		GetLogger().Debug("no config file found, using defaults")
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if used := v.ConfigFileUsed(); used != "" {
		GetLogger().Info("configuration loaded", logger.String("file", filepath.Base(used)))
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// GetSettings returns the settings of the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// LoggingConfig converts the logging section for logger.NewCentralLogger.
// Debug mode lowers the default level to debug.
func (s *Settings) LoggingConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug && level != "trace" {
		level = "debug"
	}
	return &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Logging.Timezone,
		Console:      &logger.ConsoleOutput{Enabled: true, JSON: s.Logging.JSON},
		FilePath:     s.Logging.File,
		ModuleLevels: s.Logging.ModuleLevels,
	}
}

// MasterPath returns the absolute-or-relative path of the Master file.
func (s *Settings) MasterPath() string {
	return filepath.Join(s.Storage.Root, s.Storage.MasterFile)
}
