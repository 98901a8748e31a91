// Package config contains the netsync process configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/netsync/reactor"
	"github.com/vcsnet/netsync/policy"
)

const (
	defaultConfigFileName = "./netsync.toml"
	defaultDataDirName    = ".netsync"
	// DatabaseFile is the name of the repository database in the data dir.
	DatabaseFile = "repo.sql"
	// KeysDir is the directory of identity files in the data dir.
	KeysDir = "keys"
)

// Config defines the top level configuration of a netsync process.
type Config struct {
	BaseConfig `mapstructure:"main"`
	Serve      ServeConfig    `mapstructure:"serve"`
	Netsync    netsync.Config `mapstructure:"netsync"`
	Reactor    reactor.Config `mapstructure:"reactor"`
	Policy     policy.Config  `mapstructure:"policy"`
	Logging    LoggerConfig   `mapstructure:"logging"`
}

// BaseConfig holds options shared by every command.
type BaseConfig struct {
	DataDir    string `mapstructure:"data-dir"`
	ConfigFile string `mapstructure:"config"`
	// Key names the identity in the keys dir. Empty means anonymous for
	// clients.
	Key string `mapstructure:"key"`

	CollectMetrics bool   `mapstructure:"metrics"`
	MetricsPort    int    `mapstructure:"metrics-port"`
	MetricsPush    string `mapstructure:"metrics-push"`

	DatabaseConnections int `mapstructure:"db-connections"`
	CacheSize           int `mapstructure:"cache-size"`
}

// ServeConfig holds options of the serve command.
type ServeConfig struct {
	Bind string `mapstructure:"bind"`
	// Role is one of "source", "sink" or "source-and-sink".
	Role string `mapstructure:"role"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseConfig: DefaultBaseConfig(),
		Serve: ServeConfig{
			Bind: ":4691",
			Role: "source-and-sink",
		},
		Netsync: netsync.DefaultConfig(),
		Reactor: reactor.DefaultConfig(),
		Policy:  policy.DefaultConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// DefaultBaseConfig returns the default base configuration.
func DefaultBaseConfig() BaseConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return BaseConfig{
		DataDir:             filepath.Join(home, defaultDataDirName),
		MetricsPort:         1010,
		DatabaseConnections: 16,
		CacheSize:           10_000,
	}
}

// DatabasePath returns the path of the repository database.
func (cfg *BaseConfig) DatabasePath() string {
	return filepath.Join(cfg.DataDir, DatabaseFile)
}

// KeysPath returns the directory of identity files.
func (cfg *BaseConfig) KeysPath() string {
	return filepath.Join(cfg.DataDir, KeysDir)
}

// LoadConfig reads the configuration file into vip. A missing default file
// is not an error.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	explicit := fileLocation != ""
	if !explicit {
		fileLocation = defaultConfigFileName
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", fileLocation, err)
	}
	return nil
}

// DecodeHook converts the textual forms used in config files.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Load builds the configuration from defaults, the config file and the
// values bound to vip.
func Load(vip *viper.Viper) (*Config, error) {
	if err := LoadConfig(vip.GetString("config"), vip); err != nil {
		return nil, err
	}
	conf := DefaultConfig()
	if err := vip.Unmarshal(&conf, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &conf, nil
}
