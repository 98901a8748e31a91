package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

const defaultLoggingLevel = zapcore.InfoLevel

// LoggerConfig holds the encoder and the logging level of each module.
type LoggerConfig struct {
	Encoder string `mapstructure:"log-encoder"`

	NodeLoggerLevel    string `mapstructure:"node"`
	NetsyncLoggerLevel string `mapstructure:"netsync"`
	ReactorLoggerLevel string `mapstructure:"reactor"`
	RepoLoggerLevel    string `mapstructure:"repo"`
	PolicyLoggerLevel  string `mapstructure:"policy"`
	SQLLoggerLevel     string `mapstructure:"sql"`
}

// DefaultLoggingConfig logs every module at info level to the console.
func DefaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder:            "console",
		NodeLoggerLevel:    defaultLoggingLevel.String(),
		NetsyncLoggerLevel: defaultLoggingLevel.String(),
		ReactorLoggerLevel: defaultLoggingLevel.String(),
		RepoLoggerLevel:    defaultLoggingLevel.String(),
		PolicyLoggerLevel:  zapcore.WarnLevel.String(),
		SQLLoggerLevel:     zapcore.WarnLevel.String(),
	}
}

// Level returns the configured level text of a module.
func (c *LoggerConfig) Level(module string) (string, error) {
	switch module {
	case "node":
		return c.NodeLoggerLevel, nil
	case "netsync":
		return c.NetsyncLoggerLevel, nil
	case "reactor":
		return c.ReactorLoggerLevel, nil
	case "repo":
		return c.RepoLoggerLevel, nil
	case "policy":
		return c.PolicyLoggerLevel, nil
	case "sql":
		return c.SQLLoggerLevel, nil
	}
	return "", fmt.Errorf("unknown logging module %q", module)
}
