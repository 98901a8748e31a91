package netsync

import (
	"time"

	"github.com/vcsnet/netsync/netsync/netcmd"
)

// Config for a netsync session.
type Config struct {
	MinVersion uint8 `mapstructure:"min-version"`
	MaxVersion uint8 `mapstructure:"max-version"`
	// MaxPayload bounds the payload of a received command.
	MaxPayload int `mapstructure:"max-payload"`
	// StepBudget bounds the time spent enumerating items in one DoWork call.
	StepBudget time.Duration `mapstructure:"step-budget"`
	// IdleTimeout is how long a session may go without I/O before it is dropped.
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`
	// OutputHighWater is the number of queued output bytes above which the
	// session stops producing new items.
	OutputHighWater int `mapstructure:"output-high-water"`
	Greeting        string `mapstructure:"greeting"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MinVersion:      netcmd.MinVersion,
		MaxVersion:      netcmd.MaxVersion,
		MaxPayload:      netcmd.DefaultMaxPayload,
		StepBudget:      10 * time.Second,
		IdleTimeout:     21 * time.Minute,
		OutputHighWater: 10 * 512 << 10,
		Greeting:        "netsync",
	}
}

func (c *Config) limits() netcmd.Limits {
	return netcmd.Limits{
		MinVersion: c.MinVersion,
		MaxVersion: c.MaxVersion,
		MaxPayload: c.MaxPayload,
	}
}
