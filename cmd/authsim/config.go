package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// config is the configuration for the authsim command.
type config struct {
	// DBFile is the SQLite file backing the durable scope. Empty means
	// everything stays in memory and is lost on exit.
	DBFile string `env:"AUTHSIM_DB_FILE"`

	// LatencyMin and LatencyMax bound the simulated backend latency.
	LatencyMin time.Duration `env:"AUTHSIM_LATENCY_MIN, default=450ms"`
	LatencyMax time.Duration `env:"AUTHSIM_LATENCY_MAX, default=900ms"`

	// CodeTTL is how long verification codes stay valid.
	CodeTTL time.Duration `env:"AUTHSIM_CODE_TTL, default=10m"`
}

// configFromEnv returns a config with values from the environment. It
// falls back to default values for any missing environment variables.
func configFromEnv(ctx context.Context) (config, error) {
	var c config
	if err := envconfig.Process(ctx, &c); err != nil {
		return c, err
	}

	if c.LatencyMin < 0 || c.LatencyMax < 0 {
		return c, fmt.Errorf("latency bounds must not be negative, got [%s, %s]", c.LatencyMin, c.LatencyMax)
	}

	if c.LatencyMax < c.LatencyMin {
		return c, fmt.Errorf("latency max %s is below min %s", c.LatencyMax, c.LatencyMin)
	}

	if c.CodeTTL <= 0 {
		return c, fmt.Errorf("code TTL must be positive, got %s", c.CodeTTL)
	}

	return c, nil
}
