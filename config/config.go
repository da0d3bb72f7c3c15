// Package config loads process configuration from the environment, the way
// the teacher's config.Load reads os.Getenv directly, extended with an
// optional .env file loaded first via joho/godotenv so local development
// doesn't require exporting variables by hand.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the service's runtime configuration.
type Config struct {
	MetricsAddr            string // address the /metrics endpoint listens on
	DefaultLifetimeSeconds uint32 // lifetime used by the CLI's "add" command when none is given
}

// Load reads an optional .env file (missing is not an error) and then
// environment variables, applying defaults for anything unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}

	defaultLifetime := uint32(7200)
	if raw := os.Getenv("DEFAULT_LIFETIME_SECONDS"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid DEFAULT_LIFETIME_SECONDS %q: %w", raw, err)
		}
		defaultLifetime = uint32(parsed)
	}

	return &Config{
		MetricsAddr:            metricsAddr,
		DefaultLifetimeSeconds: defaultLifetime,
	}, nil
}
