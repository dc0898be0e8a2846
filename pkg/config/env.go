package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognized on top of the config file.
const (
	EnvDBDriver      = "SNAPSPECTRE_DB_DRIVER"
	EnvDBHost        = "SNAPSPECTRE_DB_HOST"
	EnvDBUsername    = "SNAPSPECTRE_DB_USERNAME"
	EnvDBPassword    = "SNAPSPECTRE_DB_PASSWORD"
	EnvDBDSN         = "SNAPSPECTRE_DB_DSN"
	EnvArrayUsername = "SNAPSPECTRE_ARRAY_USERNAME"
	EnvArrayPassword = "SNAPSPECTRE_ARRAY_PASSWORD"
	EnvTimezone      = "SNAPSPECTRE_TIMEZONE"
	EnvRetentionDays = "SNAPSPECTRE_RETENTION_DAYS"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func (c *Config) ApplyEnv() error {
	setString(&c.Database.Driver, strings.ToLower(os.Getenv(EnvDBDriver)))
	setString(&c.Database.Host, os.Getenv(EnvDBHost))
	setString(&c.Database.Username, os.Getenv(EnvDBUsername))
	setString(&c.Database.Password, os.Getenv(EnvDBPassword))
	setString(&c.Database.DSN, os.Getenv(EnvDBDSN))
	setString(&c.Array.Username, os.Getenv(EnvArrayUsername))
	setString(&c.Array.Password, os.Getenv(EnvArrayPassword))
	setString(&c.Timezone, os.Getenv(EnvTimezone))

	if raw := strings.TrimSpace(os.Getenv(EnvRetentionDays)); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvRetentionDays, raw, err)
		}
		c.RetentionDays = days
	}
	return nil
}
