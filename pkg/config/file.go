package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFileYAML is the canonical config filename.
	DefaultConfigFileYAML = ".snapspectre.yaml"
	// DefaultConfigFileYML is a compatible alternate config filename.
	DefaultConfigFileYML = ".snapspectre.yml"
)

// FileDatabase is the database section of the config file.
type FileDatabase struct {
	Driver             string `yaml:"driver"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Instance           string `yaml:"instance"`
	Name               string `yaml:"name"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DSN                string `yaml:"dsn"`
	Table              string `yaml:"table"`
	Query              string `yaml:"query"`
	Statuses           []int  `yaml:"statuses"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
	QueryTimeout       string `yaml:"query_timeout"`
}

// FileArray is the storage array section of the config file.
type FileArray struct {
	Clusters           []string `yaml:"clusters"`
	Domain             string   `yaml:"domain"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify *bool    `yaml:"insecure_skip_verify"`
	Timeout            string   `yaml:"timeout"`
	RateLimit          *int     `yaml:"rate_limit"`
	PageSize           *int     `yaml:"page_size"`
}

// FileConfig represents values loaded from a .snapspectre.yaml file.
type FileConfig struct {
	Database          FileDatabase `yaml:"database"`
	Array             FileArray    `yaml:"array"`
	Timezone          string       `yaml:"timezone"`
	RetentionDays     *int         `yaml:"retention_days"`
	MalformedPolicy   string       `yaml:"malformed_policy"`
	ExcludeSVMs       []string     `yaml:"exclude_svms"`
	ExcludeVolumes    []string     `yaml:"exclude_volumes"`
	Baseline          string       `yaml:"baseline"`
	SSHUser           string       `yaml:"ssh_user"`
	OutputDir         string       `yaml:"output_dir"`
	CredentialsSecret string       `yaml:"credentials_secret"`
	Concurrency       *int         `yaml:"concurrency"`
}

// Normalize trims and removes empty items from list fields.
func (fc *FileConfig) Normalize() {
	if fc == nil {
		return
	}
	fc.Array.Clusters = normalizeList(fc.Array.Clusters)
	fc.ExcludeSVMs = normalizeList(fc.ExcludeSVMs)
	fc.ExcludeVolumes = normalizeList(fc.ExcludeVolumes)
	fc.Database.Driver = strings.ToLower(strings.TrimSpace(fc.Database.Driver))
	fc.Database.Host = strings.TrimSpace(fc.Database.Host)
	fc.Database.DSN = strings.TrimSpace(fc.Database.DSN)
	fc.Database.Query = strings.TrimSpace(fc.Database.Query)
	fc.Database.QueryTimeout = strings.TrimSpace(fc.Database.QueryTimeout)
	fc.Array.Domain = strings.TrimSpace(fc.Array.Domain)
	fc.Array.Timeout = strings.TrimSpace(fc.Array.Timeout)
	fc.Timezone = strings.TrimSpace(fc.Timezone)
	fc.MalformedPolicy = strings.ToLower(strings.TrimSpace(fc.MalformedPolicy))
}

// ApplyTo copies every value set in the file onto cfg.
func (fc *FileConfig) ApplyTo(cfg *Config) error {
	if fc == nil || cfg == nil {
		return nil
	}

	db := fc.Database
	setString(&cfg.Database.Driver, db.Driver)
	setString(&cfg.Database.Host, db.Host)
	setString(&cfg.Database.Instance, db.Instance)
	setString(&cfg.Database.Database, db.Name)
	setString(&cfg.Database.Username, db.Username)
	setString(&cfg.Database.Password, db.Password)
	setString(&cfg.Database.DSN, db.DSN)
	setString(&cfg.Database.Table, db.Table)
	setString(&cfg.Database.Query, db.Query)
	if db.Port != 0 {
		cfg.Database.Port = db.Port
	}
	if len(db.Statuses) > 0 {
		cfg.Database.Statuses = db.Statuses
	}
	if db.InsecureSkipVerify != nil {
		cfg.Database.InsecureSkipVerify = *db.InsecureSkipVerify
	}
	if db.QueryTimeout != "" {
		d, err := ParseDuration(db.QueryTimeout)
		if err != nil {
			return fmt.Errorf("invalid database.query_timeout: %w", err)
		}
		cfg.Database.QueryTimeout = d
	}

	arr := fc.Array
	if len(arr.Clusters) > 0 {
		cfg.Array.Clusters = arr.Clusters
	}
	setString(&cfg.Array.Domain, arr.Domain)
	setString(&cfg.Array.Username, arr.Username)
	setString(&cfg.Array.Password, arr.Password)
	if arr.InsecureSkipVerify != nil {
		cfg.Array.InsecureSkipVerify = *arr.InsecureSkipVerify
	}
	if arr.Timeout != "" {
		d, err := ParseDuration(arr.Timeout)
		if err != nil {
			return fmt.Errorf("invalid array.timeout: %w", err)
		}
		cfg.Array.Timeout = d
	}
	if arr.RateLimit != nil {
		cfg.Array.RateLimit = *arr.RateLimit
	}
	if arr.PageSize != nil {
		cfg.Array.PageSize = *arr.PageSize
	}

	setString(&cfg.Timezone, fc.Timezone)
	if fc.RetentionDays != nil {
		cfg.RetentionDays = *fc.RetentionDays
	}
	setString(&cfg.MalformedPolicy, fc.MalformedPolicy)
	if len(fc.ExcludeSVMs) > 0 {
		cfg.ExcludeSVMs = fc.ExcludeSVMs
	}
	if len(fc.ExcludeVolumes) > 0 {
		cfg.ExcludeVolumes = fc.ExcludeVolumes
	}
	setString(&cfg.BaselinePath, fc.Baseline)
	setString(&cfg.SSHUser, fc.SSHUser)
	setString(&cfg.OutputDir, fc.OutputDir)
	setString(&cfg.CredentialsSecret, fc.CredentialsSecret)
	if fc.Concurrency != nil {
		cfg.Concurrency = *fc.Concurrency
	}

	return nil
}

// AutoLoadFile discovers and loads the first available config file.
func AutoLoadFile() (*FileConfig, string, error) {
	candidates := []string{
		DefaultConfigFileYAML,
		DefaultConfigFileYML,
	}

	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, DefaultConfigFileYAML),
			filepath.Join(homeDir, DefaultConfigFileYML),
		)
	}

	return LoadFirstExistingFile(candidates)
}

// LoadFirstExistingFile loads the first config file that exists in paths.
func LoadFirstExistingFile(paths []string) (*FileConfig, string, error) {
	for _, path := range paths {
		candidate := strings.TrimSpace(path)
		if candidate == "" {
			continue
		}

		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("failed to access config file %q: %w", candidate, err)
		}
		if info.IsDir() {
			return nil, "", fmt.Errorf("config path %q is a directory, expected a file", candidate)
		}

		cfg, err := LoadFile(candidate)
		if err != nil {
			return nil, "", err
		}
		return cfg, candidate, nil
	}

	return nil, "", nil
}

// LoadFile loads config values from a specific YAML file path.
func LoadFile(path string) (*FileConfig, error) {
	filename := strings.TrimSpace(path)
	if filename == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", filename, err)
	}

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", filename, err)
	}

	cfg.Normalize()
	return cfg, nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
