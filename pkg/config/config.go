package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

// Supported job-history drivers
const (
	DriverSQLServer  = "sqlserver"
	DriverMSSQL      = "mssql"
	DriverPostgres   = "postgres"
	DriverMySQL      = "mysql"
	DriverClickHouse = "clickhouse"
)

// Malformed snapshot name policies
const (
	MalformedAbort = "abort"
	MalformedSkip  = "skip"
)

// Job status codes in the CommServ history table
const (
	JobStatusSuccessful           = 1
	JobStatusSuccessfulWithIssues = 3
)

// DatabaseConfig describes the job-history database connection
type DatabaseConfig struct {
	Driver             string
	Host               string
	Port               int
	Instance           string
	Database           string
	Username           string
	Password           string
	DSN                string // used verbatim when set
	Table              string
	Query              string // overrides the generated query
	Statuses           []int
	InsecureSkipVerify bool
	QueryTimeout       time.Duration
}

// ArrayConfig describes how to reach the storage clusters
type ArrayConfig struct {
	Clusters           []string
	Domain             string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
	RateLimit          int
	PageSize           int
}

// Config holds all runtime configuration
type Config struct {
	Database DatabaseConfig
	Array    ArrayConfig

	// Reconciliation settings
	Timezone        string
	RetentionDays   int
	MalformedPolicy string
	ExcludeSVMs     []string
	ExcludeVolumes  []string
	BaselinePath    string
	UpdateBaseline  bool

	// Script settings
	SSHUser   string
	OutputDir string

	// Credentials sources
	EnvFile           string
	CredentialsSecret string
	KubeConfig        string

	// Concurrency settings
	Concurrency int

	// Operational flags
	Verbose          bool
	DryRun           bool
	FailOnCandidates bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       DriverSQLServer,
			Instance:     "COMMVAULT",
			Database:     "CommServ",
			Statuses:     []int{JobStatusSuccessful, JobStatusSuccessfulWithIssues},
			QueryTimeout: 5 * time.Minute,
		},
		Array: ArrayConfig{
			Timeout:   30 * time.Second,
			RateLimit: 10,
			PageSize:  1000,
		},
		Timezone:        "US/Eastern",
		RetentionDays:   7,
		MalformedPolicy: MalformedAbort,
		SSHUser:         "admin",
		OutputDir:       ".",
		EnvFile:         ".env",
		Concurrency:     1,
	}
}

// ClusterFQDN joins a cluster short name with the shared domain suffix.
func (c *Config) ClusterFQDN(cluster string) string {
	domain := strings.Trim(strings.TrimSpace(c.Array.Domain), ".")
	if domain == "" {
		return cluster
	}
	return cluster + "." + domain
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Validate checks the configuration before any external system is contacted.
func (c *Config) Validate() error {
	if len(c.Array.Clusters) == 0 {
		return fmt.Errorf("at least one cluster is required")
	}
	for _, cluster := range c.Array.Clusters {
		if strings.TrimSpace(cluster) == "" || strings.ContainsAny(cluster, "/ ") {
			return fmt.Errorf("invalid cluster name %q", cluster)
		}
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention days must be >= 0, got %d", c.RetentionDays)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	switch c.Database.Driver {
	case DriverSQLServer, DriverMSSQL, DriverPostgres, DriverMySQL, DriverClickHouse:
	default:
		return fmt.Errorf("invalid database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database host or dsn is required")
	}
	if len(c.Database.Statuses) == 0 && c.Database.Query == "" {
		return fmt.Errorf("at least one job status is required")
	}
	if c.Database.Query != "" {
		if err := CheckReadOnlyQuery(c.Database.Query); err != nil {
			return err
		}
	}
	switch c.MalformedPolicy {
	case MalformedAbort, MalformedSkip:
	default:
		return fmt.Errorf("invalid malformed policy %q (expected abort or skip)", c.MalformedPolicy)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

var writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|into|drop|alter|create|truncate|rename|grant|revoke|exec|execute|call|optimize|attach|detach|kill)\b`)

// CheckReadOnlyQuery accepts a single SELECT or WITH statement that names no
// write or DDL keyword.
func CheckReadOnlyQuery(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("invalid query: empty")
	}
	if strings.Contains(query, ";") {
		return fmt.Errorf("invalid query: must be a single statement without ';'")
	}

	words := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
	})
	first := ""
	if len(words) > 0 {
		first = strings.ToUpper(words[0])
	}
	if first != "SELECT" && first != "WITH" {
		return fmt.Errorf("invalid query: must start with SELECT or WITH, got %s", first)
	}
	if kw := writeKeyword.FindString(query); kw != "" {
		return fmt.Errorf("invalid query: %s is not allowed in the job id query", strings.ToUpper(kw))
	}
	return nil
}
