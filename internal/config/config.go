package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/assetresolver/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "ASSETRESOLVER_"

// Configuration represents the complete resolver configuration
type Configuration struct {
	Global      GlobalConfig  `yaml:"global"`
	Cache       CacheConfig   `yaml:"cache"`
	Network     NetworkConfig `yaml:"network"`
	S3          S3Config      `yaml:"s3"`
	SQL         SQLConfig     `yaml:"sql"`
	SearchPaths []string      `yaml:"search_paths"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    int    `yaml:"metrics_port"`
}

// CacheConfig represents the staging directory for fetched content
type CacheConfig struct {
	Directory string `yaml:"directory"`
}

// NetworkConfig represents network configuration shared by all backends
type NetworkConfig struct {
	ProxyHost string        `yaml:"proxy_host"`
	ProxyPort int           `yaml:"proxy_port"`
	Timeouts  TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Request time.Duration `yaml:"request"`
}

// S3Config represents the object store backend settings
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Scheme          string `yaml:"scheme"`
	Suffix          string `yaml:"suffix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// SQLConfig represents the relational database backend settings. Every
// field except Enabled and Scheme can be overridden per target, see ForTarget.
type SQLConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Scheme           string `yaml:"scheme"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Database         string `yaml:"database"`
	Table            string `yaml:"table"`
	Port             int    `yaml:"port"`
	SSLMode          string `yaml:"sslmode"`
	RewriteLocalhost bool   `yaml:"rewrite_localhost"`
	MaxOpenConns     int    `yaml:"max_open_conns"`
}

// DefaultCacheDirectory is used when neither file nor environment names one.
func DefaultCacheDirectory() string {
	return filepath.Join(os.TempDir(), "assetresolver")
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:       "INFO",
			LogFormat:      "text",
			MetricsEnabled: false,
			MetricsPort:    9090,
		},
		Cache: CacheConfig{
			Directory: DefaultCacheDirectory(),
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Request: 30 * time.Second,
			},
		},
		S3: S3Config{
			Enabled:        true,
			Scheme:         "s3:",
			Suffix:         ".s3",
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		SQL: SQLConfig{
			Enabled:          true,
			Scheme:           "sql://",
			User:             "root",
			Database:         "assets",
			Table:            "assets",
			Port:             5432,
			SSLMode:          "disable",
			RewriteLocalhost: true,
			MaxOpenConns:     4,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numeric or duration values are rejected rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv(EnvPrefix + "LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv(EnvPrefix + "METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("METRICS_PORT", val, err)
		}
		c.Global.MetricsPort = port
		c.Global.MetricsEnabled = true
	}

	// Cache and network
	if val := os.Getenv(EnvPrefix + "CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv(EnvPrefix + "PROXY_HOST"); val != "" {
		c.Network.ProxyHost = val
	}
	if val := os.Getenv(EnvPrefix + "PROXY_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("PROXY_PORT", val, err)
		}
		c.Network.ProxyPort = port
	}
	if val := os.Getenv(EnvPrefix + "TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("TIMEOUT", val, err)
		}
		c.Network.Timeouts.Connect = d
		c.Network.Timeouts.Request = d
	}
	if val := os.Getenv(EnvPrefix + "SEARCH_PATH"); val != "" {
		c.SearchPaths = append(c.SearchPaths, filepath.SplitList(val)...)
	}

	// Object store
	if val := os.Getenv(EnvPrefix + "S3_REGION"); val != "" {
		c.S3.Region = val
	}
	if val := os.Getenv(EnvPrefix + "S3_ENDPOINT"); val != "" {
		c.S3.Endpoint = val
	}

	return nil
}

func envError(name, val string, err error) error {
	return errors.Newf(errors.ErrCodeInvalidConfig, "invalid %s%s value %q", EnvPrefix, name, val).
		WithComponent("config").
		WithCause(err)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("config")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Global.LogFormat {
	case "text", "json":
	default:
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Global.MetricsEnabled && (c.Global.MetricsPort <= 0 || c.Global.MetricsPort > 65535) {
		return invalid("metrics_port out of range: %d", c.Global.MetricsPort)
	}

	if c.Cache.Directory == "" {
		return invalid("cache directory must be set")
	}

	if c.Network.ProxyPort < 0 || c.Network.ProxyPort > 65535 {
		return invalid("proxy_port out of range: %d", c.Network.ProxyPort)
	}
	if c.Network.ProxyPort != 0 && c.Network.ProxyHost == "" {
		return invalid("proxy_port set without proxy_host")
	}
	if c.Network.Timeouts.Connect <= 0 || c.Network.Timeouts.Request <= 0 {
		return invalid("timeouts must be greater than 0")
	}

	if c.S3.Enabled && c.S3.Scheme == "" && c.S3.Suffix == "" {
		return invalid("s3 backend needs a scheme or a suffix")
	}

	if c.SQL.Enabled {
		if c.SQL.Scheme == "" {
			return invalid("sql backend needs a scheme")
		}
		if !tableNamePattern.MatchString(c.SQL.Table) {
			return invalid("invalid sql table name: %q", c.SQL.Table)
		}
		if c.SQL.Port <= 0 || c.SQL.Port > 65535 {
			return invalid("sql port out of range: %d", c.SQL.Port)
		}
	}

	return nil
}

// ProxyURL returns the proxy address for backend HTTP clients, or the
// empty string when no proxy is configured. The port defaults to 80.
func (n NetworkConfig) ProxyURL() string {
	if n.ProxyHost == "" {
		return ""
	}
	port := n.ProxyPort
	if port == 0 {
		port = 80
	}
	return "http://" + net.JoinHostPort(n.ProxyHost, strconv.Itoa(port))
}
