package sql

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/objectfs/assetresolver/pkg/errors"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds the connection settings for one database server.
type Config struct {
	User             string
	Password         string
	Database         string
	Table            string
	Port             int
	SSLMode          string
	RewriteLocalhost bool
	MaxOpenConns     int
	ConnectTimeout   time.Duration
	QueryTimeout     time.Duration
}

// ConfigFunc returns the settings for one target. It is called once per
// target, when its backend is constructed.
type ConfigFunc func(target string) (*Config, error)

// NewDefaultConfig returns the settings used when nothing is configured.
func NewDefaultConfig() *Config {
	return &Config{
		User:             "root",
		Database:         "assets",
		Table:            "assets",
		Port:             5432,
		SSLMode:          "disable",
		RewriteLocalhost: true,
		MaxOpenConns:     4,
		ConnectTimeout:   10 * time.Second,
	}
}

// Static returns a ConfigFunc that hands every target the same settings.
func Static(cfg *Config) ConfigFunc {
	return func(string) (*Config, error) {
		c := *cfg
		return &c, nil
	}
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if !tableNamePattern.MatchString(c.Table) {
		return errors.Newf(errors.ErrCodeInvalidConfig, "invalid table name %q", c.Table).
			WithComponent("sql")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "invalid port %d", c.Port).
			WithComponent("sql")
	}
	if c.Database == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "database name is required").
			WithComponent("sql")
	}
	return nil
}

// DSN returns the lib/pq connection URL for target. A port in target
// takes precedence over the configured one.
func (c *Config) DSN(target string) string {
	host, port := target, strconv.Itoa(c.Port)
	if h, p, err := net.SplitHostPort(target); err == nil {
		host, port = h, p
	}
	if c.RewriteLocalhost && host == "localhost" {
		host = "127.0.0.1"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}

	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
