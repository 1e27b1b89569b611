package s3

import (
	"time"

	"github.com/objectfs/assetresolver/pkg/errors"
)

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Network settings
	ProxyURL       string        `yaml:"proxy_url"`
	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// VerifyBucket issues a HeadBucket at construction.
	VerifyBucket bool `yaml:"verify_bucket"`
}

// NewDefaultConfig returns a new S3 config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     1,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 60 * time.Second,
		VerifyBucket:   true,
	}
}

// Validate checks the configuration for values the SDK would reject late.
func (c *Config) Validate() error {
	if c.Region == "" && c.Endpoint == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "s3 region or endpoint is required").
			WithComponent("s3")
	}
	if c.MaxRetries < 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "s3 max_retries cannot be negative").
			WithComponent("s3")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.NewError(errors.ErrCodeInvalidConfig, "s3 access key and secret must be set together").
			WithComponent("s3")
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "s3 timeouts cannot be negative").
			WithComponent("s3")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.MaxRetries == 0 {
		out.MaxRetries = 1
	}
	return &out
}
