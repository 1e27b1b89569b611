package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/objectfs/assetresolver/pkg/errors"
)

// TargetEnv looks up name scoped to one backend target. It returns the
// first non-empty value of <TARGET>_<name>, <name>, def. TARGET is the
// target upper-cased with every non-alphanumeric byte mapped to '_', so
// "db.example.com" reads DB_EXAMPLE_COM_<name>.
func TargetEnv(target, name, def string) string {
	if target != "" {
		if val := os.Getenv(TargetEnvName(target, name)); val != "" {
			return val
		}
	}
	if val := os.Getenv(name); val != "" {
		return val
	}
	return def
}

// TargetEnvName returns the target-scoped variable name for name.
func TargetEnvName(target, name string) string {
	var b strings.Builder
	b.Grow(len(target) + 1 + len(name))
	for i := 0; i < len(target); i++ {
		c := target[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteByte('_')
	b.WriteString(name)
	return b.String()
}

// ForTarget returns the settings for one database server with the
// environment overrides for that server applied.
func (c SQLConfig) ForTarget(target string) (SQLConfig, error) {
	out := c
	out.User = TargetEnv(target, EnvPrefix+"SQL_USER", c.User)
	out.Password = TargetEnv(target, EnvPrefix+"SQL_PASSWORD", c.Password)
	out.Database = TargetEnv(target, EnvPrefix+"SQL_DB", c.Database)
	out.Table = TargetEnv(target, EnvPrefix+"SQL_TABLE", c.Table)
	out.SSLMode = TargetEnv(target, EnvPrefix+"SQL_SSLMODE", c.SSLMode)

	if val := TargetEnv(target, EnvPrefix+"SQL_PORT", ""); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 || port > 65535 {
			return SQLConfig{}, errors.Newf(errors.ErrCodeInvalidConfig, "invalid sql port %q", val).
				WithComponent("config").
				WithTarget("sql", target)
		}
		out.Port = port
	}

	if !tableNamePattern.MatchString(out.Table) {
		return SQLConfig{}, errors.Newf(errors.ErrCodeInvalidConfig, "invalid sql table name: %q", out.Table).
			WithComponent("config").
			WithTarget("sql", target)
	}

	return out, nil
}
