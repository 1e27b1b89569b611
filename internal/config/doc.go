/*
Package config provides configuration management for the asset resolver.

Configuration is layered:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│   (ASSETRESOLVER_*, <TARGET>_ASSETRESOLVER_*)│
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

Environment is read once, when a Resolver is built. Backend clients never
consult the environment after construction.

# Environment Variables

	ASSETRESOLVER_CACHE_DIR     staging directory (default $TMPDIR/assetresolver)
	ASSETRESOLVER_PROXY_HOST    HTTP proxy host (default none)
	ASSETRESOLVER_PROXY_PORT    HTTP proxy port (default 80 when a host is set)
	ASSETRESOLVER_TIMEOUT       connect and request timeout, Go duration syntax
	ASSETRESOLVER_SEARCH_PATH   extra search directories for relative paths
	ASSETRESOLVER_LOG_LEVEL     DEBUG, INFO, WARN or ERROR
	ASSETRESOLVER_METRICS_PORT  enables the Prometheus endpoint on this port

# Per-Target Overrides

Database settings may differ per server. TargetEnv resolves a variable by
trying the target-scoped name first:

	DB_EXAMPLE_COM_ASSETRESOLVER_SQL_USER  (target "db.example.com")
	ASSETRESOLVER_SQL_USER
	compiled-in default

The SQL variables are SQL_USER, SQL_PASSWORD, SQL_DB, SQL_TABLE, SQL_PORT
and SQL_SSLMODE.

# Usage

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
