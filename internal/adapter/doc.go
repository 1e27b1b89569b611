/*
Package adapter wires a Configuration into a ready asset resolver.

It registers the enabled backends in a fixed order, s3 first and sql
second, each with its identifier parser and a lazy backend factory, and
adds the local filesystem resolver for everything else:

	cfg := config.NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	a, err := adapter.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	path, err := a.Resolver().Resolve(ctx, "s3://assets/models/tree.obj")

Translation of the configuration into backend settings:

	s3   region, endpoint, path style, static credentials from the s3 section;
	     proxy and timeouts from the network section
	sql  user, password, database, table, port and sslmode from the sql
	     section, overridden per server by <SERVER>_ASSETRESOLVER_SQL_* and
	     ASSETRESOLVER_SQL_* environment variables; connect and query
	     timeouts from the network section

Start serves the metrics endpoint when global.metrics_enabled is set.
Stop shuts it down and releases every backend client; files already
fetched stay in the cache directory.
*/
package adapter
