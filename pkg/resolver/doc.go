/*
Package resolver maps asset identifiers to local file paths.

An identifier is either a backend identifier, such as

	s3://assets/models/tree.obj
	assets/models/tree.obj.s3
	sql://db.example/chars/hero.usd

or a plain filesystem path. Backend identifiers resolve to a deterministic
path under the cache directory, <cache>/<backend>/<target>/<key>, and their
content is downloaded by FetchToLocalPath. Plain paths pass through to the
local filesystem resolver.

# Protocol

Resolve probes the remote once per key and caches the outcome; later calls
are answered without network access. FetchToLocalPath must follow a
Resolve of the same identifier and downloads only when the local copy is
missing or stale:

	path, err := r.Resolve(ctx, "s3://assets/models/tree.obj")
	if err != nil || path == "" {
		return err
	}
	if err := r.FetchToLocalPath(ctx, "s3://assets/models/tree.obj"); err != nil {
		return err
	}

# Scopes

A scope caches resolution results for the duration of one logical
operation. Scopes nest; only the outermost EndScope discards the layer:

	ctx, layer := r.BeginScope(ctx, nil)
	defer r.EndScope(ctx, layer)

The scope stack belongs to one goroutine. To let another goroutine share
the cache, pass the layer to BeginScope on that goroutine with a context
that does not carry the first goroutine's stack (see Detach).

# Errors

Errors are *errors.ResolverError values; switch on errors.CodeOf(err). A
missing asset is not an error for Resolve; it yields an empty path.
*/
package resolver
