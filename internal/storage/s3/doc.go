/*
Package s3 provides the S3 backend client used by the asset resolver.

One Backend serves one bucket. It exposes the two capabilities every remote
store provides:

	CheckRemote   HeadObject, metadata only
	FetchContent  GetObject, streamed to a temporary file and renamed into place

# Identifiers

With the default configuration both of these resolve key "/models/tree.obj"
in bucket "assets":

	s3://assets/models/tree.obj
	assets/models/tree.obj.s3

The leading slash of the key is dropped before it is sent to S3.

# Versions and timestamps

The modification marker is the object's LastModified time. The version
string is the object's VersionId when versioning is enabled on the bucket,
else its ETag with the quotes removed.

# Errors

A missing object is not an error for CheckRemote; it is reported as
RemoteInfo{Exists: false}. Transport and permission failures map to
BACKEND_UNAVAILABLE. During FetchContent a missing object maps to
NOT_FOUND, a transport failure to FETCH_FAILED and a local I/O failure to
WRITE_FAILED.

# Construction

NewBackend loads the AWS configuration, applies the endpoint, path-style,
proxy and timeout settings, and issues a HeadBucket request so that bad
credentials or an unknown bucket surface once, at construction. The SDK's
automatic retries are disabled unless MaxRetries is raised; the resolver
never retries on its own.

Example:

	cfg := s3.NewDefaultConfig()
	cfg.Region = "eu-west-1"
	backend, err := s3.NewBackend(ctx, "assets", cfg)
	if err != nil {
		return err
	}
	info, err := backend.CheckRemote(ctx, "/models/tree.obj")
*/
package s3
