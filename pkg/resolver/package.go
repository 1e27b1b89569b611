package resolver

import (
	"context"

	"github.com/objectfs/assetresolver/internal/archive"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// ResolvePackaged returns entry when the package at packagePath contains
// it, else "". Inside a scope the opened package is kept in the layer
// until the scope ends.
func (r *Resolver) ResolvePackaged(ctx context.Context, packagePath, entry string) (string, error) {
	var out string
	err := r.withPackage(ctx, packagePath, func(pkg archive.Reader) error {
		if _, err := pkg.Open(entry); err != nil {
			if errors.IsCode(err, errors.ErrCodeEntryNotFound) {
				return nil
			}
			return err
		}
		out = entry
		return nil
	})
	return out, err
}

// OpenPackaged returns the byte range of entry within the package file.
func (r *Resolver) OpenPackaged(ctx context.Context, packagePath, entry string) (types.Range, error) {
	var out types.Range
	err := r.withPackage(ctx, packagePath, func(pkg archive.Reader) error {
		rng, err := pkg.Open(entry)
		out = rng
		return err
	})
	return out, err
}

// PackageRoot returns the root document of the package, its first entry.
func (r *Resolver) PackageRoot(ctx context.Context, packagePath string) (string, error) {
	var out string
	err := r.withPackage(ctx, packagePath, func(pkg archive.Reader) error {
		root, err := archive.RootEntry(pkg)
		out = root
		return err
	})
	return out, err
}

func (r *Resolver) withPackage(ctx context.Context, packagePath string, fn func(archive.Reader) error) error {
	path := r.local.Resolve(packagePath)

	if !inScope(ctx) {
		pkg, err := r.openArchive(path)
		if err != nil {
			return err
		}
		defer pkg.Close()
		return fn(pkg)
	}

	v, err := r.scoped(ctx, packageKeyPrefix+path, func() (any, error) {
		return r.openArchive(path)
	})
	if err != nil {
		return err
	}
	return fn(v.(archive.Reader))
}
