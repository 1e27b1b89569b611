// Package localfs is the default resolver for identifiers that no remote
// backend claims. It normalizes and anchors paths but never fetches.
package localfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/objectfs/assetresolver/pkg/types"
)

const fileRelativePrefix = "./"

// Resolver resolves plain file paths against a working directory and an
// ordered list of search directories.
type Resolver struct {
	cwd         string
	searchPaths []string
}

// New creates a resolver rooted at the process working directory.
func New(searchPaths []string) (*Resolver, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewWithDir(cwd, searchPaths), nil
}

// NewWithDir creates a resolver rooted at cwd. Empty search paths are
// dropped and relative ones are anchored to cwd.
func NewWithDir(cwd string, searchPaths []string) *Resolver {
	r := &Resolver{cwd: filepath.Clean(cwd)}
	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(r.cwd, p)
		}
		r.searchPaths = append(r.searchPaths, filepath.Clean(p))
	}
	return r
}

// SearchPaths returns the search directories in lookup order.
func (r *Resolver) SearchPaths() []string {
	return append([]string(nil), r.searchPaths...)
}

// IsRelativePath reports whether path is non-empty and not absolute.
func IsRelativePath(path string) bool {
	return path != "" && !filepath.IsAbs(path)
}

// IsSearchPath reports whether path is relative and not explicitly
// file-relative ("./x"), i.e. whether the search path applies to it.
func IsSearchPath(path string) bool {
	return IsRelativePath(path) && !strings.HasPrefix(path, fileRelativePrefix)
}

// NormalizePath cleans path lexically. The empty path stays empty.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// AnchorRelativePath anchors a relative path to anchor. An anchor without
// a trailing separator names a file, so its directory is used. Absolute
// paths and relative anchors leave path unchanged.
func AnchorRelativePath(anchor, path string) string {
	if !IsRelativePath(path) {
		return path
	}
	if anchor == "" || IsRelativePath(anchor) {
		return path
	}

	dir := anchor
	if !strings.HasSuffix(anchor, string(filepath.Separator)) {
		dir = filepath.Dir(anchor)
	}
	return filepath.Join(dir, path)
}

// ComputeLocalPath returns the absolute form of path, anchoring relative
// paths to the resolver's working directory.
func (r *Resolver) ComputeLocalPath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(r.cwd, path)
}

// Resolve maps path to an absolute local path. For a search path the
// working directory and then each search directory are tried and the
// first existing file wins. When nothing exists the path is anchored to
// the working directory, so a well-formed path always resolves.
func (r *Resolver) Resolve(path string) string {
	if path == "" {
		return ""
	}
	if !IsRelativePath(path) {
		return filepath.Clean(path)
	}

	inCwd := filepath.Join(r.cwd, path)
	if !IsSearchPath(path) || exists(inCwd) {
		return inCwd
	}
	for _, dir := range r.searchPaths {
		candidate := filepath.Join(dir, path)
		if exists(candidate) {
			return candidate
		}
	}
	return inCwd
}

// ResolveWithInfo is Resolve with the file's modification time attached.
func (r *Resolver) ResolveWithInfo(path string) types.AssetInfo {
	resolved := r.Resolve(path)
	info := types.AssetInfo{Identifier: path, LocalPath: resolved}
	if st, err := os.Stat(resolved); err == nil {
		info.Timestamp = types.TimestampFromTime(st.ModTime())
		info.State = types.StateFetched
	}
	return info
}

// ModificationTime returns the modification marker of a local file.
func ModificationTime(path string) (types.Timestamp, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return types.TimestampFromTime(st.ModTime()), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
