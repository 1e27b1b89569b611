package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanKey turns a backend-local key into a relative slash-separated path
// suitable for placing under a cache directory. Leading slashes are
// dropped; empty keys and keys containing ".." segments are rejected.
//
//	CleanKey("/models/a.obj")  // "models/a.obj"
//	CleanKey("a/../../etc")    // error
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimLeft(key, "/")
	if trimmed == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("key contains directory traversal: %s", key)
		}
	}

	cleaned := filepath.ToSlash(filepath.Clean(trimmed))
	if cleaned == "." {
		return "", fmt.Errorf("key cannot be empty")
	}
	return cleaned, nil
}

// IsWithinBase reports whether path, once cleaned, is base itself or lies
// beneath it.
func IsWithinBase(base, path string) bool {
	cleanBase := filepath.Clean(base)
	cleanPath := filepath.Clean(path)
	return cleanPath == cleanBase ||
		strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator))
}

// SecureJoin joins path elements onto base and fails if the result would
// escape base.
//
//	p, err := SecureJoin(cacheDir, "s3", bucket, key)
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !IsWithinBase(cleanBase, fullPath) {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
