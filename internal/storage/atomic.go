// Package storage holds helpers shared by the remote backend clients.
package storage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/objectfs/assetresolver/pkg/errors"
)

// WriteFile streams r to destPath through a temporary file in the same
// directory and renames it into place. A failure of r is reported as
// FETCH_FAILED, a local I/O failure as WRITE_FAILED; in both cases the
// temporary file is removed and destPath is left untouched.
func WriteFile(destPath string, r io.Reader) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, writeFailed("create cache directory", destPath, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".*.part")
	if err != nil {
		return 0, writeFailed("create temporary file", destPath, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	src := &trackingReader{r: r}
	n, err := io.Copy(tmp, src)
	if err != nil {
		if src.err != nil {
			return n, errors.NewError(errors.ErrCodeFetchFailed, "read remote content").
				WithComponent("storage").
				WithCause(src.err)
		}
		return n, writeFailed("write temporary file", destPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return n, writeFailed("sync temporary file", destPath, err)
	}
	if err := tmp.Close(); err != nil {
		return n, writeFailed("close temporary file", destPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return n, writeFailed("rename into place", destPath, err)
	}
	committed = true
	return n, nil
}

// trackingReader remembers the first error returned by the source so
// remote failures can be told apart from local ones.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func writeFailed(msg, path string, cause error) *errors.ResolverError {
	return errors.Newf(errors.ErrCodeWriteFailed, "%s for %s", msg, path).
		WithComponent("storage").
		WithCause(cause)
}
