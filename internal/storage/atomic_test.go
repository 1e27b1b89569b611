package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/assetresolver/pkg/errors"
)

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestWriteFile_CreatesParents(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "s3", "bucket", "models", "tree.obj")

	n, err := WriteFile(dest, strings.NewReader("vertex data"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("vertex data")), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "vertex data", string(got))
}

func TestWriteFile_ReplacesExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	_, err := WriteFile(dest, bytes.NewReader([]byte("new")))
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestWriteFile_SourceFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "a.txt")

	_, err := WriteFile(dest, &failingReader{data: []byte("partial"), err: io.ErrUnexpectedEOF})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFetchFailed))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file must be removed")
}

func TestWriteFile_SourceFailureKeepsPreviousCopy(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	_, err := WriteFile(dest, &failingReader{err: io.ErrClosedPipe})
	require.Error(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestWriteFile_UnwritableDirectory(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := WriteFile(filepath.Join(blocker, "child", "a.txt"), strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeWriteFailed))
}
