// Package archive reads package files: a sequential index of entry names,
// each mapping to a byte range of the package file.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// Reader is an opened package.
type Reader interface {
	// Entries lists entry names in index order.
	Entries() []string

	// Open returns the byte range of an entry within the package file.
	Open(name string) (types.Range, error)

	io.ReaderAt
	io.Closer
}

// ZipReader reads zip packages whose entries are stored uncompressed, so
// that every entry is a contiguous byte range of the file.
type ZipReader struct {
	path  string
	file  *os.File
	zip   *zip.Reader
	names []string
	index map[string]*zip.File
}

// OpenZip opens the package at path.
func OpenZip(path string) (*ZipReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeArchiveInvalid, "cannot open package").
			WithComponent("archive").
			WithIdentifier(path).
			WithCause(err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.NewError(errors.ErrCodeArchiveInvalid, "cannot stat package").
			WithComponent("archive").
			WithIdentifier(path).
			WithCause(err)
	}

	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, errors.NewError(errors.ErrCodeArchiveInvalid, "not a zip package").
			WithComponent("archive").
			WithIdentifier(path).
			WithCause(err)
	}

	r := &ZipReader{
		path:  path,
		file:  f,
		zip:   zr,
		names: make([]string, 0, len(zr.File)),
		index: make(map[string]*zip.File, len(zr.File)),
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if _, dup := r.index[zf.Name]; dup {
			continue
		}
		r.names = append(r.names, zf.Name)
		r.index[zf.Name] = zf
	}
	return r, nil
}

// Entries lists entry names in index order.
func (r *ZipReader) Entries() []string {
	return append([]string(nil), r.names...)
}

// Open returns the byte range of a stored entry.
func (r *ZipReader) Open(name string) (types.Range, error) {
	zf, ok := r.index[name]
	if !ok {
		return types.Range{}, errors.Newf(errors.ErrCodeEntryNotFound, "no entry %q", name).
			WithComponent("archive").
			WithIdentifier(r.path)
	}
	if zf.Method != zip.Store {
		return types.Range{}, errors.Newf(errors.ErrCodeArchiveInvalid, "entry %q is compressed", name).
			WithComponent("archive").
			WithIdentifier(r.path)
	}
	offset, err := zf.DataOffset()
	if err != nil {
		return types.Range{}, errors.Newf(errors.ErrCodeArchiveInvalid, "bad local header for %q", name).
			WithComponent("archive").
			WithIdentifier(r.path).
			WithCause(err)
	}
	return types.Range{Offset: offset, Size: int64(zf.UncompressedSize64)}, nil
}

// ReadAt reads from the underlying package file.
func (r *ZipReader) ReadAt(p []byte, off int64) (int, error) {
	return r.file.ReadAt(p, off)
}

// Close closes the package file.
func (r *ZipReader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close package %s: %w", r.path, err)
	}
	return nil
}

// RootEntry returns the package's root document, its first entry.
func RootEntry(r Reader) (string, error) {
	entries := r.Entries()
	if len(entries) == 0 {
		return "", errors.NewError(errors.ErrCodeEntryNotFound, "package has no entries").
			WithComponent("archive")
	}
	return entries[0], nil
}

var _ Reader = (*ZipReader)(nil)
