package localfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/assetresolver/pkg/types"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestIsRelativePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"", false},
		{"/abs/a.usd", false},
		{"a.usd", true},
		{"./a.usd", true},
		{"../a.usd", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRelativePath(tt.path), tt.path)
	}
}

func TestIsSearchPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"", false},
		{"/abs/a.usd", false},
		{"models/a.usd", true},
		{"./models/a.usd", false},
		{"../models/a.usd", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSearchPath(tt.path), tt.path)
	}
}

func TestAnchorRelativePath(t *testing.T) {
	tests := []struct {
		name   string
		anchor string
		path   string
		want   string
	}{
		{"file anchor", "/shots/s1/shot.usd", "props/chair.usd", "/shots/s1/props/chair.usd"},
		{"directory anchor", "/shots/s1/", "props/chair.usd", "/shots/s1/props/chair.usd"},
		{"dot segments normalized", "/shots/s1/shot.usd", "../lib/./a.usd", "/shots/lib/a.usd"},
		{"absolute path unchanged", "/shots/shot.usd", "/lib/a.usd", "/lib/a.usd"},
		{"relative anchor unchanged", "shots/shot.usd", "a.usd", "a.usd"},
		{"empty anchor unchanged", "", "a.usd", "a.usd"},
		{"empty path", "/shots/shot.usd", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), AnchorRelativePath(filepath.FromSlash(tt.anchor), filepath.FromSlash(tt.path)))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "", NormalizePath(""))
	assert.Equal(t, filepath.FromSlash("a/c.usd"), NormalizePath("a/b/../c.usd"))
}

func TestResolver_ComputeLocalPath(t *testing.T) {
	r := NewWithDir("/work", nil)
	assert.Equal(t, "", r.ComputeLocalPath(""))
	assert.Equal(t, filepath.FromSlash("/work/a.usd"), r.ComputeLocalPath("a.usd"))
	assert.Equal(t, filepath.FromSlash("/lib/a.usd"), r.ComputeLocalPath("/lib/../lib/a.usd"))
}

func TestResolver_Resolve(t *testing.T) {
	root := t.TempDir()
	cwd := filepath.Join(root, "cwd")
	libA := filepath.Join(root, "libA")
	libB := filepath.Join(root, "libB")

	touch(t, filepath.Join(cwd, "local.usd"))
	touch(t, filepath.Join(libA, "shared.usd"))
	touch(t, filepath.Join(libB, "shared.usd"))
	touch(t, filepath.Join(libB, "only_b.usd"))

	r := NewWithDir(cwd, []string{libA, "", libB})
	assert.Equal(t, []string{libA, libB}, r.SearchPaths())

	tests := []struct {
		name string
		path string
		want string
	}{
		{"empty", "", ""},
		{"absolute", filepath.Join(libB, "x", "..", "only_b.usd"), filepath.Join(libB, "only_b.usd")},
		{"cwd wins", "local.usd", filepath.Join(cwd, "local.usd")},
		{"first search path wins", "shared.usd", filepath.Join(libA, "shared.usd")},
		{"later search path", "only_b.usd", filepath.Join(libB, "only_b.usd")},
		{"file relative skips search path", "./only_b.usd", filepath.Join(cwd, "only_b.usd")},
		{"missing falls back to cwd", "nowhere.usd", filepath.Join(cwd, "nowhere.usd")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.path))
		})
	}
}

func TestResolver_RelativeSearchPathAnchoredToCwd(t *testing.T) {
	r := NewWithDir("/work", []string{"lib"})
	assert.Equal(t, []string{filepath.FromSlash("/work/lib")}, r.SearchPaths())
}

func TestResolveWithInfoAndModificationTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.usd")
	touch(t, path)
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	r := NewWithDir(dir, nil)
	info := r.ResolveWithInfo("a.usd")
	assert.Equal(t, path, info.LocalPath)
	assert.Equal(t, types.TimestampFromTime(mtime), info.Timestamp)
	assert.Equal(t, types.StateFetched, info.State)

	ts, err := ModificationTime(path)
	require.NoError(t, err)
	assert.Equal(t, types.TimestampFromTime(mtime), ts)

	_, err = ModificationTime(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	missing := r.ResolveWithInfo("missing.usd")
	assert.Equal(t, types.StateMissing, missing.State)
}

func TestNew(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	wd, _ := os.Getwd()
	assert.Equal(t, filepath.Join(wd, "a"), r.ComputeLocalPath("a"))
}
