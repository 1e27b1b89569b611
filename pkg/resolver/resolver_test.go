package resolver

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/assetresolver/internal/archive"
	"github.com/objectfs/assetresolver/internal/engine"
	"github.com/objectfs/assetresolver/internal/identifier"
	"github.com/objectfs/assetresolver/internal/localfs"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[string]types.Timestamp
	checks  atomic.Int32
	fetches atomic.Int32
}

func (m *memBackend) put(key string, ts types.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = ts
}

func (m *memBackend) CheckRemote(_ context.Context, key string) (types.RemoteInfo, error) {
	m.checks.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.objects[key]
	if !ok {
		return types.RemoteInfo{}, nil
	}
	return types.RemoteInfo{Exists: true, Timestamp: ts, Version: fmt.Sprint(ts)}, nil
}

func (m *memBackend) FetchContent(_ context.Context, key, dest string) (types.FetchResult, error) {
	m.fetches.Add(1)
	m.mu.Lock()
	ts, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return types.FetchResult{}, errors.NewError(errors.ErrCodeNotFound, "gone")
	}
	body := "content of " + key
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return types.FetchResult{}, err
	}
	if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
		return types.FetchResult{}, err
	}
	return types.FetchResult{BytesWritten: int64(len(body)), Timestamp: ts}, nil
}

type fixture struct {
	resolver  *Resolver
	cacheDir  string
	workDir   string
	mu        sync.Mutex
	backends  map[string]*memBackend
	factories atomic.Int32
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		cacheDir: t.TempDir(),
		workDir:  t.TempDir(),
		backends: make(map[string]*memBackend),
	}

	eng, err := engine.New(engine.Config{
		Name:     "store",
		Parser:   identifier.NewParser("store", identifier.WithPrefix("store://")),
		Factory:  f.factory,
		CacheDir: f.cacheDir,
	})
	require.NoError(t, err)

	all := append([]Option{
		WithEngine(eng),
		WithLocal(localfs.NewWithDir(f.workDir, nil)),
	}, opts...)
	r, err := New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	f.resolver = r
	return f
}

func (f *fixture) backend(target string) *memBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backends[target]
	if !ok {
		b = &memBackend{objects: make(map[string]types.Timestamp)}
		f.backends[target] = b
	}
	return b
}

func (f *fixture) factory(_ context.Context, target string) (types.Backend, error) {
	f.factories.Add(1)
	return f.backend(target), nil
}

func TestNew_DuplicateBackend(t *testing.T) {
	newEngine := func() *engine.Engine {
		e, err := engine.New(engine.Config{
			Name:     "store",
			Parser:   identifier.NewParser("store", identifier.WithPrefix("store://")),
			Factory:  func(context.Context, string) (types.Backend, error) { return nil, nil },
			CacheDir: t.TempDir(),
		})
		require.NoError(t, err)
		return e
	}

	_, err := New(WithEngine(newEngine()), WithEngine(newEngine()))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestResolve_Scenario(t *testing.T) {
	f := newFixture(t)
	b := f.backend("bucketA")
	b.put("/models/a.obj", 100)
	ctx := context.Background()

	path, err := f.resolver.Resolve(ctx, "store://bucketA/models/a.obj")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, "store", "bucketA", "models", "a.obj"), path)

	again, err := f.resolver.Resolve(ctx, "store://bucketA/models/a.obj")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), b.checks.Load(), "second resolve must not probe")

	require.NoError(t, f.resolver.FetchToLocalPath(ctx, "store://bucketA/models/a.obj"))
	assert.FileExists(t, path)
	checks, fetches := b.checks.Load(), b.fetches.Load()

	require.NoError(t, f.resolver.FetchToLocalPath(ctx, "store://bucketA/models/a.obj"))
	assert.Equal(t, checks, b.checks.Load(), "fetched entry needs no network")
	assert.Equal(t, fetches, b.fetches.Load())

	info, err := f.resolver.ResolveWithInfo(ctx, "store://bucketA/models/a.obj")
	require.NoError(t, err)
	assert.Equal(t, types.StateFetched, info.State)
	assert.Equal(t, "store", info.Backend)
	assert.Equal(t, types.Timestamp(100), info.Timestamp)
}

func TestResolve_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path, err := f.resolver.Resolve(ctx, "store://bucketA/none.obj")
	require.NoError(t, err)
	assert.Empty(t, path)

	err = f.resolver.FetchToLocalPath(ctx, "store://bucketA/none.obj")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestFetchBeforeResolve(t *testing.T) {
	f := newFixture(t)

	err := f.resolver.FetchToLocalPath(context.Background(), "store://bucketA/models/a.obj")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotResolved)
	assert.Equal(t, int32(0), f.factories.Load(), "no backend constructed")

	_, err = os.Stat(filepath.Join(f.cacheDir, "store"))
	assert.True(t, os.IsNotExist(err), "no disk I/O")
}

func TestResolve_PlainPathsMatchLocalResolver(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.workDir, "textures"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.workDir, "textures", "wood.png"), nil, 0o644))
	local := localfs.NewWithDir(f.workDir, nil)

	for _, id := range []string{
		"textures/wood.png",
		"./textures/wood.png",
		"missing/file.txt",
		"/abs/../abs/file.txt",
		"store:/not-a-backend-id",
		"store://",
		"store://bucketOnly",
	} {
		t.Run(id, func(t *testing.T) {
			got, err := f.resolver.Resolve(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, local.Resolve(id), got)
		})
	}
	assert.Equal(t, int32(0), f.factories.Load())
}

func TestComputeLocalPath(t *testing.T) {
	f := newFixture(t)

	got, err := f.resolver.ComputeLocalPath("store://b/k/v.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, "store", "b", "k", "v.txt"), got)

	got, err = f.resolver.ComputeLocalPath("rel/v.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.workDir, "rel", "v.txt"), got)

	_, err = f.resolver.ComputeLocalPath("store://b/../../etc/passwd")
	assert.True(t, errors.IsCode(err, errors.ErrCodeMalformedIdentifier))
}

func TestIsRelativeAndAnchor(t *testing.T) {
	f := newFixture(t)
	r := f.resolver

	assert.False(t, r.IsRelativePath("store://b/k"))
	assert.True(t, r.IsRelativePath("k/v.txt"))
	assert.False(t, r.IsRelativePath("/k/v.txt"))
	assert.False(t, r.IsRelativePath(""))

	assert.Equal(t, "store://b/models/tex.png", r.AnchorRelativePath("store://b/models/a.obj", "tex.png"))
	assert.Equal(t, "store://b/models/tex.png", r.AnchorRelativePath("store://b/models/a.obj", "./tex.png"))
	assert.Equal(t, "/abs.png", r.AnchorRelativePath("store://b/models/a.obj", "/abs.png"))
	assert.Equal(t, filepath.Join("/scenes", "tex.png"), r.AnchorRelativePath("/scenes/a.usd", "tex.png"))
}

func TestResolve_ParentSegmentsInsideTarget(t *testing.T) {
	f := newFixture(t)
	f.backend("b").put("/tex/a.png", 7)
	ctx := context.Background()

	anchored := f.resolver.AnchorRelativePath("store://b/models/scene.usd", "../tex/a.png")
	assert.Equal(t, "store://b/tex/a.png", anchored)

	want := filepath.Join(f.cacheDir, "store", "b", "tex", "a.png")
	for _, id := range []string{anchored, "store://b/models/../tex/a.png"} {
		path, err := f.resolver.Resolve(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, want, path, id)

		computed, err := f.resolver.ComputeLocalPath(id)
		require.NoError(t, err, id)
		assert.Equal(t, want, computed, id)
	}

	assert.Equal(t, int32(1), f.backend("b").checks.Load(), "both spellings share one entry")

	require.NoError(t, f.resolver.FetchToLocalPath(ctx, "store://b/models/../tex/a.png"))
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "content of /tex/a.png", string(data))
}

func TestResolve_PathEscapeIsNotLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{
		"store://b/../../../../../../etc/passwd",
		"store://b/models/../../secret",
		"store://../etc/passwd",
	} {
		t.Run(id, func(t *testing.T) {
			path, err := f.resolver.Resolve(ctx, id)
			require.Error(t, err)
			assert.Empty(t, path)
			assert.ErrorIs(t, err, errors.ErrMalformedIdentifier)
			assert.True(t, engine.IsPathEscape(err))

			info, err := f.resolver.ResolveWithInfo(ctx, id)
			require.Error(t, err)
			assert.Equal(t, "store", info.Backend)
			assert.Empty(t, info.LocalPath)

			assert.ErrorIs(t, f.resolver.FetchToLocalPath(ctx, id), errors.ErrMalformedIdentifier)
			_, err = f.resolver.Refresh(ctx, id)
			assert.ErrorIs(t, err, errors.ErrMalformedIdentifier)
			_, err = f.resolver.GetModificationTimestamp(ctx, id)
			assert.ErrorIs(t, err, errors.ErrMalformedIdentifier)
			_, err = f.resolver.ComputeLocalPath(id)
			assert.ErrorIs(t, err, errors.ErrMalformedIdentifier)
			_, err = f.resolver.ComputeNormalizedPath(id)
			assert.ErrorIs(t, err, errors.ErrMalformedIdentifier)
			assert.False(t, f.resolver.IsRelativePath(id))
		})
	}
	assert.Equal(t, int32(0), f.factories.Load())
}

func TestComputeNormalizedPath(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		id   string
		want string
	}{
		{"store://b/models/../tex/a.png", "store://b/tex/a.png"},
		{"store://b/./a.obj", "store://b/a.obj"},
		{"store://b/a.obj", "store://b/a.obj"},
		{"textures/../wood.png", "wood.png"},
		{"/scenes/./shot/../a.usd", filepath.Clean("/scenes/a.usd")},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := f.resolver.ComputeNormalizedPath(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}
	assert.Equal(t, int32(0), f.factories.Load())
}

func TestRefreshAndModificationTime(t *testing.T) {
	f := newFixture(t)
	b := f.backend("b")
	b.put("/a", 100)
	ctx := context.Background()
	id := "store://b/a"

	_, err := f.resolver.GetModificationTimestamp(ctx, id)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotResolved))

	_, err = f.resolver.Resolve(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.resolver.FetchToLocalPath(ctx, id))

	b.put("/a", 200)
	ts, err := f.resolver.GetModificationTimestamp(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.Timestamp(200), ts)

	info, err := f.resolver.Refresh(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateNeedsFetching, info.State)

	require.NoError(t, f.resolver.FetchToLocalPath(ctx, id))
	assert.Equal(t, int32(2), b.fetches.Load())
}

func TestModificationTime_LocalFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.workDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	ts, err := f.resolver.GetModificationTimestamp(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, types.TimestampFromTime(mtime), ts)

	_, err = f.resolver.GetModificationTimestamp(context.Background(), "missing.txt")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	assert.NoError(t, f.resolver.FetchToLocalPath(context.Background(), "a.txt"))
}

func TestConcurrentFirstUse(t *testing.T) {
	f := newFixture(t)
	f.backend("shared").put("/a", 1)

	var wg sync.WaitGroup
	paths := make([]string, 32)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.resolver.Resolve(context.Background(), "store://shared/a")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.factories.Load())
	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	assert.Equal(t, 1, f.resolver.Stats()["store"]["shared"].NeedsFetching)
}

// A Missing entry is re-probed on every unscoped Resolve, which makes the
// scope layer observable.
func TestScope_Isolation(t *testing.T) {
	f := newFixture(t)
	b := f.backend("b")
	id := "store://b/late.obj"

	ctx, layer := f.resolver.BeginScope(context.Background(), nil)
	path, err := f.resolver.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, path)

	b.put("/late.obj", 5)
	path, err = f.resolver.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, path, "scope serves the cached empty result")
	assert.Equal(t, int32(1), b.checks.Load())
	assert.Equal(t, 1, layer.Len())

	f.resolver.EndScope(ctx, layer)
	assert.True(t, layer.Closed())

	path, err = f.resolver.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, path, "fresh resolution after the scope ends")
	assert.Equal(t, int32(2), b.checks.Load())
}

func TestScope_ResolversDoNotShareResults(t *testing.T) {
	withAsset := newFixture(t)
	withAsset.backend("b").put("/a.obj", 1)
	without := newFixture(t)
	id := "store://b/a.obj"

	ctx, layer := withAsset.resolver.BeginScope(context.Background(), nil)
	defer withAsset.resolver.EndScope(ctx, layer)

	path, err := withAsset.resolver.Resolve(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	path, err = without.resolver.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, int32(1), without.backend("b").checks.Load())
	assert.Equal(t, 2, layer.Len())
}

func TestScope_Nested(t *testing.T) {
	f := newFixture(t)

	ctx, outer := f.resolver.BeginScope(context.Background(), nil)
	innerCtx, inner := f.resolver.BeginScope(ctx, nil)
	assert.Same(t, outer, inner)
	assert.Equal(t, 2, outer.Refs())

	f.resolver.EndScope(innerCtx, inner)
	assert.False(t, outer.Closed())
	f.resolver.EndScope(ctx, outer)
	assert.True(t, outer.Closed())
}

func TestScope_Mismatch(t *testing.T) {
	f := newFixture(t)

	assert.Panics(t, func() { f.resolver.EndScope(context.Background(), nil) })

	ctx, layer := f.resolver.BeginScope(context.Background(), nil)
	f.resolver.EndScope(ctx, layer)
	assert.Panics(t, func() { f.resolver.EndScope(ctx, layer) })
}

func TestScope_SharedAcrossGoroutines(t *testing.T) {
	f := newFixture(t)
	b := f.backend("b")
	b.put("/a", 1)
	id := "store://b/a"

	ctx, layer := f.resolver.BeginScope(context.Background(), nil)
	defer f.resolver.EndScope(ctx, layer)
	first, err := f.resolver.Resolve(ctx, id)
	require.NoError(t, err)

	done := make(chan string)
	go func(ctx context.Context) {
		ctx, l := f.resolver.BeginScope(ctx, layer)
		defer f.resolver.EndScope(ctx, l)
		p, _ := f.resolver.Resolve(ctx, id)
		done <- p
	}(Detach(ctx))

	assert.Equal(t, first, <-done)
	assert.Equal(t, int32(1), b.checks.Load())
}

func TestWithScope(t *testing.T) {
	f := newFixture(t)
	var seen *Layer
	err := f.resolver.WithScope(context.Background(), nil, func(ctx context.Context) error {
		_, err := f.resolver.Resolve(ctx, "plain.txt")
		_, seen = f.resolver.BeginScope(ctx, nil)
		f.resolver.EndScope(ctx, seen)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.True(t, seen.Closed())
}

func writePackage(t *testing.T, dir string, names ...string) string {
	t.Helper()
	path := filepath.Join(dir, "scene.usdz")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = io.WriteString(w, "data:"+name)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

func TestPackages(t *testing.T) {
	var opens atomic.Int32
	opener := func(path string) (archive.Reader, error) {
		opens.Add(1)
		return archive.OpenZip(path)
	}
	f := newFixture(t, WithArchiveOpener(opener))
	pkg := writePackage(t, f.workDir, "root.usdc", "tex/wood.png")
	ctx := context.Background()

	root, err := f.resolver.PackageRoot(ctx, pkg)
	require.NoError(t, err)
	assert.Equal(t, "root.usdc", root)

	got, err := f.resolver.ResolvePackaged(ctx, pkg, "tex/wood.png")
	require.NoError(t, err)
	assert.Equal(t, "tex/wood.png", got)

	got, err = f.resolver.ResolvePackaged(ctx, pkg, "tex/missing.png")
	require.NoError(t, err)
	assert.Empty(t, got)

	rng, err := f.resolver.OpenPackaged(ctx, pkg, "tex/wood.png")
	require.NoError(t, err)
	assert.Equal(t, int64(len("data:tex/wood.png")), rng.Size)

	raw, err := os.ReadFile(pkg)
	require.NoError(t, err)
	assert.Equal(t, "data:tex/wood.png", string(raw[rng.Offset:rng.Offset+rng.Size]))

	_, err = f.resolver.OpenPackaged(ctx, pkg, "tex/missing.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeEntryNotFound))
	assert.Equal(t, int32(5), opens.Load(), "each unscoped call opens the package")

	opens.Store(0)
	err = f.resolver.WithScope(ctx, nil, func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			if _, err := f.resolver.PackageRoot(ctx, "scene.usdz"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), opens.Load(), "a scope keeps the package open")

	_, err = f.resolver.PackageRoot(ctx, filepath.Join(f.workDir, "nope.usdz"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeArchiveInvalid))
}
