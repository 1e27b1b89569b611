package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

type stubBackend struct {
	target string
	closed atomic.Bool
}

func (s *stubBackend) CheckRemote(context.Context, string) (types.RemoteInfo, error) {
	return types.RemoteInfo{Exists: true}, nil
}

func (s *stubBackend) FetchContent(context.Context, string, string) (types.FetchResult, error) {
	return types.FetchResult{}, nil
}

func (s *stubBackend) Close() error {
	s.closed.Store(true)
	return nil
}

type countingFactory struct {
	calls atomic.Int32
	delay time.Duration
	fail  map[string]bool
}

func (f *countingFactory) build(ctx context.Context, target string) (types.Backend, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[target] {
		return nil, fmt.Errorf("dial %s: connection refused", target)
	}
	return &stubBackend{target: target}, nil
}

func TestRegistry_ConstructsOncePerTarget(t *testing.T) {
	f := &countingFactory{delay: 10 * time.Millisecond}
	r := New("s3", f.build)

	const goroutines = 50
	var wg sync.WaitGroup
	targets := make([]*Target, goroutines)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			targets[i] = r.Get(context.Background(), "bucketA")
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, tgt := range targets {
		assert.Same(t, targets[0], tgt)
		assert.Same(t, targets[0].Cache, tgt.Cache)
	}
}

func TestRegistry_DistinctTargets(t *testing.T) {
	f := &countingFactory{}
	r := New("s3", f.build)

	a := r.Get(context.Background(), "bucketA")
	b := r.Get(context.Background(), "bucketB")
	assert.NotSame(t, a, b)
	assert.NotSame(t, a.Cache, b.Cache)
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, []string{"bucketA", "bucketB"}, r.Targets())
}

func TestRegistry_FailedConstructionIsPermanent(t *testing.T) {
	f := &countingFactory{fail: map[string]bool{"db1": true}}
	r := New("sql", f.build)
	ctx := context.Background()

	tgt := r.Get(ctx, "db1")
	require.False(t, tgt.Available())
	assert.ErrorIs(t, tgt.Err, errors.ErrBackendUnavailable)

	_, err := tgt.Backend.CheckRemote(ctx, "/a")
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
	_, err = tgt.Backend.FetchContent(ctx, "/a", "/tmp/x")
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)

	again := r.Get(ctx, "db1")
	assert.Same(t, tgt, again)
	assert.Equal(t, int32(1), f.calls.Load(), "no reconstruction after failure")
}

func TestRegistry_CanceledContextDoesNotPoison(t *testing.T) {
	var sawCanceled atomic.Bool
	r := New("s3", func(ctx context.Context, target string) (types.Backend, error) {
		if ctx.Err() != nil {
			sawCanceled.Store(true)
			return nil, ctx.Err()
		}
		return &stubBackend{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tgt := r.Get(ctx, "bucketA")
	assert.True(t, tgt.Available())
	assert.False(t, sawCanceled.Load())
}

func TestRegistry_NilBackendIsUnavailable(t *testing.T) {
	r := New("s3", func(context.Context, string) (types.Backend, error) { return nil, nil })
	tgt := r.Get(context.Background(), "x")
	assert.False(t, tgt.Available())
}

func TestRegistry_Lookup(t *testing.T) {
	r := New("s3", (&countingFactory{}).build)

	_, ok := r.Lookup("bucketA")
	assert.False(t, ok)

	want := r.Get(context.Background(), "bucketA")
	got, ok := r.Lookup("bucketA")
	require.True(t, ok)
	assert.Same(t, want, got)
}

func TestRegistry_Close(t *testing.T) {
	f := &countingFactory{fail: map[string]bool{"bad": true}}
	r := New("s3", f.build)

	good := r.Get(context.Background(), "good")
	r.Get(context.Background(), "bad")

	require.NoError(t, r.Close())
	assert.True(t, good.Backend.(*stubBackend).closed.Load())
	assert.Empty(t, r.Targets())
}
