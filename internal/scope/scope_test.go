package scope

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
)

type closer struct{ closed atomic.Bool }

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

func loadValue(calls *atomic.Int32, v any) func() (any, error) {
	return func() (any, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestStack_NoScopeAlwaysLoads(t *testing.T) {
	s := NewStack(nil, nil)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := s.Lookup("k", loadValue(&calls, "/cache/a"))
		require.NoError(t, err)
		assert.Equal(t, "/cache/a", v)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestStack_ScopeCachesLookups(t *testing.T) {
	s := NewStack(nil, nil)
	var calls atomic.Int32

	layer := s.Begin(nil)
	for i := 0; i < 3; i++ {
		_, err := s.Lookup("k", loadValue(&calls, "/cache/a"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, layer.Len())

	s.End(layer)
	assert.True(t, layer.Closed())
	assert.Equal(t, 0, layer.Len())

	_, err := s.Lookup("k", loadValue(&calls, "/cache/a"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "ended scope leaves nothing behind")
}

func TestStack_FailedLoadNotCached(t *testing.T) {
	s := NewStack(nil, nil)
	layer := s.Begin(nil)
	defer s.End(layer)

	_, err := s.Lookup("k", func() (any, error) { return nil, fmt.Errorf("unavailable") })
	require.Error(t, err)

	var calls atomic.Int32
	v, err := s.Lookup("k", loadValue(&calls, "ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStack_NestedScopesShareTopLayer(t *testing.T) {
	s := NewStack(nil, nil)
	var calls atomic.Int32

	outer := s.Begin(nil)
	_, _ = s.Lookup("k", loadValue(&calls, "v"))

	inner := s.Begin(nil)
	assert.Same(t, outer, inner)
	assert.Equal(t, 2, outer.Refs())
	assert.Equal(t, 2, s.Depth())

	_, _ = s.Lookup("k", loadValue(&calls, "v"))
	assert.Equal(t, int32(1), calls.Load())

	s.End(inner)
	assert.False(t, outer.Closed(), "outer scope still holds a reference")
	assert.Equal(t, 1, outer.Len())

	s.End(outer)
	assert.True(t, outer.Closed())
	assert.Equal(t, 0, s.Depth())
}

func TestStack_SharedLayerAcrossStacks(t *testing.T) {
	a := NewStack(nil, nil)
	b := NewStack(nil, nil)
	var calls atomic.Int32

	shared := a.Begin(nil)
	_, _ = a.Lookup("k", loadValue(&calls, "v"))

	got := b.Begin(shared)
	assert.Same(t, shared, got)
	assert.Equal(t, 2, shared.Refs())

	v, err := b.Lookup("k", loadValue(&calls, "other"))
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, int32(1), calls.Load())

	a.End(shared)
	assert.False(t, shared.Closed())
	b.End(shared)
	assert.True(t, shared.Closed())
}

func TestStack_Mismatch(t *testing.T) {
	t.Run("end without begin", func(t *testing.T) {
		s := NewStack(nil, nil)
		assert.PanicsWithError(t, "[scope] SCOPE_MISMATCH: EndScope without a matching BeginScope", func() {
			s.End(nil)
		})
	})

	t.Run("end out of order", func(t *testing.T) {
		s := NewStack(nil, nil)
		other := NewStack(nil, nil).Begin(nil)
		own := s.Begin(nil)

		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			assert.ErrorIs(t, err, errors.ErrScopeMismatch)
			assert.Equal(t, 1, s.Depth(), "stack untouched on mismatch")
			s.End(own)
		}()
		s.End(other)
	})
}

func TestLayer_ClosesValuesOnDiscard(t *testing.T) {
	s := NewStack(nil, nil)
	c := &closer{}

	layer := s.Begin(nil)
	_, err := s.Lookup("pkg", func() (any, error) { return c, nil })
	require.NoError(t, err)
	assert.False(t, c.closed.Load())

	s.End(layer)
	assert.True(t, c.closed.Load())
}

func TestLayer_ConcurrentMissesShareOneLoad(t *testing.T) {
	s := NewStack(nil, nil)
	layer := s.Begin(nil)
	defer s.End(layer)

	var calls atomic.Int32
	load := func() (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := layer.GetOrLoad("k", load)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	s := NewStack(nil, nil)
	ctx = WithStack(ctx, s)
	assert.Same(t, s, FromContext(ctx))

	assert.Nil(t, FromContext(Detach(ctx)))
}

func TestLayer_ID(t *testing.T) {
	a := NewStack(nil, nil).Begin(nil)
	b := NewStack(nil, nil).Begin(nil)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
