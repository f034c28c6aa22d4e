package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderFor(meta *TableMeta, calls *atomic.Int32) func(context.Context) (*TableMeta, error) {
	return func(context.Context) (*TableMeta, error) {
		calls.Add(1)
		return meta, nil
	}
}

func TestMetaCache_HitAfterLoad(t *testing.T) {
	c := NewMetaCache(0)
	ref := TableRef{Schema: "public", Name: "users"}
	want := &TableMeta{Schema: "public", Name: "users"}
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		got, err := c.Get(context.Background(), 1, ref, loaderFor(want, &calls))
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestMetaCache_KeyedByConnection(t *testing.T) {
	c := NewMetaCache(0)
	ref := TableRef{Schema: "public", Name: "users"}
	var calls atomic.Int32

	_, _ = c.Get(context.Background(), 1, ref, loaderFor(&TableMeta{}, &calls))
	_, _ = c.Get(context.Background(), 2, ref, loaderFor(&TableMeta{}, &calls))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Len())

	c.PurgeConn(1)
	assert.Equal(t, 1, c.Len())
}

func TestMetaCache_Evict(t *testing.T) {
	c := NewMetaCache(0)
	ref := TableRef{Schema: "public", Name: "users"}
	var calls atomic.Int32

	_, _ = c.Get(context.Background(), 1, ref, loaderFor(&TableMeta{}, &calls))
	c.Evict(1, ref)
	_, _ = c.Get(context.Background(), 1, ref, loaderFor(&TableMeta{}, &calls))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMetaCache_Expiry(t *testing.T) {
	c := NewMetaCache(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ref := TableRef{Schema: "public", Name: "users"}
	var calls atomic.Int32

	_, _ = c.Get(context.Background(), 1, ref, loaderFor(&TableMeta{}, &calls))
	now = now.Add(30 * time.Second)
	_, _ = c.Get(context.Background(), 1, ref, loaderFor(&TableMeta{}, &calls))
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(time.Minute)
	_, _ = c.Get(context.Background(), 1, ref, loaderFor(&TableMeta{}, &calls))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMetaCache_ErrorsAreNotCached(t *testing.T) {
	c := NewMetaCache(0)
	ref := TableRef{Schema: "public", Name: "gone"}
	boom := errors.New("boom")

	_, err := c.Get(context.Background(), 1, ref, func(context.Context) (*TableMeta, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestMetaCache_EvictDuringLoadIsNotStored(t *testing.T) {
	c := NewMetaCache(0)
	ref := TableRef{Schema: "public", Name: "users"}

	_, err := c.Get(context.Background(), 1, ref, func(context.Context) (*TableMeta, error) {
		c.Evict(1, ref)
		return &TableMeta{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestMetaCache_ConcurrentMissesShareLoad(t *testing.T) {
	c := NewMetaCache(0)
	ref := TableRef{Schema: "public", Name: "users"}
	release := make(chan struct{})
	var calls atomic.Int32

	load := func(context.Context) (*TableMeta, error) {
		calls.Add(1)
		<-release
		return &TableMeta{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), 1, ref, load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.Equal(t, 1, c.Len())
}

func TestMetaCache_SlashInNamesDoesNotShareLoad(t *testing.T) {
	c := NewMetaCache(0)
	first := TableRef{Schema: "a/b", Name: "c"}
	second := TableRef{Schema: "a", Name: "b/c"}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan *TableMeta, 1)
	go func() {
		meta, err := c.Get(context.Background(), 1, first, func(context.Context) (*TableMeta, error) {
			close(started)
			<-release
			return &TableMeta{Schema: first.Schema, Name: first.Name}, nil
		})
		assert.NoError(t, err)
		done <- meta
	}()
	<-started

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	timer := time.AfterFunc(time.Second, unblock)
	defer timer.Stop()

	got, err := c.Get(context.Background(), 1, second, func(context.Context) (*TableMeta, error) {
		return &TableMeta{Schema: second.Schema, Name: second.Name}, nil
	})
	unblock()
	require.NoError(t, err)
	assert.Equal(t, second, got.Ref())
	assert.Equal(t, first, (<-done).Ref())
}

func TestMetaKeyString(t *testing.T) {
	a := metaKey{connID: 1, schema: "a/b", name: "c"}
	b := metaKey{connID: 1, schema: "a", name: "b/c"}
	assert.NotEqual(t, a.String(), b.String())
}
