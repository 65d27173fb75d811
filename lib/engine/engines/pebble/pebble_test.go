package pebble

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/tKV/lib/engine"
	enginetesting "github.com/ValentinKolb/tKV/lib/engine/testing"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factory(t testing.TB) engine.Engine {
	p := NewProvider(vfs.NewMem())
	e, err := p.Open(engine.Options{Path: "db", Create: true})
	require.NoError(t, err)
	return e
}

func Test(t *testing.T) {
	enginetesting.RunEngineTests(t, "Pebble", factory)
}

func Benchmark(b *testing.B) {
	enginetesting.RunEngineBenchmarks(b, "Pebble", factory)
}

func TestPebble(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, p *Provider, path string)
	}{
		{
			name: "open_missing",
			fn:   testOpenMissing,
		},
		{
			name: "reopen_persists",
			fn:   testReopenPersists,
		},
		{
			name: "read_only",
			fn:   testReadOnly,
		},
		{
			name: "destroy",
			fn:   testDestroy,
		},
		{
			name: "info",
			fn:   testInfo,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "home")
			tc.fn(t, NewProvider(vfs.Default), path)
		})
	}
}

func testOpenMissing(t *testing.T, p *Provider, path string) {
	_, err := p.Open(engine.Options{Path: path})
	assert.ErrorIs(t, err, engine.ErrNotExist)

	ok, err := p.Exists(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testReopenPersists(t *testing.T, p *Provider, path string) {
	e, err := p.Open(engine.Options{Path: path, Create: true, Durable: true})
	require.NoError(t, err)

	b := engine.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	require.NoError(t, e.Apply(b))
	require.NoError(t, e.Sync())
	require.NoError(t, e.Close())

	ok, err := p.Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)

	e, err = p.Open(engine.Options{Path: path})
	require.NoError(t, err)
	defer e.Close() //nolint:errcheck

	value, found, err := e.Get([]byte("b"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("2"), value)
}

func testReadOnly(t *testing.T, p *Provider, path string) {
	e, err := p.Open(engine.Options{Path: path, Create: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = p.Open(engine.Options{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer e.Close() //nolint:errcheck

	b := engine.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	assert.ErrorIs(t, e.Apply(b), engine.ErrReadOnly)
	assert.ErrorIs(t, e.Compact([]byte("a"), []byte("b")), engine.ErrReadOnly)
}

func testDestroy(t *testing.T, p *Provider, path string) {
	assert.ErrorIs(t, p.Destroy(path), engine.ErrNotExist)

	e, err := p.Open(engine.Options{Path: path, Create: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	require.NoError(t, p.Destroy(path))
	ok, err := p.Exists(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testInfo(t *testing.T, p *Provider, path string) {
	e, err := p.Open(engine.Options{Path: path, Create: true})
	require.NoError(t, err)
	defer e.Close() //nolint:errcheck

	info := e.GetInfo()
	assert.Equal(t, engine.ImplPebble, info.Implementation)
	assert.Equal(t, path, info.Path)
	assert.True(t, e.SupportsFeature(engine.FeaturePersistent|engine.FeatureSnapshot))
	assert.Contains(t, info.SupportedFeatures, engine.FeatureDiskUsage)
	_, ok := info.Metadata.(Metadata)
	assert.True(t, ok)
}

func TestRegistered(t *testing.T) {
	p, err := engine.Lookup(engine.ImplPebble)
	require.NoError(t, err)
	assert.Equal(t, engine.ImplPebble, p.Implementation())
}
