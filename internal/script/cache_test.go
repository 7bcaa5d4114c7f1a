package script

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCacheEvictsLeastRecentlyUsed(t *testing.T) {
	env := NewLuaEnv(2)
	compiles := map[string]int{}
	compile := func(src string) (*Compiled, error) {
		compiles[src]++
		return env.compile(src)
	}

	for _, src := range []string{"return 1", "return 2", "return 1"} {
		_, err := env.cache.get(src, compile)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, compiles["return 1"])

	_, err := env.cache.get("return 3", compile)
	require.NoError(t, err)
	assert.Equal(t, 2, env.cache.len())

	_, err = env.cache.get("return 1", compile)
	require.NoError(t, err)
	assert.Equal(t, 1, compiles["return 1"])

	_, err = env.cache.get("return 2", compile)
	require.NoError(t, err)
	assert.Equal(t, 2, compiles["return 2"])
}

func TestChunkCacheSkipsFailedCompiles(t *testing.T) {
	cache := newChunkCache(4)
	boom := errors.New("boom")

	_, err := cache.get("return (", func(string) (*Compiled, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.len())
}

func TestEvaluateUsesCachedChunk(t *testing.T) {
	env := NewLuaEnv(8)

	for _, x := range []int{1, 2, 3} {
		ok, err := env.Evaluate("x > 0", map[string]any{"x": x})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, env.cache.len())
}
