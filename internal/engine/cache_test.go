package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActiveDataCacheRegisterAndRemove(t *testing.T) {
	cache := NewActiveDataCache()

	cache.Register("t1", "trigger-1", "cpu", "ram")
	assert.True(t, cache.IsActive("t1", "cpu"))
	assert.True(t, cache.IsActive("t1", "ram"))
	assert.False(t, cache.IsActive("t1", "disk"))
	assert.False(t, cache.IsActive("t2", "cpu"))

	cache.RemoveTrigger("t1", "trigger-1")
	assert.False(t, cache.IsActive("t1", "cpu"))
	assert.False(t, cache.IsActive("t1", "ram"))
	assert.Zero(t, cache.Size())
}

func TestActiveDataCacheIdempotent(t *testing.T) {
	cache := NewActiveDataCache()

	cache.Register("t1", "trigger-1", "cpu")
	cache.Register("t1", "trigger-1", "cpu")
	assert.Equal(t, 1, cache.Size())

	cache.RemoveTrigger("t1", "trigger-1")
	cache.RemoveTrigger("t1", "trigger-1")
	assert.False(t, cache.IsActive("t1", "cpu"))
	assert.Zero(t, cache.Size())
}

func TestActiveDataCacheSharedDataID(t *testing.T) {
	cache := NewActiveDataCache()

	cache.Register("t1", "trigger-1", "cpu")
	cache.Register("t1", "trigger-2", "cpu")

	// Still referenced by trigger-2 after trigger-1 unloads
	cache.RemoveTrigger("t1", "trigger-1")
	assert.True(t, cache.IsActive("t1", "cpu"))

	cache.RemoveTrigger("t1", "trigger-2")
	assert.False(t, cache.IsActive("t1", "cpu"))
}

func TestActiveDataCacheIgnoresEmptyDataID(t *testing.T) {
	cache := NewActiveDataCache()
	cache.Register("t1", "trigger-1", "cpu", "")
	assert.Equal(t, 1, cache.Size())
	assert.False(t, cache.IsActive("t1", ""))
}

func TestActiveDataCacheClear(t *testing.T) {
	cache := NewActiveDataCache()
	cache.Register("t1", "trigger-1", "cpu")
	cache.Register("t2", "trigger-2", "ram")

	cache.Clear()
	assert.Zero(t, cache.Size())
	assert.False(t, cache.IsActive("t1", "cpu"))
}
