package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	var r Registry[*int] = NewMemoryRegistry[*int]()
	one, two := 1, 2

	require.NoError(t, r.Add("a", &one))
	require.NoError(t, r.Add("b", &two))
	assert.Error(t, r.Add("a", &two))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, *got)

	all := r.All()
	delete(all, "a")
	assert.Equal(t, 2, r.Len())

	removed, err := r.Remove("a")
	require.NoError(t, err)
	assert.Same(t, &one, removed)

	_, err = r.Remove("a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestMemoryRegistryConcurrent(t *testing.T) {
	r := NewMemoryRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A' + i))
			_ = r.Add(id, i)
			r.Get(id)
			r.All()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}
