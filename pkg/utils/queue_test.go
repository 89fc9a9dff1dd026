package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := NewTaskQueue("test")
	defer q.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Dispatch(func() { got = append(got, i) }))
	}
	q.Sync(func() {})

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestTaskQueueSerializesConcurrentDispatch(t *testing.T) {
	q := NewTaskQueue("test")
	defer q.Close()

	counter := 0
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Dispatch(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	q.Sync(func() {})
	assert.Equal(t, 2000, counter)
}

func TestTaskQueueClose(t *testing.T) {
	q := NewTaskQueue("test")
	ran := make(chan struct{})
	q.Dispatch(func() { close(ran) })
	q.Close()
	q.Close()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not finish")
	}
	<-ran
	assert.False(t, q.Dispatch(func() {}))
	assert.False(t, q.Sync(func() {}))
}
