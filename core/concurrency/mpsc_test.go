package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMPSC_ManyProducersOneConsumer(t *testing.T) {
	var notified atomic.Int64
	q := NewMPSC[int](func() { notified.Add(1) })
	producers := 8
	itemsPerProducer := 5000

	var wg sync.WaitGroup
	var sentSum int64
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				assert.NoError(t, q.Push(val))
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}
	wg.Wait()

	var receivedSum int64
	batch := q.Drain(nil)
	for _, v := range batch {
		receivedSum += int64(v)
	}
	assert.Len(t, batch, producers*itemsPerProducer)
	assert.Equal(t, sentSum, receivedSum)
	assert.Equal(t, int64(producers*itemsPerProducer), notified.Load())
	assert.Zero(t, q.Len())
}

func TestMPSC_PreservesPerProducerOrder(t *testing.T) {
	q := NewMPSC[int](nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
	}
	got := q.Drain(make([]int, 0, 100))
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestMPSC_CloseRejectsAndReturnsRemainder(t *testing.T) {
	q := NewMPSC[string](nil)
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))

	rest := q.Close()
	assert.Equal(t, []string{"a", "b"}, rest)
	assert.ErrorIs(t, q.Push("c"), ErrQueueClosed)
	assert.Empty(t, q.Drain(nil))
}
