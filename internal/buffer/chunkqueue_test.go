package buffer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkQueueSequencing(t *testing.T) {
	q := NewChunkQueue(8)

	first := q.Write([]byte("a"))
	second := q.Write([]byte("b"))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestChunkReaderStartsAtSubscription(t *testing.T) {
	q := NewChunkQueue(8)
	q.Write([]byte("before"))

	r := q.NewReader()
	_, ok := r.TryReadNext()
	assert.False(t, ok, "chunks written before subscription are not delivered")

	q.Write([]byte("after"))
	chunk, ok := r.TryReadNext()
	require.True(t, ok)
	assert.Equal(t, []byte("after"), chunk.Data)
}

func TestChunkReaderInOrderDelivery(t *testing.T) {
	q := NewChunkQueue(16)
	r := q.NewReader()

	for i := 0; i < 10; i++ {
		q.Write([]byte{byte(i)})
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		chunk, err := r.ReadNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, chunk.Data)
	}
	_, ok := r.TryReadNext()
	assert.False(t, ok)
}

func TestChunkQueueEvictsOldest(t *testing.T) {
	q := NewChunkQueue(4)
	r := q.NewReader()

	for i := 0; i < 10; i++ {
		q.Write([]byte(fmt.Sprintf("chunk-%d", i)))
	}
	assert.Equal(t, 4, q.Len())

	// Chunks 1-6 were evicted; the reader resyncs past the gap and sees the
	// four survivors in order.
	var got []string
	for {
		chunk, ok := r.TryReadNext()
		if !ok {
			break
		}
		got = append(got, string(chunk.Data))
	}
	assert.Equal(t, []string{"chunk-6", "chunk-7", "chunk-8", "chunk-9"}, got)
}

func TestChunkReadersAdvanceIndependently(t *testing.T) {
	q := NewChunkQueue(8)
	fast := q.NewReader()
	slow := q.NewReader()

	q.Write([]byte("one"))
	q.Write([]byte("two"))

	chunk, ok := fast.TryReadNext()
	require.True(t, ok)
	assert.Equal(t, []byte("one"), chunk.Data)
	chunk, ok = fast.TryReadNext()
	require.True(t, ok)
	assert.Equal(t, []byte("two"), chunk.Data)

	// The fast reader consuming everything must not steal from the slow one.
	chunk, ok = slow.TryReadNext()
	require.True(t, ok)
	assert.Equal(t, []byte("one"), chunk.Data)
	chunk, ok = slow.TryReadNext()
	require.True(t, ok)
	assert.Equal(t, []byte("two"), chunk.Data)
}

func TestChunkReaderBlocksUntilWrite(t *testing.T) {
	q := NewChunkQueue(8)
	r := q.NewReader()

	done := make(chan Chunk, 1)
	go func() {
		chunk, err := r.ReadNext(context.Background())
		if err == nil {
			done <- chunk
		}
	}()

	select {
	case <-done:
		t.Fatal("read returned before any write")
	case <-time.After(20 * time.Millisecond):
	}

	q.Write([]byte("payload"))
	select {
	case chunk := <-done:
		assert.Equal(t, []byte("payload"), chunk.Data)
	case <-time.After(time.Second):
		t.Fatal("reader never woke up")
	}
}

func TestChunkReaderContextCancel(t *testing.T) {
	q := NewChunkQueue(8)
	r := q.NewReader()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.ReadNext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChunkQueueCloseDrainsThenFails(t *testing.T) {
	q := NewChunkQueue(8)
	r := q.NewReader()

	q.Write([]byte("last"))
	q.Close()

	chunk, err := r.ReadNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), chunk.Data)

	_, err = r.ReadNext(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChunkQueueWriteCopiesData(t *testing.T) {
	q := NewChunkQueue(8)
	r := q.NewReader()

	src := []byte("mutable")
	q.Write(src)
	src[0] = 'X'

	chunk, ok := r.TryReadNext()
	require.True(t, ok)
	assert.Equal(t, []byte("mutable"), chunk.Data)
}
