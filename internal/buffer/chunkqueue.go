package buffer

import (
	"context"
	"sync"
)

// Chunk is a sequence-numbered slice of captured terminal output. Sequence
// numbers are assigned at write time and are strictly monotonic per queue.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// ChunkQueue is the bounded, lossy-under-pressure framing of the shared
// buffer: writes enqueue sequence-numbered chunks and the oldest chunk is
// evicted when the queue is full. Readers reassemble in order by hunting for
// the next expected sequence number, so queue depth stays O(1) at the cost
// of strict delivery under extreme backlog. Stale terminal output is
// harmless once superseded, which is why eviction is acceptable here.
type ChunkQueue struct {
	mu      sync.Mutex
	chunks  []Chunk
	seq     uint64
	evicted uint64 // highest sequence number dropped by eviction
	notify  chan struct{}
	depth   int
	closed  bool
}

// NewChunkQueue creates a queue holding at most depth chunks.
func NewChunkQueue(depth int) *ChunkQueue {
	return &ChunkQueue{
		chunks: make([]Chunk, 0, depth),
		notify: make(chan struct{}),
		depth:  depth,
	}
}

// Write enqueues data as the next chunk in sequence, evicting the oldest
// chunk if the queue is full, and wakes blocked readers.
func (q *ChunkQueue) Write(data []byte) Chunk {
	buf := make([]byte, len(data))
	copy(buf, data)

	q.mu.Lock()
	q.seq++
	chunk := Chunk{Seq: q.seq, Data: buf}
	if len(q.chunks) >= q.depth {
		if q.chunks[0].Seq > q.evicted {
			q.evicted = q.chunks[0].Seq
		}
		q.chunks = q.chunks[1:]
	}
	q.chunks = append(q.chunks, chunk)
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()

	return chunk
}

// Close wakes all blocked readers; subsequent reads fail with ErrClosed once
// the queue is drained.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
	q.notify = make(chan struct{})
}

// Len returns the number of chunks currently queued.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// NewReader creates a reader expecting the first chunk written after this
// call; chunks already in the queue are treated as consumed.
func (q *ChunkQueue) NewReader() *ChunkReader {
	q.mu.Lock()
	last := q.seq
	q.mu.Unlock()
	return &ChunkReader{queue: q, lastSeq: last}
}

// ChunkReader consumes chunks from a ChunkQueue in strict sequence order.
// Not safe for concurrent use; each subscriber owns its own reader.
type ChunkReader struct {
	queue   *ChunkQueue
	lastSeq uint64
}

// ReadNext blocks until the next chunk in sequence is available. If the
// expected chunk was evicted under pressure, the reader skips forward past
// the gap rather than stalling forever.
func (r *ChunkReader) ReadNext(ctx context.Context) (Chunk, error) {
	for {
		chunk, ch, ok, err := r.tryNext()
		if err != nil {
			return Chunk{}, err
		}
		if ok {
			return chunk, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// TryReadNext returns the next chunk in sequence without blocking, or
// ok=false if it has not been written yet.
func (r *ChunkReader) TryReadNext() (Chunk, bool) {
	chunk, _, ok, err := r.tryNext()
	if err != nil {
		return Chunk{}, false
	}
	return chunk, ok
}

func (r *ChunkReader) tryNext() (Chunk, chan struct{}, bool, error) {
	q := r.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	// Eviction opened a gap in front of us; resync to the oldest retained
	// chunk so the reader never starves.
	if q.evicted > r.lastSeq {
		r.lastSeq = q.evicted
	}

	// Chunks at or below lastSeq are already consumed and skipped; chunks
	// beyond lastSeq+1 stay queued for later. Readers never remove chunks,
	// so each subscriber advances independently; only overflow eviction
	// reclaims slots.
	for _, chunk := range q.chunks {
		if chunk.Seq == r.lastSeq+1 {
			r.lastSeq = chunk.Seq
			return chunk, nil, true, nil
		}
	}

	if q.closed {
		return Chunk{}, nil, false, ErrClosed
	}
	return Chunk{}, q.notify, false, nil
}
