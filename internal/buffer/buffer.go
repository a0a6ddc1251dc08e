package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrDataTooLarge is returned when a single write exceeds half the buffer
	// capacity. The caller should not retry; the write can never succeed.
	ErrDataTooLarge = errors.New("data too large for buffer")
	// ErrBufferFull is returned when a write does not fit even after
	// compaction. The caller may retry once readers catch up, or drop.
	ErrBufferFull = errors.New("buffer full")
	// ErrReaderNotFound is returned when a reader's cursor has been removed.
	ErrReaderNotFound = errors.New("reader not found")
	// ErrClosed is returned from reads after the buffer has been closed.
	ErrClosed = errors.New("buffer closed")
)

// TerminalBuffer is a fixed-capacity byte store shared between one writer
// (the capture loop) and any number of readers. Each reader owns a cursor and
// only ever sees the delta range it has not consumed yet. Space is reclaimed
// by compaction: bytes below the slowest active reader's cursor are dropped,
// which bounds memory to the slowest reader's lag rather than total bytes
// written.
type TerminalBuffer struct {
	mu      sync.RWMutex
	storage []byte
	notify  chan struct{}
	closed  bool
	maxSize int

	posMu    sync.Mutex
	readPos  map[string]int

	bytesWritten    atomic.Uint64
	bytesRead       atomic.Uint64
	messagesWritten atomic.Uint64
	overruns        atomic.Uint64
}

// Stats is a point-in-time snapshot of buffer counters.
type Stats struct {
	BytesWritten    uint64 `json:"bytesWritten"`
	BytesRead       uint64 `json:"bytesRead"`
	MessagesWritten uint64 `json:"messagesWritten"`
	Overruns        uint64 `json:"overruns"`
	BufferSize      int    `json:"bufferSize"`
	ReaderCount     int    `json:"readerCount"`
}

// NewTerminalBuffer creates a buffer holding at most maxSize bytes.
func NewTerminalBuffer(maxSize int) *TerminalBuffer {
	return &TerminalBuffer{
		storage: make([]byte, 0, maxSize),
		notify:  make(chan struct{}),
		maxSize: maxSize,
		readPos: make(map[string]int),
	}
}

// Write appends data to the buffer and wakes every blocked reader. Writes
// larger than half the capacity fail with ErrDataTooLarge. If the buffer is
// out of space it compacts first; if the write still does not fit, the
// overrun counter is incremented and ErrBufferFull is returned.
func (b *TerminalBuffer) Write(data []byte) error {
	if len(data) > b.maxSize/2 {
		return ErrDataTooLarge
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if len(b.storage)+len(data) > b.maxSize {
		b.compactLocked()
	}
	if len(b.storage)+len(data) > b.maxSize {
		b.overruns.Add(1)
		return ErrBufferFull
	}

	b.storage = append(b.storage, data...)
	b.bytesWritten.Add(uint64(len(data)))
	b.messagesWritten.Add(1)

	// Wake readers blocked on ReadNext.
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// compactLocked drops bytes already consumed by every attached reader and
// rewrites all cursors relative to the new floor. With no readers attached,
// everything is droppable. Caller must hold b.mu.
func (b *TerminalBuffer) compactLocked() {
	b.posMu.Lock()
	defer b.posMu.Unlock()

	min := len(b.storage)
	for _, pos := range b.readPos {
		if pos < min {
			min = pos
		}
	}
	if min == 0 {
		return
	}

	b.storage = append(b.storage[:0], b.storage[min:]...)
	for id, pos := range b.readPos {
		b.readPos[id] = pos - min
	}
}

// NewReader registers a cursor at the current write position: the reader
// observes only bytes written after it attached.
func (b *TerminalBuffer) NewReader(id string) *Reader {
	b.mu.RLock()
	pos := len(b.storage)
	b.mu.RUnlock()
	return b.newReaderAt(id, pos)
}

// NewReaderAt registers a cursor at an explicit replay offset, clamped to the
// currently retained range.
func (b *TerminalBuffer) NewReaderAt(id string, offset int) *Reader {
	b.mu.RLock()
	if offset > len(b.storage) {
		offset = len(b.storage)
	}
	if offset < 0 {
		offset = 0
	}
	b.mu.RUnlock()
	return b.newReaderAt(id, offset)
}

func (b *TerminalBuffer) newReaderAt(id string, pos int) *Reader {
	b.posMu.Lock()
	b.readPos[id] = pos
	b.posMu.Unlock()
	return &Reader{buf: b, id: id}
}

// Close marks the buffer closed and wakes all blocked readers. Subsequent
// writes fail and readers drain whatever remains before seeing ErrClosed.
func (b *TerminalBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
	b.notify = make(chan struct{})
}

// Stats returns a snapshot of the buffer counters.
func (b *TerminalBuffer) Stats() Stats {
	b.mu.RLock()
	size := len(b.storage)
	b.mu.RUnlock()

	b.posMu.Lock()
	readers := len(b.readPos)
	b.posMu.Unlock()

	return Stats{
		BytesWritten:    b.bytesWritten.Load(),
		BytesRead:       b.bytesRead.Load(),
		MessagesWritten: b.messagesWritten.Load(),
		Overruns:        b.overruns.Load(),
		BufferSize:      size,
		ReaderCount:     readers,
	}
}

// Reader is a cursor into a TerminalBuffer. Readers are not safe for
// concurrent use by multiple goroutines; each subscriber owns its own.
type Reader struct {
	buf *TerminalBuffer
	id  string
}

// ReadNext blocks until bytes beyond the reader's cursor are available and
// returns a copy of them. It returns ErrClosed once the buffer is closed and
// drained, and ctx.Err if the context is cancelled first.
func (r *Reader) ReadNext(ctx context.Context) ([]byte, error) {
	for {
		data, ch, err := r.tryRead()
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReadNext returns unconsumed bytes without blocking, or nil if the
// reader is caught up.
func (r *Reader) TryReadNext() ([]byte, error) {
	data, _, err := r.tryRead()
	return data, err
}

func (r *Reader) tryRead() ([]byte, chan struct{}, error) {
	r.buf.mu.RLock()
	defer r.buf.mu.RUnlock()

	r.buf.posMu.Lock()
	pos, ok := r.buf.readPos[r.id]
	r.buf.posMu.Unlock()
	if !ok {
		return nil, nil, ErrReaderNotFound
	}

	if pos >= len(r.buf.storage) {
		if r.buf.closed {
			return nil, nil, ErrClosed
		}
		return nil, r.buf.notify, nil
	}

	data := make([]byte, len(r.buf.storage)-pos)
	copy(data, r.buf.storage[pos:])

	r.buf.posMu.Lock()
	r.buf.readPos[r.id] = pos + len(data)
	r.buf.posMu.Unlock()

	r.buf.bytesRead.Add(uint64(len(data)))
	return data, nil, nil
}

// Close deregisters the reader's cursor so compaction is not blocked by an
// abandoned subscriber.
func (r *Reader) Close() {
	r.buf.posMu.Lock()
	delete(r.buf.readPos, r.id)
	r.buf.posMu.Unlock()
}
