// Package stream provides the bounded ring buffer that decouples a
// network-fetch producer from a parser consumer with blocking
// backpressure on both sides.
package stream

import (
	"io"
	"sync"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 4096

// Buffer is a fixed-capacity byte ring safe for one producer and one
// consumer goroutine. Writes block while the ring is full, reads block
// while it is empty. The stream ends only when the producer calls Close
// or CloseWithError; readers then drain the remaining bytes and receive
// the terminal error.
type Buffer struct {
	mu       sync.Mutex
	canRead  sync.Cond
	canWrite sync.Cond

	data  []byte
	start int
	count int

	closed bool
	cause  error
}

// New returns an empty buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{data: make([]byte, capacity)}
	b.canRead.L = &b.mu
	b.canWrite.L = &b.mu
	return b
}

// Write copies all of p into the ring, waiting for the consumer to free
// space as needed. It returns the number of bytes copied, short only
// when the buffer is closed mid-write.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for {
		if b.closed {
			return written, b.writeErr()
		}
		if written == len(p) {
			return written, nil
		}
		if b.count == len(b.data) {
			b.canWrite.Wait()
			continue
		}
		n := min(len(b.data)-b.count, len(p)-written)
		b.copyIn(p[written : written+n])
		written += n
		b.canRead.Signal()
	}
}

// Read copies up to len(p) of the oldest unread bytes into p, waiting
// for the producer when the ring is empty. Once the buffer is closed and
// drained it returns the close cause, or io.EOF for a clean Close.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 {
		if b.closed {
			return 0, b.readErr()
		}
		b.canRead.Wait()
	}
	n := b.copyOut(p)
	b.canWrite.Signal()
	return n, nil
}

// Close marks the end of the stream. Buffered bytes remain readable;
// after the drain, readers get io.EOF.
func (b *Buffer) Close() error { return b.CloseWithError(nil) }

// CloseWithError marks the end of the stream with cause. Buffered bytes
// remain readable; after the drain, readers get cause. Subsequent writes
// fail immediately. Only the first close takes effect.
func (b *Buffer) CloseWithError(cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.cause = cause
	b.canRead.Broadcast()
	b.canWrite.Broadcast()
	return nil
}

// Available returns the number of unread bytes without blocking.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Free returns the writable space left without blocking.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.count
}

// Capacity returns the fixed ring size.
func (b *Buffer) Capacity() int { return len(b.data) }

func (b *Buffer) writeErr() error {
	if b.cause != nil {
		return b.cause
	}
	return io.ErrClosedPipe
}

func (b *Buffer) readErr() error {
	if b.cause != nil {
		return b.cause
	}
	return io.EOF
}

// copyIn appends p after the unread region. The caller has verified p
// fits and holds mu.
func (b *Buffer) copyIn(p []byte) {
	end := (b.start + b.count) % len(b.data)
	n := copy(b.data[end:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}
	b.count += len(p)
}

// copyOut removes up to len(p) of the oldest bytes. The caller has
// verified the ring is non-empty and holds mu.
func (b *Buffer) copyOut(p []byte) int {
	n := min(len(p), b.count)
	first := copy(p[:n], b.data[b.start:])
	if first < n {
		copy(p[first:n], b.data)
	}
	b.start = (b.start + n) % len(b.data)
	b.count -= n
	return n
}
