package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrIteratorDone is returned by Next when the buffer is closed for writing
// and all elements have been consumed.
var ErrIteratorDone = errors.New("iterator done")

// BlockBuffer is a thread-safe fixed-size circular buffer. Producers block
// when the buffer is full and consumers block when it is empty, so a bounded
// BlockBuffer doubles as a flow-control channel between a stream producer
// and its consumer.
//
// The write side is closed with CloseWrite (consumers drain the remainder and
// then see ErrIteratorDone or io.EOF) or torn down with CloseWithError
// (everything unblocks with the given error).
type BlockBuffer[T any] struct {
	cond *sync.Cond

	mu         sync.Mutex
	buf        []T
	head, tail int64
	closeWrite bool
	closeErr   error
}

// BlockN creates a new BlockBuffer holding at most size elements.
func BlockN[T any](size int) *BlockBuffer[T] {
	v := &BlockBuffer[T]{
		buf: make([]T, size),
	}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// Add appends a single element, blocking while the buffer is full.
func (bb *BlockBuffer[T]) Add(t T) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil {
		return fmt.Errorf("buffer: write to closed buffer: %w", bb.closeErr)
	}
	if bb.closeWrite {
		return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	bufsz := int64(len(bb.buf))
	for bb.tail-bb.head == bufsz {
		bb.cond.Wait()
		if bb.closeErr != nil {
			return fmt.Errorf("buffer: write to closed buffer: %w", bb.closeErr)
		}
		if bb.closeWrite {
			return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
		}
	}
	bb.buf[bb.tail%bufsz] = t
	bb.tail++
	bb.cond.Signal()
	return nil
}

// Next removes and returns the oldest element, blocking while the buffer is
// empty. Once the write side is closed and the buffer drained it returns
// ErrIteratorDone.
func (bb *BlockBuffer[T]) Next() (t T, err error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil {
		err = fmt.Errorf("buffer: read from closed buffer: %w", bb.closeErr)
		return
	}
	for bb.head == bb.tail {
		if bb.closeWrite {
			err = ErrIteratorDone
			return
		}
		bb.cond.Wait()
		if bb.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed buffer: %w", bb.closeErr)
			return
		}
	}
	t = bb.buf[bb.head%int64(len(bb.buf))]
	bb.head++
	bb.cond.Signal()
	return t, nil
}

// CloseWrite closes the write side. Buffered elements remain readable;
// subsequent Add calls fail and Next returns ErrIteratorDone after the
// buffer drains. Closing an already-closed write side is a no-op.
func (bb *BlockBuffer[T]) CloseWrite() error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeWrite {
		return nil
	}
	bb.closeWrite = true
	bb.cond.Broadcast()
	return nil
}

// CloseWithError tears the buffer down: all pending and future operations
// fail with err (io.ErrClosedPipe if err is nil). The first error wins.
func (bb *BlockBuffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil {
		return nil
	}
	bb.closeErr = err
	bb.closeWrite = true
	bb.cond.Broadcast()
	return nil
}

// Close is CloseWithError(io.ErrClosedPipe).
func (bb *BlockBuffer[T]) Close() error {
	return bb.CloseWithError(io.ErrClosedPipe)
}

// Error returns the error the buffer was closed with, if any.
func (bb *BlockBuffer[T]) Error() error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.closeErr
}

// Len returns the number of buffered elements.
func (bb *BlockBuffer[T]) Len() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return int(bb.tail - bb.head)
}
