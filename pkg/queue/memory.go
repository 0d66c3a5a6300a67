package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Queue for tests and broker-less development runs.
// Nothing survives the process.
type Memory struct {
	mu     sync.Mutex
	queues map[string][]*Message
	closed bool
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{queues: make(map[string][]*Message)}
}

const memoryPollInterval = 5 * time.Millisecond

// Put implements Queue.
func (q *Memory) Put(ctx context.Context, clientID string, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrUnavailable)
	}
	q.queues[clientID] = append(q.queues[clientID], msg)
	return nil
}

// Get implements Queue.
func (q *Memory) Get(ctx context.Context, clientID string, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := q.shift(clientID)
		if err != nil || msg != nil {
			return msg, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := memoryPollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (q *Memory) shift(clientID string) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("%w: queue closed", ErrUnavailable)
	}
	list := q.queues[clientID]
	if len(list) == 0 {
		return nil, nil
	}
	msg := list[0]
	q.queues[clientID] = list[1:]
	return msg, nil
}

// Len implements Queue.
func (q *Memory) Len(ctx context.Context, clientID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, fmt.Errorf("%w: queue closed", ErrUnavailable)
	}
	return int64(len(q.queues[clientID])), nil
}

// Clear implements Queue.
func (q *Memory) Clear(ctx context.Context, clientID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrUnavailable)
	}
	delete(q.queues, clientID)
	return nil
}

// Close implements Queue.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.queues = nil
	return nil
}
