// Package queue provides the durable per-client FIFO that decouples reply
// production from reply delivery.
//
// Each client has an independent queue identified by its client id. Producers
// append reply sentences as they stream in from the generator; the session's
// dispatch loop drains them one at a time, confirming delivery of each before
// taking the next. Queues are single-consumer per client: Clear must only be
// called by the queue's owner (teardown or barge-in).
//
// Three backends are provided: Redis (shared broker, survives process
// restarts), Badger (embedded, single node) and Memory (tests).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Message types.
const (
	TypeSentence = "sentence"
	TypeControl  = "control"
)

// ErrUnavailable indicates the broker could not be reached. Put callers are
// expected to log it and continue; repeated failures on the dispatch side
// escalate to session teardown.
var ErrUnavailable = errors.New("queue: broker unavailable")

// Message is one queued reply sentence or control directive.
type Message struct {
	Type       string    `json:"type" msgpack:"type"`
	Content    string    `json:"content" msgpack:"content"`
	EnqueuedAt time.Time `json:"enqueued_at" msgpack:"enqueued_at"`
}

// NewSentence returns a sentence message stamped with the current time.
func NewSentence(content string) *Message {
	return &Message{Type: TypeSentence, Content: content, EnqueuedAt: time.Now().UTC()}
}

// NewControl returns a control message stamped with the current time.
func NewControl(content string) *Message {
	return &Message{Type: TypeControl, Content: content, EnqueuedAt: time.Now().UTC()}
}

// Encode returns the msgpack encoding of m.
func (m *Message) Encode() ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeMessage decodes a msgpack-encoded message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("queue: decode message: %w", err)
	}
	return &m, nil
}

// Queue is a durable per-client FIFO.
type Queue interface {
	// Put appends msg to the client's queue. It never blocks beyond broker
	// round-trip time; unreachability surfaces an error wrapping
	// ErrUnavailable.
	Put(ctx context.Context, clientID string, msg *Message) error

	// Get removes and returns the oldest message, blocking up to timeout.
	// An elapsed timeout returns (nil, nil) so callers can re-check
	// cancellation; it is not an error.
	Get(ctx context.Context, clientID string, timeout time.Duration) (*Message, error)

	// Len returns the number of queued messages for the client.
	Len(ctx context.Context, clientID string) (int64, error)

	// Clear drops all queued messages for the client.
	Clear(ctx context.Context, clientID string) error

	// Close releases the backend.
	Close() error
}

// Pinger is implemented by backends with a broker to probe. Embedded
// backends have nothing to probe and simply don't implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Key returns the broker key holding a client's queue.
func Key(clientID string) string {
	return "queue:" + clientID
}
