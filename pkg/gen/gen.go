// Package gen is the reply generation boundary. A Generator streams model
// text for a prompt against the conversation so far; the session coordinator
// consumes fragments without knowing which vendor produced them.
package gen

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/voxwire/voxwire/pkg/buffer"

	"google.golang.org/api/iterator"
)

// Exchange roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxExchanges bounds conversation history.
const DefaultMaxExchanges = 20

// Exchange is one turn of the conversation.
type Exchange struct {
	Role string
	Text string
}

// History is bounded conversation memory. Old exchanges fall off the front
// once the bound is reached. Safe for concurrent use.
type History struct {
	mu        sync.Mutex
	max       int
	exchanges []Exchange
}

// NewHistory creates a history bounded to max exchanges. max <= 0 uses
// DefaultMaxExchanges.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxExchanges
	}
	return &History{max: max}
}

// Add appends one exchange, evicting the oldest when full.
func (h *History) Add(role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = append(h.exchanges, Exchange{Role: role, Text: text})
	if len(h.exchanges) > h.max {
		h.exchanges = slices.Delete(h.exchanges, 0, len(h.exchanges)-h.max)
	}
}

// Snapshot returns a copy of the exchanges, oldest first.
func (h *History) Snapshot() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.exchanges)
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exchanges)
}

// Generator streams a model reply to prompt, given the conversation so far.
type Generator interface {
	GenerateStream(ctx context.Context, history []Exchange, prompt string) (*Stream, error)
}

// StreamBuilder is the producer half of a text stream. The vendor adapter
// pushes fragments from its puller goroutine and terminates with Done or
// Abort, exactly once.
type StreamBuilder struct {
	rb *buffer.BlockBuffer[string]
}

// NewStreamBuilder creates a stream buffering up to size fragments; a full
// buffer blocks the producer.
func NewStreamBuilder(size int) *StreamBuilder {
	return &StreamBuilder{rb: buffer.BlockN[string](size)}
}

// Add pushes one text fragment.
func (sb *StreamBuilder) Add(fragment string) error {
	return sb.rb.Add(fragment)
}

// Done marks the end of generation.
func (sb *StreamBuilder) Done() error {
	return sb.rb.CloseWrite()
}

// Abort terminates the stream with a producer-side failure.
func (sb *StreamBuilder) Abort(err error) error {
	return sb.rb.CloseWithError(err)
}

// Stream returns the consumer half.
func (sb *StreamBuilder) Stream() *Stream {
	return (*Stream)(sb)
}

// Stream is an ordered sequence of generated text fragments.
type Stream StreamBuilder

// Next returns the next fragment. It returns iterator.Done after the last
// fragment of a completed generation, or the abort error of a failed one.
func (s *Stream) Next() (string, error) {
	fragment, err := s.rb.Next()
	if err != nil {
		if errors.Is(err, buffer.ErrIteratorDone) {
			return "", iterator.Done
		}
		return "", err
	}
	return fragment, nil
}

// Close releases the stream. A blocked producer fails on its next Add.
func (s *Stream) Close() error {
	return s.rb.Close()
}
