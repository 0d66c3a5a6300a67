// Package speech is the provider boundary for speech recognition and
// synthesis. The session coordinator talks to a Transcriber and a Synthesizer
// and never to a vendor SDK directly.
package speech

import (
	"context"
	"errors"
	"iter"

	"github.com/voxwire/voxwire/pkg/audio/pcm"
	"github.com/voxwire/voxwire/pkg/buffer"

	"google.golang.org/api/iterator"
)

// Transcriber converts one complete utterance of raw PCM audio to text.
type Transcriber interface {
	// Transcribe returns the transcript of the given audio. An empty string
	// with a nil error means the provider heard nothing.
	Transcribe(ctx context.Context, audio []byte, format pcm.Format) (string, error)
}

// Synthesizer converts one sentence of text to an audio stream.
type Synthesizer interface {
	// Synthesize starts synthesis and returns immediately; audio chunks
	// arrive through the stream as the provider produces them.
	Synthesize(ctx context.Context, text string) (*Stream, error)
}

// StreamBuilder is the producer half of an audio stream. A provider adapter
// pushes chunks from its own goroutine and terminates the stream with Done or
// Abort, exactly once.
type StreamBuilder struct {
	rb     *buffer.BlockBuffer[[]byte]
	format pcm.Format
}

// NewStreamBuilder creates a stream carrying audio in the given format. size
// bounds the number of buffered chunks; a full buffer blocks the producer.
func NewStreamBuilder(format pcm.Format, size int) *StreamBuilder {
	return &StreamBuilder{
		rb:     buffer.BlockN[[]byte](size),
		format: format,
	}
}

// Add pushes one audio chunk. It blocks while the consumer lags and fails
// once the stream is closed.
func (sb *StreamBuilder) Add(chunk []byte) error {
	return sb.rb.Add(chunk)
}

// Done marks the end of the audio.
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

// Stream is an ordered sequence of PCM audio chunks.
type Stream StreamBuilder

// Next returns the next chunk. It returns iterator.Done after the last chunk
// of a completed stream, or the abort error of a failed one.
func (s *Stream) Next() ([]byte, error) {
	chunk, err := s.rb.Next()
	if err != nil {
		if errors.Is(err, buffer.ErrIteratorDone) {
			return nil, iterator.Done
		}
		return nil, err
	}
	return chunk, nil
}

// Format reports the PCM format of the stream's audio.
func (s *Stream) Format() pcm.Format {
	return s.format
}

// Close releases the stream. A blocked producer fails on its next Add.
func (s *Stream) Close() error {
	return s.rb.Close()
}

// NextIter is an interface for types that support Next() iteration.
type NextIter[T any] interface {
	Next() (T, error)
}

// Iter converts a NextIter to an iter.Seq2 for use with range loops.
// The iteration stops when Next() returns iterator.Done.
func Iter[T any](it NextIter[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			el, err := it.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) {
					return
				}
				yield(el, err)
				return
			}
			if !yield(el, nil) {
				return
			}
		}
	}
}
