// Package utterance accumulates transcribed speech fragments and flushes a
// completed utterance once the speaker has been silent past a timeout.
package utterance

import (
	"strings"
	"time"
)

// DefaultSilenceTimeout is the silence gap that terminates an utterance when
// the Aggregator is constructed with a zero timeout.
const DefaultSilenceTimeout = time.Second

// Aggregator buffers transcribed fragments while speech continues. It is a
// two-state machine: empty (idle) and accumulating. It is not safe for
// concurrent use; one ingest loop owns it.
type Aggregator struct {
	silenceTimeout time.Duration
	fragments      []string
	lastSpeechAt   time.Time
}

// NewAggregator creates an Aggregator with the given silence timeout.
func NewAggregator(silenceTimeout time.Duration) *Aggregator {
	if silenceTimeout <= 0 {
		silenceTimeout = DefaultSilenceTimeout
	}
	return &Aggregator{silenceTimeout: silenceTimeout}
}

// Append adds a fragment and marks now as the last time speech was heard.
// Fragments that are empty after trimming surrounding whitespace are ignored
// and do not advance the speech timestamp.
func (a *Aggregator) Append(fragment string, now time.Time) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	a.fragments = append(a.fragments, fragment)
	a.lastSpeechAt = now
}

// ShouldFlush reports whether the silence gap since the last fragment has
// exceeded the timeout. It is false while the buffer is empty, so silence
// alone never produces an utterance.
func (a *Aggregator) ShouldFlush(now time.Time) bool {
	if len(a.fragments) == 0 {
		return false
	}
	return now.Sub(a.lastSpeechAt) > a.silenceTimeout
}

// Flush joins the buffered fragments with single spaces, clears the buffer,
// and returns the utterance. ok is false when there was nothing buffered;
// flushing twice without new fragments yields nothing the second time.
func (a *Aggregator) Flush() (text string, ok bool) {
	if len(a.fragments) == 0 {
		return "", false
	}
	text = strings.Join(a.fragments, " ")
	a.fragments = a.fragments[:0]
	return text, true
}

// Len returns the number of buffered fragments.
func (a *Aggregator) Len() int {
	return len(a.fragments)
}

// LastSpeechAt returns the timestamp of the most recent fragment. The zero
// time means no fragment has ever been appended.
func (a *Aggregator) LastSpeechAt() time.Time {
	return a.lastSpeechAt
}

// SilenceTimeout returns the configured timeout.
func (a *Aggregator) SilenceTimeout() time.Duration {
	return a.silenceTimeout
}
