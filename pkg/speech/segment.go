package speech

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"google.golang.org/api/iterator"
)

// SentenceOptions configures a SentenceSegmenter. Zero values use defaults.
type SentenceOptions struct {
	// MaxRunes bounds the length of one emitted sentence. Text with no
	// boundary is force-split at this length. Default 256.
	MaxRunes int

	// MinRunes suppresses boundaries that would emit a shorter sentence,
	// so one-word blips are folded into the following clause. Default 0
	// (every boundary emits).
	MinRunes int
}

// SentenceSegmenter splits streamed reply text into sentences as it arrives.
//
// The producer Writes text fragments in generation order and finishes with
// CloseWrite; the consumer pulls complete sentences with Next. The first
// sentence is emitted at the earliest boundary to keep reply latency low;
// later ones batch up to the last known boundary. Emitted sentences are
// trimmed of surrounding whitespace.
type SentenceSegmenter struct {
	maxRunes int
	minRunes int

	mu          sync.Mutex
	closed      bool
	wclosed     bool
	emitted     bool
	err         error
	writeNotify chan struct{}
	buf         *bytes.Buffer
}

// NewSentenceSegmenter creates a segmenter. opts may be nil.
func NewSentenceSegmenter(opts *SentenceOptions) *SentenceSegmenter {
	if opts == nil {
		opts = &SentenceOptions{}
	}
	s := &SentenceSegmenter{
		maxRunes:    opts.MaxRunes,
		minRunes:    opts.MinRunes,
		writeNotify: make(chan struct{}, 1),
		buf:         bytes.NewBuffer(nil),
	}
	if s.maxRunes <= 0 {
		s.maxRunes = 256
	}
	if s.minRunes > s.maxRunes {
		s.minRunes = s.maxRunes
	}
	return s
}

// Write appends a text fragment. It implements io.Writer so a reader can be
// pumped in with io.Copy.
func (s *SentenceSegmenter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.wclosed {
		return 0, io.ErrClosedPipe
	}
	n, err := s.buf.Write(p)
	if err != nil {
		return n, err
	}
	select {
	case s.writeNotify <- struct{}{}:
	default:
	}
	return n, nil
}

// WriteString appends a text fragment.
func (s *SentenceSegmenter) WriteString(text string) error {
	_, err := io.WriteString(s, text)
	return err
}

// CloseWrite marks the end of input. Buffered text still drains through Next,
// which then reports iterator.Done.
func (s *SentenceSegmenter) CloseWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.wclosed {
		return
	}
	s.wclosed = true
	close(s.writeNotify)
}

// Close aborts the segmenter: buffered text is dropped and Next reports
// iterator.Done.
func (s *SentenceSegmenter) Close() {
	s.closeWithError(nil)
}

// Abort terminates the segmenter with a producer-side failure, which Next
// reports instead of iterator.Done.
func (s *SentenceSegmenter) Abort(err error) {
	s.closeWithError(err)
}

func (s *SentenceSegmenter) closeWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.buf.Reset()
	if !s.wclosed {
		s.wclosed = true
		close(s.writeNotify)
	}
}

func (s *SentenceSegmenter) nextRunes(move bool) (b []byte, full bool) {
	if move {
		defer func() {
			s.buf.Next(len(b))
		}()
	}
	b = s.buf.Bytes()
	idx := lastRuneIndex(b)
	b = b[:idx]
	if rs := []rune(string(b)); len(rs) >= s.maxRunes {
		b = []byte(string(rs[:s.maxRunes]))
		full = true
	}
	return
}

// Next blocks until a complete sentence is available, the input ends, or ctx
// is done. After the final sentence it returns iterator.Done.
func (s *SentenceSegmenter) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eof := false

	for {
		if s.closed {
			if s.err != nil {
				return "", s.err
			}
			return "", iterator.Done
		}
		if eof {
			for s.buf.Len() > 0 {
				b, _ := s.nextRunes(true)
				if len(b) == 0 {
					// Trailing bytes that do not form a whole rune.
					s.buf.Reset()
					break
				}
				if out := strings.TrimSpace(string(b)); out != "" {
					s.emitted = true
					return out, nil
				}
			}
			return "", iterator.Done
		}
		if b, full := s.nextRunes(false); len(b) > 0 {
			var idx int
			if s.emitted {
				idx = lastSegmentBoundaryIndex(b, s.minRunes)
			} else {
				idx = segmentBoundaryIndex(b, s.minRunes)
			}
			switch {
			case idx > 0:
				s.buf.Next(idx)
				if out := strings.TrimSpace(string(b[:idx])); out != "" {
					s.emitted = true
					return out, nil
				}
				continue
			case idx == 0 && full:
				s.buf.Next(len(b))
				if out := strings.TrimSpace(string(b)); out != "" {
					s.emitted = true
					return out, nil
				}
				continue
			}
		}
		s.mu.Unlock()
		select {
		case _, ok := <-s.writeNotify:
			eof = !ok
		case <-ctx.Done():
			s.mu.Lock()
			return "", ctx.Err()
		}
		s.mu.Lock()
	}
}

// lastRuneIndex returns the byte length of the longest prefix of b that ends
// on a whole rune.
func lastRuneIndex(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < utf8.RuneSelf {
			return i + 1
		}
		if !utf8.RuneStart(b[i]) {
			continue
		}
		r, sz := utf8.DecodeRune(b[i:])
		if r != utf8.RuneError {
			return i + sz
		}
		return i
	}
	return 0
}

// isBoundaryRune reports whether r ends a sentence. A '.', ':' or ',' between
// two digits is not a boundary, so 9.9 and 10:15 survive.
func isBoundaryRune(r, prev, next rune) bool {
	switch r {
	case '.', ':', ',', '：':
		if unicode.IsNumber(next) && unicode.IsNumber(prev) {
			return false
		}
		return true
	case '，', '；', '。', '？', '！', '…', '～',
		'?', '!', '¿', '¡', ';', '~',
		'\r', '\n', '„', '・':
		return true
	}
	return false
}

// lastSegmentBoundaryIndex returns the byte index just past the last boundary
// rune in b, or 0 when no boundary yields at least minRunes runes.
func lastSegmentBoundaryIndex(b []byte, minRunes int) int {
	it := lastRuneIndex(b)
	rs := []rune(string(b[:it]))

	n := 0

	for i, r := range slices.Backward(rs) {
		prev := '0'
		if i > 0 {
			prev = rs[i-1]
		}
		next := '0'
		if i < len(rs)-1 {
			next = rs[i+1]
			n += utf8.RuneLen(next)
		}
		if isBoundaryRune(r, prev, next) {
			if i+1 < minRunes {
				// Earlier boundaries only yield shorter sentences.
				return 0
			}
			return it - n
		}
	}
	return 0
}

// segmentBoundaryIndex returns the byte index just past the first boundary
// rune in b that yields at least minRunes runes, or 0 when there is none.
func segmentBoundaryIndex(b []byte, minRunes int) int {
	it := lastRuneIndex(b)
	rs := []rune(string(b[:it]))

	n := 0
	for i, r := range rs {
		n += utf8.RuneLen(r)
		prev := '0'
		if i > 0 {
			prev = rs[i-1]
		}
		next := '0'
		if i < len(rs)-1 {
			next = rs[i+1]
		}
		if isBoundaryRune(r, prev, next) && i+1 >= minRunes {
			return n
		}
	}
	return 0
}
