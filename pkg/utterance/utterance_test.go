package utterance

import (
	"testing"
	"time"
)

func TestAggregator_FlushJoinsFragments(t *testing.T) {
	now := time.Now()
	a := NewAggregator(time.Second)

	a.Append("Hello", now)
	a.Append("world", now.Add(200*time.Millisecond))

	if a.ShouldFlush(now.Add(500 * time.Millisecond)) {
		t.Error("ShouldFlush true before the silence timeout elapsed")
	}
	if !a.ShouldFlush(now.Add(1500 * time.Millisecond)) {
		t.Error("ShouldFlush false after the silence timeout elapsed")
	}

	text, ok := a.Flush()
	if !ok {
		t.Fatal("Flush ok = false, want true")
	}
	if text != "Hello world" {
		t.Fatalf("Flush text = %q, want %q", text, "Hello world")
	}
	if a.Len() != 0 {
		t.Fatalf("Len() after flush = %d, want 0", a.Len())
	}
}

func TestAggregator_DoubleFlush(t *testing.T) {
	a := NewAggregator(time.Second)
	a.Append("hi", time.Now())

	if _, ok := a.Flush(); !ok {
		t.Fatal("first Flush should produce an utterance")
	}
	if text, ok := a.Flush(); ok {
		t.Fatalf("second Flush produced %q, want nothing", text)
	}
}

func TestAggregator_EmptyBufferNeverFlushes(t *testing.T) {
	a := NewAggregator(time.Second)

	if a.ShouldFlush(time.Now().Add(time.Hour)) {
		t.Error("ShouldFlush true on an empty buffer")
	}
	if _, ok := a.Flush(); ok {
		t.Error("Flush produced an utterance from an empty buffer")
	}
}

func TestAggregator_IgnoresBlankFragments(t *testing.T) {
	now := time.Now()
	a := NewAggregator(time.Second)

	a.Append("", now)
	a.Append("   ", now.Add(time.Millisecond))
	if a.Len() != 0 {
		t.Fatalf("Len() = %d after blank appends, want 0", a.Len())
	}

	a.Append("real", now.Add(2*time.Millisecond))
	a.Append("\t\n", now.Add(time.Hour))
	if got := a.LastSpeechAt(); !got.Equal(now.Add(2 * time.Millisecond)) {
		t.Fatalf("blank fragment advanced LastSpeechAt to %v", got)
	}
}

func TestAggregator_FragmentTrimmed(t *testing.T) {
	a := NewAggregator(time.Second)
	a.Append("  Hello  ", time.Now())
	a.Append("world ", time.Now())

	text, _ := a.Flush()
	if text != "Hello world" {
		t.Fatalf("Flush text = %q, want %q", text, "Hello world")
	}
}

func TestAggregator_NewFragmentDefersFlush(t *testing.T) {
	now := time.Now()
	a := NewAggregator(time.Second)

	a.Append("one", now)
	// Speech resumes just before the timeout would fire.
	a.Append("two", now.Add(900*time.Millisecond))

	if a.ShouldFlush(now.Add(1500 * time.Millisecond)) {
		t.Error("ShouldFlush true although speech resumed within the timeout")
	}
	if !a.ShouldFlush(now.Add(2 * time.Second)) {
		t.Error("ShouldFlush false after silence following the second fragment")
	}
}

func TestAggregator_ExactTimeoutBoundary(t *testing.T) {
	now := time.Now()
	a := NewAggregator(time.Second)
	a.Append("edge", now)

	// The gap must exceed the timeout, not merely reach it.
	if a.ShouldFlush(now.Add(time.Second)) {
		t.Error("ShouldFlush true at exactly the timeout boundary")
	}
	if !a.ShouldFlush(now.Add(time.Second + time.Nanosecond)) {
		t.Error("ShouldFlush false just past the timeout boundary")
	}
}

func TestNewAggregator_DefaultTimeout(t *testing.T) {
	a := NewAggregator(0)
	if a.SilenceTimeout() != DefaultSilenceTimeout {
		t.Fatalf("SilenceTimeout() = %v, want %v", a.SilenceTimeout(), DefaultSilenceTimeout)
	}
}
