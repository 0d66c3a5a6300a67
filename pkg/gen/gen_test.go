package gen

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/iterator"
)

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(4)
	for i := range 10 {
		h.Add(RoleUser, fmt.Sprintf("turn %d", i))
	}

	if h.Len() != 4 {
		t.Fatalf("Len = %d, want 4", h.Len())
	}
	snap := h.Snapshot()
	if snap[0].Text != "turn 6" || snap[3].Text != "turn 9" {
		t.Fatalf("Snapshot = %v, want turns 6..9", snap)
	}
}

func TestHistory_SnapshotIsolated(t *testing.T) {
	h := NewHistory(0)
	h.Add(RoleUser, "hello")

	snap := h.Snapshot()
	snap[0].Text = "mutated"
	h.Add(RoleAssistant, "hi")

	if got := h.Snapshot()[0].Text; got != "hello" {
		t.Fatalf("history text = %q, want %q", got, "hello")
	}
}

func TestHistory_DefaultBound(t *testing.T) {
	h := NewHistory(0)
	for i := range DefaultMaxExchanges + 5 {
		h.Add(RoleUser, fmt.Sprintf("turn %d", i))
	}
	if h.Len() != DefaultMaxExchanges {
		t.Fatalf("Len = %d, want %d", h.Len(), DefaultMaxExchanges)
	}
}

func TestStream_OrderAndDone(t *testing.T) {
	sb := NewStreamBuilder(8)
	go func() {
		for _, s := range []string{"Hel", "lo ", "there."} {
			sb.Add(s)
		}
		sb.Done()
	}()

	var got string
	s := sb.Stream()
	for {
		frag, err := s.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			t.Fatalf("Next error: %v", err)
		}
		got += frag
	}
	if got != "Hello there." {
		t.Fatalf("assembled = %q, want %q", got, "Hello there.")
	}
}

func TestStream_Abort(t *testing.T) {
	sb := NewStreamBuilder(8)
	sb.Add("partial")
	boom := errors.New("model unavailable")
	sb.Abort(boom)

	if _, err := sb.Stream().Next(); !errors.Is(err, boom) {
		t.Fatalf("Next error = %v, want %v", err, boom)
	}
}

func TestStream_CloseStopsProducer(t *testing.T) {
	sb := NewStreamBuilder(1)
	sb.Add("a") // fill

	done := make(chan error, 1)
	go func() {
		done <- sb.Add("b") // blocks until the consumer closes
	}()

	sb.Stream().Close()
	if err := <-done; err == nil {
		t.Fatal("Add after consumer Close should fail")
	}
}
