package buffer

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestBlockBuffer_AddNext(t *testing.T) {
	bb := BlockN[int](4)

	for i := 1; i <= 3; i++ {
		if err := bb.Add(i); err != nil {
			t.Fatalf("Add(%d) error: %v", i, err)
		}
	}
	if bb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", bb.Len())
	}
	bb.CloseWrite()

	for i := 1; i <= 3; i++ {
		v, err := bb.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if v != i {
			t.Fatalf("Next() = %d, want %d", v, i)
		}
	}

	_, err := bb.Next()
	if !errors.Is(err, ErrIteratorDone) {
		t.Fatalf("expected ErrIteratorDone, got %v", err)
	}
}

func TestBlockBuffer_AddBlocksWhenFull(t *testing.T) {
	bb := BlockN[int](2)
	bb.Add(1)
	bb.Add(2)

	unblocked := make(chan struct{})
	go func() {
		bb.Add(3)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Add should block on a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := bb.Next(); err != nil {
		t.Fatalf("Next error: %v", err)
	}

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("Add did not unblock after Next")
	}
}

func TestBlockBuffer_NextBlocksWhenEmpty(t *testing.T) {
	bb := BlockN[string](2)

	got := make(chan string, 1)
	go func() {
		v, err := bb.Next()
		if err != nil {
			t.Errorf("Next error: %v", err)
			return
		}
		got <- v
	}()

	time.Sleep(50 * time.Millisecond)
	bb.Add("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("Next() = %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Add")
	}
}

func TestBlockBuffer_FIFOUnderConcurrency(t *testing.T) {
	bb := BlockN[int](8)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := bb.Add(i); err != nil {
				t.Errorf("Add(%d) error: %v", i, err)
				return
			}
		}
		bb.CloseWrite()
	}()

	var got []int
	for {
		v, err := bb.Next()
		if err != nil {
			if errors.Is(err, ErrIteratorDone) {
				break
			}
			t.Fatalf("Next error: %v", err)
		}
		got = append(got, v)
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("received %d elements, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestBlockBuffer_CloseWithError(t *testing.T) {
	bb := BlockN[int](2)
	bb.Add(1)

	customErr := errors.New("stream aborted")
	bb.CloseWithError(customErr)

	if bb.Error() != customErr {
		t.Fatalf("Error() = %v, want %v", bb.Error(), customErr)
	}

	if err := bb.Add(2); err == nil {
		t.Fatal("Add should fail after CloseWithError")
	}
	if _, err := bb.Next(); !errors.Is(err, customErr) {
		t.Fatalf("Next error should wrap customErr, got %v", err)
	}
}

func TestBlockBuffer_CloseWithErrorUnblocksWaiters(t *testing.T) {
	bb := BlockN[int](1)

	done := make(chan error, 1)
	go func() {
		_, err := bb.Next()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	customErr := errors.New("torn down")
	bb.CloseWithError(customErr)

	select {
	case err := <-done:
		if !errors.Is(err, customErr) {
			t.Fatalf("Next error should wrap customErr, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after CloseWithError")
	}
}

func TestBlockBuffer_Close(t *testing.T) {
	bb := BlockN[int](2)
	bb.Close()

	if err := bb.Add(1); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Add error should wrap ErrClosedPipe, got %v", err)
	}
}

func TestBlockBuffer_DoubleCloseWrite(t *testing.T) {
	bb := BlockN[int](2)
	if err := bb.CloseWrite(); err != nil {
		t.Fatalf("first CloseWrite error: %v", err)
	}
	if err := bb.CloseWrite(); err != nil {
		t.Fatalf("second CloseWrite error: %v", err)
	}
}

func TestBlockBuffer_FirstErrorWins(t *testing.T) {
	bb := BlockN[int](2)

	err1 := errors.New("error1")
	err2 := errors.New("error2")
	bb.CloseWithError(err1)
	bb.CloseWithError(err2)

	if bb.Error() != err1 {
		t.Fatalf("Error() = %v, want %v", bb.Error(), err1)
	}
}
