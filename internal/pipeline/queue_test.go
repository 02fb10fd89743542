package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func frameWith(seq uint64, payload string) Frame {
	return Frame{Seq: seq, Data: []byte(payload)}
}

// --- Test 1: FIFO Order ---

// Contract: frames come out in exactly the order they went in.
func TestQueueFIFO(t *testing.T) {
	q := NewFrameQueue(0, PolicyUnbounded)

	for i, payload := range []string{"A", "B", "C"} {
		if !q.Push(frameWith(uint64(i+1), payload)) {
			t.Fatalf("Push %d refused", i)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"A", "B", "C"} {
		f, err := q.Pull(ctx)
		if err != nil {
			t.Fatalf("Pull failed: %v", err)
		}
		if string(f.Data) != want {
			t.Errorf("pulled %q, want %q", f.Data, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue depth = %d after draining, want 0", q.Len())
	}
}

// --- Test 2: Drop Oldest ---

// Scenario: capacity 2, three pushes. The oldest frame is evicted, the
// two newest survive, one drop is counted.
func TestQueueDropOldest(t *testing.T) {
	q := NewFrameQueue(2, PolicyDropOldest)

	for i := 1; i <= 3; i++ {
		if !q.Push(frameWith(uint64(i), "")) {
			t.Fatalf("Push %d refused under drop-oldest", i)
		}
	}

	ctx := context.Background()
	f, _ := q.Pull(ctx)
	if f.Seq != 2 {
		t.Errorf("first pull seq = %d, want 2", f.Seq)
	}
	f, _ = q.Pull(ctx)
	if f.Seq != 3 {
		t.Errorf("second pull seq = %d, want 3", f.Seq)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
}

// --- Test 3: Drop Newest ---

func TestQueueDropNewest(t *testing.T) {
	q := NewFrameQueue(2, PolicyDropNewest)

	q.Push(frameWith(1, ""))
	q.Push(frameWith(2, ""))
	if q.Push(frameWith(3, "")) {
		t.Error("third push admitted under drop-newest at capacity")
	}

	ctx := context.Background()
	f, _ := q.Pull(ctx)
	if f.Seq != 1 {
		t.Errorf("first pull seq = %d, want 1", f.Seq)
	}
	f, _ = q.Pull(ctx)
	if f.Seq != 2 {
		t.Errorf("second pull seq = %d, want 2", f.Seq)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
}

// --- Test 4: Blocking Pull ---

// Scenario: a Pull on an empty queue parks until the producer pushes.
func TestQueuePullBlocksUntilPush(t *testing.T) {
	q := NewFrameQueue(0, PolicyUnbounded)

	got := make(chan Frame, 1)
	go func() {
		f, err := q.Pull(context.Background())
		if err != nil {
			return
		}
		got <- f
	}()

	time.Sleep(50 * time.Millisecond)
	q.Push(frameWith(7, "late"))

	select {
	case f := <-got:
		if f.Seq != 7 {
			t.Errorf("pulled seq = %d, want 7", f.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pull did not wake after Push")
	}
}

// --- Test 5: Context Cancellation ---

// Contract: a blocked Pull returns the context error when the caller's
// context ends, without a frame.
func TestQueuePullContextCancel(t *testing.T) {
	q := NewFrameQueue(0, PolicyUnbounded)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Pull(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Pull error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pull did not wake on cancellation")
	}
}

// --- Test 6: Close Drains ---

// Scenario:
// 1. Two frames queued, then Close.
// 2. The two frames are still pullable.
// 3. The next Pull reports ErrStopped; pushes after Close are refused.
func TestQueueCloseDrains(t *testing.T) {
	q := NewFrameQueue(0, PolicyUnbounded)
	q.Push(frameWith(1, "A"))
	q.Push(frameWith(2, "B"))
	q.Close()

	ctx := context.Background()
	for _, want := range []uint64{1, 2} {
		f, err := q.Pull(ctx)
		if err != nil {
			t.Fatalf("Pull after close failed: %v", err)
		}
		if f.Seq != want {
			t.Errorf("drained seq = %d, want %d", f.Seq, want)
		}
	}

	if _, err := q.Pull(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("Pull on drained closed queue = %v, want ErrStopped", err)
	}
	if q.Push(frameWith(3, "C")) {
		t.Error("Push admitted after Close")
	}

	// Idempotent.
	q.Close()
	t.Logf("✅ Close drains queued frames before reporting ErrStopped")
}

// --- Test 7: Close Wakes Blocked Pull ---

func TestQueueCloseWakesPull(t *testing.T) {
	q := NewFrameQueue(0, PolicyUnbounded)

	done := make(chan error, 1)
	go func() {
		_, err := q.Pull(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Pull error = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pull did not wake on Close")
	}
}

// --- Test 8: Concurrent Producer/Consumer ---

// Scenario: 1000 frames pushed from one goroutine while another pulls.
// Every frame arrives exactly once, in order, and nothing deadlocks.
func TestQueueConcurrent(t *testing.T) {
	q := NewFrameQueue(0, PolicyUnbounded)
	const total = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; i++ {
			q.Push(frameWith(uint64(i), ""))
			if i%97 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for want := uint64(1); want <= total; want++ {
		f, err := q.Pull(ctx)
		if err != nil {
			t.Fatalf("Pull %d failed: %v", want, err)
		}
		if f.Seq != want {
			t.Fatalf("pulled seq %d, want %d", f.Seq, want)
		}
	}
	wg.Wait()

	if q.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", q.Dropped())
	}
	t.Logf("✅ %d frames crossed the queue in order with no loss", total)
}
