package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPriorityQueueOrder(t *testing.T) {
	pq := NewPriorityQueue[string]()
	_ = pq.PushItem("low-1", 1)
	_ = pq.PushItem("high", 5)
	_ = pq.PushItem("low-2", 1)

	want := []string{"high", "low-1", "low-2"}
	for _, w := range want {
		got, err := pq.PopItem(context.Background())
		if err != nil {
			t.Fatalf("PopItem: %v", err)
		}
		if got != w {
			t.Fatalf("got %s want %s", got, w)
		}
	}
	if !pq.IsEmpty() {
		t.Fatal("queue should be empty")
	}
}

func TestPriorityQueueBlocksUntilPush(t *testing.T) {
	pq := NewPriorityQueue[int]()
	result := make(chan int, 1)
	go func() {
		v, err := pq.PopItem(context.Background())
		if err == nil {
			result <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_ = pq.PushItem(42, 0)

	select {
	case v := <-result:
		if v != 42 {
			t.Fatalf("got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("PopItem did not wake up")
	}
}

func TestPriorityQueueCloseDrains(t *testing.T) {
	pq := NewPriorityQueue[int]()
	_ = pq.PushItem(1, 0)
	pq.Close()

	if err := pq.PushItem(2, 0); !errors.Is(err, ErrPriorityQueueClosed) {
		t.Fatalf("push after close: %v", err)
	}
	if v, err := pq.PopItem(context.Background()); err != nil || v != 1 {
		t.Fatalf("queued item lost: %d %v", v, err)
	}
	if _, err := pq.PopItem(context.Background()); !errors.Is(err, ErrPriorityQueueClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}

func TestPriorityQueueContextCancel(t *testing.T) {
	pq := NewPriorityQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pq.PopItem(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
