package util

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

var ErrPriorityQueueClosed = errors.New("priority queue closed")

type priorityItem[T any] struct {
	value    T
	priority int
	seq      uint64
}

type itemHeap[T any] []*priorityItem[T]

func (h itemHeap[T]) Len() int { return len(h) }

// Less puts higher priority first and keeps FIFO order within a priority.
func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap[T]) Push(x any) { *h = append(*h, x.(*priorityItem[T])) }

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is a blocking, goroutine-safe priority queue.
type PriorityQueue[T any] struct {
	mu     sync.Mutex
	items  itemHeap[T]
	seq    uint64
	closed bool
	// ready is replaced after every wake-up so waiters can select on it.
	ready chan struct{}
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{ready: make(chan struct{})}
}

// PushItem adds value. Higher priority pops first.
func (pq *PriorityQueue[T]) PushItem(value T, priority int) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.closed {
		return ErrPriorityQueueClosed
	}
	pq.seq++
	heap.Push(&pq.items, &priorityItem[T]{value: value, priority: priority, seq: pq.seq})
	pq.wakeLocked()
	return nil
}

// PopItem blocks until an item is available, the queue is closed and drained,
// or ctx ends.
func (pq *PriorityQueue[T]) PopItem(ctx context.Context) (T, error) {
	var zero T
	for {
		pq.mu.Lock()
		if len(pq.items) > 0 {
			item := heap.Pop(&pq.items).(*priorityItem[T])
			pq.mu.Unlock()
			return item.value, nil
		}
		if pq.closed {
			pq.mu.Unlock()
			return zero, ErrPriorityQueueClosed
		}
		ready := pq.ready
		pq.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close rejects further pushes. Queued items can still be popped.
func (pq *PriorityQueue[T]) Close() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if !pq.closed {
		pq.closed = true
		pq.wakeLocked()
	}
}

func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.Len() == 0
}

func (pq *PriorityQueue[T]) wakeLocked() {
	close(pq.ready)
	pq.ready = make(chan struct{})
}
