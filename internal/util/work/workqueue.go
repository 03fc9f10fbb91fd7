package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"launchkey-go/internal/util"
)

var (
	ErrWorkQueueClosed = errors.New("work queue closed")
	ErrMaxRetries      = errors.New("max retries exceeded")
)

// WorkItem is one unit of work and its retry state.
type WorkItem[T any] struct {
	Data       T
	Priority   int
	Retries    int
	MaxRetries int
	LastError  error
	CreatedAt  time.Time
}

// WorkHandler processes one item. A non-nil error schedules a retry.
type WorkHandler[T any] func(ctx context.Context, item T) error

// Options tunes retry behaviour.
type Options[T any] struct {
	// Backoff is multiplied by the attempt number. Default 1s.
	Backoff time.Duration
	// MaxBackoff caps the wait between attempts. Default 1m.
	MaxBackoff time.Duration
	// OnDiscard is called when an item exhausts its retries or the queue
	// stops before it succeeded.
	OnDiscard func(item *WorkItem[T], err error)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued    int   `json:"queued"`
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Discarded int64 `json:"discarded"`
}

// WorkQueue runs items on a fixed pool of workers, highest priority first,
// retrying failures with linear backoff.
type WorkQueue[T any] struct {
	queue   *util.PriorityQueue[*WorkItem[T]]
	handler WorkHandler[T]
	opts    Options[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce  sync.Once
	stopped   atomic.Bool
	succeeded atomic.Int64
	retried   atomic.Int64
	discarded atomic.Int64
}

func NewWorkQueue[T any](numWorkers int, handler WorkHandler[T], opts Options[T]) *WorkQueue[T] {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	wq := &WorkQueue[T]{
		queue:   util.NewPriorityQueue[*WorkItem[T]](),
		handler: handler,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < numWorkers; i++ {
		wq.wg.Add(1)
		go wq.run()
	}
	return wq
}

func (wq *WorkQueue[T]) Submit(data T, priority int) error {
	return wq.SubmitWithRetries(data, priority, 0)
}

func (wq *WorkQueue[T]) SubmitWithRetries(data T, priority int, maxRetries int) error {
	if wq.stopped.Load() {
		return ErrWorkQueueClosed
	}
	item := &WorkItem[T]{
		Data:       data,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
	if err := wq.queue.PushItem(item, priority); err != nil {
		return ErrWorkQueueClosed
	}
	return nil
}

// Stop rejects new work and lets workers drain the queue. If ctx ends first,
// in-flight retries are abandoned and remaining items discarded.
func (wq *WorkQueue[T]) Stop(ctx context.Context) error {
	wq.stopOnce.Do(func() {
		wq.stopped.Store(true)
		wq.queue.Close()
	})

	done := make(chan struct{})
	go func() {
		wq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wq.cancel()
		return nil
	case <-ctx.Done():
		wq.cancel()
		<-done
		return ctx.Err()
	}
}

func (wq *WorkQueue[T]) IsStopped() bool {
	return wq.stopped.Load()
}

func (wq *WorkQueue[T]) GetStats() Stats {
	return Stats{
		Queued:    wq.queue.Len(),
		Succeeded: wq.succeeded.Load(),
		Retried:   wq.retried.Load(),
		Discarded: wq.discarded.Load(),
	}
}

func (wq *WorkQueue[T]) run() {
	defer wq.wg.Done()
	for {
		item, err := wq.queue.PopItem(wq.ctx)
		if err != nil {
			return
		}
		wq.processItem(item)
	}
}

func (wq *WorkQueue[T]) processItem(item *WorkItem[T]) {
	for {
		if wq.ctx.Err() != nil {
			wq.discard(item, wq.ctx.Err())
			return
		}
		err := wq.handler(wq.ctx, item.Data)
		if err == nil {
			wq.succeeded.Add(1)
			return
		}

		item.LastError = err
		item.Retries++
		if item.Retries > item.MaxRetries {
			wq.discard(item, errors.Join(ErrMaxRetries, err))
			return
		}
		wq.retried.Add(1)

		backoff := time.Duration(item.Retries) * wq.opts.Backoff
		if backoff > wq.opts.MaxBackoff {
			backoff = wq.opts.MaxBackoff
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-wq.ctx.Done():
			timer.Stop()
			wq.discard(item, wq.ctx.Err())
			return
		}
	}
}

func (wq *WorkQueue[T]) discard(item *WorkItem[T], err error) {
	wq.discarded.Add(1)
	if wq.opts.OnDiscard != nil {
		wq.opts.OnDiscard(item, err)
	}
}
