package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

const queueSize = 1000

// AsyncEventBus runs subscribers on a fixed worker pool.
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	wg        sync.WaitGroup

	mu       sync.Mutex
	idle     *sync.Cond
	pending  int
	dropped  int64
	stopped  bool
	stopOnce sync.Once
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus creates an AsyncEventBus; call Start before publishing.
func NewAsyncEventBus(workerNum int) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = DefaultWorkers
	}
	aeb := &AsyncEventBus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, queueSize),
	}
	aeb.idle = sync.NewCond(&aeb.mu)
	return aeb
}

// Start launches the workers.
func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop refuses new events, waits for queued ones to finish and stops the workers.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.mu.Lock()
		aeb.stopped = true
		close(aeb.workChan)
		aeb.mu.Unlock()
		aeb.wg.Wait()
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for event := range aeb.workChan {
		func() {
			defer aeb.done()
			// a panicking handler must not take the worker down
			defer func() { _ = recover() }()
			aeb.bus.Publish(event.topic, event.args...)
		}()
	}
}

func (aeb *AsyncEventBus) done() {
	aeb.mu.Lock()
	aeb.pending--
	if aeb.pending == 0 {
		aeb.idle.Broadcast()
	}
	aeb.mu.Unlock()
}

// PublishAsync queues the event. It returns false when the bus is stopped or
// the queue is full, in which case the event is dropped.
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) bool {
	aeb.mu.Lock()
	defer aeb.mu.Unlock()

	if aeb.stopped {
		return false
	}
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
		aeb.pending++
		return true
	default:
		aeb.dropped++
		return false
	}
}

// Subscribe attaches fn to topic.
func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

// Unsubscribe detaches fn from topic.
func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

// HasCallback reports whether topic has subscribers.
func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Flush waits until the queue is empty and no handler is running.
func (aeb *AsyncEventBus) Flush() {
	aeb.mu.Lock()
	for aeb.pending > 0 {
		aeb.idle.Wait()
	}
	aeb.mu.Unlock()
}

// Dropped reports how many events were discarded.
func (aeb *AsyncEventBus) Dropped() int64 {
	aeb.mu.Lock()
	defer aeb.mu.Unlock()
	return aeb.dropped
}
