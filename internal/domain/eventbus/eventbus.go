package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// DefaultWorkers is the async worker count used when New receives zero.
const DefaultWorkers = 4

// Bus delivers every published event to synchronous subscribers on the
// publisher's goroutine and then queues it for asynchronous subscribers.
type Bus struct {
	sync  evbus.Bus
	async *AsyncEventBus
}

// New creates a started Bus.
func New(workers int) *Bus {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	b := &Bus{
		sync:  evbus.New(),
		async: NewAsyncEventBus(workers),
	}
	b.async.Start()
	return b
}

// Publish runs synchronous handlers, then hands the event to the async pool.
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.sync.Publish(topic, args...)
	b.async.PublishAsync(topic, args...)
}

// Subscribe registers fn to run inline with Publish. fn must not publish on
// the same Bus; the underlying bus holds its lock while handlers run.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.sync.Subscribe(topic, fn)
}

// SubscribeAsync registers fn to run on the worker pool. Async handlers may
// publish further events.
func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.async.Subscribe(topic, fn)
}

// Unsubscribe removes fn from both delivery paths.
func (b *Bus) Unsubscribe(topic string, fn interface{}) {
	_ = b.sync.Unsubscribe(topic, fn)
	_ = b.async.Unsubscribe(topic, fn)
}

// HasCallback reports whether any handler is attached to topic.
func (b *Bus) HasCallback(topic string) bool {
	return b.sync.HasCallback(topic) || b.async.HasCallback(topic)
}

// Flush blocks until every queued async event has been handled.
func (b *Bus) Flush() {
	b.async.Flush()
}

// Dropped returns the number of async events discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	return b.async.Dropped()
}

// Shutdown drains the async queue and stops the workers.
func (b *Bus) Shutdown() {
	b.async.Stop()
}
