package cdp

import (
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// eventQueue is an unbounded FIFO between the read loop and the dispatcher.
// push never blocks, so a slow listener cannot stall socket reads.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(evt Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain takes every queued event in arrival order.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// dispatchEvents delivers queued events to the event handler one at a time
// until the connection closes. Events still queued at Close are dropped.
func (c *Connection) dispatchEvents() {
	defer close(c.dispatchDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.events.signal:
		}

		for _, evt := range c.events.drain() {
			if c.ctx.Err() != nil {
				return
			}
			c.deliver(evt)
		}
	}
}

func (c *Connection) deliver(evt Event) {
	fn := c.onEvent.Load()
	if fn == nil {
		return
	}

	c.inDispatch.Store(true)
	defer c.inDispatch.Store(false)
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"event": evt.Method,
				"stack": string(debug.Stack()),
			}).Errorf("event handler panicked: %v", r)
		}
	}()
	(*fn)(evt)
}
