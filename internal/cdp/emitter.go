package cdp

import (
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener handles one event. A returned error is logged, never propagated.
type Listener func(Event) error

// Emitter is a publish/subscribe hub whose listeners cannot hurt the dispatcher:
// a listener that panics or returns an error is logged and skipped.
type Emitter struct {
	logger logrus.FieldLogger

	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listenerEntry
	async     sync.WaitGroup
}

type listenerEntry struct {
	id    uint64
	fn    Listener
	async bool
}

// NewEmitter creates an emitter that reports listener failures to logger.
func NewEmitter(logger logrus.FieldLogger) *Emitter {
	if logger == nil {
		logger = discardLogger()
	}
	return &Emitter{
		logger:    logger,
		listeners: make(map[string][]listenerEntry),
	}
}

// On registers fn for event and returns a function that removes it.
func (e *Emitter) On(event string, fn Listener) (off func()) {
	return e.add(event, fn, false)
}

// OnAsync is like On but runs fn on its own goroutine for every emission.
func (e *Emitter) OnAsync(event string, fn Listener) (off func()) {
	return e.add(event, fn, true)
}

// Once registers fn to run for the next emission of event only.
func (e *Emitter) Once(event string, fn Listener) (off func()) {
	var fired sync.Once
	var id uint64
	off = e.add(event, func(evt Event) error {
		var err error
		fired.Do(func() {
			e.remove(event, id)
			err = fn(evt)
		})
		return err
	}, false, &id)
	return off
}

// add registers fn. When idOut is set, the listener id is stored there before
// the entry becomes visible to Emit.
func (e *Emitter) add(event string, fn Listener, async bool, idOut ...*uint64) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	for _, p := range idOut {
		*p = id
	}
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: fn, async: async})

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(event, id) })
	}
}

func (e *Emitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[event]
	for i, l := range entries {
		if l.id == id {
			kept := make([]listenerEntry, 0, len(entries)-1)
			kept = append(kept, entries[:i]...)
			kept = append(kept, entries[i+1:]...)
			if len(kept) == 0 {
				delete(e.listeners, event)
			} else {
				e.listeners[event] = kept
			}
			return
		}
	}
}

// Emit delivers evt to every listener of event. It reports whether any listener was registered.
func (e *Emitter) Emit(event string, evt Event) bool {
	e.mu.RLock()
	entries := e.listeners[event]
	e.mu.RUnlock()

	for _, l := range entries {
		if l.async {
			e.async.Add(1)
			go func(fn Listener) {
				defer e.async.Done()
				e.call(event, fn, evt)
			}(l.fn)
			continue
		}
		e.call(event, l.fn, evt)
	}
	return len(entries) > 0
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Wait blocks until all asynchronous listener invocations have returned.
func (e *Emitter) Wait() {
	e.async.Wait()
}

func (e *Emitter) call(event string, fn Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"event": event,
				"stack": string(debug.Stack()),
			}).Errorf("event listener panicked: %v", r)
		}
	}()
	if err := fn(evt); err != nil {
		e.logger.WithFields(logrus.Fields{
			"event": event,
			"stack": fmt.Sprintf("%+v", err),
		}).WithError(err).Error("event listener failed")
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
