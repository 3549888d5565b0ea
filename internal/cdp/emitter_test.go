package cdp

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBufferLogger() (*logrus.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)
	return l, buf
}

func TestEmitter_DeliversToAllListeners(t *testing.T) {
	t.Parallel()

	e := NewEmitter(nil)
	var got []string
	e.On("targetCreated", func(evt Event) error {
		got = append(got, "first:"+string(evt.Params))
		return nil
	})
	e.On("targetCreated", func(evt Event) error {
		got = append(got, "second:"+string(evt.Params))
		return nil
	})

	assert.True(t, e.Emit("targetCreated", Event{Method: "targetCreated", Params: []byte(`{}`)}))
	assert.False(t, e.Emit("targetDestroyed", Event{}))
	assert.Equal(t, []string{"first:{}", "second:{}"}, got)
}

func TestEmitter_PanickingListenerIsIsolated(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger()
	e := NewEmitter(logger)

	var after atomic.Bool
	e.On("targetCrashed", func(Event) error {
		panic("listener bug")
	})
	e.On("targetCrashed", func(Event) error {
		after.Store(true)
		return nil
	})

	require.NotPanics(t, func() { e.Emit("targetCrashed", Event{}) })
	assert.True(t, after.Load())
	assert.Contains(t, buf.String(), "listener bug")
	assert.Contains(t, buf.String(), "targetCrashed")
}

func TestEmitter_FailingListenerIsLogged(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger()
	e := NewEmitter(logger)
	e.On("targetInfoChanged", func(Event) error {
		return errors.New("cannot handle")
	})

	e.Emit("targetInfoChanged", Event{})
	assert.Contains(t, buf.String(), "cannot handle")
	assert.Contains(t, buf.String(), "targetInfoChanged")
}

func TestEmitter_AsyncListenerIsIsolated(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger()
	e := NewEmitter(logger)

	var calls atomic.Int32
	e.OnAsync("receivedMessageFromTarget", func(Event) error {
		calls.Add(1)
		panic("async bug")
	})

	e.Emit("receivedMessageFromTarget", Event{})
	e.Emit("receivedMessageFromTarget", Event{})
	e.Wait()

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, buf.String(), "async bug")
}

func TestEmitter_OffAndOnce(t *testing.T) {
	t.Parallel()

	e := NewEmitter(nil)

	var onCalls, onceCalls int
	off := e.On("targetDestroyed", func(Event) error {
		onCalls++
		return nil
	})
	e.Once("targetDestroyed", func(Event) error {
		onceCalls++
		return nil
	})
	assert.Equal(t, 2, e.ListenerCount("targetDestroyed"))

	e.Emit("targetDestroyed", Event{})
	e.Emit("targetDestroyed", Event{})
	assert.Equal(t, 2, onCalls)
	assert.Equal(t, 1, onceCalls)

	off()
	off()
	e.Emit("targetDestroyed", Event{})
	assert.Equal(t, 2, onCalls)
	assert.Zero(t, e.ListenerCount("targetDestroyed"))
}
