package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// responder produces the frames a mock browser sends back for a request.
type responder func(req Request) []string

// resultResponder answers every request with result.
func resultResponder(result string) responder {
	return func(req Request) []string {
		return []string{fmt.Sprintf(`{"id":%d,"result":%s}`, req.ID, result)}
	}
}

// silentResponder never answers.
func silentResponder(Request) []string { return nil }

// mockConn implements the Conn interface for testing.
type mockConn struct {
	mu       sync.Mutex
	readCh   chan []byte
	written  []Request
	respond  responder
	writeErr error
	// writeDelay stalls every Write before it lands
	writeDelay time.Duration
	pingBlock  bool
	pings      int
	closed     bool
	closeCh    chan struct{}
}

func newMockConn(respond responder) *mockConn {
	return &mockConn{
		readCh:  make(chan []byte, 256),
		respond: respond,
		closeCh: make(chan struct{}),
	}
}

func (m *mockConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg := <-m.readCh:
		return websocket.MessageText, msg, nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (m *mockConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	m.mu.Lock()
	delay := m.writeDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	if m.writeErr != nil {
		return m.writeErr
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	m.written = append(m.written, req)

	if m.respond != nil {
		for _, frame := range m.respond(req) {
			m.readCh <- []byte(frame)
		}
	}
	return nil
}

func (m *mockConn) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.pings++
	block := m.pingBlock
	m.mu.Unlock()

	if !block {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

func (m *mockConn) Close(code websocket.StatusCode, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

// inject delivers a frame as if the browser sent it.
func (m *mockConn) inject(frame string) {
	m.readCh <- []byte(frame)
}

func (m *mockConn) getWritten() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Request, len(m.written))
	copy(result, m.written)
	return result
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// errDialHang makes a dial block until its context expires.
var errDialHang = errors.New("hang")

// mockDialer hands out a fresh mockConn per dial.
type mockDialer struct {
	mu       sync.Mutex
	dials    int
	failures []error
	gate     chan struct{}
	conns    []*mockConn
	setup    func(i int, c *mockConn)
	respond  responder
}

func newMockDialer(respond responder) *mockDialer {
	return &mockDialer{respond: respond}
}

func (d *mockDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	i := d.dials
	d.dials++
	var failure error
	if i < len(d.failures) {
		failure = d.failures[i]
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failure == errDialHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failure != nil {
		return nil, failure
	}

	c := newMockConn(d.respond)
	if d.setup != nil {
		d.setup(i, c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) conn(i int) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// testOptions keeps every watchdog short and disables jitter.
func testOptions() Options {
	return Options{
		ConnectionTimeout:      200 * time.Millisecond,
		ConnectionRetries:      3,
		ConnectionBackoffBase:  5 * time.Millisecond,
		RequestTimeout:         500 * time.Millisecond,
		RequestRetries:         3,
		RequestBackoffBase:     5 * time.Millisecond,
		BackoffFactor:          2,
		BackoffJitter:          0,
		MaxRequestID:           DefaultMaxRequestID,
		PingInterval:           time.Hour,
		PingTimeout:            time.Second,
		PingMaxSubsequentFails: 2,
	}
}

func newTestConnection(t *testing.T, d *mockDialer, opts Options) *Connection {
	t.Helper()
	c, err := NewConnection(context.Background(), StaticEndpoint("ws://127.0.0.1:9222/devtools/browser/test"),
		WithDialer(d.Dial),
		WithOptions(opts),
	)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
