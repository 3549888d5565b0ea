package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Status is the state of a Connection.
type Status int32

const (
	// StatusDisconnected means there is no socket and a connection may be attempted.
	StatusDisconnected Status = iota
	// StatusConnecting means a connection attempt is in flight.
	StatusConnecting
	// StatusConnected means the socket is usable.
	StatusConnected
	// StatusClosed is terminal. The connection never reconnects.
	StatusClosed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Health holds connection health information for status reporting.
type Health struct {
	Status       Status    `json:"-"`
	StatusString string    `json:"status"`
	Connects     int       `json:"connects"`
	Reconnects   int       `json:"reconnects"`
	Pending      int       `json:"pending"`
	LastPong     time.Time `json:"lastPong,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// Connection is a persistent CDP connection. It owns at most one socket at a
// time, reconnects after unexpected loss, and correlates responses by id.
// It is safe for concurrent use.
type Connection struct {
	endpoint Endpoint
	opts     Options
	dial     Dialer
	logger   logrus.FieldLogger
	onEvent  atomic.Pointer[func(Event)]

	// events feeds the dispatcher goroutine, which is not tracked by wg so a
	// handler may call Close
	events       *eventQueue
	dispatchDone chan struct{}
	inDispatch   atomic.Bool

	// ctx lives until Close; every background goroutine derives from it
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	status     Status
	sock       *socket
	attempt    *connectAttempt
	connects   int
	reconnects int
	lastPong   time.Time
	lastErr    error

	idMu   sync.Mutex
	lastID int64

	// pendingMu is always acquired after mu when both are held
	pendingMu sync.Mutex
	pending   map[int64]*pendingCall
}

// NewConnection resolves the endpoint once and returns a Connection that has
// not dialed yet. The first request opens the socket.
func NewConnection(ctx context.Context, resolver EndpointResolver, opts ...Option) (*Connection, error) {
	if resolver == nil {
		return nil, errors.New("no CDP endpoint resolver")
	}
	ep, err := resolver.ResolveEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve CDP endpoint: %w", err)
	}
	if ep.URL == "" {
		return nil, errors.New("no CDP endpoint available")
	}

	c := &Connection{
		endpoint: ep,
		opts:     DefaultOptions(),
		dial:     DialWebSocket,
		logger:   discardLogger(),
		pending:  make(map[int64]*pendingCall),

		events:       newEventQueue(),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logrus.Fields{"component": "cdp", "url": ep.URL})
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.dispatchEvents()
	return c, nil
}

// Endpoint returns the resolved endpoint.
func (c *Connection) Endpoint() Endpoint {
	return c.endpoint
}

// Status returns the current connection status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Health returns a snapshot of connection health. Background reconnect
// failures surface here as LastError.
func (c *Connection) Health() Health {
	c.mu.Lock()
	h := Health{
		Status:       c.status,
		StatusString: c.status.String(),
		Connects:     c.connects,
		Reconnects:   c.reconnects,
		LastPong:     c.lastPong,
	}
	if c.lastErr != nil {
		h.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	h.Pending = len(c.pending)
	c.pendingMu.Unlock()
	return h
}

func (c *Connection) setEventHandler(fn func(Event)) {
	if fn == nil {
		c.onEvent.Store(nil)
		return
	}
	c.onEvent.Store(&fn)
}

// Request sends a browser-level command and returns its raw result.
func (c *Connection) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.RequestToSession(ctx, "", method, params)
}

// RequestToSession sends a command to an attached session. It connects or
// reconnects as needed and retries retryable failures with backoff.
func (c *Connection) RequestToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	log := c.logger.WithField("method", method)

	for attempt := 0; ; attempt++ {
		result, err := c.send(ctx, sessionID, method, raw)
		switch classify(err, c.Status() == StatusClosed || ctx.Err() != nil) {
		case tagOK:
			return result, nil
		case tagFatal:
			return nil, err
		}
		if attempt >= c.opts.RequestRetries {
			return nil, err
		}

		delay := retryDelay(err, c.opts, c.opts.RequestBackoffBase, attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Debug("Retrying request")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// send performs a single request attempt.
func (c *Connection) send(ctx context.Context, sessionID, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextRequestID()

	sock, err := c.getSocket(ctx)
	if err != nil {
		return nil, err
	}

	data, err := encodeRequest(id, sessionID, method, params)
	if err != nil {
		return nil, err
	}

	// Register before writing so a fast response cannot be missed
	call, err := c.register(id)
	if err != nil {
		return nil, err
	}
	defer c.unregister(id, call)

	// One watchdog covers both the write and the wait for the response
	deadline := time.Now().Add(c.opts.RequestTimeout)
	wctx, cancel := context.WithDeadline(ctx, deadline)
	err = sock.write(wctx, data)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			call.complete(nil, ctx.Err())
		} else {
			call.complete(nil, newSendError(id, err))
			c.handleSocketLoss(sock, fmt.Sprintf("send failed: %v", err))
		}
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return res.result, res.err
	case <-timer.C:
		call.complete(nil, newTimeoutError(id, "no response to %s within %s", method, c.opts.RequestTimeout))
	case <-ctx.Done():
		call.complete(nil, ctx.Err())
	}
	// Whichever completion won is buffered in the channel
	res := <-call.ch
	return res.result, res.err
}

// nextRequestID pre-increments the counter, wrapping to 1 after MaxRequestID.
func (c *Connection) nextRequestID() int64 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if c.lastID >= c.opts.MaxRequestID {
		c.lastID = 0
	}
	c.lastID++
	return c.lastID
}

// register adds a pending entry unless the connection is closed.
func (c *Connection) register(id int64) (*pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusClosed {
		return nil, newTerminatedError(id, "connection closed")
	}
	call := newPendingCall(id)
	c.pendingMu.Lock()
	c.pending[id] = call
	c.pendingMu.Unlock()
	return call, nil
}

// unregister removes the entry for id if it still belongs to call.
func (c *Connection) unregister(id int64, call *pendingCall) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending[id] == call {
		delete(c.pending, id)
	}
}

// completePending resolves and removes the entry for id. Unknown ids are ignored.
func (c *Connection) completePending(id int64, result json.RawMessage, err error) {
	c.pendingMu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.WithField("requestID", id).Debug("Dropping response for unknown request")
		return
	}
	call.complete(result, err)
}

// drainPendingLocked empties the pending table. Caller holds mu.
func (c *Connection) drainPendingLocked() []*pendingCall {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	calls := make([]*pendingCall, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	return calls
}

// handleMessage routes one inbound frame.
func (c *Connection) handleMessage(data []byte) {
	resp, evt, err := parseMessage(data)
	if err != nil {
		if id, ok := extractRequestID(data); ok {
			c.completePending(id, nil, newMalformedError(id, "unparseable response: %v", err))
			return
		}
		c.logger.WithError(err).Warn("Dropping unparseable message")
		return
	}

	if evt != nil {
		c.events.push(*evt)
		return
	}

	switch {
	case resp.Error != nil:
		c.completePending(resp.ID, nil, remoteError(resp.ID, resp.Error))
	case resp.Result != nil:
		c.completePending(resp.ID, resp.Result, nil)
	default:
		c.completePending(resp.ID, nil, newMalformedError(resp.ID, "response has neither result nor error"))
	}
}

// sleep waits for d unless ctx is done or the connection closes.
func (c *Connection) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return newTerminatedError(0, "connection closed")
	}
}

// Close aborts all pending requests, tears down the socket and stops every
// background goroutine. It is idempotent. Called from an event handler, it
// returns without waiting for that handler to finish.
func (c *Connection) Close() error {
	if !c.teardown(nil, StatusClosed, "connection closed by client") {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	if !c.inDispatch.Load() {
		<-c.dispatchDone
	}
	c.logger.Debug("Connection closed")
	return nil
}

// teardown releases the current socket and moves to target.
// For StatusDisconnected it only acts when expect is still the current socket,
// so stale readers and monitors cannot tear down a newer socket.
// It reports whether anything was torn down.
func (c *Connection) teardown(expect *socket, target Status, reason string) bool {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return false
	}
	if target != StatusClosed && (expect == nil || c.sock != expect) {
		c.mu.Unlock()
		return false
	}

	sock := c.sock
	c.sock = nil
	var attempt *connectAttempt
	if target == StatusClosed {
		attempt = c.attempt
		c.attempt = nil
	}
	prev := c.status
	c.status = target
	calls := c.drainPendingLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"status": target,
		"reason": reason,
	}).Debugf("Connection %s -> %s", prev, target)

	for _, call := range calls {
		call.complete(nil, newTerminatedError(call.id, reason))
	}
	if attempt != nil {
		attempt.finish(nil, newTerminatedError(0, reason))
	}
	if sock != nil {
		sock.close(reason)
	}
	return true
}

// handleSocketLoss tears down s after an unexpected failure and reconnects in the background.
func (c *Connection) handleSocketLoss(s *socket, reason string) {
	if !c.teardown(s, StatusDisconnected, reason) {
		return
	}
	c.logger.WithField("reason", reason).Warn("Connection lost, reconnecting")
	c.reconnectInBackground()
}

// reconnectInBackground makes one reconnect attempt. Its failure is logged
// and recorded in Health; the next request retries the connection anyway.
func (c *Connection) reconnectInBackground() {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.reconnects++
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.getSocket(c.ctx); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			c.logger.WithError(err).Warn("Background reconnect failed")
		}
	}()
}

// pendingCall is a single-assignment completion for one request.
type pendingCall struct {
	id   int64
	once sync.Once
	ch   chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

func newPendingCall(id int64) *pendingCall {
	return &pendingCall{id: id, ch: make(chan callResult, 1)}
}

// complete stores the outcome. Only the first call has any effect.
func (p *pendingCall) complete(result json.RawMessage, err error) bool {
	done := false
	p.once.Do(func() {
		p.ch <- callResult{result: result, err: err}
		done = true
	})
	return done
}

// socket is one live WebSocket and the goroutines bound to it.
type socket struct {
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed when the read loop exits
	done      chan struct{}
	writeMu   sync.Mutex
	pingFails atomic.Int32
	closeOnce sync.Once
}

func newSocket(parent context.Context, conn Conn) *socket {
	ctx, cancel := context.WithCancel(parent)
	return &socket{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *socket) healthy() bool {
	select {
	case <-s.done:
		return false
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}

func (s *socket) write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// maxCloseReason is the room left for a reason in a close frame.
const maxCloseReason = 120

func (s *socket) close(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
	})
}
