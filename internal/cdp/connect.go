package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// connectAttempt is an in-flight connection attempt shared by every caller
// that needs a socket while it runs.
type connectAttempt struct {
	done chan struct{}
	once sync.Once
	sock *socket
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

// finish publishes the outcome to all waiters. Only the first call has any effect.
func (a *connectAttempt) finish(sock *socket, err error) {
	a.once.Do(func() {
		a.sock = sock
		a.err = err
		close(a.done)
	})
}

func (a *connectAttempt) wait(ctx context.Context) (*socket, error) {
	select {
	case <-a.done:
		return a.sock, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getSocket returns a live socket, connecting first if needed. Concurrent
// callers share a single connection attempt.
func (c *Connection) getSocket(ctx context.Context) (*socket, error) {
	for {
		c.mu.Lock()
		switch c.status {
		case StatusClosed:
			c.mu.Unlock()
			return nil, newTerminatedError(0, "connection closed")

		case StatusConnecting:
			a := c.attempt
			c.mu.Unlock()
			return a.wait(ctx)

		case StatusConnected:
			s := c.sock
			if s.healthy() {
				c.mu.Unlock()
				return s, nil
			}
			c.mu.Unlock()
			c.teardown(s, StatusDisconnected, "socket is no longer healthy")
			continue
		}

		a := newConnectAttempt()
		c.attempt = a
		c.status = StatusConnecting
		c.wg.Add(1)
		c.mu.Unlock()

		go c.runConnect(a)
		return a.wait(ctx)
	}
}

// runConnect drives one connection attempt to completion and installs the socket.
func (c *Connection) runConnect(a *connectAttempt) {
	defer c.wg.Done()

	conn, err := c.connectWithRetry()

	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		}
		a.finish(nil, newTerminatedError(0, "connection closed while connecting"))
		return
	}
	if c.attempt == a {
		c.attempt = nil
	}
	if err != nil {
		c.status = StatusDisconnected
		c.lastErr = err
		c.mu.Unlock()
		a.finish(nil, err)
		return
	}

	s := newSocket(c.ctx, conn)
	c.sock = s
	c.status = StatusConnected
	c.connects++
	c.lastErr = nil
	c.wg.Add(2)
	go c.readLoop(s)
	go c.monitorLiveness(s)
	c.mu.Unlock()

	c.logger.Debug("Connected")
	a.finish(s, nil)
}

// connectWithRetry dials up to 1+ConnectionRetries times.
func (c *Connection) connectWithRetry() (Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.ConnectionRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(lastErr, c.opts, c.opts.ConnectionBackoffBase, attempt-1)
			if err := c.sleep(c.ctx, delay); err != nil {
				return nil, newTerminatedError(0, "connection closed while connecting")
			}
		}

		conn, err := c.dialOnce()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrConnectionTerminated) {
			return nil, err
		}
		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"of":      c.opts.ConnectionRetries + 1,
		}).Warn("Connection attempt failed")
	}
	return nil, &Error{
		Message: fmt.Sprintf("failed to connect to %s after %d attempts: %v",
			c.endpoint.URL, c.opts.ConnectionRetries+1, lastErr),
	}
}

// dialOnce makes a single dial bounded by the connection timeout. The dialer
// abandons the half-open socket when the watchdog context expires.
func (c *Connection) dialOnce() (Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectionTimeout)
	defer cancel()

	conn, err := c.dial(ctx, c.endpoint.URL, c.endpoint.Header)

	if c.Status() == StatusClosed {
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		}
		return nil, newTerminatedError(0, "connection closed while connecting")
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newTimeoutError(0, "connecting to %s timed out after %s", c.endpoint.URL, c.opts.ConnectionTimeout)
		}
		return nil, err
	}
	return conn, nil
}

// readLoop reads messages from the socket and dispatches them.
func (c *Connection) readLoop(s *socket) {
	defer c.wg.Done()
	defer close(s.done)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				c.handleSocketLoss(s, fmt.Sprintf("socket closed: %v", err))
			}
			return
		}
		c.handleMessage(data)
	}
}
