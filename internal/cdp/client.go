package cdp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// Client binds one Connection to its domain surfaces and routes unsolicited
// events to them.
type Client struct {
	conn   *Connection
	logger logrus.FieldLogger

	Target *Target

	domains map[string]*Emitter
}

// Dial resolves the endpoint and returns a Client. No socket is opened until
// the first request.
func Dial(ctx context.Context, resolver EndpointResolver, opts ...Option) (*Client, error) {
	conn, err := NewConnection(ctx, resolver, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, conn.logger), nil
}

// NewClient wires conn's unsolicited events into the domain emitters.
func NewClient(conn *Connection, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = discardLogger()
	}
	c := &Client{
		conn:   conn,
		logger: logger,
		Target: NewTarget(conn, logger),
	}
	c.domains = map[string]*Emitter{
		"Target": c.Target.Emitter,
	}
	conn.setEventHandler(c.dispatch)
	return c
}

// Connection returns the underlying connection.
func (c *Client) Connection() *Connection {
	return c.conn
}

// Request sends an arbitrary command.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.conn.Request(ctx, method, params)
}

// RequestToSession sends an arbitrary command to an attached session.
func (c *Client) RequestToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	return c.conn.RequestToSession(ctx, sessionID, method, params)
}

// Health reports connection health.
func (c *Client) Health() Health {
	return c.conn.Health()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// dispatch splits "Domain.method" on the first dot and re-emits the method on
// the domain's emitter. Unknown domains are dropped.
func (c *Client) dispatch(evt Event) {
	domain, method, ok := strings.Cut(evt.Method, ".")
	if !ok {
		c.logger.WithField("event", evt.Method).Debug("Dropping event without domain")
		return
	}
	emitter, ok := c.domains[domain]
	if !ok {
		return
	}
	emitter.Emit(method, Event{
		Method:    method,
		Params:    evt.Params,
		SessionID: evt.SessionID,
	})
}
