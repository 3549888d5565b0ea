// Package cdp provides a persistent, self-healing Chrome DevTools Protocol client.
package cdp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// readLimit caps a single inbound frame. CDP responses such as screenshots
// and DOM snapshots routinely exceed the websocket library default.
const readLimit = 256 << 20

// Conn defines the interface for a WebSocket connection.
// This abstraction enables testing with mock connections.
type Conn interface {
	// Read reads a message from the connection.
	// Returns message type, payload, and any error.
	Read(ctx context.Context) (websocket.MessageType, []byte, error)

	// Write writes a message to the connection.
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error

	// Ping sends a ping and blocks until the matching pong arrives.
	// It requires a concurrent Read.
	Ping(ctx context.Context) error

	// Close closes the connection with a status code and reason.
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a new socket to url. The dial must give up when ctx is done.
type Dialer func(ctx context.Context, url string, header http.Header) (Conn, error)

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Endpoint is a resolved WebSocket debugger endpoint.
type Endpoint struct {
	URL    string
	Header http.Header
}

// EndpointResolver determines the endpoint a Connection dials.
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context) (Endpoint, error)
}

// EndpointFunc adapts a function to EndpointResolver.
type EndpointFunc func(ctx context.Context) (Endpoint, error)

// ResolveEndpoint calls f(ctx).
func (f EndpointFunc) ResolveEndpoint(ctx context.Context) (Endpoint, error) {
	return f(ctx)
}

// StaticEndpoint returns a resolver that always yields url.
func StaticEndpoint(url string) EndpointResolver {
	return EndpointFunc(func(context.Context) (Endpoint, error) {
		return Endpoint{URL: url}, nil
	})
}
