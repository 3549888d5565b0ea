package cdp

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults for Options.
const (
	DefaultConnectionTimeout      = 15 * time.Second
	DefaultConnectionRetries      = 3
	DefaultConnectionBackoffBase  = 500 * time.Millisecond
	DefaultRequestTimeout         = 15 * time.Second
	DefaultRequestRetries         = 3
	DefaultRequestBackoffBase     = 500 * time.Millisecond
	DefaultBackoffFactor          = 2
	DefaultBackoffJitter          = 100 * time.Millisecond
	DefaultMaxRequestID           = math.MaxInt32
	DefaultPingInterval           = 15 * time.Second
	DefaultPingTimeout            = 10 * time.Second
	DefaultPingMaxSubsequentFails = 2
)

// Options tunes the reliability behavior of a Connection.
type Options struct {
	// ConnectionTimeout bounds a single connection attempt.
	ConnectionTimeout time.Duration
	// ConnectionRetries is the number of retries after the first connection attempt.
	ConnectionRetries     int
	ConnectionBackoffBase time.Duration

	// RequestTimeout bounds the wait for a single response.
	RequestTimeout time.Duration
	// RequestRetries is the number of retries after the first request attempt.
	RequestRetries     int
	RequestBackoffBase time.Duration

	BackoffFactor float64
	BackoffJitter time.Duration

	// MaxRequestID is the last id handed out before the counter wraps back to 1.
	MaxRequestID int64

	PingInterval           time.Duration
	PingTimeout            time.Duration
	PingMaxSubsequentFails int
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		ConnectionTimeout:      DefaultConnectionTimeout,
		ConnectionRetries:      DefaultConnectionRetries,
		ConnectionBackoffBase:  DefaultConnectionBackoffBase,
		RequestTimeout:         DefaultRequestTimeout,
		RequestRetries:         DefaultRequestRetries,
		RequestBackoffBase:     DefaultRequestBackoffBase,
		BackoffFactor:          DefaultBackoffFactor,
		BackoffJitter:          DefaultBackoffJitter,
		MaxRequestID:           DefaultMaxRequestID,
		PingInterval:           DefaultPingInterval,
		PingTimeout:            DefaultPingTimeout,
		PingMaxSubsequentFails: DefaultPingMaxSubsequentFails,
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = d.ConnectionTimeout
	}
	if o.ConnectionRetries < 0 {
		o.ConnectionRetries = 0
	}
	if o.ConnectionBackoffBase <= 0 {
		o.ConnectionBackoffBase = d.ConnectionBackoffBase
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.RequestRetries < 0 {
		o.RequestRetries = 0
	}
	if o.RequestBackoffBase <= 0 {
		o.RequestBackoffBase = d.RequestBackoffBase
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = d.BackoffFactor
	}
	if o.BackoffJitter < 0 {
		o.BackoffJitter = 0
	}
	if o.MaxRequestID <= 0 || o.MaxRequestID > math.MaxInt32 {
		o.MaxRequestID = d.MaxRequestID
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.PingMaxSubsequentFails <= 0 {
		o.PingMaxSubsequentFails = d.PingMaxSubsequentFails
	}
	return o
}

// Option configures a Connection.
type Option func(*Connection)

// WithOptions sets the reliability tuning. Unset durations fall back to
// defaults and negative retry counts become zero.
func WithOptions(opts Options) Option {
	return func(c *Connection) {
		c.opts = opts.withDefaults()
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventHandler sets the receiver of unsolicited protocol events.
// Events are delivered in socket arrival order on a dedicated goroutine, so
// fn may issue requests or call Close.
func WithEventHandler(fn func(Event)) Option {
	return func(c *Connection) {
		c.setEventHandler(fn)
	}
}
