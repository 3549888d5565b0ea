// Package config consolidates cdpwire settings from defaults, a JSON file,
// the environment and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/grantcarthew/cdpwire/internal/browser"
	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
)

// Config holds the connection tuning and endpoint discovery settings.
// Durations are in milliseconds.
type Config struct {
	WSEndpoint      null.String       `json:"wsEndpoint" envconfig:"CDPWIRE_WS_ENDPOINT"`
	DebuggerAddress null.String       `json:"debuggerAddress" envconfig:"CDPWIRE_DEBUGGER_ADDRESS"`
	GridURL         null.String       `json:"gridURL" envconfig:"CDPWIRE_GRID_URL"`
	SessionID       null.String       `json:"sessionId" envconfig:"CDPWIRE_SESSION_ID"`
	Headers         map[string]string `json:"headers" envconfig:"CDPWIRE_HEADERS"`

	ConnectionTimeout     null.Int `json:"connectionTimeout" envconfig:"CDPWIRE_CONNECTION_TIMEOUT"`
	ConnectionRetries     null.Int `json:"connectionRetries" envconfig:"CDPWIRE_CONNECTION_RETRIES"`
	ConnectionBackoffBase null.Int `json:"connectionBackoffBase" envconfig:"CDPWIRE_CONNECTION_BACKOFF_BASE"`

	RequestTimeout     null.Int `json:"requestTimeout" envconfig:"CDPWIRE_REQUEST_TIMEOUT"`
	RequestRetries     null.Int `json:"requestRetries" envconfig:"CDPWIRE_REQUEST_RETRIES"`
	RequestBackoffBase null.Int `json:"requestBackoffBase" envconfig:"CDPWIRE_REQUEST_BACKOFF_BASE"`

	BackoffFactor null.Float `json:"backoffFactor" envconfig:"CDPWIRE_BACKOFF_FACTOR"`
	BackoffJitter null.Int   `json:"backoffJitter" envconfig:"CDPWIRE_BACKOFF_JITTER"`

	// MaxRequestID is the last request id before the counter wraps to 1.
	MaxRequestID null.Int `json:"maxRequestId" envconfig:"CDPWIRE_MAX_REQUEST_ID"`

	PingInterval           null.Int `json:"pingInterval" envconfig:"CDPWIRE_PING_INTERVAL"`
	PingTimeout            null.Int `json:"pingTimeout" envconfig:"CDPWIRE_PING_TIMEOUT"`
	PingMaxSubsequentFails null.Int `json:"pingMaxSubsequentFails" envconfig:"CDPWIRE_PING_MAX_SUBSEQUENT_FAILS"`
}

func millis(d time.Duration) null.Int {
	return null.NewInt(d.Milliseconds(), false)
}

// NewConfig returns a Config carrying the stock defaults, none marked as set.
func NewConfig() Config {
	return Config{
		Headers: make(map[string]string),

		ConnectionTimeout:     millis(cdp.DefaultConnectionTimeout),
		ConnectionRetries:     null.NewInt(cdp.DefaultConnectionRetries, false),
		ConnectionBackoffBase: millis(cdp.DefaultConnectionBackoffBase),

		RequestTimeout:     millis(cdp.DefaultRequestTimeout),
		RequestRetries:     null.NewInt(cdp.DefaultRequestRetries, false),
		RequestBackoffBase: millis(cdp.DefaultRequestBackoffBase),

		BackoffFactor: null.NewFloat(cdp.DefaultBackoffFactor, false),
		BackoffJitter: millis(cdp.DefaultBackoffJitter),

		MaxRequestID: null.NewInt(cdp.DefaultMaxRequestID, false),

		PingInterval:           millis(cdp.DefaultPingInterval),
		PingTimeout:            millis(cdp.DefaultPingTimeout),
		PingMaxSubsequentFails: null.NewInt(cdp.DefaultPingMaxSubsequentFails, false),
	}
}

// Apply returns c with every set value of cfg copied over it.
//
//nolint:cyclop
func (c Config) Apply(cfg Config) Config {
	if cfg.WSEndpoint.Valid {
		c.WSEndpoint = cfg.WSEndpoint
	}
	if cfg.DebuggerAddress.Valid {
		c.DebuggerAddress = cfg.DebuggerAddress
	}
	if cfg.GridURL.Valid {
		c.GridURL = cfg.GridURL
	}
	if cfg.SessionID.Valid {
		c.SessionID = cfg.SessionID
	}
	if len(cfg.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(cfg.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range cfg.Headers {
			merged[k] = v
		}
		c.Headers = merged
	}
	if cfg.ConnectionTimeout.Valid {
		c.ConnectionTimeout = cfg.ConnectionTimeout
	}
	if cfg.ConnectionRetries.Valid {
		c.ConnectionRetries = cfg.ConnectionRetries
	}
	if cfg.ConnectionBackoffBase.Valid {
		c.ConnectionBackoffBase = cfg.ConnectionBackoffBase
	}
	if cfg.RequestTimeout.Valid {
		c.RequestTimeout = cfg.RequestTimeout
	}
	if cfg.RequestRetries.Valid {
		c.RequestRetries = cfg.RequestRetries
	}
	if cfg.RequestBackoffBase.Valid {
		c.RequestBackoffBase = cfg.RequestBackoffBase
	}
	if cfg.BackoffFactor.Valid {
		c.BackoffFactor = cfg.BackoffFactor
	}
	if cfg.BackoffJitter.Valid {
		c.BackoffJitter = cfg.BackoffJitter
	}
	if cfg.MaxRequestID.Valid {
		c.MaxRequestID = cfg.MaxRequestID
	}
	if cfg.PingInterval.Valid {
		c.PingInterval = cfg.PingInterval
	}
	if cfg.PingTimeout.Valid {
		c.PingTimeout = cfg.PingTimeout
	}
	if cfg.PingMaxSubsequentFails.Valid {
		c.PingMaxSubsequentFails = cfg.PingMaxSubsequentFails
	}
	return c
}

// LoadFile reads a JSON config file. A missing file yields an empty Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ReadEnv reads CDPWIRE_* variables from env.
func ReadEnv(env map[string]string) (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// EnvMap turns os.Environ style pairs into a map.
func EnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// Consolidate layers defaults, the config file at path (if any) and env.
func Consolidate(path string, env map[string]string) (Config, error) {
	result := NewConfig()
	if path != "" {
		fileConf, err := LoadFile(path)
		if err != nil {
			return result, err
		}
		result = result.Apply(fileConf)
	}

	envConf, err := ReadEnv(env)
	if err != nil {
		return result, err
	}
	return result.Apply(envConf), nil
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	positive := []struct {
		name string
		v    null.Int
	}{
		{"connectionTimeout", c.ConnectionTimeout},
		{"connectionBackoffBase", c.ConnectionBackoffBase},
		{"requestTimeout", c.RequestTimeout},
		{"requestBackoffBase", c.RequestBackoffBase},
		{"pingInterval", c.PingInterval},
		{"pingTimeout", c.PingTimeout},
		{"pingMaxSubsequentFails", c.PingMaxSubsequentFails},
	}
	for _, p := range positive {
		if p.v.Int64 <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.v.Int64))
		}
	}
	if c.ConnectionRetries.Int64 < 0 {
		errs = append(errs, fmt.Errorf("connectionRetries must not be negative, got %d", c.ConnectionRetries.Int64))
	}
	if c.RequestRetries.Int64 < 0 {
		errs = append(errs, fmt.Errorf("requestRetries must not be negative, got %d", c.RequestRetries.Int64))
	}
	if c.BackoffFactor.Float64 < 1 {
		errs = append(errs, fmt.Errorf("backoffFactor must be at least 1, got %g", c.BackoffFactor.Float64))
	}
	if c.BackoffJitter.Int64 < 0 {
		errs = append(errs, fmt.Errorf("backoffJitter must not be negative, got %d", c.BackoffJitter.Int64))
	}
	if c.MaxRequestID.Int64 < 1 || c.MaxRequestID.Int64 > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("maxRequestId must be in [1, %d], got %d", math.MaxInt32, c.MaxRequestID.Int64))
	}
	return errors.Join(errs...)
}

func ms(v null.Int) time.Duration {
	return time.Duration(v.Int64) * time.Millisecond
}

// Options converts the tuning to cdp.Options.
func (c Config) Options() cdp.Options {
	return cdp.Options{
		ConnectionTimeout:      ms(c.ConnectionTimeout),
		ConnectionRetries:      int(c.ConnectionRetries.Int64),
		ConnectionBackoffBase:  ms(c.ConnectionBackoffBase),
		RequestTimeout:         ms(c.RequestTimeout),
		RequestRetries:         int(c.RequestRetries.Int64),
		RequestBackoffBase:     ms(c.RequestBackoffBase),
		BackoffFactor:          c.BackoffFactor.Float64,
		BackoffJitter:          ms(c.BackoffJitter),
		MaxRequestID:           c.MaxRequestID.Int64,
		PingInterval:           ms(c.PingInterval),
		PingTimeout:            ms(c.PingTimeout),
		PingMaxSubsequentFails: int(c.PingMaxSubsequentFails.Int64),
	}
}

// Discovery converts the endpoint settings to browser.Settings.
func (c Config) Discovery() browser.Settings {
	header := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	return browser.Settings{
		WSEndpoint:      c.WSEndpoint.String,
		DebuggerAddress: c.DebuggerAddress.String,
		GridURL:         c.GridURL.String,
		Header:          header,
	}
}
