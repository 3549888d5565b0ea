// Package browser discovers the DevTools WebSocket endpoint of a browser session.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DefaultProbeTimeout bounds the /json/version probe.
const DefaultProbeTimeout = 5 * time.Second

// ErrNoEndpoint is returned when no discovery strategy yields an endpoint.
var ErrNoEndpoint = errors.New("no CDP endpoint found for session")

// errSkip marks a strategy that does not apply to the session.
var errSkip = errors.New("not applicable")

// Session is the browser session an endpoint is discovered for.
type Session interface {
	ID() string
	Capabilities() map[string]any
}

// StaticSession is a Session with fixed values.
type StaticSession struct {
	SessionID string
	Caps      map[string]any
}

// ID returns the session id.
func (s StaticSession) ID() string { return s.SessionID }

// Capabilities returns the session capabilities.
func (s StaticSession) Capabilities() map[string]any { return s.Caps }

// Settings configure discovery.
type Settings struct {
	// WSEndpoint is a base WebSocket URL; the session id is appended to it.
	WSEndpoint string
	// DebuggerAddress is a host:port serving /json/version.
	DebuggerAddress string
	// GridURL is the Selenium Grid URL whose host serves the CDP relay.
	GridURL string
	// Header is sent with the WebSocket handshake.
	Header http.Header
}

// Discoverer resolves endpoints and caches the first success per session id
// until Evict is called.
type Discoverer struct {
	settings     Settings
	client       *http.Client
	probeTimeout time.Duration
	logger       logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]cdp.Endpoint
}

// NewDiscoverer creates a Discoverer. A nil client uses http.DefaultClient.
func NewDiscoverer(settings Settings, client *http.Client, logger logrus.FieldLogger) *Discoverer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Discoverer{
		settings:     settings,
		client:       client,
		probeTimeout: DefaultProbeTimeout,
		logger:       logger.WithField("component", "discovery"),
		cache:        make(map[string]cdp.Endpoint),
	}
}

type strategy struct {
	name    string
	resolve func(ctx context.Context, sess Session, caps gjson.Result) (string, error)
}

// Resolve returns the endpoint for sess, trying in order: the configured
// WebSocket endpoint, the se:cdp capability, the debugger address probe and
// the Selenium Grid relay.
func (d *Discoverer) Resolve(ctx context.Context, sess Session) (cdp.Endpoint, error) {
	if sess == nil {
		return cdp.Endpoint{}, errors.New("no session")
	}
	id := sess.ID()

	d.mu.Lock()
	ep, ok := d.cache[id]
	d.mu.Unlock()
	if ok {
		return ep, nil
	}

	caps, err := capabilitiesJSON(sess)
	if err != nil {
		return cdp.Endpoint{}, err
	}

	strategies := []strategy{
		{"ws endpoint", d.fromWSEndpoint},
		{"se:cdp capability", d.fromCDPCapability},
		{"debugger address", d.fromDebuggerAddress},
		{"grid relay", d.fromGrid},
	}

	var errs []error
	for _, s := range strategies {
		wsURL, err := s.resolve(ctx, sess, caps)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			d.logger.WithError(err).WithField("strategy", s.name).Debug("Endpoint discovery strategy failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}

		ep := cdp.Endpoint{URL: wsURL, Header: d.settings.Header.Clone()}
		d.mu.Lock()
		d.cache[id] = ep
		d.mu.Unlock()
		d.logger.WithFields(logrus.Fields{"strategy": s.name, "url": wsURL}).Debug("Discovered CDP endpoint")
		return ep, nil
	}

	if len(errs) > 0 {
		return cdp.Endpoint{}, fmt.Errorf("%w %q: %w", ErrNoEndpoint, id, errors.Join(errs...))
	}
	return cdp.Endpoint{}, fmt.Errorf("%w %q", ErrNoEndpoint, id)
}

// Evict drops the cached endpoint of a finished session.
func (d *Discoverer) Evict(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, sessionID)
}

// Resolver adapts the Discoverer to cdp.EndpointResolver for one session.
func (d *Discoverer) Resolver(sess Session) cdp.EndpointResolver {
	return cdp.EndpointFunc(func(ctx context.Context) (cdp.Endpoint, error) {
		return d.Resolve(ctx, sess)
	})
}

func (d *Discoverer) fromWSEndpoint(_ context.Context, sess Session, _ gjson.Result) (string, error) {
	base := d.settings.WSEndpoint
	if base == "" {
		return "", errSkip
	}
	if sess.ID() == "" {
		return base, nil
	}
	return strings.TrimRight(base, "/") + "/" + sess.ID(), nil
}

func (d *Discoverer) fromCDPCapability(_ context.Context, _ Session, caps gjson.Result) (string, error) {
	v := caps.Get("se:cdp")
	if v.Type != gjson.String || v.String() == "" {
		return "", errSkip
	}
	return v.String(), nil
}

func (d *Discoverer) fromDebuggerAddress(ctx context.Context, _ Session, caps gjson.Result) (string, error) {
	addr := d.settings.DebuggerAddress
	if addr == "" {
		addr = caps.Get("goog:chromeOptions.debuggerAddress").String()
	}
	if addr == "" {
		addr = caps.Get("ms:edgeOptions.debuggerAddress").String()
	}
	if addr == "" {
		return "", errSkip
	}

	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()
	return FetchDebuggerURL(ctx, d.client, addr)
}

func (d *Discoverer) fromGrid(_ context.Context, sess Session, _ gjson.Result) (string, error) {
	if d.settings.GridURL == "" || sess.ID() == "" {
		return "", errSkip
	}
	u, err := url.Parse(d.settings.GridURL)
	if err != nil {
		return "", fmt.Errorf("parse grid URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("grid URL %q has no host", d.settings.GridURL)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/session/%s/se/cdp", scheme, u.Host, sess.ID()), nil
}

// capabilitiesJSON renders capabilities once so strategies can query nested keys.
func capabilitiesJSON(sess Session) (gjson.Result, error) {
	caps := sess.Capabilities()
	if len(caps) == 0 {
		return gjson.Result{}, nil
	}
	raw, err := json.Marshal(caps)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode capabilities: %w", err)
	}
	return gjson.ParseBytes(raw), nil
}
