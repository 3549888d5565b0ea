package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Target domain events, as emitted on Target's emitter.
const (
	EventTargetCreated             = "targetCreated"
	EventTargetDestroyed           = "targetDestroyed"
	EventTargetInfoChanged         = "targetInfoChanged"
	EventTargetCrashed             = "targetCrashed"
	EventAttachedToTarget          = "attachedToTarget"
	EventDetachedFromTarget        = "detachedFromTarget"
	EventReceivedMessageFromTarget = "receivedMessageFromTarget"
)

// TargetInfo describes a debuggable target as last reported by the browser.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	OpenerID         string `json:"openerId,omitempty"`
	BrowserContextID string `json:"browserContextId,omitempty"`
}

// CreateTargetParams are the parameters of Target.createTarget.
type CreateTargetParams struct {
	URL                     string `json:"url"`
	Width                   int    `json:"width,omitempty"`
	Height                  int    `json:"height,omitempty"`
	BrowserContextID        string `json:"browserContextId,omitempty"`
	EnableBeginFrameControl bool   `json:"enableBeginFrameControl,omitempty"`
	NewWindow               bool   `json:"newWindow,omitempty"`
	Background              bool   `json:"background,omitempty"`
}

// CreateBrowserContextParams are the parameters of Target.createBrowserContext.
type CreateBrowserContextParams struct {
	DisposeOnDetach bool   `json:"disposeOnDetach,omitempty"`
	ProxyServer     string `json:"proxyServer,omitempty"`
	ProxyBypassList string `json:"proxyBypassList,omitempty"`
}

// AttachToTargetParams are the parameters of Target.attachToTarget.
type AttachToTargetParams struct {
	TargetID string `json:"targetId"`
	Flatten  bool   `json:"flatten,omitempty"`
}

// SetAutoAttachParams are the parameters of Target.setAutoAttach.
type SetAutoAttachParams struct {
	AutoAttach             bool `json:"autoAttach"`
	WaitForDebuggerOnStart bool `json:"waitForDebuggerOnStart"`
	Flatten                bool `json:"flatten,omitempty"`
}

// TargetCreatedEvent is the payload of targetCreated.
type TargetCreatedEvent struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

// TargetDestroyedEvent is the payload of targetDestroyed.
type TargetDestroyedEvent struct {
	TargetID string `json:"targetId"`
}

// TargetInfoChangedEvent is the payload of targetInfoChanged.
type TargetInfoChangedEvent struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

// TargetCrashedEvent is the payload of targetCrashed.
type TargetCrashedEvent struct {
	TargetID  string `json:"targetId"`
	Status    string `json:"status"`
	ErrorCode int    `json:"errorCode"`
}

// AttachedToTargetEvent is the payload of attachedToTarget.
type AttachedToTargetEvent struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

// DetachedFromTargetEvent is the payload of detachedFromTarget.
type DetachedFromTargetEvent struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId,omitempty"`
}

// ReceivedMessageFromTargetEvent is the payload of receivedMessageFromTarget.
type ReceivedMessageFromTargetEvent struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	TargetID  string `json:"targetId,omitempty"`
}

// requester is the slice of Connection a domain needs.
type requester interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Target is the Target domain. Its emitter carries unsolicited Target events.
type Target struct {
	*Emitter
	conn requester
}

// NewTarget binds the Target domain to conn.
func NewTarget(conn requester, logger logrus.FieldLogger) *Target {
	if logger == nil {
		logger = discardLogger()
	}
	return &Target{
		Emitter: NewEmitter(logger.WithField("domain", "Target")),
		conn:    conn,
	}
}

func (t *Target) call(ctx context.Context, method string, params, result any) error {
	raw, err := t.conn.Request(ctx, "Target."+method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode Target.%s result: %w", method, err)
	}
	return nil
}

// GetBrowserContexts returns the ids of all browser contexts.
func (t *Target) GetBrowserContexts(ctx context.Context) ([]string, error) {
	var res struct {
		BrowserContextIDs []string `json:"browserContextIds"`
	}
	if err := t.call(ctx, "getBrowserContexts", nil, &res); err != nil {
		return nil, err
	}
	return res.BrowserContextIDs, nil
}

// CreateBrowserContext creates an incognito-like browser context and returns its id.
func (t *Target) CreateBrowserContext(ctx context.Context, params CreateBrowserContextParams) (string, error) {
	var res struct {
		BrowserContextID string `json:"browserContextId"`
	}
	if err := t.call(ctx, "createBrowserContext", params, &res); err != nil {
		return "", err
	}
	return res.BrowserContextID, nil
}

// DisposeBrowserContext closes a browser context and all its targets.
func (t *Target) DisposeBrowserContext(ctx context.Context, browserContextID string) error {
	return t.call(ctx, "disposeBrowserContext", map[string]string{"browserContextId": browserContextID}, nil)
}

// CreateTarget opens a new page and returns its target id.
func (t *Target) CreateTarget(ctx context.Context, params CreateTargetParams) (string, error) {
	var res struct {
		TargetID string `json:"targetId"`
	}
	if err := t.call(ctx, "createTarget", params, &res); err != nil {
		return "", err
	}
	return res.TargetID, nil
}

// CloseTarget closes a target. The result reports whether the browser accepted it.
func (t *Target) CloseTarget(ctx context.Context, targetID string) (bool, error) {
	var res struct {
		Success bool `json:"success"`
	}
	if err := t.call(ctx, "closeTarget", map[string]string{"targetId": targetID}, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}

// ActivateTarget brings a page to the foreground.
func (t *Target) ActivateTarget(ctx context.Context, targetID string) error {
	return t.call(ctx, "activateTarget", map[string]string{"targetId": targetID}, nil)
}

// AttachToTarget attaches to a target and returns the session id.
func (t *Target) AttachToTarget(ctx context.Context, params AttachToTargetParams) (string, error) {
	var res struct {
		SessionID string `json:"sessionId"`
	}
	if err := t.call(ctx, "attachToTarget", params, &res); err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// DetachFromTarget detaches a session.
func (t *Target) DetachFromTarget(ctx context.Context, sessionID string) error {
	return t.call(ctx, "detachFromTarget", map[string]string{"sessionId": sessionID}, nil)
}

// GetTargets returns all available targets.
func (t *Target) GetTargets(ctx context.Context) ([]TargetInfo, error) {
	var res struct {
		TargetInfos []TargetInfo `json:"targetInfos"`
	}
	if err := t.call(ctx, "getTargets", nil, &res); err != nil {
		return nil, err
	}
	return res.TargetInfos, nil
}

// GetTargetInfo returns information about one target.
func (t *Target) GetTargetInfo(ctx context.Context, targetID string) (*TargetInfo, error) {
	var res struct {
		TargetInfo TargetInfo `json:"targetInfo"`
	}
	var params any
	if targetID != "" {
		params = map[string]string{"targetId": targetID}
	}
	if err := t.call(ctx, "getTargetInfo", params, &res); err != nil {
		return nil, err
	}
	return &res.TargetInfo, nil
}

// SetAutoAttach controls automatic attachment to related targets.
func (t *Target) SetAutoAttach(ctx context.Context, params SetAutoAttachParams) error {
	return t.call(ctx, "setAutoAttach", params, nil)
}

// SetDiscoverTargets turns targetCreated/targetDestroyed/targetInfoChanged notifications on or off.
func (t *Target) SetDiscoverTargets(ctx context.Context, discover bool) error {
	return t.call(ctx, "setDiscoverTargets", map[string]bool{"discover": discover}, nil)
}

// OnTargetCreated subscribes to targetCreated.
func (t *Target) OnTargetCreated(fn func(TargetCreatedEvent) error) (off func()) {
	return t.On(EventTargetCreated, decodeListener(fn))
}

// OnTargetDestroyed subscribes to targetDestroyed.
func (t *Target) OnTargetDestroyed(fn func(TargetDestroyedEvent) error) (off func()) {
	return t.On(EventTargetDestroyed, decodeListener(fn))
}

// OnTargetInfoChanged subscribes to targetInfoChanged.
func (t *Target) OnTargetInfoChanged(fn func(TargetInfoChangedEvent) error) (off func()) {
	return t.On(EventTargetInfoChanged, decodeListener(fn))
}

// OnTargetCrashed subscribes to targetCrashed.
func (t *Target) OnTargetCrashed(fn func(TargetCrashedEvent) error) (off func()) {
	return t.On(EventTargetCrashed, decodeListener(fn))
}

// OnAttachedToTarget subscribes to attachedToTarget.
func (t *Target) OnAttachedToTarget(fn func(AttachedToTargetEvent) error) (off func()) {
	return t.On(EventAttachedToTarget, decodeListener(fn))
}

// OnDetachedFromTarget subscribes to detachedFromTarget.
func (t *Target) OnDetachedFromTarget(fn func(DetachedFromTargetEvent) error) (off func()) {
	return t.On(EventDetachedFromTarget, decodeListener(fn))
}

// OnReceivedMessageFromTarget subscribes to receivedMessageFromTarget.
func (t *Target) OnReceivedMessageFromTarget(fn func(ReceivedMessageFromTargetEvent) error) (off func()) {
	return t.On(EventReceivedMessageFromTarget, decodeListener(fn))
}

// decodeListener adapts a typed handler to a Listener.
func decodeListener[T any](fn func(T) error) Listener {
	return func(evt Event) error {
		var payload T
		if len(evt.Params) > 0 {
			if err := json.Unmarshal(evt.Params, &payload); err != nil {
				return fmt.Errorf("decode %s params: %w", evt.Method, err)
			}
		}
		return fn(payload)
	}
}
