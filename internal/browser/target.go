package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// Target represents a target as listed by the /json endpoint.
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo contains browser version information from /json/version.
type VersionInfo struct {
	Browser       string `json:"Browser"`
	ProtocolVer   string `json:"Protocol-Version"`
	UserAgent     string `json:"User-Agent"`
	V8Version     string `json:"V8-Version"`
	WebKitVersion string `json:"WebKit-Version"`
	WebSocketURL  string `json:"webSocketDebuggerUrl"`
}

// ErrNoDebuggerURL is returned when /json/version carries no webSocketDebuggerUrl.
var ErrNoDebuggerURL = errors.New("no webSocketDebuggerUrl in /json/version")

// getJSON fetches http://addr/path and returns the body.
// Callers must provide a context with timeout when client has none.
func getJSON(ctx context.Context, client *http.Client, addr, path string) ([]byte, error) {
	url := fmt.Sprintf("http://%s%s", addr, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// FetchTargets retrieves the list of available targets from a debugger address (host:port).
func FetchTargets(ctx context.Context, client *http.Client, addr string) ([]Target, error) {
	body, err := getJSON(ctx, client, addr, "/json")
	if err != nil {
		return nil, err
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	return targets, nil
}

// FetchVersion retrieves browser version info from a debugger address (host:port).
func FetchVersion(ctx context.Context, client *http.Client, addr string) (*VersionInfo, error) {
	body, err := getJSON(ctx, client, addr, "/json/version")
	if err != nil {
		return nil, err
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}
	return &info, nil
}

// FetchDebuggerURL reads only webSocketDebuggerUrl from /json/version. Some
// remote debuggers return bodies that do not fit VersionInfo, so the field is
// picked out without decoding the rest.
func FetchDebuggerURL(ctx context.Context, client *http.Client, addr string) (string, error) {
	body, err := getJSON(ctx, client, addr, "/json/version")
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("parse version: invalid JSON from %s", addr)
	}
	url := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if url == "" {
		return "", ErrNoDebuggerURL
	}
	return url, nil
}
