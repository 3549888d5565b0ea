// Package format renders command results as human-readable text.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/grantcarthew/cdpwire/internal/browser"
	"github.com/grantcarthew/cdpwire/internal/cdp"
	"golang.org/x/term"
)

func colorFprint(w io.Writer, c color.Attribute, s string) {
	color.New(c).Fprint(w, s)
}

func colorFprintf(w io.Writer, c color.Attribute, format string, args ...any) {
	color.New(c).Fprintf(w, format, args...)
}

// OutputOptions controls text formatting behavior.
type OutputOptions struct {
	UseColor bool // Enable ANSI color codes
}

// NewOutputOptions returns output options based on flags and environment.
// Priority: jsonOutput > noColorFlag > NO_COLOR env > TTY detection.
func NewOutputOptions(jsonOutput bool, noColorFlag bool) OutputOptions {
	if jsonOutput || noColorFlag {
		return OutputOptions{UseColor: false}
	}
	if os.Getenv("NO_COLOR") != "" {
		return OutputOptions{UseColor: false}
	}
	return OutputOptions{
		UseColor: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// shortID truncates ids to 8 chars.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to n runes with an ellipsis.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// Targets outputs the Target.getTargets list, one target per line.
// Attached targets are marked with "*".
func Targets(w io.Writer, targets []cdp.TargetInfo, opts OutputOptions) error {
	if len(targets) == 0 {
		fmt.Fprintln(w, "No targets")
		return nil
	}
	for _, t := range targets {
		prefix := "  "
		if t.Attached {
			prefix = "* "
		}
		title := truncate(t.Title, 40)
		if opts.UseColor {
			if t.Attached {
				colorFprint(w, color.FgCyan, prefix)
			} else {
				fmt.Fprint(w, prefix)
			}
			colorFprintf(w, color.FgYellow, "%-15s", t.Type)
			fmt.Fprintf(w, " %s - %s [", t.URL, title)
			colorFprint(w, color.FgCyan, shortID(t.TargetID))
			fmt.Fprintln(w, "]")
		} else {
			fmt.Fprintf(w, "%s%-15s %s - %s [%s]\n", prefix, t.Type, t.URL, title, shortID(t.TargetID))
		}
	}
	return nil
}

// HTTPTargets outputs the /json listing of a debugger address.
func HTTPTargets(w io.Writer, targets []browser.Target, opts OutputOptions) error {
	infos := make([]cdp.TargetInfo, len(targets))
	for i, t := range targets {
		infos[i] = cdp.TargetInfo{TargetID: t.ID, Type: t.Type, Title: t.Title, URL: t.URL}
	}
	return Targets(w, infos, opts)
}

// Contexts outputs browser context ids, one per line.
func Contexts(w io.Writer, ids []string) error {
	if len(ids) == 0 {
		fmt.Fprintln(w, "No browser contexts")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

// Version outputs /json/version information.
func Version(w io.Writer, info *browser.VersionInfo) error {
	fmt.Fprintf(w, "Browser:   %s\n", info.Browser)
	fmt.Fprintf(w, "Protocol:  %s\n", info.ProtocolVer)
	if info.V8Version != "" {
		fmt.Fprintf(w, "V8:        %s\n", info.V8Version)
	}
	fmt.Fprintf(w, "WebSocket: %s\n", info.WebSocketURL)
	return nil
}

// Health outputs connection health.
func Health(w io.Writer, h cdp.Health, opts OutputOptions) error {
	fmt.Fprint(w, "Status:     ")
	if opts.UseColor {
		c := color.FgYellow
		if h.Status == cdp.StatusConnected {
			c = color.FgGreen
		}
		colorFprintf(w, c, "%s\n", h.Status)
	} else {
		fmt.Fprintf(w, "%s\n", h.Status)
	}
	fmt.Fprintf(w, "Connects:   %d\n", h.Connects)
	fmt.Fprintf(w, "Reconnects: %d\n", h.Reconnects)
	fmt.Fprintf(w, "Pending:    %d\n", h.Pending)
	if !h.LastPong.IsZero() {
		fmt.Fprintf(w, "Last pong:  %s\n", h.LastPong.Format(time.RFC3339))
	}
	if h.LastError != "" {
		fmt.Fprint(w, "Last error: ")
		if opts.UseColor {
			colorFprintf(w, color.FgRed, "%s\n", h.LastError)
		} else {
			fmt.Fprintf(w, "%s\n", h.LastError)
		}
	}
	return nil
}

// Event outputs one protocol event as "HH:MM:SS method params".
func Event(w io.Writer, at time.Time, evt cdp.Event, opts OutputOptions) error {
	stamp := at.Format("15:04:05")
	if opts.UseColor {
		colorFprint(w, color.FgHiBlack, stamp)
		fmt.Fprint(w, " ")
		colorFprint(w, color.FgCyan, evt.Method)
	} else {
		fmt.Fprintf(w, "%s %s", stamp, evt.Method)
	}
	if evt.SessionID != "" {
		fmt.Fprintf(w, " [%s]", shortID(evt.SessionID))
	}
	if len(evt.Params) > 0 {
		fmt.Fprintf(w, " %s", compact(evt.Params))
	}
	fmt.Fprintln(w)
	return nil
}

// RawResult outputs a command result as indented JSON.
func RawResult(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "{}")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
