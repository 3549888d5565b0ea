package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/grantcarthew/cdpwire/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/guregu/null.v3"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables JSON output format (default is text).
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

// Connection flags. They override the config file and environment when set.
var (
	configPath     string
	endpointFlag   string
	debuggerFlag   string
	gridFlag       string
	sessionFlag    string
	headerFlags    []string
	requestTimeout int64
	connectTimeout int64
)

var rootCmd = &cobra.Command{
	Use:           "cdpwire",
	Short:         "Chrome DevTools Protocol client",
	Long:          "cdpwire drives a browser's Target domain over a persistent, self-healing CDP connection.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	flags.BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	flags.BoolVar(&NoColor, "no-color", false, "Disable color output")
	flags.StringVar(&configPath, "config", "", "Path to a JSON config file")
	flags.StringVar(&endpointFlag, "endpoint", "", "Base WebSocket endpoint (session id is appended when set)")
	flags.StringVar(&debuggerFlag, "debugger", "", "Debugger address host:port serving /json/version")
	flags.StringVar(&gridFlag, "grid", "", "Selenium Grid URL")
	flags.StringVar(&sessionFlag, "session", "", "Browser session id")
	flags.StringArrayVar(&headerFlags, "header", nil, "Handshake header as key=value (repeatable)")
	flags.Int64Var(&requestTimeout, "request-timeout", 0, "Request timeout in milliseconds")
	flags.Int64Var(&connectTimeout, "connect-timeout", 0, "Connection timeout in milliseconds")
	rootCmd.SetVersionTemplate(`cdpwire version {{.Version}}
`)
}

// debugf logs a debug message through the CLI logger if debug mode is enabled.
func debugf(format string, args ...any) {
	if Debug {
		newLogger().Debugf(format, args...)
	}
}

// newLogger returns the logger handed to the connection stack.
func newLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: !shouldUseColor(),
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.WarnLevel)
	if Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// loadConfig consolidates the config file, environment and flags.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	conf, err := config.Consolidate(configPath, config.EnvMap(os.Environ()))
	if err != nil {
		return conf, err
	}

	var override config.Config
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("endpoint") {
		override.WSEndpoint = null.StringFrom(endpointFlag)
	}
	if changed("debugger") {
		override.DebuggerAddress = null.StringFrom(debuggerFlag)
	}
	if changed("grid") {
		override.GridURL = null.StringFrom(gridFlag)
	}
	if changed("session") {
		override.SessionID = null.StringFrom(sessionFlag)
	}
	if changed("request-timeout") {
		override.RequestTimeout = null.IntFrom(requestTimeout)
	}
	if changed("connect-timeout") {
		override.ConnectionTimeout = null.IntFrom(connectTimeout)
	}
	if len(headerFlags) > 0 {
		headers, err := parseHeaders(headerFlags)
		if err != nil {
			return conf, err
		}
		override.Headers = headers
	}

	conf = conf.Apply(override)
	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid configuration: %w", err)
	}
	debugf("config: endpoint=%q debugger=%q grid=%q session=%q", conf.WSEndpoint.String,
		conf.DebuggerAddress.String, conf.GridURL.String, conf.SessionID.String)
	return conf, nil
}

// parseHeaders turns key=value pairs into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, expected key=value", pair)
		}
		headers[http.CanonicalHeaderKey(k)] = v
	}
	return headers, nil
}

// Execute runs the root command.
// Supports command abbreviation via unique prefix matching.
func Execute() error {
	args := os.Args[1:]
	if len(args) > 0 {
		if expanded := tryExpandCommand(args[0]); expanded != "" {
			args[0] = expanded
			rootCmd.SetArgs(args)
		}
	}
	return rootCmd.Execute()
}

// tryExpandCommand attempts to expand a command abbreviation.
// Returns the expanded command if exactly one match is found, empty string otherwise.
func tryExpandCommand(prefix string) string {
	var matches []string
	for _, cmd := range rootCmd.Commands() {
		name := cmd.Name()
		if name == prefix {
			return ""
		}
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// printedError is an error already reported to the user.
type printedError struct {
	msg string
}

func (e *printedError) Error() string { return e.msg }

// IsPrintedError reports whether err was already written to stderr.
func IsPrintedError(err error) bool {
	var pe *printedError
	return errors.As(err, &pe)
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// outputJSON writes a JSON response to the given writer.
// Pretty prints if stdout is a TTY, compact otherwise.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// outputSuccess writes a successful response to stdout.
// Text mode prints "OK" for commands without data.
func outputSuccess(data any) error {
	if JSONOutput {
		resp := map[string]any{
			"ok": true,
		}
		if data != nil {
			resp["data"] = data
		}
		return outputJSON(os.Stdout, resp)
	}

	if data == nil {
		if shouldUseColor() {
			color.New(color.FgGreen).Fprintln(os.Stdout, "OK")
		} else {
			fmt.Fprintln(os.Stdout, "OK")
		}
		return nil
	}

	_, err := fmt.Fprintf(os.Stdout, "%v\n", data)
	return err
}

// outputError writes an error response to stderr and returns an error.
func outputError(msg string) error {
	if JSONOutput {
		resp := map[string]any{
			"ok":    false,
			"error": msg,
		}
		_ = outputJSON(os.Stderr, resp)
	} else if shouldUseColor() {
		color.New(color.FgRed).Fprint(os.Stderr, "Error:")
		fmt.Fprintf(os.Stderr, " %s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	return &printedError{msg: msg}
}

// shouldUseColor determines if color output should be used based on flags and environment.
func shouldUseColor() bool {
	if JSONOutput {
		return false
	}
	if NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
