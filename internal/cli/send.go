package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/cli/format"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <method> [params]",
	Short: "Send a raw CDP command",
	Long: `Send any CDP command and print its result.

Params are a JSON object. With --target-session the command is addressed to
an attached target session.

Examples:
  cdpwire send Browser.getVersion
  cdpwire send Target.createTarget '{"url":"about:blank"}'
  cdpwire send Runtime.evaluate '{"expression":"1+1"}' --target-session <sessionId>`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("target-session", "", "CDP session id to address the command to")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	method := args[0]
	if !strings.Contains(method, ".") {
		return outputError(fmt.Sprintf("invalid method %q, expected Domain.method", method))
	}

	var params json.RawMessage
	if len(args) == 2 {
		params = json.RawMessage(args[1])
		if !json.Valid(params) {
			return outputError("params must be valid JSON")
		}
	}
	sessionID, _ := cmd.Flags().GetString("target-session")

	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		result, err := client.RequestToSession(ctx, sessionID, method, params)
		if err != nil {
			return err
		}
		if JSONOutput {
			return outputSuccess(result)
		}
		return format.RawResult(os.Stdout, result)
	})
}
