package cli

import (
	"context"
	"os"

	"github.com/grantcarthew/cdpwire/internal/browser"
	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/cli/format"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List debuggable targets",
	Long: `List the browser's targets with Target.getTargets.

With --http, reads the /json listing of the debugger address instead of
opening a CDP connection.

Examples:
  cdpwire targets --endpoint ws://127.0.0.1:9222/devtools/browser/<id>
  cdpwire targets --http --debugger 127.0.0.1:9222`,
	Args: cobra.NoArgs,
	RunE: runTargets,
}

func init() {
	targetsCmd.Flags().Bool("http", false, "List targets from the debugger's /json endpoint")
	rootCmd.AddCommand(targetsCmd)
}

func runTargets(cmd *cobra.Command, args []string) error {
	if useHTTP, _ := cmd.Flags().GetBool("http"); useHTTP {
		return runHTTPTargets(cmd)
	}

	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		targets, err := client.Target.GetTargets(ctx)
		if err != nil {
			return err
		}
		if JSONOutput {
			return outputSuccess(map[string]any{"targets": targets})
		}
		return format.Targets(os.Stdout, targets, format.NewOutputOptions(JSONOutput, NoColor))
	})
}

func runHTTPTargets(cmd *cobra.Command) error {
	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		return outputError(err.Error())
	}
	if conf.DebuggerAddress.String == "" {
		return outputError("--http requires a debugger address (--debugger)")
	}

	targets, err := browser.FetchTargets(commandContext(cmd), httpClient(), conf.DebuggerAddress.String)
	if err != nil {
		return outputError(err.Error())
	}
	if JSONOutput {
		return outputSuccess(map[string]any{"targets": targets})
	}
	return format.HTTPTargets(os.Stdout, targets, format.NewOutputOptions(JSONOutput, NoColor))
}
