package cli

import (
	"context"
	"os"

	"github.com/grantcarthew/cdpwire/internal/browser"
	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/cli/format"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Connect and report connection health",
	Long: `Open a connection, issue Browser.getVersion and print the connection's
health counters. Exits non-zero when the browser cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print the debugger's /json/version",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(probeCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		if _, err := client.Request(ctx, "Browser.getVersion", nil); err != nil {
			return err
		}
		h := client.Health()
		if JSONOutput {
			return outputSuccess(h)
		}
		return format.Health(os.Stdout, h, format.NewOutputOptions(JSONOutput, NoColor))
	})
}

func runProbe(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		return outputError(err.Error())
	}
	if conf.DebuggerAddress.String == "" {
		return outputError("probe requires a debugger address (--debugger)")
	}

	info, err := browser.FetchVersion(commandContext(cmd), httpClient(), conf.DebuggerAddress.String)
	if err != nil {
		return outputError(err.Error())
	}
	if JSONOutput {
		return outputSuccess(info)
	}
	return format.Version(os.Stdout, info)
}
