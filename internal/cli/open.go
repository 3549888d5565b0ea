package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Open a new target",
	Long: `Open a new page with Target.createTarget and print its target id.

Examples:
  cdpwire open https://example.com
  cdpwire open about:blank --context <browserContextId> --background`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().String("context", "", "Browser context to open the target in")
	openCmd.Flags().Bool("background", false, "Open the target in the background")
	openCmd.Flags().Bool("new-window", false, "Open the target in a new window")
	openCmd.Flags().Int("width", 0, "Window width in pixels")
	openCmd.Flags().Int("height", 0, "Window height in pixels")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	params := cdp.CreateTargetParams{URL: args[0]}
	params.BrowserContextID, _ = cmd.Flags().GetString("context")
	params.Background, _ = cmd.Flags().GetBool("background")
	params.NewWindow, _ = cmd.Flags().GetBool("new-window")
	params.Width, _ = cmd.Flags().GetInt("width")
	params.Height, _ = cmd.Flags().GetInt("height")

	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		targetID, err := client.Target.CreateTarget(ctx, params)
		if err != nil {
			return err
		}
		if JSONOutput {
			return outputSuccess(map[string]any{"targetId": targetID})
		}
		_, err = fmt.Fprintln(os.Stdout, targetID)
		return err
	})
}
