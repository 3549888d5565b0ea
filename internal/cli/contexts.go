package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/cli/format"
	"github.com/spf13/cobra"
)

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List, create or dispose browser contexts",
	Long: `Manage isolated browser contexts (incognito-like profiles).

Without flags, lists the existing contexts.

Examples:
  cdpwire contexts
  cdpwire contexts --create
  cdpwire contexts --dispose <browserContextId>`,
	Args: cobra.NoArgs,
	RunE: runContexts,
}

func init() {
	contextsCmd.Flags().Bool("create", false, "Create a new browser context")
	contextsCmd.Flags().Bool("dispose-on-detach", false, "Dispose the created context when the client detaches")
	contextsCmd.Flags().String("proxy", "", "Proxy server for the created context")
	contextsCmd.Flags().String("dispose", "", "Dispose the browser context with this id")
	contextsCmd.MarkFlagsMutuallyExclusive("create", "dispose")
	rootCmd.AddCommand(contextsCmd)
}

func runContexts(cmd *cobra.Command, args []string) error {
	create, _ := cmd.Flags().GetBool("create")
	dispose, _ := cmd.Flags().GetString("dispose")

	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		switch {
		case create:
			var params cdp.CreateBrowserContextParams
			params.DisposeOnDetach, _ = cmd.Flags().GetBool("dispose-on-detach")
			params.ProxyServer, _ = cmd.Flags().GetString("proxy")

			id, err := client.Target.CreateBrowserContext(ctx, params)
			if err != nil {
				return err
			}
			if JSONOutput {
				return outputSuccess(map[string]any{"browserContextId": id})
			}
			_, err = fmt.Fprintln(os.Stdout, id)
			return err

		case dispose != "":
			if err := client.Target.DisposeBrowserContext(ctx, dispose); err != nil {
				return err
			}
			return outputSuccess(nil)

		default:
			ids, err := client.Target.GetBrowserContexts(ctx)
			if err != nil {
				return err
			}
			if JSONOutput {
				return outputSuccess(map[string]any{"browserContextIds": ids})
			}
			return format.Contexts(os.Stdout, ids)
		}
	})
}
