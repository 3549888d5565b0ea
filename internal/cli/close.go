package cli

import (
	"context"
	"fmt"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close <targetId>",
	Short: "Close a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runClose,
}

var activateCmd = &cobra.Command{
	Use:   "activate <targetId>",
	Short: "Bring a target to the foreground",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

func init() {
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(activateCmd)
}

func runClose(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		ok, err := client.Target.CloseTarget(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("browser refused to close target %s", args[0])
		}
		return outputSuccess(nil)
	})
}

func runActivate(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		if err := client.Target.ActivateTarget(ctx, args[0]); err != nil {
			return err
		}
		return outputSuccess(nil)
	})
}
