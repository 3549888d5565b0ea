package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <targetId>",
	Short: "Attach to a target and print the session id",
	Long: `Attach to a target in flat mode and print the CDP session id.

The session id can be passed to "cdpwire send --target-session" to address
commands to the target. The session ends when this process exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		sessionID, err := client.Target.AttachToTarget(ctx, cdp.AttachToTargetParams{
			TargetID: args[0],
			Flatten:  true,
		})
		if err != nil {
			return err
		}
		if JSONOutput {
			return outputSuccess(map[string]any{"sessionId": sessionID})
		}
		_, err = fmt.Fprintln(os.Stdout, sessionID)
		return err
	})
}
