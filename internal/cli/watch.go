package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/cli/format"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream Target events",
	Long: `Enable target discovery and print Target domain events until
interrupted or until --duration elapses.

Examples:
  cdpwire watch
  cdpwire watch --duration 30s --json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	rootCmd.AddCommand(watchCmd)
}

var watchedEvents = []string{
	cdp.EventTargetCreated,
	cdp.EventTargetDestroyed,
	cdp.EventTargetInfoChanged,
	cdp.EventTargetCrashed,
	cdp.EventAttachedToTarget,
	cdp.EventDetachedFromTarget,
}

func runWatch(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")

	return withClient(cmd, func(ctx context.Context, client *cdp.Client) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		opts := format.NewOutputOptions(JSONOutput, NoColor)
		var mu sync.Mutex
		emit := func(evt cdp.Event) error {
			evt.Method = "Target." + evt.Method
			mu.Lock()
			defer mu.Unlock()
			if JSONOutput {
				return outputJSON(os.Stdout, map[string]any{
					"method":    evt.Method,
					"sessionId": evt.SessionID,
					"params":    evt.Params,
				})
			}
			return format.Event(os.Stdout, time.Now(), evt, opts)
		}
		for _, name := range watchedEvents {
			off := client.Target.On(name, emit)
			defer off()
		}

		if err := client.Target.SetDiscoverTargets(ctx, true); err != nil {
			return err
		}
		debugf("watching Target events")

		<-ctx.Done()
		return nil
	})
}
