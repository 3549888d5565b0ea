package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/grantcarthew/cdpwire/internal/browser"
	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/config"
	"github.com/spf13/cobra"
)

// ClientFactory creates CDP clients for commands.
type ClientFactory interface {
	NewClient(ctx context.Context, conf config.Config) (*cdp.Client, error)
}

// defaultFactory resolves the endpoint through browser discovery.
type defaultFactory struct{}

func (defaultFactory) NewClient(ctx context.Context, conf config.Config) (*cdp.Client, error) {
	logger := newLogger()
	disc := browser.NewDiscoverer(conf.Discovery(), httpClient(), logger)
	sess := browser.StaticSession{SessionID: conf.SessionID.String}
	return cdp.Dial(ctx, disc.Resolver(sess),
		cdp.WithOptions(conf.Options()),
		cdp.WithLogger(logger),
	)
}

// clientFactory is the package-level factory, replaceable for testing.
var clientFactory ClientFactory = defaultFactory{}

// SetClientFactory sets the client factory (for testing).
func SetClientFactory(f ClientFactory) {
	clientFactory = f
}

// ResetClientFactory resets to the default factory.
func ResetClientFactory() {
	clientFactory = defaultFactory{}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: browser.DefaultProbeTimeout}
}

// withClient loads the configuration, opens a client, runs fn and closes it.
// Errors from any step are reported through outputError.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *cdp.Client) error) error {
	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		return outputError(err.Error())
	}

	ctx := commandContext(cmd)
	client, err := clientFactory.NewClient(ctx, conf)
	if err != nil {
		return outputError(err.Error())
	}
	defer func() {
		start := time.Now()
		_ = client.Close()
		debugf("client closed in %s", time.Since(start))
	}()

	if err := fn(ctx, client); err != nil {
		if IsPrintedError(err) {
			return err
		}
		return outputError(err.Error())
	}
	return nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
