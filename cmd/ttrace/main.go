package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"ttrace/internal/app"
	"ttrace/internal/config"
	"ttrace/internal/ledger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ttrace [command]",
	Short: "ttrace: shell command timing daemon",
	Long: `ttrace records how long your interactive shell commands take. Bash hooks report each
command to a small per-user daemon which keeps per-command totals on disk.

Get started with:
  eval "$(ttrace init bash)"`,
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file")
}

// controllerAPI is the slice of app.App the commands use.
type controllerAPI interface {
	Config() (config.Config, error)
	Ping(ctx context.Context, timeout time.Duration) (string, error)
	Begin(ctx context.Context, params app.BeginParams) error
	End(ctx context.Context, params app.EndParams) error
	Stats(ctx context.Context, timeout time.Duration) (ledger.Stats, error)
	Status() (app.DaemonStatus, error)
	StartDaemon(force bool) (app.DaemonStatus, error)
	StopDaemon(force bool) error
}

var controllerFactory = func() controllerAPI {
	return app.New(app.Options{ConfigPath: configPath})
}

func controller() controllerAPI {
	return controllerFactory()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
