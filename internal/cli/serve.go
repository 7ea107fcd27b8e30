package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vendly-hq/vendly/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vendly daemon",
	Long: `Start the vendly HTTP API and, when enabled, the appreciation
timer. Exactly one instance should own a given data directory: the
duplicate-request guard and the appreciation tier markers both rely on
a single writer.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
