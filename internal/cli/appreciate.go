package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vendly-hq/vendly/internal/daemon"
)

func init() {
	rootCmd.AddCommand(appreciateCmd)
}

var appreciateCmd = &cobra.Command{
	Use:   "appreciate",
	Short: "Run the appreciation job once and exit",
	Long: `Run one appreciation pass over the ledger: subscription deposits
that have crossed an age tier are credited their bonus. Safe to re-run;
already-credited tiers grant nothing. Do not run against a data
directory a live daemon is serving; use the job endpoint instead.`,
	RunE: runAppreciate,
}

func runAppreciate(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	sum, err := d.Job().Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "processed:   %d\n", sum.Processed)
	fmt.Fprintf(os.Stdout, "appreciated: %d\n", sum.Appreciated)
	fmt.Fprintf(os.Stdout, "bonus total: %d credits\n", sum.BonusTotal)
	if len(sum.Errors) > 0 {
		fmt.Fprintf(os.Stdout, "errors:      %d\n", len(sum.Errors))
		for _, e := range sum.Errors {
			fmt.Fprintf(os.Stdout, "  - %s\n", e)
		}
	}
	return nil
}
