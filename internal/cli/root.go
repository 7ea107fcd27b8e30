// Package cli implements the vendly command line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vendly-hq/vendly/internal/api"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vendly",
	Short: "Vendor earnings ledger and payout settlement daemon",
	Long: `vendly tracks vendor earnings in an append-only credit ledger,
handles payout redemption requests, drives admin-approved settlement
through the external payment processor, and grants appreciation
bonuses on long-held subscription deposits.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"Path to the vendly config file")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vendly version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "vendly %s\n", api.Version)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".vendly", "config.toml")
}
