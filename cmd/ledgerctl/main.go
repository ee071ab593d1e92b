// Command ledgerctl is the operator tool for the private ledger: it generates
// master keys, applies the database schema and bootstraps admin users.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "ledgerctl - operator tool for the private ledger",
		Long: `ledgerctl manages the parts of the private ledger that never go through the API.

Available Commands:
  keygen     Generate a 32-byte master key
  migrate    Apply the PostgreSQL schema
  admin      Create admin users

Configuration is read the same way as the server: config.yaml in . or ./config,
overridden by LEDGER_* environment variables.
`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file")

	root.AddCommand(newKeygenCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newAdminCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
		os.Exit(1)
	}
}
