package main

import (
	"encoding/hex"
	"fmt"

	"private-ledger/pkg/envelope"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random master key",
		Long: `Prints a fresh 256-bit master key as 64 hex characters on stdout.

Set it as LEDGER_CRYPTO_MASTER_KEY. Losing it makes every stored balance and
amount unreadable; there is no recovery.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := envelope.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("✓")+" Master key generated. Store it in "+
				color.YellowString("LEDGER_CRYPTO_MASTER_KEY"))
			return nil
		},
	}
}
