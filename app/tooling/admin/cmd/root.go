// Package cmd contains the admin commands for a provenance node.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var ledgerPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&ledgerPath, "ledger-path", "p", "zledger", "Path to the node data directory.")
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative tooling for a provenance node",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
