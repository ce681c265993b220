package cmd

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/birthmark/provenance/foundation/ledger/signature"
)

var keyName string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new P-256 validator key pair",
	Run:   keygenRun,
}

func init() {
	keygenCmd.Flags().StringVarP(&keyName, "name", "n", "validator", "Name for the key file.")
	rootCmd.AddCommand(keygenCmd)
}

func keygenRun(cmd *cobra.Command, args []string) {
	keys, err := signature.GenerateKeys()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(ledgerPath, "keys", keyName+".pem")
	if err := signature.SaveKeys(keys, path); err != nil {
		log.Fatal(err)
	}

	publicPEM, err := keys.PublicPEM()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("wrote %s\n%s", path, publicPEM)
}
