package cmd

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/birthmark/provenance/foundation/ledger/genesis"
)

var (
	chainName    string
	nodeID       string
	batchSizeMin int
	batchSizeMax int
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Write the genesis file for a new chain",
	Run:   genesisRun,
}

func init() {
	genesisCmd.Flags().StringVar(&chainName, "chain", "provenance-main", "Name of the chain.")
	genesisCmd.Flags().StringVar(&nodeID, "node-id", "node-1", "Validator id for this node.")
	genesisCmd.Flags().IntVar(&batchSizeMin, "batch-min", 1, "Minimum hashes per batch.")
	genesisCmd.Flags().IntVar(&batchSizeMax, "batch-max", 1000, "Maximum hashes per batch.")
	rootCmd.AddCommand(genesisCmd)
}

func genesisRun(cmd *cobra.Command, args []string) {
	gen := genesis.Genesis{
		Date:         time.Now().UTC(),
		ChainName:    chainName,
		NodeID:       nodeID,
		BatchSizeMin: batchSizeMin,
		BatchSizeMax: batchSizeMax,
	}

	path := filepath.Join(ledgerPath, "genesis.json")
	if err := genesis.Save(path, gen); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("wrote %s for chain %q node %q\n", path, chainName, nodeID)
}
