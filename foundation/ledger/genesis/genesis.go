// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Genesis represents the genesis file. It fixes the identity of the
// chain before the first block is written.
type Genesis struct {
	Date         time.Time `json:"date"`
	ChainName    string    `json:"chain_name"`
	NodeID       string    `json:"node_id"` // The validator id that signs blocks on this node.
	BatchSizeMin int       `json:"batch_size_min"`
	BatchSizeMax int       `json:"batch_size_max"`
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("parsing genesis file %q: %w", path, err)
	}

	return genesis, nil
}

// Save writes the genesis file, creating the directory if needed.
func Save(path string, genesis Genesis) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	content, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis file: %w", err)
	}

	return os.WriteFile(path, content, 0o644)
}
