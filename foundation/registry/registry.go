// Package registry reads a folder of submitter key files and creates the
// set of submitter ids that are authorized to batch hashes on this node.
package registry

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/birthmark/provenance/foundation/ledger/signature"
)

// Registry maintains the set of authorized submitters keyed by id.
type Registry struct {
	submitters map[string]string
}

// New constructs a Registry from the key files in the specified folder.
// The submitter id is the file name without the .pem extension; the
// value is the public key in PEM form for audit logging.
func New(root string) (*Registry, error) {
	reg := Registry{
		submitters: make(map[string]string),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".pem" {
			return nil
		}

		keys, err := signature.LoadKeys(fileName)
		if err != nil {
			return err
		}

		publicPEM, err := keys.PublicPEM()
		if err != nil {
			return err
		}

		id := strings.TrimSuffix(path.Base(fileName), ".pem")
		reg.submitters[id] = publicPEM

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &reg, nil
}

// AllowList returns the submitter ids as the set form the validator
// consumes. An empty registry returns nil, which allows everyone.
func (reg *Registry) AllowList() map[string]bool {
	if len(reg.submitters) == 0 {
		return nil
	}

	allow := make(map[string]bool, len(reg.submitters))
	for id := range reg.submitters {
		allow[id] = true
	}
	return allow
}

// Copy returns a copy of the map of submitter ids and public keys.
func (reg *Registry) Copy() map[string]string {
	cpy := make(map[string]string, len(reg.submitters))
	for id, publicPEM := range reg.submitters {
		cpy[id] = publicPEM
	}
	return cpy
}
