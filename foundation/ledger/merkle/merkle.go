// Package merkle builds the inclusion-proof trees for the batches of
// image hashes committed in a block. The tree is a binary SHA-256 tree
// over 32 byte digests, zero padded up to the next power of two.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

// Position indicates which side of the concatenation a proof sibling
// takes when the proof is replayed.
type Position string

// Set of valid sibling positions.
const (
	Left  Position = "left"
	Right Position = "right"
)

// ProofStep is one level of an inclusion proof: the sibling digest and
// the side the sibling sits on.
type ProofStep struct {
	Hash     string   `json:"hash"`
	Position Position `json:"position"`
}

// Proof is the ordered sibling path from a leaf up to the root.
type Proof []ProofStep

// ErrNoLeaves is returned when a tree is requested over an empty leaf set.
var ErrNoLeaves = errors.New("cannot build tree with no leaves")

// =============================================================================

// BuildTree constructs a merkle tree over the specified leaf hashes and
// returns the root along with an inclusion proof for every original leaf.
// Padding leaves are zero digests and never receive proofs.
func BuildTree(leafHashes []string) (string, map[string]Proof, error) {
	if len(leafHashes) == 0 {
		return "", nil, ErrNoLeaves
	}

	leaves := make([][]byte, 0, len(leafHashes))
	for _, leaf := range leafHashes {
		digest, err := hex.DecodeString(leaf)
		if err != nil || len(digest) != sha256.Size {
			return "", nil, fmt.Errorf("leaf %q is not a hex encoded digest", leaf)
		}
		leaves = append(leaves, digest)
	}

	// Pad the leaf level with zero digests up to the next power of two.
	// Depth is based on the original leaf count, not the padding.
	depth := TreeDepth(len(leaves))
	paddedSize := 1 << depth
	for len(leaves) < paddedSize {
		leaves = append(leaves, make([]byte, sha256.Size))
	}

	// Build every level bottom up, keeping the levels around so proofs
	// can be read straight out of them.
	levels := [][][]byte{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([][]byte, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			parent := sha256.Sum256(append(append([]byte{}, current[i]...), current[i+1]...))
			next = append(next, parent[:])
		}
		levels = append(levels, next)
		current = next
	}

	root := hex.EncodeToString(current[0])

	proofs := make(map[string]Proof, len(leafHashes))
	for idx, leaf := range leafHashes {
		path := make(Proof, 0, depth)
		pos := idx

		for level := 0; level < depth; level++ {
			sibling := levels[level][pos^1]

			side := Left
			if pos%2 == 0 {
				side = Right
			}

			path = append(path, ProofStep{
				Hash:     hex.EncodeToString(sibling),
				Position: side,
			})

			pos /= 2
		}

		proofs[leaf] = path
	}

	return root, proofs, nil
}

// VerifyProof replays the proof path from the specified leaf and reports
// whether the resulting digest equals the expected root.
func VerifyProof(leafHash string, path Proof, expectedRoot string) bool {
	current, err := hex.DecodeString(leafHash)
	if err != nil || len(current) != sha256.Size {
		return false
	}

	for _, step := range path {
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil || len(sibling) != sha256.Size {
			return false
		}

		var digest [sha256.Size]byte
		if step.Position == Left {
			digest = sha256.Sum256(append(append([]byte{}, sibling...), current...))
		} else {
			digest = sha256.Sum256(append(append([]byte{}, current...), sibling...))
		}
		current = digest[:]
	}

	return hex.EncodeToString(current) == expectedRoot
}

// TreeDepth returns the depth of the tree for the specified number of
// original leaves: ceil(log2(n)), with a single leaf tree having depth 0.
func TreeDepth(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}
