// Package merkle builds the binary Merkle tree used to compute a block's
// transaction root. Named after the `merkle` module referenced (but not
// retained in full) in the original Iroha sources; the hashing convention
// (length-prefixed leaves, odd-node duplication) follows the
// length-prefixing idiom used by core.ComputeTxRoot in the teacher repo.
package merkle

import (
	"bytes"
	"encoding/binary"

	"github.com/tolelom/ledgerd/crypto"
)

// Tree is a binary Merkle tree over an ordered list of leaf hashes.
type Tree struct {
	root   string
	layers [][]string // layers[0] is the leaf layer
}

// leafHash length-prefixes data before hashing so that no two distinct leaf
// sets can collide on byte-concatenation boundaries.
func leafHash(data []byte) string {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	var buf bytes.Buffer
	buf.Write(lenBuf[:])
	buf.Write(data)
	return crypto.Hash(buf.Bytes())
}

func nodeHash(left, right string) string {
	return crypto.Hash([]byte(left + right))
}

// New builds a tree from the given leaf contents (e.g. transaction hashes).
// An empty input yields a tree whose Root is the hash of a fixed sentinel,
// matching the teacher's ComputeTxRoot convention for empty transaction
// sets.
func New(leaves [][]byte) *Tree {
	if len(leaves) == 0 {
		empty := crypto.Hash([]byte("empty"))
		return &Tree{root: empty, layers: [][]string{{empty}}}
	}

	layer := make([]string, len(leaves))
	for i, l := range leaves {
		layer[i] = leafHash(l)
	}

	layers := [][]string{layer}
	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, nodeHash(layer[i], layer[i+1]))
			} else {
				// Odd node out: duplicate it, matching common Merkle-tree
				// practice (e.g. Bitcoin) to keep the tree strictly binary.
				next = append(next, nodeHash(layer[i], layer[i]))
			}
		}
		layers = append(layers, next)
		layer = next
	}

	return &Tree{root: layer[0], layers: layers}
}

// Root returns the tree's root hash.
func (t *Tree) Root() string {
	return t.root
}

// ProofStep is one layer of an inclusion proof: the sibling hash at that
// layer (proofs run from leaf to root), plus whether it sits on the left.
type ProofStep struct {
	Hash   string
	IsLeft bool
}

// Proof returns the inclusion proof for the leaf at index i, or nil if i is
// out of range.
func (t *Tree) Proof(i int) []ProofStep {
	if i < 0 || i >= len(t.layers[0]) {
		return nil
	}
	var steps []ProofStep
	idx := i
	for layer := 0; layer < len(t.layers)-1; layer++ {
		cur := t.layers[layer]
		var sibling int
		isLeft := false
		if idx%2 == 0 {
			sibling = idx + 1
			if sibling >= len(cur) {
				sibling = idx // duplicated odd node
			}
			isLeft = false
		} else {
			sibling = idx - 1
			isLeft = true
		}
		steps = append(steps, ProofStep{Hash: cur[sibling], IsLeft: isLeft})
		idx /= 2
	}
	return steps
}

// VerifyProof recomputes the root from a leaf's raw content and its proof,
// reporting whether it matches root.
func VerifyProof(leaf []byte, proof []ProofStep, root string) bool {
	h := leafHash(leaf)
	for _, step := range proof {
		if step.IsLeft {
			h = nodeHash(step.Hash, h)
		} else {
			h = nodeHash(h, step.Hash)
		}
	}
	return h == root
}
