package witness

import (
	"crypto/sha256"
	"encoding/hex"
)

// Side tells a verifier which side the sibling hash sits on.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
	Side Side   `json:"side"`
}

// Tree is a Merkle tree over hex leaf hashes. Pairs are combined in
// sorted order, and a level with an odd count pairs its last node with
// itself.
type Tree struct {
	levels [][]string
}

// NewTree builds a tree. It panics on an empty leaf set.
func NewTree(leaves []string) *Tree {
	if len(leaves) == 0 {
		panic("witness: merkle tree needs at least one leaf")
	}
	levels := [][]string{append([]string(nil), leaves...)}
	for len(levels[len(levels)-1]) > 1 {
		levels = append(levels, nextLevel(levels[len(levels)-1]))
	}
	return &Tree{levels: levels}
}

func nextLevel(level []string) []string {
	out := make([]string, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		out = append(out, combine(left, right))
	}
	return out
}

// Root returns the root hash.
func (t *Tree) Root() string {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling path for the leaf at index.
func (t *Tree) Proof(index int) []ProofStep {
	var proof []ProofStep
	for _, level := range t.levels[:len(t.levels)-1] {
		isLeft := index%2 == 0
		sibling := index - 1
		side := SideLeft
		if isLeft {
			sibling = index + 1
			side = SideRight
		}
		if sibling < len(level) {
			proof = append(proof, ProofStep{Hash: level[sibling], Side: side})
		} else {
			proof = append(proof, ProofStep{Hash: level[index], Side: SideRight})
		}
		index /= 2
	}
	return proof
}

// VerifyProof folds leaf up through proof and compares with root.
func VerifyProof(leaf string, proof []ProofStep, root string) bool {
	h := leaf
	for _, step := range proof {
		h = combine(h, step.Hash)
	}
	return h == root
}

// combine hashes the lexicographically ordered concatenation of a and b.
func combine(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + b))
	return hex.EncodeToString(sum[:])
}
