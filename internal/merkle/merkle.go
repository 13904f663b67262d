// Package merkle builds sorted-pair keccak256 trees for batch-issued certificates.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const HashSize = 32

type Hash = [HashSize]byte

var (
	ErrEmptyTree      = errors.New("empty merkle tree")
	ErrMalformedHash  = errors.New("malformed hash")
	ErrInvalidHashLen = fmt.Errorf("%w: invalid length", ErrMalformedHash)
	ErrInvalidIndex   = errors.New("invalid leaf index")
)

// HashLeaf hashes the canonical certificate payload into a tree leaf.
func HashLeaf(data []byte) Hash {
	var out Hash
	copy(out[:], crypto.Keccak256(data))
	return out
}

// NodeHash combines two children in sorted order so proofs need no direction bits.
func NodeHash(a, b Hash) Hash {
	var out Hash
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	copy(out[:], crypto.Keccak256(a[:], b[:]))
	return out
}

func Root(leaves []Hash) (Hash, error) {
	if len(leaves) == 0 {
		return Hash{}, ErrEmptyTree
	}
	level := append([]Hash(nil), leaves...)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// Proof returns the sibling path for leaves[index]. A node without a sibling is promoted
// unchanged and contributes nothing to the path.
func Proof(leaves []Hash, index int) ([]Hash, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(leaves) {
		return nil, ErrInvalidIndex
	}

	level := append([]Hash(nil), leaves...)
	path := make([]Hash, 0)
	for len(level) > 1 {
		sibling := index ^ 1
		if sibling < len(level) {
			path = append(path, level[sibling])
		}
		index /= 2
		level = nextLevel(level)
	}
	return path, nil
}

// ComputeRoot folds a leaf up through its proof path.
func ComputeRoot(leaf Hash, proof []Hash) Hash {
	current := leaf
	for _, p := range proof {
		current = NodeHash(current, p)
	}
	return current
}

func Verify(root, leaf Hash, proof []Hash) bool {
	return ComputeRoot(leaf, proof) == root
}

// EncodeProof collapses a proof path into the single token the ledger indexes batch leaves by.
func EncodeProof(leaf Hash, proof []Hash) Hash {
	parts := make([][]byte, 0, len(proof)+1)
	parts = append(parts, leaf[:])
	for i := range proof {
		parts = append(parts, proof[i][:])
	}
	var out Hash
	copy(out[:], crypto.Keccak256(parts...))
	return out
}

func nextLevel(level []Hash) []Hash {
	next := make([]Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 == len(level) {
			next = append(next, level[i])
			continue
		}
		next = append(next, NodeHash(level[i], level[i+1]))
	}
	return next
}

// ParseHash decodes a 0x-prefixed or bare hex string into a Hash.
func ParseHash(value string) (Hash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return Hash{}, fmt.Errorf("%w: decode %q: %w", ErrMalformedHash, value, err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("%w: got %d bytes", ErrInvalidHashLen, len(raw))
	}
	var out Hash
	copy(out[:], raw)
	return out, nil
}

func ParseHashes(values []string) ([]Hash, error) {
	out := make([]Hash, 0, len(values))
	for _, v := range values {
		h, err := ParseHash(v)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func FormatHash(h Hash) string {
	return "0x" + hex.EncodeToString(h[:])
}

func FormatHashes(hashes []Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = FormatHash(h)
	}
	return out
}
