package merkle

import (
	"errors"
	"fmt"
	"testing"
)

func leaves(n int) []Hash {
	out := make([]Hash, n)
	for i := range out {
		out[i] = HashLeaf([]byte(fmt.Sprintf("CERT%06d", i)))
	}
	return out
}

func TestProofRoundTrip(t *testing.T) {
	t.Parallel()

	for _, size := range []int{1, 2, 3, 4, 5, 7, 8, 13, 50} {
		size := size
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			t.Parallel()

			tree := leaves(size)
			root, err := Root(tree)
			if err != nil {
				t.Fatalf("Root() error = %v", err)
			}
			for i := range tree {
				proof, err := Proof(tree, i)
				if err != nil {
					t.Fatalf("Proof(%d) error = %v", i, err)
				}
				if !Verify(root, tree[i], proof) {
					t.Fatalf("Verify(leaf %d) = false, want true", i)
				}
			}
		})
	}
}

func TestVerifyRejectsMutatedProof(t *testing.T) {
	t.Parallel()

	tree := leaves(8)
	root, err := Root(tree)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	proof, err := Proof(tree, 5)
	if err != nil {
		t.Fatalf("Proof() error = %v", err)
	}

	for i := range proof {
		for _, b := range []int{0, HashSize - 1} {
			mutated := append([]Hash(nil), proof...)
			mutated[i][b] ^= 0x01
			if Verify(root, tree[5], mutated) {
				t.Fatalf("Verify() accepted proof mutated at element %d byte %d", i, b)
			}
		}
	}
}

func TestVerifyRejectsForeignLeaf(t *testing.T) {
	t.Parallel()

	tree := leaves(4)
	root, _ := Root(tree)
	proof, _ := Proof(tree, 1)

	if Verify(root, HashLeaf([]byte("CERT999999")), proof) {
		t.Fatal("Verify() accepted a leaf outside the tree")
	}
}

func TestSingleLeafTree(t *testing.T) {
	t.Parallel()

	tree := leaves(1)
	root, err := Root(tree)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	if root != tree[0] {
		t.Fatal("single-leaf root should equal the leaf")
	}
	proof, err := Proof(tree, 0)
	if err != nil {
		t.Fatalf("Proof() error = %v", err)
	}
	if len(proof) != 0 {
		t.Fatalf("proof length = %d, want 0", len(proof))
	}
}

func TestProofErrors(t *testing.T) {
	t.Parallel()

	if _, err := Root(nil); !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("Root(nil) error = %v, want ErrEmptyTree", err)
	}
	if _, err := Proof(nil, 0); !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("Proof(nil) error = %v, want ErrEmptyTree", err)
	}
	if _, err := Proof(leaves(3), 3); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("Proof(out of range) error = %v, want ErrInvalidIndex", err)
	}
}

func TestEncodeProofDependsOnPath(t *testing.T) {
	t.Parallel()

	tree := leaves(4)
	p0, _ := Proof(tree, 0)
	p1, _ := Proof(tree, 1)

	if EncodeProof(tree[0], p0) == EncodeProof(tree[1], p1) {
		t.Fatal("distinct leaves should encode to distinct tokens")
	}
	if EncodeProof(tree[0], p0) != EncodeProof(tree[0], p0) {
		t.Fatal("EncodeProof() should be deterministic")
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	t.Parallel()

	h := HashLeaf([]byte("payload"))
	got, err := ParseHash(FormatHash(h))
	if err != nil {
		t.Fatalf("ParseHash() error = %v", err)
	}
	if got != h {
		t.Fatal("ParseHash(FormatHash(h)) != h")
	}

	if _, err := ParseHash("0xabcd"); !errors.Is(err, ErrInvalidHashLen) {
		t.Fatalf("ParseHash(short) error = %v, want ErrInvalidHashLen", err)
	}
	if _, err := ParseHash("zz"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("ParseHash(non-hex) error = %v, want ErrMalformedHash", err)
	}
}
