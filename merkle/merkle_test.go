package merkle

import "testing"

func TestNewEmptyIsDeterministic(t *testing.T) {
	a := New(nil)
	b := New([][]byte{})
	if a.Root() != b.Root() {
		t.Fatalf("empty trees should share a root: %s vs %s", a.Root(), b.Root())
	}
}

func TestRootChangesWithLeafOrder(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b")}
	reordered := [][]byte{[]byte("b"), []byte("a")}
	if New(leaves).Root() == New(reordered).Root() {
		t.Fatal("reordering leaves should change the root")
	}
}

func TestProofVerifiesForEveryLeaf(t *testing.T) {
	leaves := [][]byte{[]byte("tx1"), []byte("tx2"), []byte("tx3"), []byte("tx4"), []byte("tx5")}
	tree := New(leaves)
	for i, leaf := range leaves {
		proof := tree.Proof(i)
		if !VerifyProof(leaf, proof, tree.Root()) {
			t.Errorf("proof for leaf %d did not verify", i)
		}
	}
}

func TestProofFailsForWrongLeaf(t *testing.T) {
	leaves := [][]byte{[]byte("tx1"), []byte("tx2"), []byte("tx3")}
	tree := New(leaves)
	proof := tree.Proof(0)
	if VerifyProof([]byte("not-tx1"), proof, tree.Root()) {
		t.Fatal("proof should not verify against a different leaf")
	}
}

func TestProofOutOfRange(t *testing.T) {
	tree := New([][]byte{[]byte("only")})
	if tree.Proof(5) != nil {
		t.Fatal("expected nil proof for out-of-range index")
	}
}
