package config_test

import (
	"testing"

	"github.com/tolelom/ledgerd/config"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
)

func TestBuildGenesisBlockRegistersAllPeers(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	selfId := domain.PeerId{Address: "127.0.0.1:7878", PublicKey: pub}
	_, otherPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	other := domain.PeerId{Address: "127.0.0.1:7879", PublicKey: otherPub}

	b, err := config.BuildGenesisBlock(selfId, []domain.PeerId{selfId, other}, priv)
	if err != nil {
		t.Fatalf("build genesis: %v", err)
	}
	if b.Header.Height != 0 {
		t.Fatalf("expected genesis at height 0, got %d", b.Header.Height)
	}
	if b.Header.PreviousHash != config.GenesisPrevHash {
		t.Fatalf("expected empty previous hash, got %q", b.Header.PreviousHash)
	}
	if err := b.VerifyIntegrity(); err != nil {
		t.Fatalf("expected valid integrity, got %v", err)
	}
	// 2 AddPeer + CreateDomain(genesis) + CreateAccount(genesis@genesis).
	if len(b.Transactions) != 1 || len(b.Transactions[0].Instructions) != 4 {
		t.Fatalf("expected one genesis transaction with 4 instructions, got %d txs, %d instructions",
			len(b.Transactions), len(b.Transactions[0].Instructions))
	}
}

func TestBuildGenesisBlockFallsBackToSelfWhenNoPeersGiven(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	selfId := domain.PeerId{Address: "127.0.0.1:7878", PublicKey: pub}

	b, err := config.BuildGenesisBlock(selfId, nil, priv)
	if err != nil {
		t.Fatalf("build genesis: %v", err)
	}
	// 1 AddPeer(self) + CreateDomain(genesis) + CreateAccount(genesis@genesis).
	if len(b.Transactions[0].Instructions) != 3 {
		t.Fatalf("expected 3 instructions (AddPeer self + genesis domain + genesis account), got %d", len(b.Transactions[0].Instructions))
	}
}
