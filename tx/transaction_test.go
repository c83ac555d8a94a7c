package tx_test

import (
	"testing"
	"time"

	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/isi" // import also triggers isi.init, registering instruction kinds
	"github.com/tolelom/ledgerd/tx"
)

func mustKeyPair(t *testing.T) (crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return priv, pub
}

func TestHashIsDeterministic(t *testing.T) {
	accId := domain.NewId("alice", "wonderland")
	t1 := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	t1.CreationTime = 1000

	t2 := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	t2.CreationTime = 1000

	h1, err := t1.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := t2.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected equal hashes, got %s vs %s", h1, h2)
	}
}

func TestAcceptRequiresQuorumSignatures(t *testing.T) {
	priv, pub := mustKeyPair(t)
	accId := domain.NewId("alice", "wonderland")
	acc := &domain.Account{Id: accId, PublicKeys: []string{pub.Hex()}, Quorum: 1}

	txn := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	if err := txn.Accept(acc, time.Minute); err == nil {
		t.Fatal("expected accept to fail with no signatures")
	}

	if err := txn.AddSignature(pub, priv); err != nil {
		t.Fatalf("add signature: %v", err)
	}
	if err := txn.Accept(acc, time.Minute); err != nil {
		t.Fatalf("expected accept to succeed, got %v", err)
	}
	if txn.Status != tx.Accepted {
		t.Fatalf("expected status Accepted, got %s", txn.Status)
	}
}

func TestAcceptRejectsOutOfWindowTimestamp(t *testing.T) {
	priv, pub := mustKeyPair(t)
	accId := domain.NewId("alice", "wonderland")
	acc := &domain.Account{Id: accId, PublicKeys: []string{pub.Hex()}, Quorum: 1}

	txn := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	txn.CreationTime = time.Now().Add(-time.Hour).UnixMilli()
	if err := txn.AddSignature(pub, priv); err != nil {
		t.Fatalf("add signature: %v", err)
	}
	if err := txn.Accept(acc, 5*time.Minute); err == nil {
		t.Fatal("expected accept to fail for stale creation_time")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	priv, pub := mustKeyPair(t)
	accId := domain.NewId("alice", "wonderland")
	txn := tx.New(accId, []domain.Instruction{
		isi.CreateDomain{DomainName: "looking-glass"},
		isi.AddAssetQuantity{
			AssetDefinitionId: domain.NewId("rabbit", "wonderland"),
			AccountId:         accId,
			Amount:            42,
		},
	})
	txn.CreationTime = 1234567890
	if err := txn.AddSignature(pub, priv); err != nil {
		t.Fatalf("add signature: %v", err)
	}

	data, err := txn.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := tx.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	h1, _ := txn.Hash()
	h2, _ := decoded.Hash()
	if h1 != h2 {
		t.Fatalf("decode(encode(x)) hash mismatch: %s vs %s", h1, h2)
	}
	if len(decoded.Instructions) != 2 {
		t.Fatalf("expected 2 instructions after decode, got %d", len(decoded.Instructions))
	}
	if !decoded.AccountId.Equal(accId) {
		t.Fatalf("account id mismatch after decode: %s vs %s", decoded.AccountId, accId)
	}
}
