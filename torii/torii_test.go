package torii_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/isi"
	"github.com/tolelom/ledgerd/sumeragi"
	"github.com/tolelom/ledgerd/torii"
	"github.com/tolelom/ledgerd/tx"
	"github.com/tolelom/ledgerd/wsv"
)

func mustKeyPair(t *testing.T) (crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func startTorii(t *testing.T) (*torii.Torii, chan *tx.Transaction, chan sumeragi.Message, *wsv.WorldStateView, crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub := mustKeyPair(t)
	w := wsv.New(domain.NewPeer("127.0.0.1:0", pub))

	accId := domain.NewId("root", "wonderland")
	genesisTxn := tx.New(accId, []domain.Instruction{
		isi.CreateDomain{DomainName: "wonderland"},
		isi.CreateAccount{AccountId: accId, PublicKeys: []string{pub.Hex()}},
	})
	b, err := block.New(0, "", []*tx.Transaction{genesisTxn})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Put(b); err != nil {
		t.Fatal(err)
	}

	txCh := make(chan *tx.Transaction, 8)
	msgCh := make(chan sumeragi.Message, 8)
	tr := torii.New("127.0.0.1:0", nil, txCh, msgCh, w, 5*time.Minute)
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tr.Stop)
	return tr, txCh, msgCh, w, priv, pub
}

func TestInstructionRoundTripPushesToTxChannel(t *testing.T) {
	tr, txCh, _, _, priv, pub := startTorii(t)

	accId := domain.NewId("root", "wonderland")
	txn := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	if err := txn.AddSignature(pub, priv); err != nil {
		t.Fatal(err)
	}
	payload, err := txn.Encode()
	if err != nil {
		t.Fatal(err)
	}

	kind, data, err := torii.Do(tr.Addr().String(), nil, "/instruction", payload)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if kind != torii.RespOK {
		t.Fatalf("expected RespOK, got %v", kind)
	}
	wantHash, err := txn.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != wantHash {
		t.Fatalf("expected receipt %s, got %s", wantHash, string(data))
	}

	select {
	case got := <-txCh:
		gotHash, _ := got.Hash()
		if gotHash != wantHash {
			t.Fatalf("expected forwarded transaction hash %s, got %s", wantHash, gotHash)
		}
	default:
		t.Fatal("expected accepted transaction to be pushed onto txCh")
	}
}

func TestInstructionRejectsBadSignature(t *testing.T) {
	tr, _, _, _, _, _ := startTorii(t)
	_, otherPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	accId := domain.NewId("root", "wonderland")
	txn := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	// Signed by a key not registered on the account; Accept must reject it.
	otherPriv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.AddSignature(otherPub, otherPriv); err != nil {
		t.Fatal(err)
	}
	payload, err := txn.Encode()
	if err != nil {
		t.Fatal(err)
	}

	kind, _, err := torii.Do(tr.Addr().String(), nil, "/instruction", payload)
	if err == nil || kind != torii.RespInternalError {
		t.Fatalf("expected RespInternalError rejecting an unregistered signer, got kind=%v err=%v", kind, err)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	tr, _, _, _, _, _ := startTorii(t)

	q := wsv.Query{Kind: wsv.QueryGetDomain, DomainName: "wonderland"}
	payload, err := encodeQuery(t, q)
	if err != nil {
		t.Fatal(err)
	}
	kind, data, err := torii.Do(tr.Addr().String(), nil, "/query", payload)
	if err != nil {
		t.Fatal(err)
	}
	if kind != torii.RespOK {
		t.Fatalf("expected RespOK, got %v", kind)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty query result")
	}
}

func TestBlockMessagePushesToMsgChannel(t *testing.T) {
	tr, _, msgCh, _, priv, pub := startTorii(t)

	txn := tx.New(domain.NewId("root", "wonderland"), []domain.Instruction{isi.CreateDomain{DomainName: "x"}})
	b, err := block.New(1, "", []*tx.Transaction{txn})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := sumeragi.NewBlockCreated(priv, pub, b)
	if err != nil {
		t.Fatal(err)
	}
	data, err := encodeMessage(t, msg)
	if err != nil {
		t.Fatal(err)
	}

	kind, _, err := torii.Do(tr.Addr().String(), nil, "/block", data)
	if err != nil {
		t.Fatal(err)
	}
	if kind != torii.RespEmptyOK {
		t.Fatalf("expected RespEmptyOK, got %v", kind)
	}

	select {
	case got := <-msgCh:
		if got.Kind != sumeragi.KindBlockCreated {
			t.Fatalf("expected block_created, got %s", got.Kind)
		}
	default:
		t.Fatal("expected consensus message to be pushed onto msgCh")
	}
}

func encodeQuery(t *testing.T, q wsv.Query) ([]byte, error) {
	t.Helper()
	return json.Marshal(q)
}

func encodeMessage(t *testing.T, msg sumeragi.Message) ([]byte, error) {
	t.Helper()
	return json.Marshal(msg)
}
