package transport_test

import (
	"testing"
	"time"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/sumeragi"
	"github.com/tolelom/ledgerd/torii"
	"github.com/tolelom/ledgerd/transport"
	"github.com/tolelom/ledgerd/tx"
	"github.com/tolelom/ledgerd/wsv"
)

func startPeer(t *testing.T) (domain.PeerId, chan sumeragi.Message) {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	w := wsv.New(domain.NewPeer("127.0.0.1:0", pub))
	txCh := make(chan *tx.Transaction, 8)
	msgCh := make(chan sumeragi.Message, 8)
	tr := torii.New("127.0.0.1:0", nil, txCh, msgCh, w, time.Minute)
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tr.Stop)
	return domain.PeerId{Address: tr.Addr().String(), PublicKey: pub}, msgCh
}

func sampleMessage(t *testing.T) sumeragi.Message {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	txn := tx.New(domain.NewId("root", "wonderland"), nil)
	b, err := block.New(0, "", []*tx.Transaction{txn})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := sumeragi.NewBlockCreated(priv, pub, b)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestBroadcastReachesEveryPeer(t *testing.T) {
	peerA, msgChA := startPeer(t)
	peerB, msgChB := startPeer(t)

	pt := transport.New([]domain.PeerId{peerA, peerB}, nil)
	msg := sampleMessage(t)
	if err := pt.Broadcast(msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for name, ch := range map[string]chan sumeragi.Message{"A": msgChA, "B": msgChB} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("peer %s did not receive the broadcast message", name)
		}
	}
}

func TestSendToReachesOnlyOnePeer(t *testing.T) {
	peerA, msgChA := startPeer(t)
	peerB, msgChB := startPeer(t)

	pt := transport.New([]domain.PeerId{peerA, peerB}, nil)
	msg := sampleMessage(t)
	if err := pt.SendTo(peerB, msg); err != nil {
		t.Fatalf("send to: %v", err)
	}

	select {
	case <-msgChB:
	case <-time.After(2 * time.Second):
		t.Fatal("peer B did not receive the directed message")
	}
	select {
	case <-msgChA:
		t.Fatal("peer A should not have received a message sent only to B")
	default:
	}
}
