package queue_test

import (
	"errors"
	"testing"

	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/errs"
	"github.com/tolelom/ledgerd/isi"
	"github.com/tolelom/ledgerd/queue"
	"github.com/tolelom/ledgerd/tx"
)

func sampleTx(seed int64) *tx.Transaction {
	accId := domain.NewId("alice", "wonderland")
	t := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "looking-glass"}})
	t.CreationTime = seed
	return t
}

func TestPushAndPopFIFO(t *testing.T) {
	q := queue.New(10)
	t1, t2 := sampleTx(1), sampleTx(2)
	if err := q.Push(t1); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(t2); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 2 {
		t.Fatalf("expected len 2, got %d", q.Len())
	}
	popped := q.Pop(1)
	if len(popped) != 1 {
		t.Fatalf("expected 1 popped, got %d", len(popped))
	}
	h1, _ := t1.Hash()
	hp, _ := popped[0].Hash()
	if h1 != hp {
		t.Fatalf("expected FIFO order, got different transaction")
	}
}

func TestPushDedupsByHash(t *testing.T) {
	q := queue.New(10)
	t1 := sampleTx(1)
	if err := q.Push(t1); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(t1); err != nil {
		t.Fatalf("expected duplicate push to be a no-op, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1 after duplicate push, got %d", q.Len())
	}
}

func TestPushReturnsQueueFullAtCapacity(t *testing.T) {
	q := queue.New(1)
	if err := q.Push(sampleTx(1)); err != nil {
		t.Fatal(err)
	}
	err := q.Push(sampleTx(2))
	if !errors.Is(err, errs.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	q := queue.New(10)
	t1, t2 := sampleTx(1), sampleTx(2)
	_ = q.Push(t1)
	_ = q.Push(t2)
	h1, _ := t1.Hash()
	q.Remove([]string{h1})
	if q.Has(h1) {
		t.Fatal("expected removed transaction to be gone")
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1 after remove, got %d", q.Len())
	}
}
