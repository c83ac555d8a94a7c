package kura_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/isi"
	"github.com/tolelom/ledgerd/kura"
	"github.com/tolelom/ledgerd/tx"
)

func sampleBlock(t *testing.T, height uint64, prevHash string) *block.Block {
	t.Helper()
	accId := domain.NewId("alice", "wonderland")
	txn := tx.New(accId, []domain.Instruction{isi.CreateDomain{DomainName: "test"}})
	txn.CreationTime = int64(height) + 1
	b, err := block.New(height, prevHash, []*tx.Transaction{txn})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestStoreThenInitReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	ch := make(chan *block.Block, 16)
	k, err := kura.New(dir, kura.Strict, ch)
	if err != nil {
		t.Fatal(err)
	}

	b0 := sampleBlock(t, 0, "")
	h0, err := k.Store(b0)
	if err != nil {
		t.Fatalf("store height 0: %v", err)
	}
	<-ch // drain the Store-time emission

	b1 := sampleBlock(t, 1, h0)
	if _, err := k.Store(b1); err != nil {
		t.Fatalf("store height 1: %v", err)
	}
	<-ch

	ch2 := make(chan *block.Block, 16)
	k2, err := kura.New(dir, kura.Strict, ch2)
	if err != nil {
		t.Fatal(err)
	}
	if err := k2.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	replayed := []*block.Block{<-ch2, <-ch2}
	if replayed[0].Header.Height != 0 || replayed[1].Header.Height != 1 {
		t.Fatalf("expected replay in height order 0,1, got %d,%d", replayed[0].Header.Height, replayed[1].Header.Height)
	}
	if k2.Height() != 2 {
		t.Fatalf("expected next height 2 after replay, got %d", k2.Height())
	}
}

func TestStoreRejectsHeightGap(t *testing.T) {
	dir := t.TempDir()
	k, err := kura.New(dir, kura.Strict, nil)
	if err != nil {
		t.Fatal(err)
	}
	b1 := sampleBlock(t, 1, "")
	if _, err := k.Store(b1); err == nil {
		t.Fatal("expected error storing block at height 1 on an empty store")
	}
}

func TestStoreRejectsPreviousHashMismatch(t *testing.T) {
	dir := t.TempDir()
	k, err := kura.New(dir, kura.Strict, nil)
	if err != nil {
		t.Fatal(err)
	}
	b0 := sampleBlock(t, 0, "")
	if _, err := k.Store(b0); err != nil {
		t.Fatal(err)
	}
	b1 := sampleBlock(t, 1, "wrong-hash")
	if _, err := k.Store(b1); err == nil {
		t.Fatal("expected error storing block with mismatched previous_block_hash")
	}
}

func TestBlockFilenameFormat(t *testing.T) {
	dir := t.TempDir()
	k, err := kura.New(dir, kura.Strict, nil)
	if err != nil {
		t.Fatal(err)
	}
	b0 := sampleBlock(t, 0, "")
	if _, err := k.Store(b0); err != nil {
		t.Fatal(err)
	}
	expected := filepath.Join(dir, "00000000000000000000.block")
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected block file at %s: %v", expected, err)
	}
}
