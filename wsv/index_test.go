package wsv_test

import (
	"path/filepath"
	"testing"

	"github.com/tolelom/ledgerd/wsv"
)

func TestIndexRecordsAndLookups(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	idx, err := wsv.OpenIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	idx.RecordAccountCreated("wonderland", "alice@wonderland")
	idx.RecordAccountCreated("wonderland", "bob@wonderland")
	idx.RecordAssetTouched("alice@wonderland", "coin@wonderland")

	accounts, err := idx.FindAccountsByDomain("wonderland")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %v", accounts)
	}

	assets, err := idx.FindAssetsByAccount("alice@wonderland")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0] != "coin@wonderland" {
		t.Fatalf("unexpected assets: %v", assets)
	}
}

func TestIndexRecordIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	idx, err := wsv.OpenIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	idx.RecordAccountCreated("wonderland", "alice@wonderland")
	idx.RecordAccountCreated("wonderland", "alice@wonderland")

	accounts, err := idx.FindAccountsByDomain("wonderland")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected addToList to dedupe, got %v", accounts)
	}
}

func TestIndexRebuildFromWorldStateView(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	idx, err := wsv.OpenIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	w := wsv.New(newThisPeer(t))
	w.SetIndex(idx)

	if err := idx.Rebuild(w); err != nil {
		t.Fatalf("rebuild on an empty view should not fail: %v", err)
	}
	accounts, err := idx.FindAccountsByDomain("wonderland")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts after rebuilding an empty view, got %v", accounts)
	}
}
