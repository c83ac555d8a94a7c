package wsv_test

import (
	"testing"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/isi"
	"github.com/tolelom/ledgerd/tx"
	"github.com/tolelom/ledgerd/wsv"
)

func TestExecuteGetAccountAndAsset(t *testing.T) {
	w := wsv.New(newThisPeer(t))
	_, pub := mustKeyPair(t)
	creator := domain.NewId("root", "wonderland")
	accId := domain.NewId("alice", "wonderland")
	assetDef := domain.NewId("coin", "wonderland")

	txn := tx.New(creator, []domain.Instruction{
		isi.CreateDomain{DomainName: "wonderland"},
		isi.CreateAccount{AccountId: accId, PublicKeys: []string{pub.Hex()}},
		isi.AddAssetQuantity{AssetDefinitionId: assetDef, AccountId: accId, Amount: 100},
	})
	b, err := block.New(0, "", []*tx.Transaction{txn})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Put(b); err != nil {
		t.Fatal(err)
	}

	res, err := wsv.Execute(w, wsv.Query{Kind: wsv.QueryGetAccount, AccountId: accId})
	if err != nil {
		t.Fatal(err)
	}
	if res.Account == nil || !res.Account.Id.Equal(accId) {
		t.Fatalf("unexpected account result: %+v", res.Account)
	}

	assetId := domain.NewId("coin", "wonderland")
	res, err = wsv.Execute(w, wsv.Query{Kind: wsv.QueryGetAsset, AssetId: assetId})
	if err != nil {
		t.Fatal(err)
	}
	if res.Asset == nil || res.Asset.Amount != 100 {
		t.Fatalf("unexpected asset result: %+v", res.Asset)
	}
}

func TestExecuteGetAccountNotFound(t *testing.T) {
	w := wsv.New(newThisPeer(t))
	_, err := wsv.Execute(w, wsv.Query{Kind: wsv.QueryGetAccount, AccountId: domain.NewId("nobody", "wonderland")})
	if err == nil {
		t.Fatal("expected error for missing account")
	}
}

func TestExecuteGetAccountsByDomainFallsBackToScan(t *testing.T) {
	w := wsv.New(newThisPeer(t))
	_, pub := mustKeyPair(t)
	creator := domain.NewId("root", "wonderland")
	accId := domain.NewId("alice", "wonderland")

	txn := tx.New(creator, []domain.Instruction{
		isi.CreateDomain{DomainName: "wonderland"},
		isi.CreateAccount{AccountId: accId, PublicKeys: []string{pub.Hex()}},
	})
	b, err := block.New(0, "", []*tx.Transaction{txn})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Put(b); err != nil {
		t.Fatal(err)
	}

	res, err := wsv.Execute(w, wsv.Query{Kind: wsv.QueryGetAccountsByDomain, DomainName: "wonderland"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Ids) != 1 || res.Ids[0] != accId.String() {
		t.Fatalf("unexpected ids: %v", res.Ids)
	}
}
