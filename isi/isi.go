// Package isi (Instruction Set Infrastructure, named after the `isi` module
// in the original Iroha sources) provides the small, closed set of concrete
// instructions used to exercise apply(instruction, state) end to end. The
// core spec treats apply as an external black-box collaborator; these are
// deliberately minimal stand-ins, not a general-purpose contract language.
package isi

import (
	"fmt"

	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/tx"
)

func init() {
	tx.Register("create_domain", CreateDomain{})
	tx.Register("create_account", CreateAccount{})
	tx.Register("add_peer", AddPeer{})
	tx.Register("add_asset_quantity", AddAssetQuantity{})
	tx.Register("transfer_asset", TransferAsset{})
}

// CreateDomain registers a new, empty domain.
type CreateDomain struct {
	DomainName string
}

func (i CreateDomain) Apply(w domain.WSVMutator) error {
	if i.DomainName == "" {
		return fmt.Errorf("isi: CreateDomain: empty domain name")
	}
	if _, ok := w.GetDomain(i.DomainName); ok {
		return fmt.Errorf("isi: CreateDomain: domain %q already exists", i.DomainName)
	}
	w.PutDomain(domain.NewDomain(i.DomainName))
	return nil
}

// CreateAccount registers a new account inside an existing domain.
type CreateAccount struct {
	AccountId  domain.Id
	PublicKeys []string
}

func (i CreateAccount) Apply(w domain.WSVMutator) error {
	d, ok := w.GetDomain(i.AccountId.DomainName)
	if !ok {
		return fmt.Errorf("isi: CreateAccount: %w: %q", domain.ErrDomainNotFound, i.AccountId.DomainName)
	}
	if _, exists := d.Accounts[i.AccountId.EntityName]; exists {
		return fmt.Errorf("isi: CreateAccount: account %s already exists", i.AccountId)
	}
	if len(i.PublicKeys) == 0 {
		return fmt.Errorf("isi: CreateAccount: at least one public key required")
	}
	newAcc := &domain.Account{
		Id:         i.AccountId,
		PublicKeys: append([]string(nil), i.PublicKeys...),
		Quorum:     1,
	}
	d.Accounts[i.AccountId.EntityName] = newAcc
	w.PutDomain(d)
	w.PutAccount(newAcc)
	return nil
}

// AddPeer registers a new peer in the consensus peer set.
type AddPeer struct {
	Peer domain.Peer
}

func (i AddPeer) Apply(w domain.WSVMutator) error {
	w.AddPeer(i.Peer)
	return nil
}

// AddAssetQuantity mints amount of an asset definition into an account's
// balance, creating the Asset entry on first use.
type AddAssetQuantity struct {
	AssetDefinitionId domain.Id
	AccountId         domain.Id
	Amount            uint64
}

func (i AddAssetQuantity) Apply(w domain.WSVMutator) error {
	if _, ok := w.GetAccount(i.AccountId); !ok {
		return fmt.Errorf("isi: AddAssetQuantity: %w: %s", domain.ErrAccountNotFound, i.AccountId)
	}
	assetId := domain.NewId(i.AssetDefinitionId.EntityName, i.AccountId.DomainName)
	asset, ok := w.GetAsset(assetId)
	if !ok {
		asset = &domain.Asset{Id: assetId, AssetDefinitionId: i.AssetDefinitionId, AccountId: i.AccountId}
	}
	asset.Amount += i.Amount
	w.PutAsset(asset)
	return nil
}

// TransferAsset moves amount of an asset from one account to another.
type TransferAsset struct {
	AssetDefinitionId domain.Id
	SourceAccountId   domain.Id
	DestAccountId     domain.Id
	Amount            uint64
}

func (i TransferAsset) Apply(w domain.WSVMutator) error {
	if _, ok := w.GetAccount(i.SourceAccountId); !ok {
		return fmt.Errorf("isi: TransferAsset: %w: source account %s", domain.ErrAccountNotFound, i.SourceAccountId)
	}
	if _, ok := w.GetAccount(i.DestAccountId); !ok {
		return fmt.Errorf("isi: TransferAsset: %w: destination account %s", domain.ErrAccountNotFound, i.DestAccountId)
	}

	srcAssetId := domain.NewId(i.AssetDefinitionId.EntityName, i.SourceAccountId.DomainName)
	srcAsset, ok := w.GetAsset(srcAssetId)
	if !ok || srcAsset.Amount < i.Amount {
		return fmt.Errorf("isi: TransferAsset: %w: insufficient balance for %s", domain.ErrAssetNotFound, srcAssetId)
	}

	dstAssetId := domain.NewId(i.AssetDefinitionId.EntityName, i.DestAccountId.DomainName)
	dstAsset, ok := w.GetAsset(dstAssetId)
	if !ok {
		dstAsset = &domain.Asset{Id: dstAssetId, AssetDefinitionId: i.AssetDefinitionId, AccountId: i.DestAccountId}
	}

	srcAsset.Amount -= i.Amount
	dstAsset.Amount += i.Amount
	w.PutAsset(srcAsset)
	w.PutAsset(dstAsset)
	return nil
}
