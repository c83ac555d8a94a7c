package domain

import "fmt"

// WSVMutator is the narrow slice of WorldStateView that instructions are
// allowed to touch. Declaring it here (rather than importing the wsv
// package) keeps domain free of a dependency on its own consumer; wsv.
// WorldStateView satisfies this interface structurally.
type WSVMutator interface {
	GetAccount(id Id) (*Account, bool)
	PutAccount(a *Account)
	GetDomain(name string) (*Domain, bool)
	PutDomain(d *Domain)
	GetAsset(id Id) (*Asset, bool)
	PutAsset(a *Asset)
	AddPeer(p Peer)
}

// Instruction is the interface every ledger mutation implements. apply() is
// the system's one external collaborator treated as a pure function per the
// core scope: Instruction.Apply is deterministic and must produce the same
// result on every honest peer given the same WSV snapshot.
type Instruction interface {
	// Apply mutates w in place. An error means the instruction (and by
	// extension its containing transaction) is rejected; w must be left
	// untouched by convention — callers apply against a scratch copy and
	// discard it on error rather than relying on partial-apply rollback.
	Apply(w WSVMutator) error
}

// ErrAccountNotFound, ErrDomainNotFound and ErrAssetNotFound are sentinel
// causes that instruction implementations wrap with fmt.Errorf("%w: ...")
// so callers can errors.Is against a single set of not-found conditions
// regardless of which instruction raised them.
var (
	ErrAccountNotFound = fmt.Errorf("account not found")
	ErrDomainNotFound  = fmt.Errorf("domain not found")
	ErrAssetNotFound   = fmt.Errorf("asset not found")
)
