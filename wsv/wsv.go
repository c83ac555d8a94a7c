// Package wsv implements the World State View: the in-memory,
// single-owner projection of peers, domains, accounts and assets mutated
// exclusively by applying committed blocks in height order. The
// dirty/deleted write-buffer pattern used for dry-run scratch sessions is
// adapted from storage.StateDB in the teacher repo (there backed by a
// LevelDB handle; here the "backing store" is simply the live in-memory
// maps, since spec.md requires WSV to be reconstructed from Kura on every
// startup rather than persisted directly).
package wsv

import (
	"fmt"
	"sync"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/errs"
	"github.com/tolelom/ledgerd/isi"
)

// WorldStateView is the node's single source of truth for query answers.
// It satisfies domain.WSVMutator (so committed instructions can mutate it
// directly) and sumeragi.WorldState (structurally, via
// NewScratch/Height/TipHash/Put) without either package importing wsv;
// NewScratch's session is what satisfies sumeragi.ScratchSession.
type WorldStateView struct {
	mu sync.RWMutex

	thisPeer domain.Peer
	peers    map[string]domain.Peer // keyed by public key hex
	domains  map[string]*domain.Domain
	accounts map[string]*domain.Account // keyed by Id.String()
	assets   map[string]*domain.Asset   // keyed by Id.String()

	height  uint64
	tipHash string

	index *Index // optional; nil until SetIndex is called
}

// SetIndex attaches a secondary index that Put keeps current as it applies
// instructions. A view with no index attached still works (queries just
// fall back to scanning the in-memory maps); this lets tests build a
// WorldStateView without standing up a goleveldb instance.
func (w *WorldStateView) SetIndex(idx *Index) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index = idx
}

// New creates an empty WorldStateView for thisPeer.
func New(thisPeer domain.Peer) *WorldStateView {
	return &WorldStateView{
		thisPeer: thisPeer,
		peers:    make(map[string]domain.Peer),
		domains:  make(map[string]*domain.Domain),
		accounts: make(map[string]*domain.Account),
		assets:   make(map[string]*domain.Asset),
	}
}

// Height returns the next height this view expects to apply.
func (w *WorldStateView) Height() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.height
}

// TipHash returns the hash of the most recently applied block, or "" if no
// block has been applied yet.
func (w *WorldStateView) TipHash() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tipHash
}

// ThisPeer returns the local peer record.
func (w *WorldStateView) ThisPeer() domain.Peer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.thisPeer
}

// Put applies every instruction of every transaction in b, in order,
// directly against live state, then advances height/tipHash. Per spec.md
// §4.5, a failure here indicates Sumeragi's pre-commit validation was
// wrong and is the caller's responsibility to treat as fatal state
// divergence (wsv itself just reports the error).
//
// A block older than the current height is treated as already applied and
// skipped rather than rejected: Sumeragi applies a committed block
// synchronously as part of its own commit path, and Kura's replay/apply
// channel later redelivers that same block to the block-applier task, so
// Put must tolerate seeing a given height twice.
func (w *WorldStateView) Put(b *block.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b.Header.Height < w.height {
		return nil
	}
	if b.Header.Height != w.height {
		return fmt.Errorf("%w: wsv: put: height %d does not follow %d", errs.ErrStateDivergence, b.Header.Height, w.height)
	}

	for ti, t := range b.Transactions {
		for ii, instr := range t.Instructions {
			if err := instr.Apply(w); err != nil {
				return fmt.Errorf("%w: wsv: put: block %d tx %d instruction %d: %v", errs.ErrStateDivergence, b.Header.Height, ti, ii, err)
			}
			w.reindex(instr)
		}
	}

	hash, err := b.Hash()
	if err != nil {
		return fmt.Errorf("%w: wsv: put: %v", errs.ErrStateDivergence, err)
	}
	w.height = b.Header.Height + 1
	w.tipHash = hash
	return nil
}

// reindex updates the attached secondary index (if any) for the entities an
// already-applied instruction touched. Called with w.mu held, after Apply
// has succeeded, so the GetAccount/GetAsset lookups below see the just-
// written state.
func (w *WorldStateView) reindex(instr domain.Instruction) {
	if w.index == nil {
		return
	}
	switch i := instr.(type) {
	case isi.CreateAccount:
		w.index.RecordAccountCreated(i.AccountId.DomainName, i.AccountId.String())
	case isi.AddAssetQuantity:
		assetId := domain.NewId(i.AssetDefinitionId.EntityName, i.AccountId.DomainName)
		w.index.RecordAssetTouched(i.AccountId.String(), assetId.String())
	case isi.TransferAsset:
		srcAssetId := domain.NewId(i.AssetDefinitionId.EntityName, i.SourceAccountId.DomainName)
		dstAssetId := domain.NewId(i.AssetDefinitionId.EntityName, i.DestAccountId.DomainName)
		w.index.RecordAssetTouched(i.SourceAccountId.String(), srcAssetId.String())
		w.index.RecordAssetTouched(i.DestAccountId.String(), dstAssetId.String())
	}
}

// ---- domain.WSVMutator (live, locked) ----

func (w *WorldStateView) GetAccount(id domain.Id) (*domain.Account, bool) {
	a, ok := w.accounts[id.String()]
	return a, ok
}

func (w *WorldStateView) PutAccount(a *domain.Account) {
	w.accounts[a.Id.String()] = a
}

func (w *WorldStateView) GetDomain(name string) (*domain.Domain, bool) {
	d, ok := w.domains[name]
	return d, ok
}

func (w *WorldStateView) PutDomain(d *domain.Domain) {
	w.domains[d.Name] = d
}

func (w *WorldStateView) GetAsset(id domain.Id) (*domain.Asset, bool) {
	a, ok := w.assets[id.String()]
	return a, ok
}

func (w *WorldStateView) PutAsset(a *domain.Asset) {
	w.assets[a.Id.String()] = a
}

func (w *WorldStateView) AddPeer(p domain.Peer) {
	w.peers[p.Id.PublicKey.Hex()] = p
}

// snapshot returns shallow copies of the live account, domain and asset
// maps, for building a scratch session without holding w's lock across the
// scratch's lifetime.
func (w *WorldStateView) snapshot() (map[string]*domain.Account, map[string]*domain.Domain, map[string]*domain.Asset) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	accounts := make(map[string]*domain.Account, len(w.accounts))
	for k, v := range w.accounts {
		accounts[k] = v
	}
	domains := make(map[string]*domain.Domain, len(w.domains))
	for k, v := range w.domains {
		domains[k] = v
	}
	assets := make(map[string]*domain.Asset, len(w.assets))
	for k, v := range w.assets {
		assets[k] = v
	}
	return accounts, domains, assets
}
