package wsv

import (
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/sumeragi"
)

// scratch is a disposable, copy-on-write working copy of a WorldStateView,
// used to dry-run a candidate transaction's instructions without ever
// mutating live state — mirroring StateDB's dirty-map-over-base pattern in
// the teacher repo, generalised to hold entities instead of raw byte
// values. Every entity returned by Get* is either already in the dirty
// layer or is cloned into it on first access, so in-place mutation by an
// Instruction's Apply (e.g. `asset.Amount += n; w.PutAsset(asset)`) can
// never reach back into the live maps.
type scratch struct {
	baseAccounts map[string]*domain.Account
	baseDomains  map[string]*domain.Domain
	baseAssets   map[string]*domain.Asset
	basePeers    map[string]domain.Peer

	dirtyAccounts map[string]*domain.Account
	dirtyDomains  map[string]*domain.Domain
	dirtyAssets   map[string]*domain.Asset
	newPeers      []domain.Peer
}

// NewScratch returns a fresh scratch session rooted at a point-in-time
// snapshot of w's live state, satisfying sumeragi.WorldState.
func (w *WorldStateView) NewScratch() sumeragi.ScratchSession {
	accounts, domains, assets := w.snapshot()
	w.mu.RLock()
	peers := make(map[string]domain.Peer, len(w.peers))
	for k, v := range w.peers {
		peers[k] = v
	}
	w.mu.RUnlock()

	return &scratch{
		baseAccounts:  accounts,
		baseDomains:   domains,
		baseAssets:    assets,
		basePeers:     peers,
		dirtyAccounts: make(map[string]*domain.Account),
		dirtyDomains:  make(map[string]*domain.Domain),
		dirtyAssets:   make(map[string]*domain.Asset),
	}
}

// Apply runs instr against this scratch session, satisfying
// sumeragi.ScratchSession.
func (s *scratch) Apply(instr domain.Instruction) error {
	return instr.Apply(s)
}

func cloneAccount(a *domain.Account) *domain.Account {
	cp := *a
	cp.PublicKeys = append([]string(nil), a.PublicKeys...)
	return &cp
}

func cloneDomain(d *domain.Domain) *domain.Domain {
	cp := &domain.Domain{Name: d.Name, Accounts: make(map[string]*domain.Account, len(d.Accounts))}
	for k, v := range d.Accounts {
		cp.Accounts[k] = v // account pointers are independently cloned via dirtyAccounts on first mutation
	}
	return cp
}

func cloneAsset(a *domain.Asset) *domain.Asset {
	cp := *a
	return &cp
}

// ---- domain.WSVMutator over the dirty/base layers ----

func (s *scratch) GetAccount(id domain.Id) (*domain.Account, bool) {
	key := id.String()
	if a, ok := s.dirtyAccounts[key]; ok {
		return a, true
	}
	if a, ok := s.baseAccounts[key]; ok {
		cp := cloneAccount(a)
		s.dirtyAccounts[key] = cp
		return cp, true
	}
	return nil, false
}

func (s *scratch) PutAccount(a *domain.Account) {
	s.dirtyAccounts[a.Id.String()] = a
}

func (s *scratch) GetDomain(name string) (*domain.Domain, bool) {
	if d, ok := s.dirtyDomains[name]; ok {
		return d, true
	}
	if d, ok := s.baseDomains[name]; ok {
		cp := cloneDomain(d)
		s.dirtyDomains[name] = cp
		return cp, true
	}
	return nil, false
}

func (s *scratch) PutDomain(d *domain.Domain) {
	s.dirtyDomains[d.Name] = d
}

func (s *scratch) GetAsset(id domain.Id) (*domain.Asset, bool) {
	key := id.String()
	if a, ok := s.dirtyAssets[key]; ok {
		return a, true
	}
	if a, ok := s.baseAssets[key]; ok {
		cp := cloneAsset(a)
		s.dirtyAssets[key] = cp
		return cp, true
	}
	return nil, false
}

func (s *scratch) PutAsset(a *domain.Asset) {
	s.dirtyAssets[a.Id.String()] = a
}

func (s *scratch) AddPeer(p domain.Peer) {
	s.newPeers = append(s.newPeers, p)
}
