package wsv

import (
	"fmt"

	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/errs"
)

// QueryKind enumerates the read-only queries execute understands, mirroring
// the method switch in the teacher's rpc.Handler.Dispatch.
type QueryKind string

const (
	QueryGetAccount          QueryKind = "get_account"
	QueryGetDomain           QueryKind = "get_domain"
	QueryGetAsset            QueryKind = "get_asset"
	QueryGetAccountsByDomain QueryKind = "get_accounts_by_domain"
	QueryGetAssetsByAccount  QueryKind = "get_assets_by_account"
)

// Query is a single read request against a WorldStateView.
type Query struct {
	Kind       QueryKind
	AccountId  domain.Id
	DomainName string
	AssetId    domain.Id
}

// Result carries exactly one populated field, matching the kind of Query
// that produced it.
type Result struct {
	Account *domain.Account
	Domain  *domain.Domain
	Asset   *domain.Asset
	Ids     []string
}

// Execute answers q against w's current state. It never mutates w and never
// blocks on consensus — a pure read over whatever height w currently holds,
// grounded in rpc.Handler's getBalance/getAsset/getAssetsByOwner dispatch in
// the teacher repo.
func Execute(w *WorldStateView, q Query) (Result, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	switch q.Kind {
	case QueryGetAccount:
		a, ok := w.accounts[q.AccountId.String()]
		if !ok {
			return Result{}, fmt.Errorf("wsv: query: %w: %s", domain.ErrAccountNotFound, q.AccountId)
		}
		return Result{Account: a}, nil

	case QueryGetDomain:
		d, ok := w.domains[q.DomainName]
		if !ok {
			return Result{}, fmt.Errorf("wsv: query: %w: %s", domain.ErrDomainNotFound, q.DomainName)
		}
		return Result{Domain: d}, nil

	case QueryGetAsset:
		a, ok := w.assets[q.AssetId.String()]
		if !ok {
			return Result{}, fmt.Errorf("wsv: query: %w: %s", domain.ErrAssetNotFound, q.AssetId)
		}
		return Result{Asset: a}, nil

	case QueryGetAccountsByDomain:
		if w.index != nil {
			ids, err := w.index.FindAccountsByDomain(q.DomainName)
			if err != nil {
				return Result{}, fmt.Errorf("%w: wsv: query: %v", errs.ErrStorage, err)
			}
			return Result{Ids: ids}, nil
		}
		d, ok := w.domains[q.DomainName]
		if !ok {
			return Result{}, fmt.Errorf("wsv: query: %w: %s", domain.ErrDomainNotFound, q.DomainName)
		}
		ids := make([]string, 0, len(d.Accounts))
		for _, a := range d.Accounts {
			ids = append(ids, a.Id.String())
		}
		return Result{Ids: ids}, nil

	case QueryGetAssetsByAccount:
		if w.index != nil {
			ids, err := w.index.FindAssetsByAccount(q.AccountId.String())
			if err != nil {
				return Result{}, fmt.Errorf("%w: wsv: query: %v", errs.ErrStorage, err)
			}
			return Result{Ids: ids}, nil
		}
		ids := make([]string, 0)
		for _, a := range w.assets {
			if a.AccountId.Equal(q.AccountId) {
				ids = append(ids, a.Id.String())
			}
		}
		return Result{Ids: ids}, nil

	default:
		return Result{}, fmt.Errorf("wsv: query: unknown kind %q", q.Kind)
	}
}
