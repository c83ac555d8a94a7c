// Secondary index over WorldStateView, adapted from indexer.Indexer in the
// teacher repo: a goleveldb-backed lookup table kept current by direct
// calls from WorldStateView.reindex as each instruction applies, rather
// than by scanning the in-memory maps. It is a derived cache, never
// authoritative — Rebuild can repopulate it by scanning the live
// WorldStateView (itself reconstructed from Kura on startup), so
// it never threatens the "WSV is always reconstructed from Kura on
// startup" invariant.
package wsv

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	prefixDomainAccounts = "idx:domain:account:"
	prefixAccountAssets  = "idx:account:asset:"
)

// Index maintains domain->accounts and account->assets lookup lists.
type Index struct {
	db *leveldb.DB
}

// OpenIndex opens (or creates) a goleveldb database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("wsv: open index %q: %w", path, err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// FindAccountsByDomain returns the account ids (as "entity@domain" strings)
// known to belong to domainName.
func (idx *Index) FindAccountsByDomain(domainName string) ([]string, error) {
	return idx.getList(prefixDomainAccounts + domainName)
}

// FindAssetsByAccount returns the asset ids known to be held by accountId
// (as an "entity@domain" string).
func (idx *Index) FindAssetsByAccount(accountId string) ([]string, error) {
	return idx.getList(prefixAccountAssets + accountId)
}

// RecordAccountCreated indexes a newly created account under its domain.
// Called directly from WorldStateView.reindex (there is no event
// subscription), so replay and live application go through the identical
// code path.
func (idx *Index) RecordAccountCreated(domainName, accountId string) {
	if err := idx.addToList(prefixDomainAccounts+domainName, accountId); err != nil {
		log.Printf("[wsv/index] account index write failed (domain=%s account=%s): %v", domainName, accountId, err)
	}
}

// RecordAssetTouched indexes an asset under the account holding it.
func (idx *Index) RecordAssetTouched(accountId, assetId string) {
	if err := idx.addToList(prefixAccountAssets+accountId, assetId); err != nil {
		log.Printf("[wsv/index] asset index write failed (account=%s asset=%s): %v", accountId, assetId, err)
	}
}

func (idx *Index) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wsv: index get: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("wsv: index unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Index) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Put([]byte(key), data, nil)
}

// Rebuild clears and repopulates the index from the domains, accounts and
// assets currently held in w. The node's startup path does not call it:
// replay keeps the index current through Put.
func (idx *Index) Rebuild(w *WorldStateView) error {
	iter := idx.db.NewIterator(util.BytesPrefix([]byte("idx:")), nil)
	for iter.Next() {
		if err := idx.db.Delete(iter.Key(), nil); err != nil {
			iter.Release()
			return fmt.Errorf("wsv: rebuild: %w", err)
		}
	}
	iter.Release()

	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, d := range w.domains {
		for _, acc := range d.Accounts {
			idx.RecordAccountCreated(d.Name, acc.Id.String())
		}
	}
	for _, a := range w.assets {
		idx.RecordAssetTouched(a.AccountId.String(), a.Id.String())
	}
	return nil
}
