package domain

// Account is a participant inside a Domain, identified by Id.EntityName
// within that domain. Quorum is the number of distinct signatures required
// to accept a transaction submitted by this account; it is always 1 in this
// core (multisignature accounts are a Non-goal extension point) but the
// field is load-bearing for the acceptance-time signature count check.
type Account struct {
	Id                 Id
	PublicKeys         []string // hex-encoded ed25519 public keys authorised to sign for this account
	Quorum             uint32
	TransactionCounter uint64
}

// HasKey reports whether pubKeyHex is one of the account's authorised keys.
func (a *Account) HasKey(pubKeyHex string) bool {
	for _, k := range a.PublicKeys {
		if k == pubKeyHex {
			return true
		}
	}
	return false
}

// Domain is a named partition of the world state owning a set of accounts.
// It is keyed by DomainName (not a full Id — domains have no parent domain).
type Domain struct {
	Name     string
	Accounts map[string]*Account // keyed by Id.EntityName
}

// NewDomain creates an empty domain.
func NewDomain(name string) *Domain {
	return &Domain{Name: name, Accounts: make(map[string]*Account)}
}

// AssetDefinition declares a class of fungible asset that can be held by
// accounts within a domain, analogous to Iroha's AssetDefinition.
type AssetDefinition struct {
	Id        Id // EntityName is the asset name, DomainName its domain
	Precision uint32
}

// Asset is a fungible balance of a single AssetDefinition held by one
// account. Id.EntityName mirrors the AssetDefinition's name; Id.DomainName
// is the holding account's domain.
type Asset struct {
	Id                Id
	AssetDefinitionId Id
	AccountId         Id
	Amount            uint64
}
