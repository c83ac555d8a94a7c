package domain

import "github.com/tolelom/ledgerd/crypto"

// PeerId identifies a peer by address and public key. Equality is by public
// key only — a peer's address may change (e.g. after a restart behind a new
// IP) without changing its identity in the consensus peer set.
type PeerId struct {
	Address   string
	PublicKey crypto.PublicKey
}

// Equal compares two PeerIds by public key only, per spec.
func (p PeerId) Equal(other PeerId) bool {
	return string(p.PublicKey) == string(other.PublicKey)
}

// Peer is a membership record for a participant in the consensus peer set.
type Peer struct {
	Id PeerId
}

// NewPeer constructs a Peer from its id parts.
func NewPeer(address string, pubKey crypto.PublicKey) Peer {
	return Peer{Id: PeerId{Address: address, PublicKey: pubKey}}
}
