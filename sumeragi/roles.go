// Package sumeragi implements the BFT consensus role state machine: leader
// election, block proposal/validation/commit, and view-change on timeout.
// Block proposal/sign/verify is grounded in consensus.PoA's
// ProduceBlock/ValidateBlock in the teacher repo, generalised from
// single-signer round-robin PoA to a sorted-hash role assignment over a
// 2f+1 BFT quorum.
package sumeragi

import (
	"sort"

	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
)

// Role is a peer's tagged position within the current round.
type Role int

const (
	Observing Role = iota
	Leader
	Validating
	ProxyTail
)

func (r Role) String() string {
	switch r {
	case Leader:
		return "leader"
	case Validating:
		return "validating"
	case ProxyTail:
		return "proxy_tail"
	case Observing:
		return "observing"
	default:
		return "unknown"
	}
}

// RoleAssignment is the outcome of sorting the peer set for one round: who
// is Leader, which peers validate, who is ProxyTail, and the rest observe.
type RoleAssignment struct {
	Leader     domain.PeerId
	Validators []domain.PeerId
	ProxyTail  domain.PeerId
	Observers  []domain.PeerId
	order      []domain.PeerId // full sorted order, for RoleOf lookups
}

// AssignRoles sorts peers by hash(public_key XOR previous_block_hash XOR
// view) and slices off [0]=Leader, [1..f]=Validating, [f+1]=ProxyTail, the
// rest Observing, per spec. view is the view-change counter: bumping it on
// a timeout reshuffles the sort key deterministically without an election
// message, and the previous view's leader is moved to the end of the order
// so it never leads two views in a row (with f+3 or more peers it observes).
func AssignRoles(peers []domain.PeerId, previousBlockHash string, maxFaultyPeers int, view uint64) RoleAssignment {
	sorted := make([]domain.PeerId, len(peers))
	copy(sorted, peers)

	key := func(p domain.PeerId) string {
		return crypto.Hash(xorKeyMaterial(p.PublicKey, previousBlockHash, view))
	}
	sort.Slice(sorted, func(i, j int) bool { return key(sorted[i]) < key(sorted[j]) })
	if view > 0 && len(sorted) > 1 {
		prevLeader := AssignRoles(peers, previousBlockHash, maxFaultyPeers, view-1).Leader
		for i, p := range sorted {
			if p.Equal(prevLeader) {
				sorted = append(append(sorted[:i:i], sorted[i+1:]...), p)
				break
			}
		}
	}

	f := maxFaultyPeers
	n := len(sorted)
	ra := RoleAssignment{order: sorted}
	if n == 0 {
		return ra
	}

	ra.Leader = sorted[0]
	if n == 1 {
		// Single-peer fast path: the lone peer is both Leader and ProxyTail,
		// per the n=1/f=0 scenario in spec §8 — its own signature is already
		// a 2f+1=1 quorum.
		ra.ProxyTail = sorted[0]
		return ra
	}

	lastValidatingIdx := f
	if lastValidatingIdx >= n-1 {
		lastValidatingIdx = n - 2
	}
	if lastValidatingIdx >= 1 {
		ra.Validators = append(ra.Validators, sorted[1:lastValidatingIdx+1]...)
	}
	proxyIdx := lastValidatingIdx + 1
	if proxyIdx < n {
		ra.ProxyTail = sorted[proxyIdx]
	}
	if proxyIdx+1 < n {
		ra.Observers = append(ra.Observers, sorted[proxyIdx+1:]...)
	}
	return ra
}

// RoleOf reports the role assigned to peer id within this assignment.
func (ra RoleAssignment) RoleOf(id domain.PeerId) Role {
	if id.Equal(ra.Leader) {
		return Leader
	}
	if id.Equal(ra.ProxyTail) {
		return ProxyTail
	}
	for _, v := range ra.Validators {
		if id.Equal(v) {
			return Validating
		}
	}
	return Observing
}

// Quorum returns the number of distinct signatures required to commit:
// 2f+1.
func Quorum(maxFaultyPeers int) int {
	return 2*maxFaultyPeers + 1
}

func xorKeyMaterial(pub crypto.PublicKey, previousBlockHash string, view uint64) []byte {
	out := make([]byte, len(pub))
	copy(out, pub)
	prev := []byte(previousBlockHash)
	for i := range out {
		if i < len(prev) {
			out[i] ^= prev[i]
		}
	}
	var viewBytes [8]byte
	for i := 0; i < 8; i++ {
		viewBytes[i] = byte(view >> (8 * uint(i)))
	}
	for i := range out {
		out[i] ^= viewBytes[i%8]
	}
	return out
}
