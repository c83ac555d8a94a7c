// Package transport is the outbound half of peer-to-peer messaging: it
// implements sumeragi.Transport by dialing each peer's Torii listener and
// posting to /block, reusing the exact framing Torii's server already
// speaks rather than inventing a second wire protocol. Broadcast/SendTo are
// fire-and-forget per spec.md §5 ("every network send" is a suspension
// point, not a point where failure blocks the round) — a peer that's
// unreachable is simply a peer that doesn't vote this round, which Sumeragi
// already tolerates up to f of.
package transport

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/sumeragi"
	"github.com/tolelom/ledgerd/torii"
)

// PeerTransport broadcasts and directs consensus messages to a static
// peer set by address, grounded in network.Node's Broadcast/AddPeer in the
// teacher repo but simplified to the static trusted-peers membership
// spec.md's Non-goals require (no dynamic reconfiguration, no handshake).
type PeerTransport struct {
	tlsCfg *tls.Config

	mu    sync.RWMutex
	addrs map[string]string // public key hex -> address
}

// New creates a PeerTransport over the given static peer set.
func New(peers []domain.PeerId, tlsCfg *tls.Config) *PeerTransport {
	addrs := make(map[string]string, len(peers))
	for _, p := range peers {
		addrs[p.PublicKey.Hex()] = p.Address
	}
	return &PeerTransport{tlsCfg: tlsCfg, addrs: addrs}
}

// SetPeers replaces the known peer address book, e.g. after AddPeer is
// applied to WSV.
func (p *PeerTransport) SetPeers(peers []domain.PeerId) {
	addrs := make(map[string]string, len(peers))
	for _, peer := range peers {
		addrs[peer.PublicKey.Hex()] = peer.Address
	}
	p.mu.Lock()
	p.addrs = addrs
	p.mu.Unlock()
}

// Broadcast sends msg to every known peer concurrently, logging (not
// failing) individual send errors — satisfies sumeragi.Transport.
func (p *PeerTransport) Broadcast(msg sumeragi.Message) error {
	p.mu.RLock()
	addrs := make([]string, 0, len(p.addrs))
	for _, a := range p.addrs {
		addrs = append(addrs, a)
	}
	p.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: broadcast: %w", err)
	}

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if _, _, err := torii.Do(addr, p.tlsCfg, "/block", data); err != nil {
				log.Printf("[transport] broadcast to %s: %v", addr, err)
			}
		}(addr)
	}
	wg.Wait()
	return nil
}

// SendTo sends msg to one specific peer — satisfies sumeragi.Transport.
func (p *PeerTransport) SendTo(peer domain.PeerId, msg sumeragi.Message) error {
	p.mu.RLock()
	addr, ok := p.addrs[peer.PublicKey.Hex()]
	p.mu.RUnlock()
	if !ok {
		addr = peer.Address // fall back to the id's own address if not yet in the book
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	if _, _, err := torii.Do(addr, p.tlsCfg, "/block", data); err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}
