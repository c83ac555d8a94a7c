package config

import (
	"fmt"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/isi"
	"github.com/tolelom/ledgerd/tx"
)

// GenesisPrevHash is the canonical zero previous-hash for the block at
// height 0, per spec.md §3's Block invariant.
const GenesisPrevHash = ""

// GenesisDomain names the domain seeded at height 0, holding the bootstrap
// account so the first client-submitted transaction after genesis has a
// submitter account to authenticate against. Without it, Accept would
// reject every /instruction request as coming from an unknown account,
// since AddPeer alone populates the peer set but no domain.
const GenesisDomain = "genesis"

// BuildGenesisBlock constructs block #0 from the given trusted peer set: one
// AddPeer instruction per configured peer (including self), a CreateDomain
// for GenesisDomain, and a CreateAccount registering selfId's key under it
// so the node is bootstrappable without a separate out-of-band account
// provisioning step. All wrapped in a single transaction submitted by the
// local node and self-signed. Height 0 carries no consensus quorum
// requirement — it seeds the peer set that round 1's role assignment
// needs to exist in the first place, so it cannot itself depend on that
// assignment. Grounded in config.CreateGenesisBlock in the teacher repo,
// adapted from crediting an Alloc map of balances to registering the peer
// set the BFT core requires plus a bootstrap account in GenesisDomain.
func BuildGenesisBlock(selfId domain.PeerId, trustedPeers []domain.PeerId, priv crypto.PrivateKey) (*block.Block, error) {
	peers := trustedPeers
	if len(peers) == 0 {
		peers = []domain.PeerId{selfId}
	}

	genesisAccount := domain.NewId("genesis", GenesisDomain)

	instructions := make([]domain.Instruction, 0, len(peers)+2)
	for _, p := range peers {
		instructions = append(instructions, isi.AddPeer{Peer: domain.Peer{Id: p}})
	}
	instructions = append(instructions,
		isi.CreateDomain{DomainName: GenesisDomain},
		isi.CreateAccount{AccountId: genesisAccount, PublicKeys: []string{selfId.PublicKey.Hex()}},
	)

	t := tx.New(genesisAccount, instructions)
	if err := t.AddSignature(selfId.PublicKey, priv); err != nil {
		return nil, fmt.Errorf("config: build genesis block: %w", err)
	}
	t.Status = tx.Committed

	b, err := block.New(0, GenesisPrevHash, []*tx.Transaction{t})
	if err != nil {
		return nil, fmt.Errorf("config: build genesis block: %w", err)
	}
	if err := b.AddSignature(selfId.PublicKey, priv); err != nil {
		return nil, fmt.Errorf("config: build genesis block: %w", err)
	}
	return b, nil
}
