package sumeragi

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/errs"
	"github.com/tolelom/ledgerd/events"
	"github.com/tolelom/ledgerd/tx"
)

// ScratchSession is a disposable working copy of WorldStateView used to
// dry-run instructions without mutating committed state. Implementations
// must discard all changes once the session goes out of scope.
type ScratchSession interface {
	Apply(instr domain.Instruction) error
}

// WorldState is the narrow slice of WorldStateView that Sumeragi depends
// on: enough to dry-run candidate transactions and to learn the current
// chain tip. The concrete wsv.WorldStateView satisfies this structurally.
type WorldState interface {
	Height() uint64
	TipHash() string
	NewScratch() ScratchSession
	Put(b *block.Block) error
}

// Transport is the narrow slice of the peer network Sumeragi depends on to
// exchange consensus messages. Left abstract per spec.md §1 (transport is
// an out-of-scope collaborator).
type Transport interface {
	Broadcast(msg Message) error
	SendTo(peer domain.PeerId, msg Message) error
}

// Config carries the BFT timing/sizing parameters from spec.md §6.
type Config struct {
	MaxFaultyPeers int
	RoundTimeout   time.Duration
	CommitTime     time.Duration
	MaxTxPerBlock  int
}

// Sumeragi is the BFT consensus role state machine for one node. All
// exported methods are safe for concurrent use; internally a single mutex
// guards the round state, matching spec.md §5's "message processing is
// atomic with respect to state transitions".
type Sumeragi struct {
	cfg       Config
	ws        WorldState
	kura      BlockSink
	transport Transport
	emitter   *events.Emitter

	selfId  domain.PeerId
	priv    crypto.PrivateKey
	pub     crypto.PublicKey

	mu              sync.Mutex
	peers           []domain.PeerId
	view            uint64
	roles           RoleAssignment
	pendingBlock    *block.Block
	pendingHash     string
	collected       map[string]tx.Signature     // pubkey hex -> signature, for the block currently being collected
	viewChangeVotes map[uint64]map[string]bool  // target view -> voter pubkey hex -> voted
	lastRoundTime   time.Time
}

// BlockSink is the narrow slice of Kura that Sumeragi depends on to
// persist a committed block.
type BlockSink interface {
	Store(b *block.Block) (string, error)
}

// New creates a Sumeragi instance for selfId, initially rooted at the
// current WorldState tip.
func New(cfg Config, ws WorldState, kura BlockSink, transport Transport, emitter *events.Emitter, peers []domain.PeerId, selfId domain.PeerId, priv crypto.PrivateKey) *Sumeragi {
	s := &Sumeragi{
		cfg:           cfg,
		ws:            ws,
		kura:          kura,
		transport:     transport,
		emitter:       emitter,
		selfId:        selfId,
		priv:          priv,
		pub:           selfId.PublicKey,
		peers:         peers,
		lastRoundTime: time.Now(),
	}
	s.roles = AssignRoles(peers, ws.TipHash(), cfg.MaxFaultyPeers, 0)
	return s
}

// HasPendingBlock reports whether a round is currently in discussion,
// gating the round driver task from starting a new proposal mid-round.
func (s *Sumeragi) HasPendingBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingBlock != nil
}

// CurrentRole returns this node's role for the round currently in
// progress.
func (s *Sumeragi) CurrentRole() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles.RoleOf(s.selfId)
}

// ProposeIfLeader attempts to build, validate, sign and broadcast a new
// block from pending, if this node is the round's Leader and no block is
// currently pending. Invalid transactions (failing dry-run apply) are
// silently dropped from the candidate, per spec.md §4.3 step 1.
func (s *Sumeragi) ProposeIfLeader(pending []*tx.Transaction) error {
	s.mu.Lock()
	if s.pendingBlock != nil || s.roles.RoleOf(s.selfId) != Leader {
		s.mu.Unlock()
		return nil
	}
	height := s.ws.Height()
	prevHash := s.ws.TipHash()
	s.mu.Unlock()

	limit := s.cfg.MaxTxPerBlock
	if limit <= 0 || limit > len(pending) {
		limit = len(pending)
	}
	candidate := s.dryRunFilter(pending[:limit])
	if len(candidate) == 0 {
		return nil
	}

	b, err := block.New(height, prevHash, candidate)
	if err != nil {
		return fmt.Errorf("sumeragi: propose: %w", err)
	}
	if err := b.AddSignature(s.pub, s.priv); err != nil {
		return fmt.Errorf("sumeragi: propose: %w", err)
	}
	hash, err := b.Hash()
	if err != nil {
		return fmt.Errorf("sumeragi: propose: %w", err)
	}

	s.mu.Lock()
	s.pendingBlock = b
	s.pendingHash = hash
	s.collected = map[string]tx.Signature{s.pub.Hex(): b.Signatures[0]}
	s.lastRoundTime = time.Now()
	single := len(s.peers) == 1
	s.mu.Unlock()

	msg, err := NewBlockCreated(s.priv, s.pub, b)
	if err != nil {
		return fmt.Errorf("sumeragi: propose: %w", err)
	}
	if err := s.transport.Broadcast(msg); err != nil {
		log.Printf("[sumeragi] broadcast block_created failed: %v", err)
	}

	if single {
		// Single-peer fast path: leader == proxy tail, own signature is
		// already a 2f+1=1 quorum.
		return s.finalizeCommit(b)
	}
	return nil
}

// dryRunFilter applies each candidate transaction's instructions against a
// single scratch session threaded across the whole candidate set (so that,
// e.g., CreateDomain followed by CreateAccount in the same block sees the
// domain), dropping any transaction whose apply fails.
func (s *Sumeragi) dryRunFilter(candidates []*tx.Transaction) []*tx.Transaction {
	scratch := s.ws.NewScratch()
	valid := make([]*tx.Transaction, 0, len(candidates))
	for _, t := range candidates {
		ok := true
		for _, instr := range t.Instructions {
			if err := scratch.Apply(instr); err != nil {
				ok = false
				break
			}
		}
		if ok {
			valid = append(valid, t)
		}
	}
	return valid
}

// HandleMessage dispatches an incoming consensus message per its kind and
// this node's current role.
func (s *Sumeragi) HandleMessage(msg Message) error {
	if err := msg.Verify(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrVerification, err)
	}
	switch msg.Kind {
	case KindBlockCreated:
		return s.handleBlockCreated(msg)
	case KindBlockSigned:
		return s.handleBlockSigned(msg)
	case KindBlockCommitted:
		return s.handleBlockCommitted(msg)
	case KindViewChange:
		return s.handleViewChange(msg)
	case KindTransactionForward:
		return nil // handled by the node's peer-message handler before it reaches Sumeragi; see node package
	default:
		return fmt.Errorf("%w: unknown message kind %q", errs.ErrConsensus, msg.Kind)
	}
}

func (s *Sumeragi) handleBlockCreated(msg Message) error {
	b, err := msg.Block()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}

	s.mu.Lock()
	if s.pendingBlock != nil {
		s.mu.Unlock()
		return nil // already mid-round; ignore duplicate/late proposal
	}
	role := s.roles.RoleOf(s.selfId)
	leaderKey := s.roles.Leader.PublicKey.Hex()
	expectedPrevHash := s.ws.TipHash()
	s.mu.Unlock()

	if role != Validating && role != ProxyTail {
		return nil
	}
	if msg.SenderKey != leaderKey {
		return fmt.Errorf("%w: block_created from non-leader %s", errs.ErrConsensus, msg.SenderKey)
	}
	if b.Header.PreviousHash != expectedPrevHash {
		return fmt.Errorf("%w: previous_block_hash mismatch", errs.ErrConsensus)
	}
	if err := b.VerifyIntegrity(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConsensus, err)
	}
	if len(b.Signatures) == 0 {
		return fmt.Errorf("%w: block_created carries no leader signature", errs.ErrConsensus)
	}
	leaderSig := b.Signatures[0]

	// Re-run transaction validation against this peer's own WSV.
	s.mu.Lock()
	scratch := s.ws.NewScratch()
	s.mu.Unlock()
	for _, t := range b.Transactions {
		for _, instr := range t.Instructions {
			if err := scratch.Apply(instr); err != nil {
				return fmt.Errorf("%w: candidate transaction failed dry-run: %v", errs.ErrConsensus, err)
			}
		}
	}

	if err := b.AddSignature(s.pub, s.priv); err != nil {
		return fmt.Errorf("sumeragi: handle block_created: %w", err)
	}
	hash, err := b.Hash()
	if err != nil {
		return err
	}
	ownSig := b.Signatures[len(b.Signatures)-1]

	s.mu.Lock()
	s.pendingBlock = b
	s.pendingHash = hash
	s.lastRoundTime = time.Now()
	proxyTail := s.roles.ProxyTail
	readyToCommit := false
	if role == ProxyTail {
		// The ProxyTail never sends itself a BlockSigned message; it seeds
		// its own collection directly from the leader's embedded signature
		// plus its own, per spec.md §4.3 step 3 ("including leader's and
		// its own"). Without this, the leader's signature would never
		// reach the quorum count at all.
		s.collected = map[string]tx.Signature{
			leaderKey:   leaderSig,
			s.pub.Hex(): ownSig,
		}
		readyToCommit = len(s.collected) >= Quorum(s.cfg.MaxFaultyPeers)
	}
	s.mu.Unlock()

	if readyToCommit {
		return s.finalizeCommit(b)
	}
	if role != Validating {
		return nil
	}

	signedMsg, err := NewBlockSigned(s.priv, s.pub, hash, ownSig)
	if err != nil {
		return err
	}
	if err := s.transport.SendTo(proxyTail, signedMsg); err != nil {
		log.Printf("[sumeragi] send block_signed to proxy tail failed: %v", err)
	}
	return nil
}

func (s *Sumeragi) handleBlockSigned(msg Message) error {
	hash, sig, err := msg.BlockSigned()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}

	s.mu.Lock()
	if s.roles.RoleOf(s.selfId) != ProxyTail || s.pendingBlock == nil || s.pendingHash != hash {
		s.mu.Unlock()
		return nil
	}
	pub, err := crypto.PubKeyFromHex(sig.PublicKey)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	if err := crypto.Verify(pub, []byte(hash), sig.Signature); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", errs.ErrVerification, err)
	}
	if s.collected == nil {
		s.collected = make(map[string]tx.Signature)
	}
	s.collected[sig.PublicKey] = sig
	quorum := Quorum(s.cfg.MaxFaultyPeers)
	have := len(s.collected)
	b := s.pendingBlock
	s.mu.Unlock()

	if have < quorum {
		return nil
	}
	return s.finalizeCommit(b)
}

// finalizeCommit attaches the collected quorum of signatures to b and
// broadcasts BlockCommitted (ProxyTail's role), then applies locally.
func (s *Sumeragi) finalizeCommit(b *block.Block) error {
	s.mu.Lock()
	b.Signatures = nil
	for _, sig := range s.collected {
		b.Signatures = append(b.Signatures, sig)
	}
	s.mu.Unlock()

	msg, err := NewBlockCommitted(s.priv, s.pub, b)
	if err != nil {
		return err
	}
	if err := s.transport.Broadcast(msg); err != nil {
		log.Printf("[sumeragi] broadcast block_committed failed: %v", err)
	}
	return s.commitLocally(b)
}

func (s *Sumeragi) handleBlockCommitted(msg Message) error {
	b, err := msg.Block()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	return s.commitLocally(b)
}

// commitLocally verifies quorum, hands the block to Kura and WSV, and
// advances round state. Shared by the ProxyTail's own finalize path and by
// every peer's handling of an incoming BlockCommitted.
func (s *Sumeragi) commitLocally(b *block.Block) error {
	s.mu.Lock()
	trusted := make(map[string]bool, len(s.peers))
	for _, p := range s.peers {
		trusted[p.PublicKey.Hex()] = true
	}
	quorum := Quorum(s.cfg.MaxFaultyPeers)
	expectedPrevHash := s.ws.TipHash()
	s.mu.Unlock()

	n, err := b.CountValidSignatures(trusted)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConsensus, err)
	}
	if n < quorum {
		return fmt.Errorf("%w: only %d of required %d signatures", errs.ErrConsensus, n, quorum)
	}
	if b.Header.PreviousHash != expectedPrevHash {
		return fmt.Errorf("%w: previous_block_hash mismatch on commit", errs.ErrConsensus)
	}

	if _, err := s.kura.Store(b); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	if err := s.ws.Put(b); err != nil {
		// apply() failing on a committed block means Sumeragi's pre-commit
		// validation was wrong somewhere: per spec.md §4.5 this halts the
		// node rather than being recovered from.
		log.Fatalf("[sumeragi] FATAL: state divergence applying committed block %d: %v", b.Header.Height, err)
	}

	hash, _ := b.Hash()
	s.mu.Lock()
	s.pendingBlock = nil
	s.pendingHash = ""
	s.collected = nil
	s.view = 0
	s.roles = AssignRoles(s.peers, hash, s.cfg.MaxFaultyPeers, s.view)
	s.lastRoundTime = time.Now()
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type:        events.EventBlockCommitted,
			BlockHeight: b.Header.Height,
			Data:        map[string]any{"hash": hash, "transactions": len(b.Transactions)},
		})
	}
	return nil
}

// CheckTimeout requests a view change if the round has been pending longer
// than RoundTimeout without a commit, per spec.md §4.3's liveness clause.
// The request only takes effect once 2f+1 peers (this one included) have
// acknowledged the same target view — see recordViewChangeVote; an
// unacknowledged request changes nothing by itself. Intended to be called
// periodically by the round-timeout watchdog task.
func (s *Sumeragi) CheckTimeout() {
	s.mu.Lock()
	if s.pendingBlock == nil {
		s.mu.Unlock()
		return
	}
	if time.Since(s.lastRoundTime) <= s.cfg.RoundTimeout {
		s.mu.Unlock()
		return
	}
	targetView := s.view + 1
	alreadyRequested := s.viewChangeVotes[targetView][s.pub.Hex()]
	// Reset the round clock regardless, so a quorum that's slow to gather
	// doesn't retrigger this same broadcast on every watchdog tick; a
	// fresh timeout still fires later if the view change itself stalls.
	s.lastRoundTime = time.Now()
	s.mu.Unlock()

	if alreadyRequested {
		return
	}
	log.Printf("[sumeragi] round timeout: requesting view change to %d", targetView)
	msg, err := NewViewChange(s.priv, s.pub, targetView)
	if err != nil {
		log.Printf("[sumeragi] build view_change failed: %v", err)
		return
	}
	if err := s.transport.Broadcast(msg); err != nil {
		log.Printf("[sumeragi] broadcast view_change failed: %v", err)
	}
	s.recordViewChangeVote(targetView, s.pub.Hex())
}

func (s *Sumeragi) handleViewChange(msg Message) error {
	targetView, err := msg.ViewChange()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	s.recordViewChangeVote(targetView, msg.SenderKey)
	return nil
}

// recordViewChangeVote tallies a vote for targetView from voterKey and
// effects the view change once 2f+1 peers have voted for it, per spec.md
// §4.3's "view changes are themselves acknowledged by 2f+1 peers before
// effecting".
func (s *Sumeragi) recordViewChangeVote(targetView uint64, voterKey string) {
	s.mu.Lock()
	if targetView <= s.view {
		s.mu.Unlock()
		return // stale: already on or past this view
	}
	if s.viewChangeVotes == nil {
		s.viewChangeVotes = make(map[uint64]map[string]bool)
	}
	votes, ok := s.viewChangeVotes[targetView]
	if !ok {
		votes = make(map[string]bool)
		s.viewChangeVotes[targetView] = votes
	}
	votes[voterKey] = true
	ready := len(votes) >= Quorum(s.cfg.MaxFaultyPeers)
	s.mu.Unlock()

	if ready {
		s.effectViewChange(targetView)
	}
}

// effectViewChange applies an acknowledged view change: bumps the view
// counter, rotates roles off the old leader, and abandons any round in
// progress. Called only once recordViewChangeVote has seen 2f+1 votes for
// targetView.
func (s *Sumeragi) effectViewChange(targetView uint64) {
	s.mu.Lock()
	if targetView <= s.view {
		s.mu.Unlock()
		return
	}
	s.view = targetView
	s.pendingBlock = nil
	s.pendingHash = ""
	s.collected = nil
	s.viewChangeVotes = nil
	s.roles = AssignRoles(s.peers, s.ws.TipHash(), s.cfg.MaxFaultyPeers, s.view)
	s.lastRoundTime = time.Now()
	newLeader := s.roles.Leader
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.Emit(events.Event{Type: events.EventViewChanged, Data: map[string]any{"view": targetView}})
	}
	log.Printf("[sumeragi] view change acknowledged: now view %d, new leader %s", targetView, newLeader.Address)
}

// LeaderId returns the current round's leader peer id, so a non-leader
// node's round driver can forward a client transaction to it.
func (s *Sumeragi) LeaderId() domain.PeerId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles.Leader
}
