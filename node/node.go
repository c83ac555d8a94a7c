// Package node wires Kura, WorldStateView, Queue, Sumeragi, Torii and the
// peer transport into one running process and owns the long-lived task set
// spec.md §5 describes, grounded in cmd/node/main.go's consensus-loop
// goroutine plus graceful-shutdown idiom in the teacher repo: a WaitGroup
// of background goroutines stopped in dependency order from one signal.
package node

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/config"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/events"
	"github.com/tolelom/ledgerd/kura"
	"github.com/tolelom/ledgerd/queue"
	"github.com/tolelom/ledgerd/sumeragi"
	"github.com/tolelom/ledgerd/torii"
	"github.com/tolelom/ledgerd/tx"
	"github.com/tolelom/ledgerd/wsv"
)

// blockChanBufferLen is the size cmd/node gives Kura's replay/apply channel
// (it creates that channel with the same literal). Replay at startup pushes
// the whole chain history into it before anything drains it, so it is
// larger than the per-request channels in torii.
const blockChanBufferLen = 16384

// roundTick is how often the round driver wakes to check for leader work
// and forward queued transactions, independent of RoundTimeout (which
// governs view changes, not this polling cadence).
const roundTick = 50 * time.Millisecond

// watchdogTick is how often CheckTimeout is invoked.
const watchdogTick = 100 * time.Millisecond

// Transport is the narrow slice of transport.PeerTransport the node
// depends on, beyond satisfying sumeragi.Transport: it also needs to learn
// about peers added after genesis.
type Transport interface {
	sumeragi.Transport
	SetPeers(peers []domain.PeerId)
}

// Node owns every long-lived component for one running validator process.
type Node struct {
	cfg   *config.Config
	selfId domain.PeerId
	priv   crypto.PrivateKey

	kura      *kura.Kura
	wsv       *wsv.WorldStateView
	queue     *queue.Queue
	sumeragi  *sumeragi.Sumeragi
	torii     *torii.Torii
	transport Transport
	emitter   *events.Emitter

	txCh    chan *tx.Transaction
	msgCh   chan sumeragi.Message
	blockCh chan *block.Block

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Deps bundles the already-constructed collaborators a Node orchestrates.
// Building these is the caller's (cmd/node's) job, since they each need
// independent error handling (open a directory, bind a listener, load a
// key) before anything can run.
type Deps struct {
	Cfg       *config.Config
	SelfId    domain.PeerId
	Priv      crypto.PrivateKey
	Kura      *kura.Kura
	WSV       *wsv.WorldStateView
	Queue     *queue.Queue
	Sumeragi  *sumeragi.Sumeragi
	Torii     *torii.Torii
	Transport Transport
	Emitter   *events.Emitter

	// TxCh and MsgCh are the same channels Torii was constructed with, so
	// New can start the tasks that drain them. BlockCh is the same channel
	// Kura was constructed with, so the block-applier task can drain it.
	TxCh    chan *tx.Transaction
	MsgCh   chan sumeragi.Message
	BlockCh chan *block.Block
}

// New assembles a Node from already-constructed dependencies.
func New(d Deps) *Node {
	return &Node{
		cfg:       d.Cfg,
		selfId:    d.SelfId,
		priv:      d.Priv,
		kura:      d.Kura,
		wsv:       d.WSV,
		queue:     d.Queue,
		sumeragi:  d.Sumeragi,
		torii:     d.Torii,
		transport: d.Transport,
		emitter:   d.Emitter,
		txCh:      d.TxCh,
		msgCh:     d.MsgCh,
		blockCh:   d.BlockCh,
		stopCh:    make(chan struct{}),
	}
}

// Start binds Torii's listener and spawns every long-lived task named in
// spec.md §5: transaction intake, round driver, block applier, peer message
// handler and round-timeout watchdog. The Torii listener's own accept loop
// is started inside Torii.Start and is not duplicated here.
func (n *Node) Start() error {
	if err := n.torii.Start(); err != nil {
		return fmt.Errorf("node: start torii: %w", err)
	}

	n.wg.Add(5)
	go n.runBlockApplier()
	go n.runTransactionIntake()
	go n.runPeerMessageHandler()
	go n.runRoundDriver()
	go n.runTimeoutWatchdog()
	return nil
}

// Stop signals every task to exit, stops Torii (which itself waits for
// in-flight requests), then waits for the tasks to drain, per spec.md §5's
// cancellation contract.
func (n *Node) Stop() {
	close(n.stopCh)
	n.torii.Stop()
	n.wg.Wait()
}

// runBlockApplier drains blockCh into WSV in strict arrival order — Kura's
// replay-at-startup emissions and its live Store emissions share this one
// channel and this one consumer, so height ordering across both phases is
// trivially preserved. wsv.Put treats a block older than its current
// height as already-applied and skips it, which is what makes it safe for
// this task to also see every block Sumeragi already applied synchronously
// as part of its own commit path.
func (n *Node) runBlockApplier() {
	defer n.wg.Done()
	for {
		select {
		case b, ok := <-n.blockCh:
			if !ok {
				return
			}
			if err := n.wsv.Put(b); err != nil {
				log.Printf("[node] FATAL: block applier: %v", err)
			}
		case <-n.stopCh:
			return
		}
	}
}

// runTransactionIntake drains Torii's accepted-transaction channel into the
// Queue, per spec.md §5 task 2.
func (n *Node) runTransactionIntake() {
	defer n.wg.Done()
	for {
		select {
		case t, ok := <-n.txCh:
			if !ok {
				return
			}
			if err := n.queue.Push(t); err != nil {
				log.Printf("[node] queue push: %v", err)
			}
		case <-n.stopCh:
			return
		}
	}
}

// runPeerMessageHandler drains Torii's consensus-message channel into
// Sumeragi, per spec.md §5 task 5. A TransactionForwarded message is
// special-cased here rather than inside Sumeragi: it is not consensus
// state, just a relay of a client submission onto this node's own queue
// once this node is (or might soon become) leader.
func (n *Node) runPeerMessageHandler() {
	defer n.wg.Done()
	for {
		select {
		case msg, ok := <-n.msgCh:
			if !ok {
				return
			}
			n.handlePeerMessage(msg)
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) handlePeerMessage(msg sumeragi.Message) {
	if msg.Kind == sumeragi.KindTransactionForward {
		if err := msg.Verify(); err != nil {
			log.Printf("[node] reject forwarded transaction: %v", err)
			return
		}
		t, err := msg.Transaction()
		if err != nil {
			log.Printf("[node] decode forwarded transaction: %v", err)
			return
		}
		if err := n.queue.Push(t); err != nil {
			log.Printf("[node] queue push (forwarded): %v", err)
		}
		return
	}
	if err := n.sumeragi.HandleMessage(msg); err != nil {
		log.Printf("[node] handle message %s: %v", msg.Kind, err)
	}
}

// runRoundDriver is spec.md §5 task 3: while no block is pending, drain the
// queue and either propose (if this node is leader this round) or forward
// the batch to whoever is, one TransactionForwarded message per
// transaction.
func (n *Node) runRoundDriver() {
	defer n.wg.Done()
	ticker := time.NewTicker(roundTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.driveRound()
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) driveRound() {
	if n.sumeragi.HasPendingBlock() {
		return
	}
	limit := n.cfg.MaxTxPerBlock
	if limit <= 0 {
		limit = n.queue.Len()
	}
	if n.queue.Len() == 0 {
		return
	}

	if n.sumeragi.CurrentRole() == sumeragi.Leader {
		pending := n.queue.Pop(limit)
		if err := n.sumeragi.ProposeIfLeader(pending); err != nil {
			log.Printf("[node] propose: %v", err)
		}
		return
	}

	leader := n.sumeragi.LeaderId()
	if leader.Equal(n.selfId) {
		return // role just changed; next tick will pick it up as leader
	}
	batch := n.queue.Pop(limit)
	for _, t := range batch {
		msg, err := sumeragi.NewTransactionForwarded(n.priv, n.selfId.PublicKey, t)
		if err != nil {
			log.Printf("[node] build transaction_forwarded: %v", err)
			continue
		}
		if err := n.transport.SendTo(leader, msg); err != nil {
			log.Printf("[node] forward transaction to leader %s: %v", leader.Address, err)
		}
	}
}

// runTimeoutWatchdog is spec.md §5 task 6: periodically check whether the
// round in progress has exceeded RoundTimeout and trigger a view change.
func (n *Node) runTimeoutWatchdog() {
	defer n.wg.Done()
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.sumeragi.CheckTimeout()
		case <-n.stopCh:
			return
		}
	}
}
