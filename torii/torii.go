package torii

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tolelom/ledgerd/errs"
	"github.com/tolelom/ledgerd/sumeragi"
	"github.com/tolelom/ledgerd/tx"
	"github.com/tolelom/ledgerd/wsv"
)

// chanBufferLen approximates spec.md §5's "unbounded" channel with a
// generously sized buffer; a real unbounded channel isn't representable as
// a Go chan, and the intake/message-handler tasks drain continuously so the
// buffer is headroom against bursts, not a hard cap callers must reason
// about. Mirrors the sizing the teacher picks for its own mempool/network
// channels.
const chanBufferLen = 4096

// Torii is the node's ingress gateway. For each accepted connection it
// reads exactly one (uri, payload) request, dispatches it, and writes
// exactly one response before closing the connection — spec.md §4.1's "one
// request handler producing one response".
type Torii struct {
	addr   string
	tlsCfg *tls.Config

	txCh  chan<- *tx.Transaction
	msgCh chan<- sumeragi.Message
	wsv   *wsv.WorldStateView

	maxClockSkew time.Duration

	ln       net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a Torii bound to addr. txCh receives accepted transactions
// for the Queue intake task; msgCh receives decoded consensus messages for
// Sumeragi's peer-message handler task. w answers synchronous queries and
// supplies the submitter account used by the acceptance check.
func New(addr string, tlsCfg *tls.Config, txCh chan<- *tx.Transaction, msgCh chan<- sumeragi.Message, w *wsv.WorldStateView, maxClockSkew time.Duration) *Torii {
	return &Torii{
		addr:         addr,
		tlsCfg:       tlsCfg,
		txCh:         txCh,
		msgCh:        msgCh,
		wsv:          w,
		maxClockSkew: maxClockSkew,
		stopCh:       make(chan struct{}),
	}
}

// Start binds the listening address synchronously, then serves connections
// in a background goroutine.
func (t *Torii) Start() error {
	var ln net.Listener
	var err error
	if t.tlsCfg != nil {
		ln, err = tls.Listen("tcp", t.addr, t.tlsCfg)
	} else {
		ln, err = net.Listen("tcp", t.addr)
	}
	if err != nil {
		return fmt.Errorf("torii: listen %s: %w", t.addr, err)
	}
	t.ln = ln
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Addr returns the bound listener address. Useful when Start was given
// ":0".
func (t *Torii) Addr() net.Addr {
	if t.ln != nil {
		return t.ln.Addr()
	}
	return nil
}

// Stop closes the listener and waits for every in-flight request to finish
// before returning, per spec.md §5's cancellation contract: "A request in
// flight is completed before listener shutdown returns."
func (t *Torii) Stop() {
	close(t.stopCh)
	if t.ln != nil {
		t.ln.Close()
	}
	t.wg.Wait()
	t.inflight.Wait()
}

func (t *Torii) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				log.Printf("[torii] accept error: %v", err)
				continue
			}
		}
		t.inflight.Add(1)
		go t.handleConn(conn)
	}
}

// handleConn reads one request, dispatches it, and writes one response. A
// panic from an unmapped URI (spec.md's "fatal programming error") is
// contained to this connection rather than taking down the node, mirroring
// the teacher's network.Node.readLoop panic-recovery wrapper.
func (t *Torii) handleConn(conn net.Conn) {
	defer t.inflight.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[torii] handler panic: %v", r)
		}
	}()

	req, err := readRequest(conn)
	if err != nil {
		return // client disconnected or sent a malformed frame; nothing to respond to
	}

	resp := t.dispatch(req)
	if err := writeResponse(conn, resp); err != nil {
		log.Printf("[torii] write response: %v", err)
	}
}

func (t *Torii) dispatch(req wireRequest) wireResponse {
	switch req.URI {
	case "/instruction":
		return t.handleInstruction(req.Payload)
	case "/query":
		return t.handleQuery(req.Payload)
	case "/block":
		return t.handleBlock(req.Payload)
	default:
		panic(fmt.Sprintf("torii: unmapped URI %q", req.URI))
	}
}

// handleInstruction decodes a Transaction, runs the cheap acceptance check
// (signature verification and creation_time window against the submitter's
// registered keys), and pushes it onto the transaction channel. Full
// validation against WSV happens inside Sumeragi. On success it returns the
// transaction hash as a receipt (spec.md §9 open question: forwarding
// semantics), so a client can poll /query for inclusion instead of
// submitting blind.
func (t *Torii) handleInstruction(payload []byte) wireResponse {
	transaction, err := tx.Decode(payload)
	if err != nil {
		log.Printf("[torii] decode instruction: %v", err)
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}

	result, err := wsv.Execute(t.wsv, wsv.Query{Kind: wsv.QueryGetAccount, AccountId: transaction.AccountId})
	if err != nil {
		return wireResponse{Kind: RespInternalError, Data: []byte(fmt.Sprintf("%v: %v", errs.ErrVerification, err))}
	}
	if err := transaction.Accept(result.Account, t.maxClockSkew); err != nil {
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}

	hash, err := transaction.Hash()
	if err != nil {
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}
	t.txCh <- transaction
	return wireResponse{Kind: RespOK, Data: []byte(hash)}
}

// handleQuery decodes a wsv.Query and evaluates it synchronously against
// the current WorldStateView.
func (t *Torii) handleQuery(payload []byte) wireResponse {
	var q wsv.Query
	if err := json.Unmarshal(payload, &q); err != nil {
		log.Printf("[torii] decode query: %v", err)
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}
	result, err := wsv.Execute(t.wsv, q)
	if err != nil {
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}
	return wireResponse{Kind: RespOK, Data: data}
}

// handleBlock decodes a consensus Message and pushes it onto the message
// channel for Sumeragi's peer-message handler task.
func (t *Torii) handleBlock(payload []byte) wireResponse {
	var msg sumeragi.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[torii] decode block message: %v", err)
		return wireResponse{Kind: RespInternalError, Data: []byte(err.Error())}
	}
	t.msgCh <- msg
	return wireResponse{Kind: RespEmptyOK}
}
