package sumeragi

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/tx"
)

// MessageKind discriminates the wire shape of a consensus Message.
type MessageKind string

const (
	KindBlockCreated       MessageKind = "block_created"
	KindBlockSigned        MessageKind = "block_signed"
	KindBlockCommitted     MessageKind = "block_committed"
	KindViewChange         MessageKind = "view_change"
	KindTransactionForward MessageKind = "transaction_forwarded"
)

// Message is the envelope carried between peers on the consensus channel.
// Every message carries the sender's id and a signature over its body, so a
// peer can be held accountable for equivocation (scenario 4: double
// propose).
type Message struct {
	Kind      MessageKind
	SenderKey string // hex-encoded ed25519 public key
	Body      json.RawMessage
	Signature string // hex, over Body
}

type blockCreatedBody struct {
	Block json.RawMessage `json:"block"`
}

type blockSignedBody struct {
	BlockHash string       `json:"block_hash"`
	Signature tx.Signature `json:"signature"`
}

type blockCommittedBody struct {
	Block json.RawMessage `json:"block"`
}

type transactionForwardedBody struct {
	Transaction json.RawMessage `json:"transaction"`
}

type viewChangeBody struct {
	TargetView uint64 `json:"target_view"`
}

func sign(priv crypto.PrivateKey, pub crypto.PublicKey, kind MessageKind, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("sumeragi: sign %s: %w", kind, err)
	}
	sig := crypto.Sign(priv, raw)
	return Message{Kind: kind, SenderKey: pub.Hex(), Body: raw, Signature: sig}, nil
}

// Verify checks the message signature against its claimed sender.
func (m Message) Verify() error {
	pub, err := crypto.PubKeyFromHex(m.SenderKey)
	if err != nil {
		return fmt.Errorf("sumeragi: verify message: %w", err)
	}
	return crypto.Verify(pub, m.Body, m.Signature)
}

// NewBlockCreated builds a signed BlockCreated message from the leader.
func NewBlockCreated(priv crypto.PrivateKey, pub crypto.PublicKey, b *block.Block) (Message, error) {
	data, err := b.Encode()
	if err != nil {
		return Message{}, fmt.Errorf("sumeragi: new block_created: %w", err)
	}
	return sign(priv, pub, KindBlockCreated, blockCreatedBody{Block: data})
}

// Block decodes the carried block from a BlockCreated or BlockCommitted
// message.
func (m Message) Block() (*block.Block, error) {
	switch m.Kind {
	case KindBlockCreated:
		var body blockCreatedBody
		if err := json.Unmarshal(m.Body, &body); err != nil {
			return nil, fmt.Errorf("sumeragi: decode block_created: %w", err)
		}
		return block.Decode(body.Block)
	case KindBlockCommitted:
		var body blockCommittedBody
		if err := json.Unmarshal(m.Body, &body); err != nil {
			return nil, fmt.Errorf("sumeragi: decode block_committed: %w", err)
		}
		return block.Decode(body.Block)
	default:
		return nil, fmt.Errorf("sumeragi: message kind %s does not carry a block", m.Kind)
	}
}

// NewBlockSigned builds a signed BlockSigned message from a validating peer.
func NewBlockSigned(priv crypto.PrivateKey, pub crypto.PublicKey, blockHash string, sig tx.Signature) (Message, error) {
	return sign(priv, pub, KindBlockSigned, blockSignedBody{BlockHash: blockHash, Signature: sig})
}

// BlockSigned decodes the carried hash+signature from a BlockSigned message.
func (m Message) BlockSigned() (string, tx.Signature, error) {
	if m.Kind != KindBlockSigned {
		return "", tx.Signature{}, fmt.Errorf("sumeragi: message kind %s is not block_signed", m.Kind)
	}
	var body blockSignedBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return "", tx.Signature{}, fmt.Errorf("sumeragi: decode block_signed: %w", err)
	}
	return body.BlockHash, body.Signature, nil
}

// NewBlockCommitted builds a signed BlockCommitted message from the proxy
// tail.
func NewBlockCommitted(priv crypto.PrivateKey, pub crypto.PublicKey, b *block.Block) (Message, error) {
	data, err := b.Encode()
	if err != nil {
		return Message{}, fmt.Errorf("sumeragi: new block_committed: %w", err)
	}
	return sign(priv, pub, KindBlockCommitted, blockCommittedBody{Block: data})
}

// NewTransactionForwarded builds a signed TransactionForwarded message from
// a non-leader peer relaying a client submission to the leader.
func NewTransactionForwarded(priv crypto.PrivateKey, pub crypto.PublicKey, t *tx.Transaction) (Message, error) {
	data, err := t.Encode()
	if err != nil {
		return Message{}, fmt.Errorf("sumeragi: new transaction_forwarded: %w", err)
	}
	return sign(priv, pub, KindTransactionForward, transactionForwardedBody{Transaction: data})
}

// Transaction decodes the carried transaction from a TransactionForwarded
// message.
func (m Message) Transaction() (*tx.Transaction, error) {
	if m.Kind != KindTransactionForward {
		return nil, fmt.Errorf("sumeragi: message kind %s is not transaction_forwarded", m.Kind)
	}
	var body transactionForwardedBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return nil, fmt.Errorf("sumeragi: decode transaction_forwarded: %w", err)
	}
	return tx.Decode(body.Transaction)
}

// NewViewChange builds a signed vote proposing targetView, broadcast by a
// peer whose round timed out (or relayed on by one that already voted) so
// the rotation can be acknowledged by 2f+1 peers before it takes effect.
func NewViewChange(priv crypto.PrivateKey, pub crypto.PublicKey, targetView uint64) (Message, error) {
	return sign(priv, pub, KindViewChange, viewChangeBody{TargetView: targetView})
}

// ViewChange decodes the proposed target view from a ViewChange message.
func (m Message) ViewChange() (uint64, error) {
	if m.Kind != KindViewChange {
		return 0, fmt.Errorf("sumeragi: message kind %s is not view_change", m.Kind)
	}
	var body viewChangeBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return 0, fmt.Errorf("sumeragi: decode view_change: %w", err)
	}
	return body.TargetView, nil
}
