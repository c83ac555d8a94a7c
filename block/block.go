// Package block implements the block type and its hashing/signing
// convention, generalised from core.Block/BlockHeader in the teacher repo
// (ComputeHash/Sign/Verify over a JSON header) from a single proposer
// signature to the signature set a BFT quorum requires.
package block

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/merkle"
	"github.com/tolelom/ledgerd/tx"
)

// Header contains the fields that are hashed and signed.
type Header struct {
	Height          uint64 `json:"height"`
	PreviousHash    string `json:"previous_block_hash"`
	MerkleRoot      string `json:"merkle_root"`
	Timestamp       int64  `json:"timestamp"` // unix millis
	TransactionsCnt int    `json:"transactions_count"`
}

// Block is a committed batch of transactions plus the quorum's signatures
// over its header hash.
type Block struct {
	Header       Header
	Transactions []*tx.Transaction
	Signatures   []tx.Signature

	hash string
}

// New builds an unsigned block at height, chained onto previousHash, over
// txs, with the merkle root computed from each transaction's hash.
func New(height uint64, previousHash string, txs []*tx.Transaction) (*Block, error) {
	leaves := make([][]byte, len(txs))
	for i, t := range txs {
		h, err := t.Hash()
		if err != nil {
			return nil, fmt.Errorf("block: new: transaction %d: %w", i, err)
		}
		leaves[i] = []byte(h)
	}
	root := merkle.New(leaves).Root()

	return &Block{
		Header: Header{
			Height:          height,
			PreviousHash:    previousHash,
			MerkleRoot:      root,
			Timestamp:       time.Now().UnixMilli(),
			TransactionsCnt: len(txs),
		},
		Transactions: txs,
	}, nil
}

// Hash returns the deterministic hash of the block header.
func (b *Block) Hash() (string, error) {
	if b.hash != "" {
		return b.hash, nil
	}
	data, err := json.Marshal(b.Header)
	if err != nil {
		return "", fmt.Errorf("block: hash: %w", err)
	}
	h := crypto.Hash(data)
	b.hash = h
	return h, nil
}

// AddSignature appends a validator's signature over the block hash.
func (b *Block) AddSignature(pub crypto.PublicKey, priv crypto.PrivateKey) error {
	h, err := b.Hash()
	if err != nil {
		return err
	}
	sig := crypto.Sign(priv, []byte(h))
	b.Signatures = append(b.Signatures, tx.Signature{PublicKey: pub.Hex(), Signature: sig})
	return nil
}

// VerifyIntegrity recomputes the merkle root and the transaction count and
// checks them against the header, independent of any signature — it
// detects tampering with the transaction list; other header fields are not
// checked here.
func (b *Block) VerifyIntegrity() error {
	leaves := make([][]byte, len(b.Transactions))
	for i, t := range b.Transactions {
		h, err := t.Hash()
		if err != nil {
			return fmt.Errorf("block: verify integrity: transaction %d: %w", i, err)
		}
		leaves[i] = []byte(h)
	}
	root := merkle.New(leaves).Root()
	if root != b.Header.MerkleRoot {
		return fmt.Errorf("block: verify integrity: merkle root mismatch: stored %s computed %s", b.Header.MerkleRoot, root)
	}
	if b.Header.TransactionsCnt != len(b.Transactions) {
		return fmt.Errorf("block: verify integrity: transactions_count mismatch: header %d actual %d", b.Header.TransactionsCnt, len(b.Transactions))
	}
	return nil
}

// CountValidSignatures verifies each signature against the given public
// keys (e.g. the current peer set) and returns how many distinct, valid
// signatures are present. Invalid or unrecognised signatures are ignored
// rather than causing an error, since a block may legitimately collect
// signatures from a rotating peer set across a view change.
func (b *Block) CountValidSignatures(trustedKeys map[string]bool) (int, error) {
	h, err := b.Hash()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for _, sig := range b.Signatures {
		if seen[sig.PublicKey] || !trustedKeys[sig.PublicKey] {
			continue
		}
		pub, err := crypto.PubKeyFromHex(sig.PublicKey)
		if err != nil {
			continue
		}
		if err := crypto.Verify(pub, []byte(h), sig.Signature); err != nil {
			continue
		}
		seen[sig.PublicKey] = true
	}
	return len(seen), nil
}

// SortedSignatures returns a copy of the signature set sorted by public
// key, for deterministic encoding.
func (b *Block) SortedSignatures() []tx.Signature {
	out := make([]tx.Signature, len(b.Signatures))
	copy(out, b.Signatures)
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out
}

// wireBlock is the canonical on-disk/on-wire encoding used by kura and the
// transport layer.
type wireBlock struct {
	Header       Header          `json:"header"`
	Transactions json.RawMessage `json:"transactions"`
	Signatures   []tx.Signature  `json:"signatures"`
}

// Encode serialises the block, including its transactions and signatures,
// to its canonical wire form.
func (b *Block) Encode() ([]byte, error) {
	rawTxs := make([]json.RawMessage, len(b.Transactions))
	for i, t := range b.Transactions {
		data, err := t.Encode()
		if err != nil {
			return nil, fmt.Errorf("block: encode: transaction %d: %w", i, err)
		}
		rawTxs[i] = data
	}
	txsJSON, err := json.Marshal(rawTxs)
	if err != nil {
		return nil, fmt.Errorf("block: encode: %w", err)
	}
	w := wireBlock{Header: b.Header, Transactions: txsJSON, Signatures: b.SortedSignatures()}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("block: encode: marshal: %w", err)
	}
	return data, nil
}

// Decode parses the canonical wire form produced by Encode.
func Decode(data []byte) (*Block, error) {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("block: decode: %w", err)
	}
	var rawTxs []json.RawMessage
	if err := json.Unmarshal(w.Transactions, &rawTxs); err != nil {
		return nil, fmt.Errorf("block: decode: transactions: %w", err)
	}
	txs := make([]*tx.Transaction, 0, len(rawTxs))
	for i, raw := range rawTxs {
		t, err := tx.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("block: decode: transaction %d: %w", i, err)
		}
		txs = append(txs, t)
	}
	return &Block{Header: w.Header, Transactions: txs, Signatures: w.Signatures}, nil
}
