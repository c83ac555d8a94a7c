// Package tx implements the transaction lifecycle: Requested, Accepted,
// Valid, Committed. The signing convention (hash a JSON body sans the
// signature set, sign the hash) is grounded on core.Transaction's
// Hash/Sign/Verify pattern in the teacher repo, generalised from a single
// signature to a signature set since any of the sender account's
// authorised keys (up to its quorum) may co-sign.
package tx

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/domain"
)

// Status is the transaction's position in its lifecycle.
type Status int

const (
	Requested Status = iota
	Accepted
	Valid
	Committed
	Rejected
)

func (s Status) String() string {
	switch s {
	case Requested:
		return "requested"
	case Accepted:
		return "accepted"
	case Valid:
		return "valid"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Signature pairs a signer's public key with its signature over the
// transaction hash.
type Signature struct {
	PublicKey string `json:"public_key"` // hex
	Signature string `json:"signature"`  // hex
}

// instructionEnvelope is the part of a Transaction's encoding that an Instruction
// carries over the wire. Since domain.Instruction is an interface, each
// concrete instruction is tagged by name so Decode can reconstruct it; see
// encodeInstruction/decodeInstruction below.
type instructionEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// signingBody holds exactly the fields covered by the transaction hash.
// Instructions are encoded through instructionEnvelope so the hash is
// stable regardless of the concrete Go type registered for a kind.
type signingBody struct {
	AccountId    string                `json:"account_id"`
	CreationTime int64                 `json:"creation_time"` // unix millis
	Instructions []instructionEnvelope `json:"instructions"`
}

// Transaction is the atomic unit of work submitted to the ledger.
type Transaction struct {
	AccountId    domain.Id
	CreationTime int64
	Instructions []domain.Instruction
	Signatures   []Signature
	Status       Status

	hash string // memoised on first Hash call; not recomputed if fields change later
}

// New creates an unsigned, Requested transaction for accountId with the
// current wall-clock time as its creation time.
func New(accountId domain.Id, instructions []domain.Instruction) *Transaction {
	return &Transaction{
		AccountId:    accountId,
		CreationTime: time.Now().UnixMilli(),
		Instructions: instructions,
		Status:       Requested,
	}
}

func (t *Transaction) body() (signingBody, error) {
	envs := make([]instructionEnvelope, 0, len(t.Instructions))
	for _, instr := range t.Instructions {
		env, err := encodeInstruction(instr)
		if err != nil {
			return signingBody{}, err
		}
		envs = append(envs, env)
	}
	return signingBody{
		AccountId:    t.AccountId.String(),
		CreationTime: t.CreationTime,
		Instructions: envs,
	}, nil
}

// Hash returns the deterministic hash of the transaction, excluding
// signatures. Returns an error if an instruction cannot be encoded
// canonically (see encodeInstruction).
func (t *Transaction) Hash() (string, error) {
	if t.hash != "" {
		return t.hash, nil
	}
	body, err := t.body()
	if err != nil {
		return "", fmt.Errorf("tx: hash: %w", err)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("tx: hash: marshal: %w", err)
	}
	h := crypto.Hash(data)
	t.hash = h
	return h, nil
}

// AddSignature appends a signer's signature over the transaction hash.
func (t *Transaction) AddSignature(pub crypto.PublicKey, priv crypto.PrivateKey) error {
	h, err := t.Hash()
	if err != nil {
		return err
	}
	sig := crypto.Sign(priv, []byte(h))
	t.Signatures = append(t.Signatures, Signature{PublicKey: pub.Hex(), Signature: sig})
	return nil
}

// Accept verifies that the transaction is well-formed and carries enough
// valid signatures to satisfy acc.Quorum, per core spec §3's acceptance
// rule. It does not check instruction semantics against world state — that
// happens at commit time (Valid).
func (t *Transaction) Accept(acc *domain.Account, maxClockSkew time.Duration) error {
	if len(t.Instructions) == 0 {
		return fmt.Errorf("tx: accept: empty instruction list")
	}
	now := time.Now()
	created := time.UnixMilli(t.CreationTime)
	if created.After(now.Add(maxClockSkew)) || created.Before(now.Add(-maxClockSkew)) {
		return fmt.Errorf("tx: accept: creation_time %s outside ±%s window", created, maxClockSkew)
	}

	h, err := t.Hash()
	if err != nil {
		return fmt.Errorf("tx: accept: %w", err)
	}

	validSigners := make(map[string]bool)
	for _, sig := range t.Signatures {
		pub, err := crypto.PubKeyFromHex(sig.PublicKey)
		if err != nil {
			continue
		}
		if err := crypto.Verify(pub, []byte(h), sig.Signature); err != nil {
			continue
		}
		if acc.HasKey(sig.PublicKey) {
			validSigners[sig.PublicKey] = true
		}
	}
	if uint32(len(validSigners)) < acc.Quorum {
		return fmt.Errorf("tx: accept: %d of %d required signatures present", len(validSigners), acc.Quorum)
	}

	t.Status = Accepted
	return nil
}

// SortedSignatures returns a copy of the signature set sorted by public key,
// for deterministic encoding.
func (t *Transaction) SortedSignatures() []Signature {
	out := make([]Signature, len(t.Signatures))
	copy(out, t.Signatures)
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out
}

// wireTransaction is the full on-the-wire encoding, including the signature
// set. Status is intentionally omitted: it is derived locally by whichever
// component holds the transaction (queue, sumeragi, kura), never trusted
// from a peer.
type wireTransaction struct {
	AccountId    string                `json:"account_id"`
	CreationTime int64                 `json:"creation_time"`
	Instructions []instructionEnvelope `json:"instructions"`
	Signatures   []Signature           `json:"signatures"`
}

// Encode serialises the full transaction (instructions and signatures) to
// its canonical wire form.
func (t *Transaction) Encode() ([]byte, error) {
	envs := make([]instructionEnvelope, 0, len(t.Instructions))
	for _, instr := range t.Instructions {
		env, err := encodeInstruction(instr)
		if err != nil {
			return nil, fmt.Errorf("tx: encode: %w", err)
		}
		envs = append(envs, env)
	}
	w := wireTransaction{
		AccountId:    t.AccountId.String(),
		CreationTime: t.CreationTime,
		Instructions: envs,
		Signatures:   t.SortedSignatures(),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("tx: encode: marshal: %w", err)
	}
	return data, nil
}

// Decode parses the canonical wire form produced by Encode.
func Decode(data []byte) (*Transaction, error) {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("tx: decode: %w", err)
	}
	accountId, err := domain.ParseId(w.AccountId)
	if err != nil {
		return nil, fmt.Errorf("tx: decode: %w", err)
	}
	instructions := make([]domain.Instruction, 0, len(w.Instructions))
	for _, env := range w.Instructions {
		instr, err := decodeInstruction(env)
		if err != nil {
			return nil, fmt.Errorf("tx: decode: %w", err)
		}
		instructions = append(instructions, instr)
	}
	return &Transaction{
		AccountId:    accountId,
		CreationTime: w.CreationTime,
		Instructions: instructions,
		Signatures:   w.Signatures,
		Status:       Requested,
	}, nil
}
