// Package kura is the append-only block store. Its public shape (Init
// replaying into a channel, Store appending and returning a hash, a
// Strict/Fast mode distinction) is grounded in core.Blockchain's
// Init/AddBlock pair in the teacher repo, but the on-disk layout follows
// spec.md §4.4/§6 literally — one file per block, not the teacher's
// LevelDB-backed storage.LevelBlockStore — since the spec mandates this
// concrete layout rather than leaving storage engine choice open.
package kura

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/errs"
)

// Mode controls how Kura reacts to a corrupt or inconsistent block file.
type Mode int

const (
	// Strict fails init/store on any decode or chain-linkage error.
	Strict Mode = iota
	// Fast logs a bad block file during replay and stops replay there,
	// keeping the blocks before it, best-effort.
	Fast
)

const filenameDigits = 20

func filename(height uint64) string {
	return fmt.Sprintf("%0*d.block", filenameDigits, height)
}

// Kura is the durable, append-only block log for one node.
type Kura struct {
	dir  string
	mode Mode

	mu         sync.Mutex
	nextHeight uint64
	tipHash    string

	blockCh chan<- *block.Block // emits each block in append order, for WSV replay/apply
}

// New creates a Kura instance rooted at dir (created if absent). blockCh
// receives every block Init replays and every block Store appends, in
// strict order, per spec.md §4.4.
func New(dir string, mode Mode, blockCh chan<- *block.Block) (*Kura, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kura: new: %w", err)
	}
	return &Kura{dir: dir, mode: mode, blockCh: blockCh, tipHash: ""}, nil
}

// Init scans the store directory, decodes blocks in height order, validates
// contiguity and previous-hash chaining, and emits each on blockCh for WSV
// replay. A chaining mismatch is fatal in Strict mode; in Fast mode it logs
// and stops replay at the last good block (the tail is presumed
// unrecoverable, not skippable, since every later block chains from it).
func (k *Kura) Init() error {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		return fmt.Errorf("kura: init: %w", err)
	}

	heights := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".block") {
			continue
		}
		h, err := parseHeight(e.Name())
		if err != nil {
			if k.mode == Strict {
				return fmt.Errorf("%w: kura: init: %v", errs.ErrStorage, err)
			}
			log.Printf("[kura] skipping unreadable filename %q: %v", e.Name(), err)
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var expectedHeight uint64
	var prevHash string
	for _, h := range heights {
		if h != expectedHeight {
			msg := fmt.Sprintf("height gap: expected %d got %d", expectedHeight, h)
			if k.mode == Strict {
				return fmt.Errorf("%w: kura: init: %s", errs.ErrStorage, msg)
			}
			log.Printf("[kura] %s, stopping replay", msg)
			break
		}
		b, err := k.readBlock(h)
		if err != nil {
			if k.mode == Strict {
				return fmt.Errorf("%w: kura: init: %v", errs.ErrStorage, err)
			}
			log.Printf("[kura] failed to read block %d: %v, stopping replay", h, err)
			break
		}
		if err := b.VerifyIntegrity(); err != nil {
			if k.mode == Strict {
				return fmt.Errorf("%w: kura: init: block %d failed integrity check: %v", errs.ErrStorage, h, err)
			}
			log.Printf("[kura] block %d failed integrity check: %v, stopping replay", h, err)
			break
		}
		if h > 0 && b.Header.PreviousHash != prevHash {
			msg := fmt.Sprintf("block %d previous_block_hash mismatch: got %s want %s", h, b.Header.PreviousHash, prevHash)
			if k.mode == Strict {
				return fmt.Errorf("%w: kura: init: %s", errs.ErrStorage, msg)
			}
			log.Printf("[kura] %s, stopping replay", msg)
			break
		}

		hash, err := b.Hash()
		if err != nil {
			return fmt.Errorf("%w: kura: init: %v", errs.ErrStorage, err)
		}
		prevHash = hash
		expectedHeight = h + 1

		if k.blockCh != nil {
			k.blockCh <- b
		}
	}

	k.mu.Lock()
	k.nextHeight = expectedHeight
	k.tipHash = prevHash
	k.mu.Unlock()
	return nil
}

// Store atomically appends block b: encode, write to a .tmp file, fsync,
// rename over the final name, then emit on blockCh. Returns the block's
// hash. Height and previous-hash linkage are validated against this
// store's own tip before writing.
func (k *Kura) Store(b *block.Block) (string, error) {
	k.mu.Lock()
	expectedHeight := k.nextHeight
	expectedPrevHash := k.tipHash
	k.mu.Unlock()

	if b.Header.Height != expectedHeight {
		return "", fmt.Errorf("%w: kura: store: height %d does not follow tip %d", errs.ErrStorage, b.Header.Height, expectedHeight)
	}
	if expectedHeight > 0 && b.Header.PreviousHash != expectedPrevHash {
		return "", fmt.Errorf("%w: kura: store: previous_block_hash mismatch", errs.ErrStorage)
	}

	data, err := b.Encode()
	if err != nil {
		return "", fmt.Errorf("%w: kura: store: %v", errs.ErrStorage, err)
	}

	final := filepath.Join(k.dir, filename(b.Header.Height))
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: kura: store: %v", errs.ErrStorage, err)
	}
	if err := writeLengthPrefixed(f, data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("%w: kura: store: %v", errs.ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("%w: kura: store: fsync: %v", errs.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: kura: store: %v", errs.ErrStorage, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("%w: kura: store: rename: %v", errs.ErrStorage, err)
	}

	hash, err := b.Hash()
	if err != nil {
		return "", fmt.Errorf("%w: kura: store: %v", errs.ErrStorage, err)
	}

	k.mu.Lock()
	k.nextHeight = b.Header.Height + 1
	k.tipHash = hash
	k.mu.Unlock()

	if k.blockCh != nil {
		k.blockCh <- b
	}
	return hash, nil
}

// Height returns the next height this store expects to receive.
func (k *Kura) Height() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nextHeight
}

// TipHash returns the hash of the most recently stored block, or "" for an
// empty store.
func (k *Kura) TipHash() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tipHash
}

func (k *Kura) readBlock(height uint64) (*block.Block, error) {
	f, err := os.Open(filepath.Join(k.dir, filename(height)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := readLengthPrefixed(f)
	if err != nil {
		return nil, err
	}
	return block.Decode(data)
}

func parseHeight(name string) (uint64, error) {
	base := strings.TrimSuffix(name, ".block")
	h, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block filename %q: %w", name, err)
	}
	return h, nil
}

func writeLengthPrefixed(f *os.File, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := f.Write(data)
	return err
}

func readLengthPrefixed(f *os.File) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(f, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := readFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
