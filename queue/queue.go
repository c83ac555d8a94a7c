// Package queue is the node's pending-transaction pool, grounded on
// core.Mempool in the teacher repo: a mutex-guarded map plus an
// insertion-ordered slice for deterministic FIFO iteration, with
// dedup-by-hash and a bounded capacity instead of the teacher's
// combination of a fixed cap and an age-window check (the core spec has no
// notion of tx expiry — that lives in tx.Accept's creation-time window).
package queue

import (
	"fmt"
	"sync"

	"github.com/tolelom/ledgerd/errs"
	"github.com/tolelom/ledgerd/tx"
)

// Queue is a thread-safe, bounded, dedup-by-hash FIFO of accepted
// transactions awaiting inclusion in a block.
type Queue struct {
	mu      sync.RWMutex
	maxLen  int
	entries map[string]*tx.Transaction
	order   []string // insertion-ordered hashes
}

// New creates an empty queue bounded at maxLen entries.
func New(maxLen int) *Queue {
	return &Queue{maxLen: maxLen, entries: make(map[string]*tx.Transaction)}
}

// Push enqueues an already-Accepted transaction. Returns errs.ErrQueueFull
// if the queue is at capacity, or nil (silently, idempotently) if the
// transaction's hash is already present.
func (q *Queue) Push(t *tx.Transaction) error {
	h, err := t.Hash()
	if err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[h]; exists {
		return nil
	}
	if len(q.entries) >= q.maxLen {
		return errs.ErrQueueFull
	}
	q.entries[h] = t
	q.order = append(q.order, h)
	return nil
}

// Pop removes and returns up to n transactions in FIFO order, for
// inclusion in the next proposed block.
func (q *Queue) Pop(n int) []*tx.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.order) {
		n = len(q.order)
	}
	result := make([]*tx.Transaction, 0, n)
	for i := 0; i < n; i++ {
		h := q.order[i]
		result = append(result, q.entries[h])
		delete(q.entries, h)
	}
	q.order = q.order[n:]
	return result
}

// Remove deletes the given transaction hashes from the queue, e.g. when
// they were included in a block committed by another proposer.
func (q *Queue) Remove(hashes []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		delete(q.entries, h)
		removed[h] = true
	}
	filtered := q.order[:0]
	for _, h := range q.order {
		if !removed[h] {
			filtered = append(filtered, h)
		}
	}
	q.order = filtered
}

// Has reports whether a transaction with the given hash is queued.
func (q *Queue) Has(hash string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.entries[hash]
	return ok
}

// Len returns the current number of queued transactions.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
