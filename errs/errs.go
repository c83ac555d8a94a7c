// Package errs defines the sentinel error kinds shared across components, so
// callers can classify a failure with errors.Is instead of string matching.
package errs

import "errors"

var (
	// ErrNotFound marks a missing entity (block, account, asset, ...).
	ErrNotFound = errors.New("not found")

	// ErrDecode marks a malformed wire payload. Caller-visible, never fatal.
	ErrDecode = errors.New("decode error")

	// ErrVerification marks a bad signature, stale timestamp, or unknown
	// account. Caller-visible; rejected at Torii acceptance or Sumeragi
	// validation.
	ErrVerification = errors.New("verification error")

	// ErrQueueFull marks ingress backpressure; the submitter should retry.
	ErrQueueFull = errors.New("queue full")

	// ErrConsensus marks a wrong role, bad quorum, or chain mismatch. The
	// round is aborted and a view change is triggered.
	ErrConsensus = errors.New("consensus error")

	// ErrStorage marks a disk I/O failure. Fatal in Strict mode, logged and
	// skipped in Fast mode.
	ErrStorage = errors.New("storage error")

	// ErrStateDivergence marks apply() failing on an already-committed
	// block. Always fatal: it indicates the node's state has diverged from
	// what consensus already agreed was valid.
	ErrStateDivergence = errors.New("state divergence")
)
