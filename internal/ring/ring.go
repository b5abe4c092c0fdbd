// Package ring is a thin facade over the io_uring submission and completion
// queues. It exposes just enough queue-level control for a caller to
// implement its own back-pressure: preparing an entry fails when the
// submission queue is full, and completions are harvested explicitly.
package ring

import "time"

// CQE is one harvested completion queue event. Res follows kernel
// conventions: negative values are errnos, non-negative values are byte
// counts.
type CQE struct {
	UserData uint64
	Res      int32
}

// Ring is the interface for io_uring queue operations
type Ring interface {
	// PrepareRecv queues a receive into buf, tagged with userData.
	// Returns false when the submission queue is full.
	PrepareRecv(fd int, buf []byte, userData uint64) bool
	// PrepareSend queues a send of buf, tagged with userData.
	PrepareSend(fd int, buf []byte, userData uint64) bool
	// PrepareCancel queues a cancellation of the entry tagged userData.
	// The cancellation's own completion carries user data 0.
	PrepareCancel(userData uint64) bool
	// Submit hands all prepared entries to the kernel
	Submit() error
	// PeekBatch harvests completed events without blocking and returns
	// how many were written into cqes
	PeekBatch(cqes []CQE) int
	// WaitBatch blocks up to timeout for at least one completion, then
	// harvests like PeekBatch. A timeout is not an error.
	WaitBatch(cqes []CQE, timeout time.Duration) (int, error)
	// Entries returns the submission queue capacity
	Entries() int
	// Close tears down the ring
	Close() error
}

// Config for the ring
type Config struct {
	Entries uint32 // submission queue depth (default 256)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Entries: 256}
}
