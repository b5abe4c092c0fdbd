// Package backend defines the contract shared by the three execution
// strategies. A backend runs a batch of operations to completion; per
// operation errors surface in the completion records, never as a batch
// failure. Only backend setup problems are fatal.
package backend

import (
	"context"
	"errors"

	"iotriad/internal/workload"
)

// ErrUnsupported means the backend cannot run on this platform or kernel.
// It is the only error class that aborts a run.
var ErrUnsupported = errors.New("backend not supported")

// Backend executes a batch of operations with its own concurrency strategy.
// Submit blocks until every operation in the batch has resolved and returns
// exactly one completion per submitted operation, in resolution order.
type Backend interface {
	Submit(ctx context.Context, batch []*workload.Op) ([]workload.Completion, error)
	Close() error
}

// ValidateBatch rejects batches that violate the submission contract:
// duplicate IDs, nil resources or empty buffers.
func ValidateBatch(batch []*workload.Op) error {
	seen := make(map[uint64]struct{}, len(batch))
	for _, op := range batch {
		if op.Resource == nil {
			return errors.New("operation without resource")
		}
		if len(op.Buf) == 0 {
			return errors.New("operation with empty buffer")
		}
		if _, dup := seen[op.ID]; dup {
			return errors.New("duplicate operation id in batch")
		}
		seen[op.ID] = struct{}{}
	}
	return nil
}
