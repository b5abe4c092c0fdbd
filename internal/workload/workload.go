package workload

import (
	"fmt"
	"time"

	"iotriad/internal/resource"
)

// Shape describes a deterministic workload: Ops operations of PayloadSize
// bytes each, spread round-robin over the given resources. ReadRatio percent
// of the operations are reads, the rest writes. Timeout applies per
// operation, 0 disables deadlines.
type Shape struct {
	Ops         int
	PayloadSize int
	ReadRatio   int // 0..100
	Timeout     time.Duration
}

// Generate builds the operation batch for a shape. The same shape and
// resource count always yield the same IDs, directions and payload bytes.
func Generate(shape Shape, resources []*resource.Resource) ([]*Op, error) {
	if shape.Ops <= 0 {
		return nil, fmt.Errorf("workload needs at least one operation, got %d", shape.Ops)
	}
	if shape.PayloadSize <= 0 {
		return nil, fmt.Errorf("payload size must be positive, got %d", shape.PayloadSize)
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("workload needs at least one resource")
	}
	if shape.ReadRatio < 0 || shape.ReadRatio > 100 {
		return nil, fmt.Errorf("read ratio must be 0..100, got %d", shape.ReadRatio)
	}

	ops := make([]*Op, 0, shape.Ops)
	for i := 0; i < shape.Ops; i++ {
		id := uint64(i + 1)

		// Deterministic direction mix: the first ReadRatio ops out of
		// every hundred are reads.
		dir := DirWrite
		if i%100 < shape.ReadRatio {
			dir = DirRead
		}

		buf := make([]byte, shape.PayloadSize)
		if dir == DirWrite {
			payload, err := Payload(id, shape.PayloadSize)
			if err != nil {
				return nil, err
			}
			copy(buf, payload)
		}

		ops = append(ops, &Op{
			ID:       id,
			Resource: resources[i%len(resources)],
			Dir:      dir,
			Buf:      buf,
			Timeout:  shape.Timeout,
		})
	}
	return ops, nil
}

// VerifyCompletions checks the backend invariant: every submitted ID
// resolved exactly once, no duplicates, no drops.
func VerifyCompletions(ops []*Op, completions []Completion) error {
	if len(completions) != len(ops) {
		return fmt.Errorf("got %d completions for %d operations", len(completions), len(ops))
	}
	seen := make(map[uint64]struct{}, len(completions))
	for _, c := range completions {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("operation %d completed twice", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	for _, op := range ops {
		if _, ok := seen[op.ID]; !ok {
			return fmt.Errorf("operation %d was dropped", op.ID)
		}
	}
	return nil
}

// NeedsFeed reports whether any operation in the batch reads, meaning the
// resource peers must feed data.
func NeedsFeed(ops []*Op) bool {
	for _, op := range ops {
		if op.Dir == DirRead {
			return true
		}
	}
	return false
}
