// Package uring executes operations through an io_uring submission and
// completion queue pair. A single goroutine owns the ring: it fills the
// submission queue, and whenever the queue is full it first drains completed
// events non-blockingly before waiting, so a batch larger than the ring can
// never deadlock. Completions are correlated back to operations purely by
// their ID, since the kernel finishes work in arbitrary order.
package uring

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"iotriad/internal/backend"
	"iotriad/internal/ring"
	"iotriad/internal/workload"
)

// defaultWait bounds one blocking harvest so deadlines and context
// cancellation are checked regularly.
const defaultWait = 50 * time.Millisecond

// Backend is the completion-queue strategy.
type Backend struct {
	ring ring.Ring
}

// NewBackend creates a uring backend with the given submission queue depth.
// Ring setup failure (platform or kernel without io_uring) is the single
// fatal error of a run and is reported before any work starts.
func NewBackend(entries uint32) (*Backend, error) {
	r, err := ring.New(ring.Config{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnsupported, err)
	}
	return &Backend{ring: r}, nil
}

// NewWithRing wraps an existing ring. Used by tests to substitute the
// kernel.
func NewWithRing(r ring.Ring) *Backend {
	return &Backend{ring: r}
}

// Close tears down the ring.
func (b *Backend) Close() error {
	return b.ring.Close()
}

type opState struct {
	op        *workload.Op
	remaining []byte
	deadline  time.Time // zero means none
	canceled  bool
}

// Submit drives the whole batch through the ring on the calling goroutine.
func (b *Backend) Submit(ctx context.Context, batch []*workload.Op) ([]workload.Completion, error) {
	if err := backend.ValidateBatch(batch); err != nil {
		return nil, err
	}

	start := time.Now()
	completions := make([]workload.Completion, 0, len(batch))

	// submitQ holds operations waiting for a submission queue slot, both
	// fresh ones and short transfers being resubmitted with their reduced
	// remaining length.
	submitQ := make([]*opState, 0, len(batch))
	for _, op := range batch {
		st := &opState{op: op, remaining: op.Buf}
		if op.Timeout > 0 {
			st.deadline = start.Add(op.Timeout)
		}
		submitQ = append(submitQ, st)
	}

	// in-flight operations keyed by ID; the kernel's completion order is
	// unrelated to submission order.
	pending := make(map[uint64]*opState, len(batch))
	cancelQ := make([]uint64, 0)
	cqes := make([]ring.CQE, b.ring.Entries())
	ctxCanceled := false

	for len(submitQ) > 0 || len(pending) > 0 {
		// Fill phase: cancellations first, then fresh submissions, until
		// the submission queue refuses more. Never blocks.
		prepared := 0
		for len(cancelQ) > 0 && b.ring.PrepareCancel(cancelQ[0]) {
			cancelQ = cancelQ[1:]
			prepared++
		}
		for len(cancelQ) == 0 && len(submitQ) > 0 {
			st := submitQ[0]
			if !st.deadline.IsZero() && time.Now().After(st.deadline) {
				completions = append(completions, b.resolve(st, workload.ErrTimeout, start))
				submitQ = submitQ[1:]
				continue
			}
			if !b.prepare(st) {
				break
			}
			pending[st.op.ID] = st
			submitQ = submitQ[1:]
			prepared++
		}
		if prepared > 0 {
			if err := b.ring.Submit(); err != nil {
				return nil, err
			}
		}

		if len(pending) == 0 && len(submitQ) == 0 {
			break
		}

		// Harvest phase: always drain non-blockingly before blocking, so a
		// full submission queue with unread completions cannot deadlock.
		n := b.ring.PeekBatch(cqes)
		if n == 0 && len(pending) > 0 {
			var err error
			n, err = b.ring.WaitBatch(cqes, b.nextWait(pending))
			if err != nil {
				return nil, err
			}
		}

		for i := 0; i < n; i++ {
			cqe := cqes[i]
			if cqe.UserData == 0 {
				// Completion of a cancellation entry itself.
				continue
			}
			st, ok := pending[cqe.UserData]
			if !ok {
				continue
			}
			delete(pending, cqe.UserData)

			done, resubmit := b.account(st, cqe, start)
			if resubmit {
				submitQ = append(submitQ, st)
				continue
			}
			completions = append(completions, done)
		}

		// Deadline sweep: expired in-flight operations get a cancellation;
		// their -ECANCELED completion resolves them as timed out.
		now := time.Now()
		for id, st := range pending {
			if !st.canceled && !st.deadline.IsZero() && now.After(st.deadline) {
				st.canceled = true
				cancelQ = append(cancelQ, id)
			}
		}

		if !ctxCanceled && ctx.Err() != nil {
			ctxCanceled = true
			for id, st := range pending {
				if !st.canceled {
					st.canceled = true
					cancelQ = append(cancelQ, id)
				}
			}
			// Nothing new gets submitted after cancellation.
			for _, st := range submitQ {
				completions = append(completions, b.resolve(st, ctx.Err(), start))
			}
			submitQ = submitQ[:0]
		}
	}

	return completions, nil
}

// prepare pushes one submission queue entry for the operation's remaining
// bytes. Returns false when the queue is full.
func (b *Backend) prepare(st *opState) bool {
	fd := st.op.Resource.Fd()
	if st.op.Dir == workload.DirRead {
		return b.ring.PrepareRecv(fd, st.remaining, st.op.ID)
	}
	return b.ring.PrepareSend(fd, st.remaining, st.op.ID)
}

// account turns one completion queue event into either a finished completion
// or a resubmission of the remaining bytes after a short transfer.
func (b *Backend) account(st *opState, cqe ring.CQE, start time.Time) (workload.Completion, bool) {
	if cqe.Res < 0 {
		err := error(syscall.Errno(-cqe.Res))
		if st.canceled {
			err = workload.ErrTimeout
		}
		return b.resolve(st, err, start), false
	}
	if cqe.Res == 0 && st.op.Dir == workload.DirRead {
		return b.resolve(st, workload.ErrClosed, start), false
	}

	st.remaining = st.remaining[cqe.Res:]
	if len(st.remaining) > 0 {
		return workload.Completion{}, true
	}
	return workload.Completion{ID: st.op.ID, N: len(st.op.Buf), Latency: time.Since(start)}, false
}

func (b *Backend) resolve(st *opState, err error, start time.Time) workload.Completion {
	return workload.Completion{
		ID:      st.op.ID,
		N:       len(st.op.Buf) - len(st.remaining),
		Err:     err,
		Latency: time.Since(start),
	}
}

// nextWait picks the blocking harvest timeout from the nearest in-flight
// deadline.
func (b *Backend) nextWait(pending map[uint64]*opState) time.Duration {
	wait := defaultWait
	for _, st := range pending {
		if st.deadline.IsZero() || st.canceled {
			continue
		}
		if d := time.Until(st.deadline); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}
