// Package blocking executes operations with plain blocking syscalls: one
// worker per pool slot, each suspended in the kernel for the duration of its
// call. Parallelism is real but bounded by the pool size; operations beyond
// it wait in a FIFO admission queue.
package blocking

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"iotriad/internal/backend"
	"iotriad/internal/resource"
	"iotriad/internal/workload"
)

// Backend is the blocking worker-pool strategy.
type Backend struct {
	workers int
}

// NewBackend creates a blocking backend with the given pool size.
// workers <= 0 selects one worker per CPU.
func NewBackend(workers int) (*Backend, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Backend{workers: workers}, nil
}

// Close releases backend state. The blocking backend keeps none between
// batches.
func (b *Backend) Close() error { return nil }

// admission is the pool's only synchronized shared structure: a FIFO queue
// of pending operations, producer driver and consumer workers.
type admission struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newAdmission(batch []*workload.Op) *admission {
	a := &admission{q: queue.New()}
	for _, op := range batch {
		a.q.Add(op)
	}
	return a
}

func (a *admission) pop() (*workload.Op, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.q.Length() == 0 {
		return nil, false
	}
	return a.q.Remove().(*workload.Op), true
}

// Submit runs the batch to completion on the worker pool. Completions arrive
// in the order individual blocking calls return, unordered relative to
// submission.
func (b *Backend) Submit(ctx context.Context, batch []*workload.Op) ([]workload.Completion, error) {
	if err := backend.ValidateBatch(batch); err != nil {
		return nil, err
	}

	start := time.Now()
	pending := newAdmission(batch)
	results := make(chan workload.Completion, len(batch))

	// Transfers on the same descriptor are serialized anyway by the kernel
	// socket lock; this lock makes the per-call SO_RCVTIMEO/SO_SNDTIMEO
	// deadlines race-free on shared resources.
	locks := make(map[*resource.Resource]chan struct{})
	for _, op := range batch {
		if _, ok := locks[op.Resource]; !ok {
			locks[op.Resource] = make(chan struct{}, 1)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				op, ok := pending.pop()
				if !ok {
					return
				}
				if err := ctx.Err(); err != nil {
					results <- workload.Completion{ID: op.ID, Err: err, Latency: time.Since(start)}
					continue
				}
				results <- execute(op, locks[op.Resource], start)
			}
		}()
	}

	completions := make([]workload.Completion, 0, len(batch))
	for range batch {
		completions = append(completions, <-results)
	}
	wg.Wait()
	return completions, nil
}

// execute performs one operation with blocking calls. The deadline covers
// queue wait, lock wait and the transfer itself.
func execute(op *workload.Op, lock chan struct{}, start time.Time) workload.Completion {
	var deadline time.Time
	if op.Timeout > 0 {
		deadline = start.Add(op.Timeout)
	}

	if !acquire(lock, deadline) {
		return workload.Completion{ID: op.ID, Err: workload.ErrTimeout, Latency: time.Since(start)}
	}
	defer func() { <-lock }()

	fd := op.Resource.Fd()
	remaining := op.Buf
	for len(remaining) > 0 {
		if err := armSocketTimeout(fd, op.Dir, deadline); err != nil {
			return workload.Completion{ID: op.ID, N: len(op.Buf) - len(remaining), Err: err, Latency: time.Since(start)}
		}

		var n int
		var err error
		if op.Dir == workload.DirRead {
			n, err = unix.Read(fd, remaining)
		} else {
			n, err = unix.Write(fd, remaining)
		}

		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// SO_RCVTIMEO/SO_SNDTIMEO expiry on a blocking socket.
			err = workload.ErrTimeout
		}
		if err == nil && op.Dir == workload.DirRead && n == 0 {
			err = workload.ErrClosed
		}
		if err != nil {
			return workload.Completion{ID: op.ID, N: len(op.Buf) - len(remaining), Err: err, Latency: time.Since(start)}
		}
		remaining = remaining[n:]
	}

	return workload.Completion{ID: op.ID, N: len(op.Buf), Latency: time.Since(start)}
}

// acquire takes the per-resource lock, giving up at the deadline. A zero
// deadline waits indefinitely.
func acquire(lock chan struct{}, deadline time.Time) bool {
	if deadline.IsZero() {
		lock <- struct{}{}
		return true
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// armSocketTimeout sets the socket timeout for the op's direction to the
// time left until the deadline. A zero deadline disarms the timeout, since a
// previous op on the same descriptor may have left one behind.
func armSocketTimeout(fd int, dir workload.Direction, deadline time.Time) error {
	var tv unix.Timeval
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return workload.ErrTimeout
		}
		tv = unix.NsecToTimeval(remaining.Nanoseconds())
		if tv.Sec == 0 && tv.Usec == 0 {
			tv.Usec = 1
		}
	}

	opt := unix.SO_SNDTIMEO
	if dir == workload.DirRead {
		opt = unix.SO_RCVTIMEO
	}
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, opt, &tv)
}
