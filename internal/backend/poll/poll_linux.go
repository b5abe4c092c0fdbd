//go:build linux

// Package poll executes operations on a single-threaded readiness loop. One
// goroutine owns an epoll instance and a per-descriptor table of in-flight
// operations; it registers interest for every pending direction, performs
// nonblocking transfers when the kernel reports readiness, and keeps partial
// operations registered with their reduced remaining length until drained.
package poll

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"iotriad/internal/backend"
	"iotriad/internal/workload"
)

// Backend is the readiness-polling strategy.
type Backend struct {
	epfd int
}

// NewBackend creates a poll backend with its own epoll instance.
func NewBackend() (*Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create epoll instance: %v", backend.ErrUnsupported, err)
	}
	return &Backend{epfd: epfd}, nil
}

// Close releases the epoll descriptor.
func (b *Backend) Close() error {
	return unix.Close(b.epfd)
}

type opState struct {
	op        *workload.Op
	remaining []byte
	deadline  time.Time // zero means none
}

// fdState tracks every in-flight operation on one descriptor, FIFO per
// direction, plus the currently registered epoll interest mask.
type fdState struct {
	fd         int
	readQ      []*opState
	writeQ     []*opState
	registered bool
	mask       uint32
}

// Submit drives the batch on the calling goroutine. The loop never runs two
// operations' syscalls simultaneously; progress interleaves at
// readiness-check granularity.
func (b *Backend) Submit(ctx context.Context, batch []*workload.Op) ([]workload.Completion, error) {
	if err := backend.ValidateBatch(batch); err != nil {
		return nil, err
	}

	start := time.Now()
	completions := make([]workload.Completion, 0, len(batch))
	states := make(map[int32]*fdState)

	nonblocked := make(map[int]struct{})
	for _, op := range batch {
		fd := op.Resource.Fd()
		if _, done := nonblocked[fd]; !done {
			if err := op.Resource.SetNonblock(true); err != nil {
				return nil, fmt.Errorf("failed to set nonblocking mode: %w", err)
			}
			nonblocked[fd] = struct{}{}
		}

		st := &opState{op: op, remaining: op.Buf}
		if op.Timeout > 0 {
			st.deadline = start.Add(op.Timeout)
		}

		fs, ok := states[int32(fd)]
		if !ok {
			fs = &fdState{fd: fd}
			states[int32(fd)] = fs
		}
		if op.Dir == workload.DirRead {
			fs.readQ = append(fs.readQ, st)
		} else {
			fs.writeQ = append(fs.writeQ, st)
		}
	}

	for _, fs := range states {
		if err := b.updateInterest(fs); err != nil {
			return nil, err
		}
	}

	var events [128]unix.EpollEvent
	pending := len(batch)

	for pending > 0 {
		if err := ctx.Err(); err != nil {
			completions = append(completions, b.evict(states, err, start)...)
			break
		}

		n, err := unix.EpollWait(b.epfd, events[:], b.waitTimeout(states))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll wait failed: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fs, ok := states[ev.Fd]
			if !ok {
				continue
			}
			hangup := ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
			if hangup || ev.Events&unix.EPOLLIN != 0 {
				completions = append(completions, b.service(fs, workload.DirRead, start)...)
			}
			if hangup || ev.Events&unix.EPOLLOUT != 0 {
				completions = append(completions, b.service(fs, workload.DirWrite, start)...)
			}
			if err := b.updateInterest(fs); err != nil {
				return nil, err
			}
		}

		expired, err := b.expireDeadlines(states, start)
		if err != nil {
			return nil, err
		}
		completions = append(completions, expired...)

		pending = len(batch) - len(completions)
	}

	return completions, nil
}

// service drains one direction of a descriptor: head operation first, until
// the socket reports EAGAIN. A readiness report followed by EAGAIN is a
// spurious wakeup and leaves the operation registered.
func (b *Backend) service(fs *fdState, dir workload.Direction, start time.Time) []workload.Completion {
	var done []workload.Completion

	q := &fs.readQ
	if dir == workload.DirWrite {
		q = &fs.writeQ
	}

	for len(*q) > 0 {
		st := (*q)[0]

		var n int
		var err error
		if dir == workload.DirRead {
			n, err = unix.Read(fs.fd, st.remaining)
		} else {
			n, err = unix.Write(fs.fd, st.remaining)
		}

		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return done
		}
		if err == nil && dir == workload.DirRead && n == 0 {
			err = workload.ErrClosed
		}
		if err != nil {
			done = append(done, workload.Completion{
				ID: st.op.ID, N: len(st.op.Buf) - len(st.remaining), Err: err, Latency: time.Since(start),
			})
			*q = (*q)[1:]
			continue
		}

		st.remaining = st.remaining[n:]
		if len(st.remaining) == 0 {
			done = append(done, workload.Completion{ID: st.op.ID, N: len(st.op.Buf), Latency: time.Since(start)})
			*q = (*q)[1:]
		}
	}
	return done
}

// expireDeadlines resolves every operation whose deadline has passed and
// drops it from its queue. Siblings are untouched.
func (b *Backend) expireDeadlines(states map[int32]*fdState, start time.Time) ([]workload.Completion, error) {
	now := time.Now()
	var expired []workload.Completion

	for _, fs := range states {
		changed := false
		for _, q := range []*[]*opState{&fs.readQ, &fs.writeQ} {
			kept := (*q)[:0]
			for _, st := range *q {
				if !st.deadline.IsZero() && now.After(st.deadline) {
					expired = append(expired, workload.Completion{
						ID: st.op.ID, N: len(st.op.Buf) - len(st.remaining), Err: workload.ErrTimeout, Latency: time.Since(start),
					})
					changed = true
					continue
				}
				kept = append(kept, st)
			}
			*q = kept
		}
		if changed {
			if err := b.updateInterest(fs); err != nil {
				return nil, err
			}
		}
	}
	return expired, nil
}

// waitTimeout picks the epoll_wait timeout from the nearest pending
// deadline. Capped so context cancellation is noticed on idle batches.
func (b *Backend) waitTimeout(states map[int32]*fdState) int {
	const idleCap = 500 * time.Millisecond

	nearest := idleCap
	for _, fs := range states {
		for _, q := range [][]*opState{fs.readQ, fs.writeQ} {
			for _, st := range q {
				if st.deadline.IsZero() {
					continue
				}
				if d := time.Until(st.deadline); d < nearest {
					nearest = d
				}
			}
		}
	}
	if nearest < time.Millisecond {
		return 1
	}
	return int(nearest / time.Millisecond)
}

// evict resolves everything still pending with the given error, used when
// the context is cancelled mid-batch.
func (b *Backend) evict(states map[int32]*fdState, err error, start time.Time) []workload.Completion {
	var out []workload.Completion
	for _, fs := range states {
		for _, q := range [][]*opState{fs.readQ, fs.writeQ} {
			for _, st := range q {
				out = append(out, workload.Completion{
					ID: st.op.ID, N: len(st.op.Buf) - len(st.remaining), Err: err, Latency: time.Since(start),
				})
			}
		}
		fs.readQ, fs.writeQ = nil, nil
		_ = b.updateInterest(fs)
	}
	return out
}

// updateInterest reconciles the registered epoll mask with the directions
// that still have pending operations.
func (b *Backend) updateInterest(fs *fdState) error {
	var mask uint32
	if len(fs.readQ) > 0 {
		mask |= unix.EPOLLIN
	}
	if len(fs.writeQ) > 0 {
		mask |= unix.EPOLLOUT
	}

	switch {
	case mask == 0 && fs.registered:
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fs.fd, nil); err != nil {
			return fmt.Errorf("epoll ctl del failed: %w", err)
		}
		fs.registered = false
	case mask != 0 && !fs.registered:
		ev := unix.EpollEvent{Events: mask, Fd: int32(fs.fd)}
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fs.fd, &ev); err != nil {
			return fmt.Errorf("epoll ctl add failed: %w", err)
		}
		fs.registered = true
	case mask != fs.mask && fs.registered:
		ev := unix.EpollEvent{Events: mask, Fd: int32(fs.fd)}
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fs.fd, &ev); err != nil {
			return fmt.Errorf("epoll ctl mod failed: %w", err)
		}
	}
	fs.mask = mask
	return nil
}
