//go:build linux

package ring

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

type linuxRing struct {
	ring    *giouring.Ring
	entries int
	cq      []*giouring.CompletionQueueEvent
}

// New creates an io_uring instance on Linux.
func New(cfg Config) (Ring, error) {
	if cfg.Entries == 0 {
		cfg.Entries = 256
	}

	r, err := giouring.CreateRing(cfg.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create io_uring: %w", err)
	}

	return &linuxRing{
		ring:    r,
		entries: int(cfg.Entries),
		cq:      make([]*giouring.CompletionQueueEvent, cfg.Entries),
	}, nil
}

// IsSupported returns true on Linux with io_uring available.
func IsSupported() bool {
	r, err := giouring.CreateRing(1)
	if err != nil {
		return false
	}
	r.QueueExit()
	return true
}

func (r *linuxRing) PrepareRecv(fd int, buf []byte, userData uint64) bool {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return false
	}
	sqe.PrepareRecv(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.SetData64(userData)
	runtime.KeepAlive(buf)
	return true
}

func (r *linuxRing) PrepareSend(fd int, buf []byte, userData uint64) bool {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return false
	}
	sqe.PrepareSend(fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.SetData64(userData)
	runtime.KeepAlive(buf)
	return true
}

func (r *linuxRing) PrepareCancel(userData uint64) bool {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return false
	}
	sqe.PrepareCancel64(userData, 0)
	sqe.SetData64(0)
	return true
}

func (r *linuxRing) Submit() error {
	for {
		_, err := r.ring.Submit()
		if err != nil {
			if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
				continue
			}
			return fmt.Errorf("io_uring submit failed: %w", err)
		}
		return nil
	}
}

func (r *linuxRing) PeekBatch(cqes []CQE) int {
	limit := len(cqes)
	if limit > len(r.cq) {
		limit = len(r.cq)
	}

	n := r.ring.PeekBatchCQE(r.cq[:limit])
	for i := uint32(0); i < n; i++ {
		cqes[i] = CQE{UserData: r.cq[i].UserData, Res: r.cq[i].Res}
		r.cq[i] = nil
	}
	r.ring.CQAdvance(n)
	return int(n)
}

func (r *linuxRing) WaitBatch(cqes []CQE, timeout time.Duration) (int, error) {
	ts := syscall.NsecToTimespec(timeout.Nanoseconds())
	if _, err := r.ring.WaitCQEs(1, &ts, nil); err != nil {
		// An elapsed wait or a signal just means nothing completed yet.
		if errors.Is(err, syscall.ETIME) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("io_uring wait failed: %w", err)
	}
	return r.PeekBatch(cqes), nil
}

func (r *linuxRing) Entries() int { return r.entries }

func (r *linuxRing) Close() error {
	r.ring.QueueExit()
	return nil
}
