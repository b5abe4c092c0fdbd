// Package resource provides the I/O endpoints a benchmark run operates on.
// Each resource is one end of a Unix stream socketpair; the far end is
// serviced by a peer pump so runs are hermetic: writes are drained and reads
// are fed without touching the network.
package resource

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Options tunes the socketpair. Zero values keep kernel defaults. Small
// buffer sizes are useful to force short transfers.
type Options struct {
	SendBuf int // SO_SNDBUF on the benchmark side
	RecvBuf int // SO_RCVBUF on the peer side
}

// Resource is an addressable I/O endpoint. It is opened by the driver before
// the run, stays open for the whole run, and is closed exactly once.
type Resource struct {
	id     uint64
	fd     int
	peerFD int

	mu         sync.Mutex
	closed     bool
	peerClosed bool
	pumpWG     sync.WaitGroup
}

// Open creates a resource backed by a Unix stream socketpair.
func Open(id uint64, opts Options) (*Resource, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socketpair: %w", err)
	}

	r := &Resource{id: id, fd: fds[0], peerFD: fds[1]}

	if opts.SendBuf > 0 {
		if err := unix.SetsockoptInt(r.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBuf); err != nil {
			r.destroy()
			return nil, fmt.Errorf("failed to set SO_SNDBUF: %w", err)
		}
	}
	if opts.RecvBuf > 0 {
		if err := unix.SetsockoptInt(r.peerFD, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RecvBuf); err != nil {
			r.destroy()
			return nil, fmt.Errorf("failed to set SO_RCVBUF: %w", err)
		}
	}

	return r, nil
}

// OpenAll opens n resources with sequential IDs starting at 1. On any
// failure the already opened resources are closed before returning.
func OpenAll(n int, opts Options) ([]*Resource, error) {
	resources := make([]*Resource, 0, n)
	for i := 0; i < n; i++ {
		r, err := Open(uint64(i+1), opts)
		if err != nil {
			CloseAll(resources)
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, nil
}

// CloseAll closes every resource, keeping the first error.
func CloseAll(resources []*Resource) error {
	var first error
	for _, r := range resources {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ID returns the resource identifier.
func (r *Resource) ID() uint64 { return r.id }

// Fd returns the benchmark-side file descriptor.
func (r *Resource) Fd() int { return r.fd }

// SetNonblock switches the benchmark-side descriptor between blocking and
// nonblocking mode. Backends own this choice for the duration of a run.
func (r *Resource) SetNonblock(nonblocking bool) error {
	return unix.SetNonblock(r.fd, nonblocking)
}

// Close tears down both ends and waits for the pump to exit. Safe to call
// more than once; only the first call closes the descriptors.
func (r *Resource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peerClosed := r.peerClosed
	r.mu.Unlock()

	// Shutdown first so pump goroutines blocked in read/write wake up
	// before the descriptors go away.
	if !peerClosed {
		_ = unix.Shutdown(r.peerFD, unix.SHUT_RDWR)
	}
	_ = unix.Shutdown(r.fd, unix.SHUT_RDWR)

	r.pumpWG.Wait()

	err := unix.Close(r.fd)
	if !peerClosed {
		if cerr := unix.Close(r.peerFD); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close resource %d: %w", r.id, err)
	}
	return nil
}

// ClosePeer forcibly closes the far end mid-run. Pending and future
// operations against the resource fail with a closed-resource outcome while
// other resources keep working.
func (r *Resource) ClosePeer() error {
	r.mu.Lock()
	if r.peerClosed || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.peerClosed = true
	r.mu.Unlock()

	_ = unix.Shutdown(r.peerFD, unix.SHUT_RDWR)
	return unix.Close(r.peerFD)
}

// destroy releases both raw descriptors during failed construction.
func (r *Resource) destroy() {
	_ = unix.Close(r.fd)
	_ = unix.Close(r.peerFD)
}
