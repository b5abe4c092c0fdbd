//go:build !linux

// Package poll executes operations on a single-threaded epoll readiness
// loop. Only Linux is supported.
package poll

import (
	"context"
	"fmt"

	"iotriad/internal/backend"
	"iotriad/internal/workload"
)

// Backend is the readiness-polling strategy. Unavailable on this platform.
type Backend struct{}

// NewBackend returns an error on non-Linux systems.
func NewBackend() (*Backend, error) {
	return nil, fmt.Errorf("%w: poll backend requires linux epoll", backend.ErrUnsupported)
}

func (b *Backend) Submit(ctx context.Context, batch []*workload.Op) ([]workload.Completion, error) {
	return nil, backend.ErrUnsupported
}

func (b *Backend) Close() error { return nil }
