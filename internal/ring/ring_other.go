//go:build !linux

package ring

import "errors"

var ErrNotSupported = errors.New("io_uring is only supported on Linux")

// New returns an error on non-Linux systems
func New(cfg Config) (Ring, error) {
	return nil, ErrNotSupported
}

// IsSupported returns false on non-Linux systems
func IsSupported() bool {
	return false
}
