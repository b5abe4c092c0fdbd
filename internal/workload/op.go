package workload

import (
	"errors"
	"syscall"
	"time"

	"iotriad/internal/resource"
)

// Direction of a single I/O operation
type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirRead {
		return "read"
	}
	return "write"
}

// Op describes one I/O request. It is immutable after creation and owned
// by the driver until submitted to a backend.
type Op struct {
	ID       uint64             // unique within a batch
	Resource *resource.Resource // endpoint targeted by this operation
	Dir      Direction
	Buf      []byte        // payload for writes, filled in place for reads
	Timeout  time.Duration // 0 means no deadline
}

// Completion is the result of exactly one Op
type Completion struct {
	ID      uint64
	N       int   // bytes transferred
	Err     error // nil means the full buffer was transferred
	Latency time.Duration
}

// Kind classifies a completion outcome
type Kind uint8

const (
	KindOk Kind = iota
	KindIo
	KindClosed
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindClosed:
		return "closed"
	case KindTimeout:
		return "timeout"
	default:
		return "io"
	}
}

var (
	// ErrClosed means the resource ended before the operation completed
	ErrClosed = errors.New("resource closed")
	// ErrTimeout means the operation's deadline elapsed
	ErrTimeout = errors.New("operation deadline exceeded")
)

// Kind returns the outcome class of the completion
func (c Completion) Kind() Kind {
	return KindOf(c.Err)
}

// KindOf maps an operation error to its outcome class. All backends report
// through this single mapping so their results stay comparable.
func KindOf(err error) Kind {
	if err == nil {
		return KindOk
	}
	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	if errors.Is(err, ErrClosed) {
		return KindClosed
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EPIPE, syscall.ECONNRESET, syscall.EBADF, syscall.ESHUTDOWN:
			return KindClosed
		case syscall.EAGAIN, syscall.ETIMEDOUT, syscall.ECANCELED:
			return KindTimeout
		}
	}
	return KindIo
}
