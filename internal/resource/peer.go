package resource

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// feedChunk is how many bytes the feeder pushes per write. The kernel socket
// buffer provides the actual pacing: writes block once it is full.
const feedChunk = 32 * 1024

// FeedFunc produces the next n bytes of the stream fed to a resource's read
// side, starting at the given offset. It must be deterministic.
type FeedFunc func(resourceID uint64, offset, n int) ([]byte, error)

// StartPump services the far end of the socketpair: a drain loop consumes
// everything the benchmark writes, and, when feed is non-nil, a feed loop
// supplies bytes for the benchmark to read. The pump stops when either end
// is shut down.
func (r *Resource) StartPump(feed FeedFunc) {
	r.pumpWG.Add(1)
	go r.drainLoop()

	if feed != nil {
		r.pumpWG.Add(1)
		go r.feedLoop(feed)
	}
}

func (r *Resource) drainLoop() {
	defer r.pumpWG.Done()

	buf := make([]byte, feedChunk)
	for {
		n, err := unix.Read(r.peerFD, buf)
		if err == unix.EINTR {
			continue
		}
		if n <= 0 || err != nil {
			return
		}
	}
}

func (r *Resource) feedLoop(feed FeedFunc) {
	defer r.pumpWG.Done()

	offset := 0
	for {
		chunk, err := feed(r.id, offset, feedChunk)
		if err != nil {
			slog.Error("Feed generation failed", "resource", r.id, "error", err)
			return
		}
		for len(chunk) > 0 {
			n, err := unix.Write(r.peerFD, chunk)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return
			}
			chunk = chunk[n:]
			offset += n
		}
	}
}
