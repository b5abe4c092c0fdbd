//go:build linux

package poll

import (
	"bytes"
	"context"
	"testing"
	"time"

	"iotriad/internal/resource"
	"iotriad/internal/workload"
)

// openResources opens n pumped resources and tears them down with the test.
// fed resources serve deterministic bytes to reads, unfed ones only drain.
func openResources(t *testing.T, n int, fed bool, opts resource.Options) []*resource.Resource {
	t.Helper()
	resources, err := resource.OpenAll(n, opts)
	if err != nil {
		t.Fatalf("failed to open resources: %v", err)
	}
	t.Cleanup(func() { _ = resource.CloseAll(resources) })
	for _, r := range resources {
		if fed {
			r.StartPump(workload.FeedAt)
		} else {
			r.StartPump(nil)
		}
	}
	return resources
}

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend()
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSubmitCompletesBatch(t *testing.T) {
	resources := openResources(t, 10, false, resource.Options{})
	ops, err := workload.Generate(workload.Shape{Ops: 100, PayloadSize: 4096}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b := newBackend(t)
	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		if c.Kind() != workload.KindOk {
			t.Fatalf("operation %d failed: %v", c.ID, c.Err)
		}
		if c.N != 4096 {
			t.Fatalf("operation %d moved %d bytes, expected 4096", c.ID, c.N)
		}
	}
}

func TestSubmitMixedDirections(t *testing.T) {
	resources := openResources(t, 4, true, resource.Options{})
	ops, err := workload.Generate(workload.Shape{Ops: 100, PayloadSize: 2048, ReadRatio: 50}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b := newBackend(t)
	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		if c.Kind() != workload.KindOk {
			t.Fatalf("operation %d failed: %v", c.ID, c.Err)
		}
	}
}

func TestReadDeliversFeedBytes(t *testing.T) {
	resources := openResources(t, 1, true, resource.Options{})
	op := &workload.Op{ID: 1, Resource: resources[0], Dir: workload.DirRead, Buf: make([]byte, 4096)}

	b := newBackend(t)
	completions, err := b.Submit(context.Background(), []*workload.Op{op})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(completions) != 1 || completions[0].Kind() != workload.KindOk {
		t.Fatalf("read did not succeed: %+v", completions)
	}

	want, err := workload.FeedStream(resources[0].ID(), 4096)
	if err != nil {
		t.Fatalf("failed to build feed stream: %v", err)
	}
	if !bytes.Equal(op.Buf, want) {
		t.Fatal("read bytes do not match the resource feed")
	}
}

// Short transfers: a payload far past the socket buffers means writes return
// partial counts, and the loop must keep the remainder registered until the
// pump drains enough for the next chunk.
func TestShortTransfersComplete(t *testing.T) {
	const size = 256 * 1024
	resources := openResources(t, 2, false, resource.Options{SendBuf: 4096, RecvBuf: 4096})
	ops, err := workload.Generate(workload.Shape{Ops: 4, PayloadSize: size}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b := newBackend(t)
	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		if c.Kind() != workload.KindOk {
			t.Fatalf("operation %d failed: %v", c.ID, c.Err)
		}
		if c.N != size {
			t.Fatalf("operation %d moved %d bytes, expected %d", c.ID, c.N, size)
		}
	}
}

func TestTimeoutDoesNotStallSiblings(t *testing.T) {
	resources := openResources(t, 2, false, resource.Options{})

	buf, err := workload.Payload(2, 512)
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	ops := []*workload.Op{
		// Unfed resource, nothing to read: must hit its deadline.
		{ID: 1, Resource: resources[0], Dir: workload.DirRead, Buf: make([]byte, 512), Timeout: 100 * time.Millisecond},
		{ID: 2, Resource: resources[1], Dir: workload.DirWrite, Buf: buf, Timeout: 5 * time.Second},
	}

	b := newBackend(t)
	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		switch c.ID {
		case 1:
			if c.Kind() != workload.KindTimeout {
				t.Fatalf("read on silent resource resolved as %v (%v), expected timeout", c.Kind(), c.Err)
			}
		case 2:
			if c.Kind() != workload.KindOk {
				t.Fatalf("healthy sibling failed: %v", c.Err)
			}
		}
	}
}

func TestPeerClosureFailsOps(t *testing.T) {
	resources := openResources(t, 2, false, resource.Options{})
	if err := resources[0].ClosePeer(); err != nil {
		t.Fatalf("failed to close peer: %v", err)
	}

	buf, err := workload.Payload(3, 512)
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	ops := []*workload.Op{
		{ID: 1, Resource: resources[0], Dir: workload.DirRead, Buf: make([]byte, 512)},
		{ID: 2, Resource: resources[1], Dir: workload.DirWrite, Buf: buf},
	}

	b := newBackend(t)
	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		switch c.ID {
		case 1:
			if c.Kind() != workload.KindClosed {
				t.Fatalf("read on closed resource resolved as %v (%v)", c.Kind(), c.Err)
			}
		case 2:
			if c.Kind() != workload.KindOk {
				t.Fatalf("healthy resource failed: %v", c.Err)
			}
		}
	}
}

func TestCanceledContextResolvesEveryOp(t *testing.T) {
	resources := openResources(t, 2, false, resource.Options{})
	ops := []*workload.Op{
		{ID: 1, Resource: resources[0], Dir: workload.DirRead, Buf: make([]byte, 512)},
		{ID: 2, Resource: resources[1], Dir: workload.DirRead, Buf: make([]byte, 512)},
	}

	b := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completions, err := b.Submit(ctx, ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		if c.Err == nil {
			t.Fatalf("operation %d resolved without error under canceled context", c.ID)
		}
	}
}
