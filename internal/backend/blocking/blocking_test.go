package blocking

import (
	"context"
	"testing"
	"time"

	"iotriad/internal/resource"
	"iotriad/internal/workload"
)

// openResources opens n pumped resources and tears them down with the test.
// fed resources serve deterministic bytes to reads, unfed ones only drain.
func openResources(t *testing.T, n int, fed bool) []*resource.Resource {
	t.Helper()
	resources, err := resource.OpenAll(n, resource.Options{})
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

func TestSubmitCompletesBatch(t *testing.T) {
	resources := openResources(t, 10, false)
	ops, err := workload.Generate(workload.Shape{Ops: 100, PayloadSize: 4096}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b, err := NewBackend(4)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

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
	resources := openResources(t, 4, true)
	ops, err := workload.Generate(workload.Shape{Ops: 100, PayloadSize: 2048, ReadRatio: 50}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b, err := NewBackend(8)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

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

func TestSmallPoolDrainsQueue(t *testing.T) {
	resources := openResources(t, 2, false)
	ops, err := workload.Generate(workload.Shape{Ops: 40, PayloadSize: 1024}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b, err := NewBackend(2)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
}

func TestTimeoutDoesNotStallSiblings(t *testing.T) {
	resources := openResources(t, 2, false)

	buf, err := workload.Payload(2, 512)
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	ops := []*workload.Op{
		// Unfed resource, nothing to read: must hit its deadline.
		{ID: 1, Resource: resources[0], Dir: workload.DirRead, Buf: make([]byte, 512), Timeout: 100 * time.Millisecond},
		{ID: 2, Resource: resources[1], Dir: workload.DirWrite, Buf: buf, Timeout: 5 * time.Second},
	}

	b, err := NewBackend(2)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

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
	resources := openResources(t, 2, false)
	if err := resources[0].ClosePeer(); err != nil {
		t.Fatalf("failed to close peer: %v", err)
	}

	buf, err := workload.Payload(3, 512)
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	ops := []*workload.Op{
		{ID: 1, Resource: resources[0], Dir: workload.DirRead, Buf: make([]byte, 512)},
		{ID: 2, Resource: resources[0], Dir: workload.DirWrite, Buf: buf},
		{ID: 3, Resource: resources[1], Dir: workload.DirWrite, Buf: buf},
	}

	b, err := NewBackend(3)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

	completions, err := b.Submit(context.Background(), ops)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := workload.VerifyCompletions(ops, completions); err != nil {
		t.Fatalf("completion invariant broken: %v", err)
	}
	for _, c := range completions {
		switch c.ID {
		case 1, 2:
			if c.Kind() != workload.KindClosed {
				t.Fatalf("operation %d on closed resource resolved as %v (%v)", c.ID, c.Kind(), c.Err)
			}
		case 3:
			if c.Kind() != workload.KindOk {
				t.Fatalf("healthy resource failed: %v", c.Err)
			}
		}
	}
}

func TestCanceledContextResolvesEveryOp(t *testing.T) {
	resources := openResources(t, 2, false)
	ops, err := workload.Generate(workload.Shape{Ops: 20, PayloadSize: 256}, resources)
	if err != nil {
		t.Fatalf("failed to generate workload: %v", err)
	}

	b, err := NewBackend(2)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

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

func TestSubmitRejectsDuplicateIDs(t *testing.T) {
	resources := openResources(t, 1, false)
	ops := []*workload.Op{
		{ID: 7, Resource: resources[0], Dir: workload.DirWrite, Buf: make([]byte, 8)},
		{ID: 7, Resource: resources[0], Dir: workload.DirWrite, Buf: make([]byte, 8)},
	}

	b, err := NewBackend(1)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

	if _, err := b.Submit(context.Background(), ops); err == nil {
		t.Fatal("expected duplicate IDs to be rejected")
	}
}
