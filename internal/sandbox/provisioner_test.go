package sandbox_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"judged/internal/sandbox"
)

func TestProvisionerAcquireCreatesScratchRoot(t *testing.T) {
	root := t.TempDir()
	p := sandbox.NewProvisioner(sandbox.Config{ScratchRoot: root, PoolSize: 1, BaseUID: 6000})

	h, err := p.Acquire(context.Background(), "session-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.UID != 6000 || h.GID != 6000 {
		t.Fatalf("got uid/gid %d/%d, want 6000/6000", h.UID, h.GID)
	}
	if _, err := os.Stat(filepath.Join(root, "session-a", "tmp")); err != nil {
		t.Fatalf("expected scratch tmp dir to exist: %v", err)
	}

	p.Release(context.Background(), h)
	if _, err := os.Stat(filepath.Join(root, "session-a")); !os.IsNotExist(err) {
		t.Fatalf("expected scratch root removed after release, got err=%v", err)
	}
}

func TestProvisionerReleaseReturnsIdentityToPool(t *testing.T) {
	root := t.TempDir()
	p := sandbox.NewProvisioner(sandbox.Config{ScratchRoot: root, PoolSize: 1, BaseUID: 6000})

	h, err := p.Acquire(context.Background(), "session-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(context.Background(), h)

	if p.PoolAvailable() != 1 {
		t.Fatalf("got %d available, want the identity back in the pool", p.PoolAvailable())
	}
}

func TestProvisionerAcquireBlocksWhenPoolExhausted(t *testing.T) {
	root := t.TempDir()
	p := sandbox.NewProvisioner(sandbox.Config{ScratchRoot: root, PoolSize: 1, BaseUID: 6000})

	h, err := p.Acquire(context.Background(), "session-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Release(context.Background(), h)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, "session-b"); err == nil {
		t.Fatalf("expected second acquire to fail while the pool is exhausted")
	}
}

func TestProvisionerReleaseIsIdempotent(t *testing.T) {
	root := t.TempDir()
	p := sandbox.NewProvisioner(sandbox.Config{ScratchRoot: root, PoolSize: 1, BaseUID: 6000})

	h, err := p.Acquire(context.Background(), "session-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(context.Background(), h)
	p.Release(context.Background(), h)

	if p.PoolAvailable() != 1 {
		t.Fatalf("got %d available, want double-release to leave the pool at capacity 1", p.PoolAvailable())
	}
}
