package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestIdentityPoolFIFOOrder(t *testing.T) {
	p := NewIdentityPool(2, 5000)

	first, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.uid != 5000 || second.uid != 5001 {
		t.Fatalf("got uids %d, %d, want 5000, 5001 in acquisition order", first.uid, second.uid)
	}

	p.Release(first)
	third, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.uid != first.uid {
		t.Fatalf("got uid %d, want the released token %d back first", third.uid, first.uid)
	}
}

func TestIdentityPoolExhaustion(t *testing.T) {
	p := NewIdentityPool(1, 5000)
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatalf("expected acquire to fail while pool is exhausted")
	}
}

func TestIdentityPoolDoubleReleaseDoesNotGrowPool(t *testing.T) {
	p := NewIdentityPool(1, 5000)
	id, _ := p.Acquire(context.Background())
	p.Release(id)
	p.Release(id)

	if avail := p.Available(); avail != 1 {
		t.Fatalf("got %d available, want pool capped at its configured size of 1", avail)
	}
}
