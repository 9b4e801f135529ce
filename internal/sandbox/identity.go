package sandbox

import (
	"context"
	"fmt"

	"judged/pkg/apperrors"
)

// identity is a non-root user distinct from other concurrent sessions;
// the unit of isolation for process ownership and filesystem permissions.
type identity struct {
	uid int
	gid int
}

// IdentityPool is a fixed-size, FIFO set of identities sized to host
// concurrency. Acquisition awaits a token; release returns it. Identities
// are never created on demand.
type IdentityPool struct {
	tokens chan identity
}

// NewIdentityPool builds a pool of size identities starting at baseUID.
func NewIdentityPool(size int, baseUID int) *IdentityPool {
	if size <= 0 {
		size = 1
	}
	p := &IdentityPool{tokens: make(chan identity, size)}
	for i := 0; i < size; i++ {
		p.tokens <- identity{uid: baseUID + i, gid: baseUID + i}
	}
	return p
}

// Acquire reserves an identity from the pool, blocking until one is free
// or ctx is done. It never polls: the channel itself provides FIFO
// fairness among waiters.
func (p *IdentityPool) Acquire(ctx context.Context) (identity, error) {
	select {
	case id := <-p.tokens:
		return id, nil
	case <-ctx.Done():
		return identity{}, apperrors.New(apperrors.PoolExhausted).WithMessage(fmt.Sprintf("no identity available: %v", ctx.Err()))
	}
}

// Release returns an identity to the pool. The caller must guarantee no
// residual processes owned by id before calling Release.
func (p *IdentityPool) Release(id identity) {
	select {
	case p.tokens <- id:
	default:
		// pool is already full; a double-release would otherwise grow it.
	}
}

// Size reports the pool's fixed capacity.
func (p *IdentityPool) Size() int {
	return cap(p.tokens)
}

// Available reports how many identities are currently unreserved.
func (p *IdentityPool) Available() int {
	return len(p.tokens)
}
