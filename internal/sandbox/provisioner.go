package sandbox

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"judged/internal/logger"
	"judged/pkg/apperrors"
)

// Config controls the provisioner's behavior.
type Config struct {
	ScratchRoot      string
	CgroupRoot       string
	EnableCgroup     bool
	PoolSize         int
	BaseUID          int
	DisableNetworking bool
}

// Provisioner implements C1: it hands out a disposable Handle per session
// and guarantees idempotent teardown.
type Provisioner struct {
	cfg  Config
	pool *IdentityPool
}

// NewProvisioner builds a provisioner with an identity pool sized to
// MAX_CONCURRENT_JOBS.
func NewProvisioner(cfg Config) *Provisioner {
	if cfg.BaseUID <= 0 {
		cfg.BaseUID = 10000
	}
	return &Provisioner{cfg: cfg, pool: NewIdentityPool(cfg.PoolSize, cfg.BaseUID)}
}

// PoolAvailable reports identities free for acquisition, for /healthz.
func (p *Provisioner) PoolAvailable() int { return p.pool.Available() }

// PoolSize reports the pool's fixed capacity, for /healthz.
func (p *Provisioner) PoolSize() int { return p.pool.Size() }

// Acquire reserves an identity, creates the scratch root, and stages a
// tmp directory (mode 0770) inside it. Ownership is not changed: both
// directories belong to the provisioner's own process user, not to the
// leased identity. If no identity can be reserved before ctx is done the
// pool's PoolExhausted error is returned; any later failure undoes prior
// steps and surfaces SandboxSetupFailed.
func (p *Provisioner) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	id, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	root := filepath.Join(p.cfg.ScratchRoot, sessionID)
	if err := os.MkdirAll(root, 0750); err != nil {
		p.pool.Release(id)
		return nil, apperrors.Wrapf(err, apperrors.SandboxSetupFailed, "create scratch root: %v", err)
	}
	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0770); err != nil {
		_ = os.RemoveAll(root)
		p.pool.Release(id)
		return nil, apperrors.Wrapf(err, apperrors.SandboxSetupFailed, "stage writable tmp: %v", err)
	}

	h := &Handle{
		ID:       sessionID,
		RootPath: root,
		UID:      id.uid,
		GID:      id.gid,
	}

	if p.cfg.EnableCgroup {
		cgroupPath, err := createCgroup(p.cfg.CgroupRoot, sessionID)
		if err != nil {
			_ = os.RemoveAll(root)
			p.pool.Release(id)
			return nil, apperrors.Wrapf(err, apperrors.SandboxSetupFailed, "create cgroup: %v", err)
		}
		h.CgroupPath = cgroupPath
	}

	return h, nil
}

// Release kills every process in the handle's cgroup (when the handle has
// one; without a cgroup no process is signalled), removes the scratch
// root, and returns the identity to the pool. Release is idempotent and
// safe to call after a partial Acquire; it never surfaces an error to the
// caller, logging any failure instead.
func (p *Provisioner) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	if h.CgroupPath != "" {
		if err := killCgroup(h.CgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed during release", zap.String("session_id", h.ID), zap.Error(err))
		}
		if err := removeCgroup(h.CgroupPath); err != nil {
			logger.Warn(ctx, "remove cgroup failed during release", zap.String("session_id", h.ID), zap.Error(err))
		}
	}
	if h.RootPath != "" {
		if err := os.RemoveAll(h.RootPath); err != nil {
			logger.Warn(ctx, "remove scratch root failed during release", zap.String("session_id", h.ID), zap.Error(err))
		}
	}
	p.pool.Release(identity{uid: h.UID, gid: h.GID})
}
