// Package stagerunner is the stage runner (C2): it executes one command
// line inside a given sandbox under a given resource limit set and
// produces a StageResult, regardless of whether the child was killed by
// limit enforcement.
package stagerunner

import (
	"context"

	"judged/internal/sandbox"
)

// Config controls runner behavior.
type Config struct {
	HelperPath    string
	OutputCapByte int64
	EnableNamespaces bool
	Isolation     sandbox.IsolationProfile
}

// Runner executes one argv inside a sandbox.Handle.
type Runner interface {
	Run(ctx context.Context, h *sandbox.Handle, argv []string, stdin []byte, limits sandbox.ResourceLimit, env []string, outputCapBytes int64) (sandbox.StageResult, error)
}

// NewRunner builds the platform-appropriate stage runner.
func NewRunner(cfg Config) Runner {
	return newRunner(cfg)
}
