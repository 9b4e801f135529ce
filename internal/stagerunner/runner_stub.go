//go:build !linux

package stagerunner

import (
	"context"
	"fmt"

	"judged/internal/sandbox"
)

type stubRunner struct{}

func newRunner(cfg Config) Runner {
	return &stubRunner{}
}

func (s *stubRunner) Run(ctx context.Context, h *sandbox.Handle, argv []string, stdin []byte, limits sandbox.ResourceLimit, env []string, outputCapBytes int64) (sandbox.StageResult, error) {
	return sandbox.StageResult{}, fmt.Errorf("stage execution is only supported on linux")
}
