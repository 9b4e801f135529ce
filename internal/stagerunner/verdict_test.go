package stagerunner

import (
	"testing"

	"judged/internal/sandbox"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestClassifyPrecedence(t *testing.T) {
	limits := sandbox.ResourceLimit{WallTimeMs: 1000, CPUTimeMs: 500, MemoryMB: 64}

	cases := []struct {
		name   string
		o      outcome
		status string
	}{
		{
			name:   "output truncation wins over everything else",
			o:      outcome{outputTruncated: true, wallTimeMs: 2000, oomKilled: true, exitCode: intPtr(1)},
			status: sandbox.StatusOutputLimit,
		},
		{
			name:   "wall time wins over cpu time and memory",
			o:      outcome{wallTimeMs: 1000, cpuTimeMs: 600, memoryByte: 1 << 30},
			status: sandbox.StatusTimeLimit,
		},
		{
			name:   "cpu time wins over memory",
			o:      outcome{cpuTimeMs: 500, memoryByte: 1 << 30},
			status: sandbox.StatusTimeLimit,
		},
		{
			name:   "oom kill wins over a bare signal",
			o:      outcome{oomKilled: true, signal: strPtr("SIGKILL")},
			status: sandbox.StatusMemoryLimit,
		},
		{
			name:   "memory byte count over the configured cap",
			o:      outcome{memoryByte: 65 * 1024 * 1024},
			status: sandbox.StatusMemoryLimit,
		},
		{
			name:   "signal wins over a nonzero exit code",
			o:      outcome{signal: strPtr("SIGSEGV"), exitCode: intPtr(139)},
			status: sandbox.StatusKilledBySignal,
		},
		{
			name:   "nonzero exit with no signal is a runtime error",
			o:      outcome{exitCode: intPtr(1)},
			status: sandbox.StatusRuntimeError,
		},
		{
			name:   "zero exit with nothing else set is OK",
			o:      outcome{exitCode: intPtr(0)},
			status: sandbox.StatusOK,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status, _ := classify(c.o, limits)
			if status != c.status {
				t.Fatalf("got status %q, want %q", status, c.status)
			}
		})
	}
}
