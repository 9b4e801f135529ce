package stagerunner

import "judged/internal/sandbox"

// outcome captures the raw signals collected during one run, before they
// are folded into a StageResult's status tag.
type outcome struct {
	exitCode      *int
	signal        *string
	wallTimeMs    int64
	cpuTimeMs     int64
	memoryByte    int64
	outputTruncated bool
	oomKilled     bool
}

// classify applies the termination policy precedence named in the stage
// runner's contract: signal is preserved verbatim, then status is decided
// output-limit first, then wall-time, then CPU-time, then memory.
func classify(o outcome, limits sandbox.ResourceLimit) (status, message string) {
	switch {
	case o.outputTruncated:
		return sandbox.StatusOutputLimit, "output exceeded the configured cap"
	case limits.WallTimeMs > 0 && o.wallTimeMs >= limits.WallTimeMs:
		return sandbox.StatusTimeLimit, "wall time limit exceeded"
	case limits.CPUTimeMs > 0 && o.cpuTimeMs >= limits.CPUTimeMs:
		return sandbox.StatusTimeLimit, "cpu time limit exceeded"
	case o.oomKilled || (limits.MemoryMB > 0 && o.memoryByte >= limits.MemoryMB*1024*1024):
		return sandbox.StatusMemoryLimit, "memory limit exceeded"
	case o.signal != nil:
		return sandbox.StatusKilledBySignal, "terminated by signal " + *o.signal
	case o.exitCode != nil && *o.exitCode != 0:
		return sandbox.StatusRuntimeError, "non-zero exit code"
	default:
		return sandbox.StatusOK, ""
	}
}
