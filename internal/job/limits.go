package job

import "judged/internal/sandbox"

// toResourceLimit converts a wire-unit LimitSet (ms, bytes) into the
// sandbox's effective unit set (ms, MB), clamped to maxima expressed in
// the same wire units. A maximum of 0 means unbounded. outputCapByte is
// threaded into OutputMB so the helper's RLIMIT_FSIZE actually bounds
// stdout/stderr instead of only truncating the post-hoc capped read.
func toResourceLimit(l, max LimitSet, pids, outputCapByte int64) sandbox.ResourceLimit {
	clamped := clampLimitSet(l, max)
	return sandbox.ResourceLimit{
		WallTimeMs: clamped.TimeoutMs,
		CPUTimeMs:  clamped.CPUTimeMs,
		MemoryMB:   bytesToMB(clamped.MemoryBytes),
		OutputMB:   bytesToMB(outputCapByte),
		PIDs:       pids,
	}
}

func clampLimitSet(l, max LimitSet) LimitSet {
	return LimitSet{
		TimeoutMs:   clampScalar(l.TimeoutMs, max.TimeoutMs),
		CPUTimeMs:   clampScalar(l.CPUTimeMs, max.CPUTimeMs),
		MemoryBytes: clampScalar(l.MemoryBytes, max.MemoryBytes),
	}
}

func clampScalar(value, max int64) int64 {
	if max > 0 && (value <= 0 || value > max) {
		return max
	}
	return value
}

// mergeOverride applies per-test overrides atop a job's base LimitSet;
// a zero field in override means "keep base".
func mergeOverride(base, override LimitSet) LimitSet {
	merged := base
	if override.TimeoutMs > 0 {
		merged.TimeoutMs = override.TimeoutMs
	}
	if override.CPUTimeMs > 0 {
		merged.CPUTimeMs = override.CPUTimeMs
	}
	if override.MemoryBytes > 0 {
		merged.MemoryBytes = override.MemoryBytes
	}
	return merged
}

func bytesToMB(b int64) int64 {
	if b <= 0 {
		return 0
	}
	mb := b / (1024 * 1024)
	if mb <= 0 {
		return 1
	}
	return mb
}
