package sandbox

// ApplyCgroupLimits pushes a fresh ResourceLimit onto an existing cgroup,
// re-applied at the start of every stage since compile and run limits
// differ within the same session.
func ApplyCgroupLimits(cgroupPath string, limits ResourceLimit) error {
	return applyCgroupLimits(cgroupPath, limits)
}

// AddProcessToCgroup moves pid into the sandbox's cgroup.
func AddProcessToCgroup(cgroupPath string, pid int) error {
	return addProcessToCgroup(cgroupPath, pid)
}

// WasOomKilled reports whether the kernel OOM-killed anything in this
// cgroup since it was created.
func WasOomKilled(cgroupPath string) bool {
	return wasOomKilled(cgroupPath)
}

// MemoryPeakKB reads the cgroup's lifetime peak memory usage in KB.
func MemoryPeakKB(cgroupPath string) int64 {
	return memoryPeakKB(cgroupPath)
}

// CgroupCPUTimeUsec reads cumulative CPU time charged to the cgroup.
func CgroupCPUTimeUsec(cgroupPath string) (int64, bool) {
	return cgroupCPUTimeUsec(cgroupPath)
}
