//go:build !linux

package sandbox

import "fmt"

func createCgroup(root, sessionID string) (string, error) {
	return "", fmt.Errorf("cgroup accounting is only supported on linux")
}

func applyCgroupLimits(cgroupPath string, limits ResourceLimit) error { return nil }

func addProcessToCgroup(cgroupPath string, pid int) error { return nil }

func killCgroup(cgroupPath string) error { return nil }

func removeCgroup(cgroupPath string) error { return nil }

func wasOomKilled(cgroupPath string) bool { return false }

func memoryPeakKB(cgroupPath string) int64 { return 0 }

func cgroupCPUTimeUsec(cgroupPath string) (int64, bool) { return 0, false }
