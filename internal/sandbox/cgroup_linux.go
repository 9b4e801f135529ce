//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func createCgroup(root, sessionID string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("cgroup root is required")
	}
	path := filepath.Join(root, sessionID)
	if err := os.MkdirAll(path, 0750); err != nil {
		return "", fmt.Errorf("create cgroup path: %w", err)
	}
	return path, nil
}

func applyCgroupLimits(cgroupPath string, limits ResourceLimit) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	memValue := "max"
	if limits.MemoryMB > 0 {
		memValue = strconv.FormatInt(limits.MemoryMB*1024*1024, 10)
	}
	if err := writeCgroupValue(cgroupPath, "memory.max", memValue); err != nil {
		return err
	}
	return writeCgroupValue(cgroupPath, "cpu.max", "max 100000")
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func removeCgroup(cgroupPath string) error {
	if cgroupPath == "" {
		return nil
	}
	return os.RemoveAll(cgroupPath)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		val, _ := strconv.ParseInt(fields[1], 10, 64)
		return val > 0
	}
	return false
}

func memoryPeakKB(cgroupPath string) int64 {
	val, err := readCgroupInt(cgroupPath, "memory.peak")
	if err != nil {
		return 0
	}
	return val / 1024
}

func cgroupCPUTimeUsec(cgroupPath string) (int64, bool) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, "cpu.stat"))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "usage_usec" {
			continue
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return val, true
	}
	return 0, false
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640)
}
