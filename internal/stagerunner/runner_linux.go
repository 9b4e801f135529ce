//go:build linux

package stagerunner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"judged/internal/logger"
	"judged/internal/sandbox"
)

const gracePeriod = 250 * time.Millisecond

type linuxRunner struct {
	cfg Config
}

func newRunner(cfg Config) Runner {
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.OutputCapByte <= 0 {
		cfg.OutputCapByte = 1024 * 1024
	}
	return &linuxRunner{cfg: cfg}
}

func (r *linuxRunner) Run(ctx context.Context, h *sandbox.Handle, argv []string, stdin []byte, limits sandbox.ResourceLimit, env []string, outputCapBytes int64) (sandbox.StageResult, error) {
	if outputCapBytes <= 0 {
		outputCapBytes = r.cfg.OutputCapByte
	}
	if h.CgroupPath != "" {
		if err := sandbox.ApplyCgroupLimits(h.CgroupPath, limits); err != nil {
			return sandbox.StageResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}

	stdinPath, stdoutPath, stderrPath, cleanup, err := stageIOFiles(h.RootPath, stdin)
	if err != nil {
		return sandbox.StageResult{}, fmt.Errorf("stage stage io files: %w", err)
	}
	defer cleanup()

	req := helperInitRequest{
		RunSpec: helperRunSpec{
			WorkDir:    h.RootPath,
			Cmd:        argv,
			Env:        env,
			StdinPath:  stdinPath,
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
			Limits:     toHelperLimits(limits),
		},
		Isolation: helperIsolationProfile{
			SeccompProfile: r.cfg.Isolation.SeccompProfile,
			DisableNetwork: r.cfg.Isolation.DisableNetwork,
		},
		EnableSeccomp: r.cfg.Isolation.SeccompProfile != "",
		EnableNs:      r.cfg.EnableNamespaces,
	}

	stdinPipe, err := jsonToPipe(req)
	if err != nil {
		return sandbox.StageResult{}, fmt.Errorf("encode helper request: %w", err)
	}
	defer stdinPipe.Close()

	cmd := exec.CommandContext(ctx, r.cfg.HelperPath)
	cmd.Stdin = stdinPipe
	cmd.SysProcAttr = buildSysProcAttr(r.cfg.Isolation, r.cfg.EnableNamespaces, h.UID, h.GID)

	var helperStderr []byte
	stderrBuf, err := os.CreateTemp(h.RootPath, "helper-stderr-*")
	if err == nil {
		cmd.Stderr = stderrBuf
		defer func() {
			helperStderr, _ = os.ReadFile(stderrBuf.Name())
			stderrBuf.Close()
			os.Remove(stderrBuf.Name())
		}()
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return sandbox.StageResult{}, fmt.Errorf("start sandbox helper: %w", err)
	}
	if h.CgroupPath != "" {
		if err := sandbox.AddProcessToCgroup(h.CgroupPath, cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go watchDeadline(ctx, cmd, limits.WallTimeMs, done, &timedOut)

	waitErr := cmd.Wait()
	close(done)
	wallTimeMs := time.Since(start).Milliseconds()

	cpuMs := cpuTimeMsFromState(cmd.ProcessState)
	memByte := memoryByteFromCgroupOrState(h.CgroupPath, cmd.ProcessState)
	oom := sandbox.WasOomKilled(h.CgroupPath)

	stdoutData, stdoutTrunc := readCapped(stdoutPath, outputCapBytes)
	stderrData, stderrTrunc := readCapped(stderrPath, outputCapBytes)

	var exitCode *int
	var signalName *string
	if cmd.ProcessState != nil {
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			s := ws.Signal().String()
			signalName = &s
		} else {
			code := cmd.ProcessState.ExitCode()
			exitCode = &code
		}
	}
	if timedOut.Load() && signalName == nil {
		s := syscall.SIGKILL.String()
		signalName = &s
		exitCode = nil
	}

	o := outcome{
		exitCode:        exitCode,
		signal:          signalName,
		wallTimeMs:      wallTimeMs,
		cpuTimeMs:       cpuMs,
		memoryByte:      memByte,
		outputTruncated: stdoutTrunc || stderrTrunc,
		oomKilled:       oom,
	}
	status, message := classify(o, limits)
	if _, isExitErr := waitErr.(*exec.ExitError); waitErr != nil && !isExitErr && signalName == nil && exitCode == nil {
		status, message = sandbox.StatusRuntimeError, waitErr.Error()
	}
	if len(helperStderr) > 0 && status == sandbox.StatusOK {
		logger.Warn(ctx, "sandbox helper stderr", zap.ByteString("stderr", helperStderr))
	}

	return sandbox.StageResult{
		Stdout:     stdoutData,
		Stderr:     stderrData,
		ExitCode:   exitCode,
		Signal:     signalName,
		WallTimeMs: wallTimeMs,
		CPUTimeMs:  cpuMs,
		MemoryByte: memByte,
		Status:     status,
		Message:    message,
	}, nil
}

func watchDeadline(ctx context.Context, cmd *exec.Cmd, wallLimitMs int64, done chan struct{}, timedOut *atomic.Bool) {
	var wallTimer <-chan time.Time
	if wallLimitMs > 0 {
		wallTimer = time.After(time.Duration(wallLimitMs) * time.Millisecond)
	}
	select {
	case <-done:
		return
	case <-ctx.Done():
	case <-wallTimer:
		timedOut.Store(true)
	}
	escalate(cmd, done)
}

// escalate sends a graceful termination signal first; if the child has not
// exited within the grace window it issues an unconditional kill to the
// sandbox's process group.
func escalate(cmd *exec.Cmd, done chan struct{}) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(gracePeriod):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func stageIOFiles(rootPath string, stdin []byte) (stdinPath, stdoutPath, stderrPath string, cleanup func(), err error) {
	stamp := time.Now().UnixNano()
	stdinPath = filepath.Join(rootPath, fmt.Sprintf("stdin-%d", stamp))
	stdoutPath = filepath.Join(rootPath, fmt.Sprintf("stdout-%d", stamp))
	stderrPath = filepath.Join(rootPath, fmt.Sprintf("stderr-%d", stamp))
	if err = os.WriteFile(stdinPath, stdin, 0640); err != nil {
		return "", "", "", func() {}, err
	}
	cleanup = func() {
		os.Remove(stdinPath)
		os.Remove(stdoutPath)
		os.Remove(stderrPath)
	}
	return stdinPath, stdoutPath, stderrPath, cleanup, nil
}

func jsonToPipe(req helperInitRequest) (io.ReadCloser, error) {
	reader, writer := io.Pipe()
	go func() {
		err := json.NewEncoder(writer).Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader, nil
}

// buildSysProcAttr maps container uid/gid 0 to the sandbox's leased host
// identity, so the child sees itself as root inside its own namespace
// while running as an unprivileged, per-session-distinct user on the
// host. This is what makes the identity pool an actual isolation unit
// rather than cosmetic bookkeeping.
func buildSysProcAttr(profile sandbox.IsolationProfile, enableNamespaces bool, uid, gid int) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	if !enableNamespaces {
		return attr
	}
	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUSER)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}}
	return attr
}

func cpuTimeMsFromState(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	utime := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
	stime := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
	return (utime + stime).Milliseconds()
}

func memoryByteFromCgroupOrState(cgroupPath string, state *os.ProcessState) int64 {
	if cgroupPath != "" {
		if kb := sandbox.MemoryPeakKB(cgroupPath); kb > 0 {
			return kb * 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss * 1024
	}
	return 0
}

func readCapped(path string, capBytes int64) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	truncated := info.Size() > capBytes
	file, err := os.Open(path)
	if err != nil {
		return "", truncated
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, capBytes))
	if err != nil {
		return "", truncated
	}
	return string(data), truncated
}

