package job

import (
	"context"
	"sync"

	"judged/internal/registry"
	"judged/internal/sandbox"
	"judged/internal/stagerunner"
	"judged/pkg/apperrors"
)

// Job is the exclusive owner of one SandboxHandle for the duration of one
// compile+run lifecycle.
type Job struct {
	mu sync.Mutex

	id            string
	runtime       registry.Descriptor
	files         []SourceFile
	compileLimits LimitSet
	runLimits     LimitSet
	outputCapByte int64
	pids          int64

	provisioner *sandbox.Provisioner
	runner      stagerunner.Runner

	state  State
	handle *sandbox.Handle
}

// New builds a Job in state New. It performs no I/O.
func New(id string, runtime registry.Descriptor, files []SourceFile, compileLimits, runLimits LimitSet, outputCapByte, pids int64, provisioner *sandbox.Provisioner, runner stagerunner.Runner) *Job {
	return &Job{
		id:            id,
		runtime:       runtime,
		files:         files,
		compileLimits: compileLimits,
		runLimits:     runLimits,
		outputCapByte: outputCapByte,
		pids:          pids,
		provisioner:   provisioner,
		runner:        runner,
		state:         StateNew,
	}
}

// State reports the job's current lifecycle node.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Prime transitions New -> Primed: acquires a sandbox and materializes
// every source file into it. On any failure the job transitions to
// Failed and the sandbox, if acquired, is released.
func (j *Job) Prime(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateNew {
		return apperrors.New(apperrors.ProtocolError).WithMessage("prime called outside state New")
	}

	handle, err := j.provisioner.Acquire(ctx, j.id)
	if err != nil {
		j.state = StateFailed
		return err
	}

	if err := materialize(handle.RootPath, j.files, j.runtime.SourceFile); err != nil {
		j.provisioner.Release(ctx, handle)
		j.state = StateFailed
		return err
	}

	j.handle = handle
	j.state = StatePrimed
	return nil
}

// CompileOnly transitions Primed -> Compiled|Failed. Uncompiled runtimes
// succeed synthetically without invoking the stage runner.
func (j *Job) CompileOnly(ctx context.Context) (CompileOutcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePrimed {
		return CompileOutcome{}, apperrors.New(apperrors.ProtocolError).WithMessage("compile called outside state Primed")
	}

	if !j.runtime.Compiled {
		j.state = StateCompiled
		return CompileOutcome{Success: true}, nil
	}

	argv, err := buildCommand(j.runtime.CompileCmd, j.runtime)
	if err != nil {
		j.state = StateFailed
		return CompileOutcome{}, err
	}

	limits := toResourceLimit(j.compileLimits, LimitSet{
		TimeoutMs:   j.runtime.Compile.TimeoutMs,
		CPUTimeMs:   j.runtime.Compile.CPUTimeMs,
		MemoryBytes: j.runtime.Compile.MemoryBytes,
	}, j.pids, j.outputCapByte)

	res, err := j.runner.Run(ctx, j.handle, argv, nil, limits, j.runtime.Env, j.outputCapByte)
	if err != nil {
		j.state = StateFailed
		return CompileOutcome{}, apperrors.Wrap(err, apperrors.StageFailure)
	}

	success := res.ExitCode != nil && *res.ExitCode == 0 && res.Signal == nil
	outcome := CompileOutcome{
		Success: success,
		TimeMs:  res.WallTimeMs,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
	}
	if !success {
		outcome.Error = res.Message
		j.state = StateFailed
		return outcome, nil
	}
	j.state = StateCompiled
	return outcome, nil
}

// RunTest requires state Compiled. It applies per-test overrides atop
// the job's run LimitSet, clamped to the runtime's configured maxima,
// and executes the run command with fresh stdin in the sandbox root.
// Nothing in the sandbox is reset between calls: files an earlier test
// wrote there, including under tmp, are still present for later tests.
func (j *Job) RunTest(ctx context.Context, stdin []byte, overrides LimitSet) (sandbox.StageResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateCompiled {
		return sandbox.StageResult{}, apperrors.New(apperrors.ProtocolError).WithMessage("run_test called outside state Compiled")
	}

	argv, err := buildCommand(j.runtime.RunCmd, j.runtime)
	if err != nil {
		return sandbox.StageResult{}, err
	}

	effective := mergeOverride(j.runLimits, overrides)
	limits := toResourceLimit(effective, LimitSet{
		TimeoutMs:   j.runtime.Run.TimeoutMs,
		CPUTimeMs:   j.runtime.Run.CPUTimeMs,
		MemoryBytes: j.runtime.Run.MemoryBytes,
	}, j.pids, j.outputCapByte)

	return j.runner.Run(ctx, j.handle, argv, stdin, limits, j.runtime.Env, j.outputCapByte)
}

// RunBatched runs every case through RunTest in sequence and aggregates
// the results into one reply. The case list must be non-empty.
func (j *Job) RunBatched(ctx context.Context, cases []BatchCase, overrides LimitSet) (BatchResult, error) {
	if len(cases) == 0 {
		return BatchResult{}, apperrors.New(apperrors.ValidationError).WithMessage("run_batch requires a non-empty case list")
	}

	out := BatchResult{Results: make([]CaseResult, 0, len(cases)), Success: true}
	for _, c := range cases {
		res, err := j.RunTest(ctx, c.Stdin, overrides)
		if err != nil {
			return BatchResult{}, err
		}
		out.Results = append(out.Results, CaseResult{TestID: c.TestID, Result: res})
		out.TotalTimeMs += res.WallTimeMs
		out.TotalCPUTimeMs += res.CPUTimeMs
		if res.MemoryByte > out.MemoryByte {
			out.MemoryByte = res.MemoryByte
		}
		if res.ExitCode == nil || *res.ExitCode != 0 || res.Signal != nil {
			out.Success = false
		}
		if out.Stderr == "" && res.Stderr != "" {
			out.Stderr = res.Stderr
		}
	}
	out.TotalTests = len(cases)
	return out, nil
}

// Cleanup is idempotent and safe from any state: it releases the
// sandbox, if any, and transitions to Closed.
func (j *Job) Cleanup(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateClosed {
		return
	}
	if j.handle != nil {
		j.provisioner.Release(ctx, j.handle)
		j.handle = nil
	}
	j.state = StateClosed
}
