package job_test

import (
	"context"
	"testing"

	"judged/internal/job"
	"judged/internal/registry"
	"judged/internal/sandbox"
)

// fakeRunner lets tests script the StageResult returned by each Run call
// without needing a real sandbox-init helper.
type fakeRunner struct {
	results []sandbox.StageResult
	calls   int
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, h *sandbox.Handle, argv []string, stdin []byte, limits sandbox.ResourceLimit, env []string, outputCapBytes int64) (sandbox.StageResult, error) {
	if f.err != nil {
		return sandbox.StageResult{}, f.err
	}
	res := f.results[f.calls%len(f.results)]
	f.calls++
	return res, nil
}

func zeroExit() sandbox.StageResult {
	zero := 0
	return sandbox.StageResult{ExitCode: &zero, Status: sandbox.StatusOK}
}

func newProvisioner(t *testing.T) *sandbox.Provisioner {
	t.Helper()
	return sandbox.NewProvisioner(sandbox.Config{ScratchRoot: t.TempDir(), PoolSize: 1, BaseUID: 7000})
}

func interpretedDescriptor() registry.Descriptor {
	return registry.Descriptor{Language: "python", Version: "3.11", Compiled: false, RunCmd: "python3 {src}", SourceFile: "main.py"}
}

func TestJobLifecycleInterpretedSucceeds(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.StageResult{zeroExit()}}
	j := job.New("sess-1", interpretedDescriptor(), []job.SourceFile{{Content: "print(1)"}}, job.LimitSet{}, job.LimitSet{}, 1024, 16, newProvisioner(t), runner)

	if err := j.Prime(context.Background()); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
	if j.State() != job.StatePrimed {
		t.Fatalf("got state %v, want Primed", j.State())
	}

	outcome, err := j.CompileOnly(context.Background())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected synthetic compile success for an interpreted runtime")
	}
	if j.State() != job.StateCompiled {
		t.Fatalf("got state %v, want Compiled", j.State())
	}

	res, err := j.RunTest(context.Background(), []byte("1\n"), job.LimitSet{})
	if err != nil {
		t.Fatalf("run_test failed: %v", err)
	}
	if res.Status != sandbox.StatusOK {
		t.Fatalf("got status %q, want OK", res.Status)
	}

	j.Cleanup(context.Background())
	if j.State() != job.StateClosed {
		t.Fatalf("got state %v, want Closed", j.State())
	}
}

func TestJobRunTestRejectedBeforeCompile(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.StageResult{zeroExit()}}
	j := job.New("sess-1", interpretedDescriptor(), []job.SourceFile{{Content: "print(1)"}}, job.LimitSet{}, job.LimitSet{}, 1024, 16, newProvisioner(t), runner)

	if _, err := j.RunTest(context.Background(), nil, job.LimitSet{}); err == nil {
		t.Fatalf("expected run_test to be rejected before compile")
	}
}

func TestJobRunBatchedAggregatesAndReportsFailure(t *testing.T) {
	exit1 := 1
	failing := sandbox.StageResult{ExitCode: &exit1, Status: sandbox.StatusRuntimeError, WallTimeMs: 5}
	runner := &fakeRunner{results: []sandbox.StageResult{zeroExit(), failing}}
	j := job.New("sess-1", interpretedDescriptor(), []job.SourceFile{{Content: "print(1)"}}, job.LimitSet{}, job.LimitSet{}, 1024, 16, newProvisioner(t), runner)

	if err := j.Prime(context.Background()); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
	if _, err := j.CompileOnly(context.Background()); err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	out, err := j.RunBatched(context.Background(), []job.BatchCase{{TestID: "1", Stdin: []byte("a")}, {TestID: "2", Stdin: []byte("b")}}, job.LimitSet{})
	if err != nil {
		t.Fatalf("run_batch failed: %v", err)
	}
	if out.TotalTests != 2 {
		t.Fatalf("got %d total tests, want 2", out.TotalTests)
	}
	if out.Success {
		t.Fatalf("expected overall success to be false when one case fails")
	}
}

func TestJobCleanupIsIdempotent(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.StageResult{zeroExit()}}
	j := job.New("sess-1", interpretedDescriptor(), []job.SourceFile{{Content: "print(1)"}}, job.LimitSet{}, job.LimitSet{}, 1024, 16, newProvisioner(t), runner)

	if err := j.Prime(context.Background()); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
	j.Cleanup(context.Background())
	j.Cleanup(context.Background())
	if j.State() != job.StateClosed {
		t.Fatalf("got state %v, want Closed", j.State())
	}
}
