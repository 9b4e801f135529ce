package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"judged/internal/config"
	"judged/internal/registry"
	"judged/internal/sandbox"
	"judged/internal/session"
	"judged/internal/stagerunner"
)

// fakeTransport feeds a scripted sequence of inbound frames and records
// every outbound frame and close call, standing in for a real websocket.
type fakeTransport struct {
	inbound  chan []byte
	outbound [][]byte
	closed   bool
	closeCode int
	closeReason string
}

func newFakeTransport(frames ...interface{}) *fakeTransport {
	t := &fakeTransport{inbound: make(chan []byte, len(frames)+1)}
	for _, f := range frames {
		data, _ := json.Marshal(f)
		t.inbound <- data
	}
	return t
}

func (t *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.outbound = append(t.outbound, data)
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.closed = true
	t.closeCode = code
	t.closeReason = reason
	return nil
}

func (t *fakeTransport) typeOf(i int) string {
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(t.outbound[i], &env)
	return env.Type
}

// fakeRunner always reports a clean zero-exit run, regardless of argv.
type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, h *sandbox.Handle, argv []string, stdin []byte, limits sandbox.ResourceLimit, env []string, outputCapBytes int64) (sandbox.StageResult, error) {
	zero := 0
	return sandbox.StageResult{ExitCode: &zero, Status: sandbox.StatusOK, WallTimeMs: 1}, nil
}

// failingCompileRunner reports a nonzero exit for every invocation, as a
// compiled runtime's compile step would when the submitted source fails
// to build.
type failingCompileRunner struct{}

func (failingCompileRunner) Run(ctx context.Context, h *sandbox.Handle, argv []string, stdin []byte, limits sandbox.ResourceLimit, env []string, outputCapBytes int64) (sandbox.StageResult, error) {
	one := 1
	return sandbox.StageResult{ExitCode: &one, Status: sandbox.StatusRuntimeError, Stderr: "syntax error", Message: "syntax error"}, nil
}

func newTestSession(t *testing.T, transport *fakeTransport) *session.Session {
	t.Helper()
	reg := registry.New()
	reg.Register(registry.Descriptor{Language: "python", Version: "3.11", Compiled: false, RunCmd: "python3 {src}", SourceFile: "main.py"})
	prov := sandbox.NewProvisioner(sandbox.Config{ScratchRoot: t.TempDir(), PoolSize: 2, BaseUID: 8000})
	return session.New("sess-test", transport, reg, prov, fakeRunner{}, config.Config{}, nil)
}

func initFrame() map[string]interface{} {
	return map[string]interface{}{
		"type":     "init",
		"language": "python",
		"version":  "3.11",
		"files":    []map[string]string{{"content": "print(1)"}},
	}
}

// newCompiledTestSession wires a compiled runtime (so CompileOnly actually
// invokes the runner instead of succeeding synthetically) against the
// given runner.
func newCompiledTestSession(t *testing.T, transport *fakeTransport, runner stagerunner.Runner) *session.Session {
	t.Helper()
	reg := registry.New()
	reg.Register(registry.Descriptor{
		Language: "c", Version: "11", Compiled: true,
		CompileCmd: "gcc {src} -o {bin}", RunCmd: "{bin}", SourceFile: "main.c",
	})
	prov := sandbox.NewProvisioner(sandbox.Config{ScratchRoot: t.TempDir(), PoolSize: 2, BaseUID: 8000})
	return session.New("sess-test", transport, reg, prov, runner, config.Config{}, nil)
}

func compiledInitFrame() map[string]interface{} {
	return map[string]interface{}{
		"type":     "init",
		"language": "c",
		"version":  "11",
		"files":    []map[string]string{{"content": "int main() { return 1; }"}},
	}
}

func TestSessionHappyPathCompilesAndRunsATest(t *testing.T) {
	transport := newFakeTransport(
		initFrame(),
		map[string]interface{}{"type": "run_test", "stdin": "1\n", "test_id": "t1"},
		map[string]interface{}{"type": "close"},
	)
	sess := newTestSession(t, transport)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish in time")
	}

	if len(transport.outbound) < 4 {
		t.Fatalf("got %d outbound frames, want at least ready/compiled/result/done", len(transport.outbound))
	}
	if transport.typeOf(0) != "ready" {
		t.Fatalf("got first frame %q, want ready", transport.typeOf(0))
	}
	if transport.typeOf(1) != "compiled" {
		t.Fatalf("got second frame %q, want compiled", transport.typeOf(1))
	}
	if transport.typeOf(2) != "result" {
		t.Fatalf("got third frame %q, want result", transport.typeOf(2))
	}
	if !transport.closed || transport.closeCode != session.CloseSessionCompleted {
		t.Fatalf("got closed=%v code=%d, want CloseSessionCompleted", transport.closed, transport.closeCode)
	}
}

func TestSessionRejectsRunTestBeforeInit(t *testing.T) {
	transport := newFakeTransport(map[string]interface{}{"type": "run_test", "stdin": "x"})
	sess := newTestSession(t, transport)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish in time")
	}

	if !transport.closed || transport.closeCode != session.CloseNotYetInitialized {
		t.Fatalf("got closed=%v code=%d, want CloseNotYetInitialized", transport.closed, transport.closeCode)
	}
}

func TestSessionRejectsDoubleInit(t *testing.T) {
	transport := newFakeTransport(initFrame(), initFrame())
	sess := newTestSession(t, transport)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish in time")
	}

	if !transport.closed || transport.closeCode != session.CloseAlreadyInitialized {
		t.Fatalf("got closed=%v code=%d, want CloseAlreadyInitialized", transport.closed, transport.closeCode)
	}
}

func TestSessionAssignsMonotonicTestIDsWhenOmitted(t *testing.T) {
	transport := newFakeTransport(
		initFrame(),
		map[string]interface{}{"type": "run_test", "stdin": "a"},
		map[string]interface{}{"type": "run_test", "stdin": "b"},
		map[string]interface{}{"type": "close"},
	)
	sess := newTestSession(t, transport)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish in time")
	}

	var first, second struct {
		TestID string `json:"test_id"`
	}
	_ = json.Unmarshal(transport.outbound[2], &first)
	_ = json.Unmarshal(transport.outbound[3], &second)
	if first.TestID != "1" || second.TestID != "2" {
		t.Fatalf("got test ids %q, %q, want 1, 2", first.TestID, second.TestID)
	}
}

func TestSessionCompileFailureClosesWithCode4006(t *testing.T) {
	transport := newFakeTransport(compiledInitFrame())
	sess := newCompiledTestSession(t, transport, failingCompileRunner{})

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish in time")
	}

	if len(transport.outbound) < 2 {
		t.Fatalf("got %d outbound frames, want at least ready/compiled", len(transport.outbound))
	}
	if transport.typeOf(1) != "compiled" {
		t.Fatalf("got second frame %q, want compiled", transport.typeOf(1))
	}
	var compiled struct {
		Success bool `json:"success"`
	}
	_ = json.Unmarshal(transport.outbound[1], &compiled)
	if compiled.Success {
		t.Fatalf("expected compiled.success=false for a failing compile")
	}
	if !transport.closed || transport.closeCode != session.CloseCompileFailed {
		t.Fatalf("got closed=%v code=%d, want CloseCompileFailed", transport.closed, transport.closeCode)
	}
}

func TestSessionRunBatchHappyPath(t *testing.T) {
	transport := newFakeTransport(
		initFrame(),
		map[string]interface{}{
			"type": "run_batch",
			"test_cases": []map[string]string{
				{"test_id": "a", "stdin": "1\n"},
				{"test_id": "b", "stdin": "2\n"},
			},
		},
		map[string]interface{}{"type": "close"},
	)
	sess := newTestSession(t, transport)

	done := make(chan struct{})
	go func() {
		sess.Serve(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish in time")
	}

	if len(transport.outbound) < 3 {
		t.Fatalf("got %d outbound frames, want at least ready/compiled/batch_result", len(transport.outbound))
	}
	if transport.typeOf(2) != "batch_result" {
		t.Fatalf("got third frame %q, want batch_result", transport.typeOf(2))
	}
	var batch struct {
		TotalTests int  `json:"total_tests"`
		Success    bool `json:"success"`
		Results    []struct {
			TestID string `json:"test_id"`
		} `json:"results"`
	}
	_ = json.Unmarshal(transport.outbound[2], &batch)
	if batch.TotalTests != 2 || !batch.Success {
		t.Fatalf("got %+v, want 2 successful tests", batch)
	}
	if len(batch.Results) != 2 || batch.Results[0].TestID != "a" || batch.Results[1].TestID != "b" {
		t.Fatalf("got results %+v, want test ids a, b in order", batch.Results)
	}
	if !transport.closed || transport.closeCode != session.CloseSessionCompleted {
		t.Fatalf("got closed=%v code=%d, want CloseSessionCompleted", transport.closed, transport.closeCode)
	}
}
