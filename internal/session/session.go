// Package session is the Session Protocol (C4): the message-driven state
// machine over a duplex transport that sequences init -> compiled ->
// N x (run_test|run_batch) -> close -> done, enforcing legality and
// emitting errors/close codes.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"judged/internal/audit"
	"judged/internal/config"
	"judged/internal/job"
	"judged/internal/logger"
	"judged/internal/registry"
	"judged/internal/sandbox"
	"judged/internal/stagerunner"
	"judged/pkg/apperrors"
)

// initGrace is the recommended window a session has to send init before
// being closed 4001.
const initGrace = 5 * time.Second

type state int

const (
	stateOpening state = iota
	stateCompiledOk
	stateClosed
)

// Session drives one client connection end to end.
type Session struct {
	id        string
	transport Transport
	registry  *registry.Registry
	prov      *sandbox.Provisioner
	runner    stagerunner.Runner
	cfg       config.Config
	audit     *audit.Sink

	mu              sync.Mutex
	state           state
	job             *job.Job
	testCounter     int64
	testCount       int
	totalWallTimeMs int64
	cleanupOnce     sync.Once

	language      string
	version       string
	closeCode     int
	closeReason   string
	compileOK     bool
	compileStdout string
	compileStderr string
	cases         []audit.CaseOutcome
}

// New builds a Session bound to one freshly-accepted transport. sink may
// be nil, or a *audit.Sink opened with an empty DSN: either way Record is
// a no-op.
func New(id string, transport Transport, reg *registry.Registry, prov *sandbox.Provisioner, runner stagerunner.Runner, cfg config.Config, sink *audit.Sink) *Session {
	return &Session{
		id:        id,
		transport: transport,
		registry:  reg,
		prov:      prov,
		runner:    runner,
		cfg:       cfg,
		audit:     sink,
		state:     stateOpening,
	}
}

// Serve drives the session's full lifecycle until closure, either
// explicit or due to transport loss. It always invokes cleanup exactly
// once before returning.
func (s *Session) Serve(ctx context.Context) {
	ctx = logger.WithSessionID(ctx, s.id)
	defer s.cleanup(ctx)

	initCtx, cancel := context.WithTimeout(ctx, initGrace)
	first, err := s.transport.ReadMessage(initCtx)
	cancel()
	if err != nil {
		s.closeSession(CloseInitTimeout, "init timeout")
		return
	}

	if !s.handleFirstMessage(ctx, first) {
		return
	}

	for {
		raw, err := s.transport.ReadMessage(ctx)
		if err != nil {
			logger.Info(ctx, "transport lost", zap.Error(err))
			return
		}
		if !s.handleMessage(ctx, raw) {
			return
		}
	}
}

// handleFirstMessage requires the first frame to be init. Any other type,
// recognized or not, closes 4003 without an outbound frame; a frame that
// is not valid JSON gets one error frame and then closes 4003.
func (s *Session) handleFirstMessage(ctx context.Context, raw []byte) bool {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(ctx, "", "malformed message")
		s.closeSession(CloseNotYetInitialized, "not yet initialized")
		return false
	}
	if env.Type != "init" {
		s.closeSession(CloseNotYetInitialized, "not yet initialized")
		return false
	}
	return s.handleInit(ctx, raw)
}

func (s *Session) handleMessage(ctx context.Context, raw []byte) bool {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError(ctx, "", "malformed message")
		return true
	}

	switch env.Type {
	case "init":
		s.closeSession(CloseAlreadyInitialized, "already initialized")
		return false
	case "run_test":
		return s.handleRunTest(ctx, raw)
	case "run_batch":
		return s.handleRunBatch(ctx, raw)
	case "close":
		s.handleClose(ctx)
		return false
	default:
		s.sendError(ctx, "", fmt.Sprintf("Unknown message type: %s", env.Type))
		return true
	}
}

func (s *Session) handleInit(ctx context.Context, raw []byte) bool {
	var msg initMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(ctx, "", "malformed init message")
		s.closeSession(CloseNotifiedError, "malformed init")
		return false
	}

	rt, files, compileLimits, runLimits, verr := s.validateInit(msg)
	if verr != nil {
		s.sendError(ctx, "", verr.Error())
		s.closeSession(CloseNotifiedError, "init validation failed")
		return false
	}

	s.mu.Lock()
	s.language, s.version = rt.Language, rt.Version
	s.mu.Unlock()

	j := job.New(s.id, rt, files, compileLimits, runLimits, s.cfg.OutputMaxSize, s.cfg.MaxProcessCount, s.prov, s.runner)

	if err := j.Prime(ctx); err != nil {
		s.sendError(ctx, "", err.Error())
		s.closeSession(CloseNotifiedError, "prime failed")
		return false
	}

	s.send(ctx, readyMsg{Type: "ready", Language: rt.Language, Version: rt.Version, Compiled: rt.Compiled})

	outcome, err := j.CompileOnly(ctx)
	if err != nil {
		s.sendError(ctx, "", err.Error())
		j.Cleanup(ctx)
		s.closeSession(CloseNotifiedError, "compile failed to run")
		return false
	}

	s.mu.Lock()
	s.compileOK, s.compileStdout, s.compileStderr = outcome.Success, outcome.Stdout, outcome.Stderr
	s.mu.Unlock()

	var errPtr *string
	if outcome.Error != "" {
		errPtr = &outcome.Error
	}
	s.send(ctx, compiledMsg{
		Type:    "compiled",
		Success: outcome.Success,
		Time:    outcome.TimeMs,
		Stdout:  outcome.Stdout,
		Stderr:  outcome.Stderr,
		Error:   errPtr,
	})

	if !outcome.Success {
		j.Cleanup(ctx)
		s.closeSession(CloseCompileFailed, "compile failed")
		return false
	}

	s.mu.Lock()
	s.job = j
	s.state = stateCompiledOk
	s.mu.Unlock()
	return true
}

func (s *Session) handleRunTest(ctx context.Context, raw []byte) bool {
	s.mu.Lock()
	ready := s.state == stateCompiledOk
	j := s.job
	s.mu.Unlock()
	if !ready {
		s.closeSession(CloseNotYetInitialized, "not yet initialized")
		return false
	}

	var msg runTestMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(ctx, "", "malformed run_test message")
		return true
	}

	testID := s.assignTestID(msg.TestID)
	overrides := job.LimitSet{
		TimeoutMs:   derefInt64(msg.TimeoutMs),
		CPUTimeMs:   derefInt64(msg.CPUTimeMs),
		MemoryBytes: derefInt64(msg.MemoryLimit),
	}

	res, err := j.RunTest(ctx, []byte(msg.Stdin), overrides)
	if err != nil {
		s.sendError(ctx, testID, err.Error())
		return true
	}

	s.recordTest(res.WallTimeMs)
	s.recordCase(testID, res)
	out := toResultMsg(testID, res)
	out.Type = "result"
	s.send(ctx, out)
	return true
}

func (s *Session) handleRunBatch(ctx context.Context, raw []byte) bool {
	s.mu.Lock()
	ready := s.state == stateCompiledOk
	j := s.job
	s.mu.Unlock()
	if !ready {
		s.closeSession(CloseNotYetInitialized, "not yet initialized")
		return false
	}

	var msg runBatchMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(ctx, "", "malformed run_batch message")
		return true
	}

	cases := make([]job.BatchCase, 0, len(msg.TestCases))
	for _, c := range msg.TestCases {
		cases = append(cases, job.BatchCase{TestID: s.assignTestID(c.TestID), Stdin: []byte(c.Stdin)})
	}
	overrides := job.LimitSet{
		TimeoutMs:   derefInt64(msg.TimeoutMs),
		CPUTimeMs:   derefInt64(msg.CPUTimeMs),
		MemoryBytes: derefInt64(msg.MemoryLimit),
	}

	out, err := j.RunBatched(ctx, cases, overrides)
	if err != nil {
		s.sendError(ctx, "", err.Error())
		return true
	}

	s.recordTest(out.TotalTimeMs)
	results := make([]resultMsg, 0, len(out.Results))
	for _, c := range out.Results {
		results = append(results, toResultMsg(c.TestID, c.Result))
		s.recordCase(c.TestID, c.Result)
	}
	s.send(ctx, batchResultMsg{
		Type:         "batch_result",
		Results:      results,
		TotalTests:   out.TotalTests,
		TotalTime:    out.TotalTimeMs,
		TotalCPUTime: out.TotalCPUTimeMs,
		Memory:       out.MemoryByte,
		Success:      out.Success,
		Stderr:       out.Stderr,
	})
	return true
}

func (s *Session) handleClose(ctx context.Context) {
	s.mu.Lock()
	testCount := s.testCount
	totalTime := s.totalWallTimeMs
	s.mu.Unlock()
	s.send(ctx, doneMsg{Type: "done", TotalTests: testCount, TotalTime: totalTime})
	s.closeSession(CloseSessionCompleted, "session completed")
}

func (s *Session) recordTest(wallTimeMs int64) {
	s.mu.Lock()
	s.testCount++
	s.totalWallTimeMs += wallTimeMs
	s.mu.Unlock()
}

func (s *Session) recordCase(testID string, res sandbox.StageResult) {
	s.mu.Lock()
	s.cases = append(s.cases, audit.CaseOutcome{
		TestID:     testID,
		Status:     string(res.Status),
		ExitCode:   res.ExitCode,
		WallTimeMs: res.WallTimeMs,
		CPUTimeMs:  res.CPUTimeMs,
		MemoryByte: res.MemoryByte,
	})
	s.mu.Unlock()
}

// assignTestID echoes a client-supplied id verbatim, or assigns the
// session's monotonically increasing counter, starting at 1, when absent.
func (s *Session) assignTestID(clientID string) string {
	if clientID != "" {
		return clientID
	}
	s.mu.Lock()
	s.testCounter++
	id := s.testCounter
	s.mu.Unlock()
	return strconv.FormatInt(id, 10)
}

func (s *Session) validateInit(msg initMsg) (registry.Descriptor, []job.SourceFile, job.LimitSet, job.LimitSet, error) {
	if msg.Language == "" {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, apperrors.ValidationFailure("language", "must be a non-empty string")
	}
	if msg.Version == "" {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, apperrors.ValidationFailure("version", "must be a non-empty string")
	}
	if len(msg.Files) == 0 {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, apperrors.ValidationFailure("files", "must be a non-empty list")
	}

	hasUTF8 := false
	files := make([]job.SourceFile, 0, len(msg.Files))
	for i, f := range msg.Files {
		if f.Content == "" {
			return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, apperrors.ValidationFailure(fmt.Sprintf("files[%d].content", i), "is required")
		}
		enc := job.Encoding(f.Encoding)
		if enc == "" {
			enc = job.EncodingUTF8
		}
		if enc == job.EncodingUTF8 {
			hasUTF8 = true
		}
		files = append(files, job.SourceFile{Name: f.Name, Content: f.Content, Encoding: enc})
	}
	if msg.Language != "file" && !hasUTF8 {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, apperrors.ValidationFailure("files", "at least one file must use utf8 encoding")
	}

	rt, err := s.registry.Resolve(msg.Language, msg.Version)
	if err != nil {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, err
	}

	compileLimits, err := validateLimit(msg.CompileLimit, s.cfg.Compile)
	if err != nil {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, err
	}
	runLimits, err := validateLimit(msg.RunLimit, s.cfg.Run)
	if err != nil {
		return registry.Descriptor{}, nil, job.LimitSet{}, job.LimitSet{}, err
	}

	return rt, files, compileLimits, runLimits, nil
}

func validateLimit(m *limitMsg, max config.Limits) (job.LimitSet, error) {
	if m == nil {
		return job.LimitSet{}, nil
	}
	l := job.LimitSet{
		TimeoutMs:   derefInt64(m.TimeoutMs),
		CPUTimeMs:   derefInt64(m.CPUTimeMs),
		MemoryBytes: derefInt64(m.MemoryBytes),
	}
	if l.TimeoutMs < 0 || l.CPUTimeMs < 0 || l.MemoryBytes < 0 {
		return job.LimitSet{}, apperrors.ValidationFailure("limit", "must be non-negative")
	}
	if max.TimeoutMs > 0 && l.TimeoutMs > max.TimeoutMs {
		return job.LimitSet{}, apperrors.ValidationFailure("timeout_ms", "exceeds the configured maximum")
	}
	if max.CPUTimeMs > 0 && l.CPUTimeMs > max.CPUTimeMs {
		return job.LimitSet{}, apperrors.ValidationFailure("cpu_time_ms", "exceeds the configured maximum")
	}
	if max.MemoryBytes > 0 && l.MemoryBytes > max.MemoryBytes {
		return job.LimitSet{}, apperrors.ValidationFailure("memory_bytes", "exceeds the configured maximum")
	}
	return l, nil
}

func (s *Session) send(ctx context.Context, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error(ctx, "marshal outbound message failed", zap.Error(err))
		return
	}
	if err := s.transport.WriteMessage(ctx, data); err != nil {
		logger.Info(ctx, "write outbound message failed", zap.Error(err))
	}
}

func (s *Session) sendError(ctx context.Context, testID, message string) {
	s.send(ctx, errorMsg{Type: "error", TestID: testID, Message: message})
}

func (s *Session) closeSession(code int, reason string) {
	s.mu.Lock()
	s.state = stateClosed
	s.closeCode, s.closeReason = code, reason
	s.mu.Unlock()
	_ = s.transport.Close(code, reason)
}

func (s *Session) cleanup(ctx context.Context) {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		j := s.job
		s.state = stateClosed
		summary := audit.SessionSummary{
			SessionID:     s.id,
			Language:      s.language,
			Version:       s.version,
			CloseCode:     s.closeCode,
			CloseReason:   s.closeReason,
			CompileOK:     s.compileOK,
			CompileStdout: s.compileStdout,
			CompileStderr: s.compileStderr,
			Cases:         s.cases,
		}
		s.mu.Unlock()
		if j != nil {
			j.Cleanup(ctx)
		}
		s.audit.Record(ctx, summary)
	})
}

func toResultMsg(testID string, res sandbox.StageResult) resultMsg {
	var message string
	if res.Status != sandbox.StatusOK {
		message = res.Message
	}
	return resultMsg{
		TestID:  testID,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		Code:    res.ExitCode,
		Signal:  res.Signal,
		Message: message,
		Status:  res.Status,
		Time:    res.WallTimeMs,
		CPUTime: res.CPUTimeMs,
		Memory:  res.MemoryByte,
	}
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
