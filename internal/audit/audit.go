// Package audit is an optional session audit sink: when configured with a
// MySQL DSN it records one row per completed session, with the compile
// output and a per-case status log zstd-compressed before storage.
package audit

import (
	"bytes"
	"context"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"judged/internal/common/db"
	"judged/internal/logger"
	"judged/pkg/apperrors"

	"go.uber.org/zap"
)

// CaseOutcome summarizes one run_test/run_batch case for the audit row.
type CaseOutcome struct {
	TestID     string
	Status     string
	ExitCode   *int
	WallTimeMs int64
	CPUTimeMs  int64
	MemoryByte int64
}

// SessionSummary is what a Session reports to the audit sink on close.
type SessionSummary struct {
	SessionID    string
	Language     string
	Version      string
	CloseCode    int
	CloseReason  string
	CompileOK    bool
	CompileStdout string
	CompileStderr string
	Cases        []CaseOutcome
}

// Sink records session summaries. A nil *Sink is valid and records nothing.
type Sink struct {
	conn *db.MySQL
	enc  *zstd.Encoder
}

// Open connects to dsn and ensures the audit table exists. An empty dsn
// disables the sink entirely; callers still get a usable, no-op *Sink.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	if dsn == "" {
		return &Sink{}, nil
	}
	conn, err := db.NewMySQL(dsn)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InternalServerError, "open audit database")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.InternalServerError, "build audit encoder")
	}
	s := &Sink{conn: conn, enc: enc}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS judge_session_audit (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		language VARCHAR(64) NOT NULL,
		version VARCHAR(64) NOT NULL,
		close_code INT NOT NULL,
		close_reason VARCHAR(255) NOT NULL,
		compile_ok TINYINT(1) NOT NULL,
		test_count INT NOT NULL,
		compile_log LONGBLOB,
		cases_log LONGBLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_session_id (session_id)
	) ENGINE=InnoDB`
	if _, err := s.conn.Exec(ctx, ddl); err != nil {
		return apperrors.Wrapf(err, apperrors.InternalServerError, "create audit table")
	}
	return nil
}

// Record persists one session summary. Failures are logged, never
// propagated: the audit sink must never fail a session on the client's
// behalf.
func (s *Sink) Record(ctx context.Context, summary SessionSummary) {
	if s == nil || s.conn == nil {
		return
	}
	compileLog := s.compress(summary.CompileStdout + "\n" + summary.CompileStderr)
	casesLog := s.compress(renderCases(summary.Cases))

	const insert = `INSERT INTO judge_session_audit
		(session_id, language, version, close_code, close_reason, compile_ok, test_count, compile_log, cases_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn.Exec(ctx, insert,
		summary.SessionID, summary.Language, summary.Version, summary.CloseCode, summary.CloseReason,
		summary.CompileOK, len(summary.Cases), compileLog, casesLog)
	if err != nil {
		logger.Warn(ctx, "record session audit failed", zap.String("session_id", summary.SessionID), zap.Error(err))
	}
}

func (s *Sink) compress(text string) []byte {
	if text == "" {
		return nil
	}
	return s.enc.EncodeAll([]byte(text), nil)
}

func renderCases(cases []CaseOutcome) string {
	var buf bytes.Buffer
	for _, c := range cases {
		exit := "-"
		if c.ExitCode != nil {
			exit = strconv.Itoa(*c.ExitCode)
		}
		buf.WriteString(c.TestID)
		buf.WriteString(" status=")
		buf.WriteString(c.Status)
		buf.WriteString(" exit=")
		buf.WriteString(exit)
		buf.WriteString(" wall_ms=")
		buf.WriteString(strconv.FormatInt(c.WallTimeMs, 10))
		buf.WriteString(" cpu_ms=")
		buf.WriteString(strconv.FormatInt(c.CPUTimeMs, 10))
		buf.WriteString(" mem_bytes=")
		buf.WriteString(strconv.FormatInt(c.MemoryByte, 10))
		buf.WriteString("\n")
	}
	return buf.String()
}
