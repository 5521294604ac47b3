package logsql_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/lithictech/appydays/loggable"
	"github.com/lithictech/appydays/loggable/logsql"
)

type decodedRecord struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Exception map[string]any `json:"exception"`
}

func newTestLogger(t *testing.T, opts ...loggable.Option) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts = append([]loggable.Option{
		loggable.WithWriter(buf),
		loggable.WithLevel(loggable.LevelDebug),
		loggable.WithoutFullMessageRecords(),
		loggable.WithStackTraceEnabled(false),
		loggable.WithInternalLogger(slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))),
	}, opts...)
	return loggable.NewLogger(opts...), buf
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []decodedRecord {
	t.Helper()
	var out []decodedRecord
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var r decodedRecord
		if err := json.Unmarshal(line, &r); err != nil {
			t.Fatalf("unmarshal record %q: %v", line, err)
		}
		out = append(out, r)
	}
	return out
}

// newLoggedDB binds a sqlmock connection to dsn and reopens it through the
// logging connector.
func newLoggedDB(t *testing.T, dsn string, opts ...logsql.Option) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.NewWithDSN(dsn)
	if err != nil {
		t.Fatalf("sqlmock.NewWithDSN() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logged := sql.OpenDB(logsql.Connector(db.Driver(), dsn, opts...))
	t.Cleanup(func() { logged.Close() })
	return logged, mock
}

// TestQueryLogsStatement checks a query logs the SQL text as the message
// with kind, duration, and arg count, never the argument values.
func TestQueryLogsStatement(t *testing.T) {
	logger, buf := newTestLogger(t)
	db, mock := newLoggedDB(t, "logsql_query", logsql.WithLogger(logger))

	const q = "SELECT id FROM widgets WHERE token = $1"
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WithArgs("sekrit-value").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	rows, err := db.QueryContext(context.Background(), q, "sekrit-value")
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	rows.Close()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	recs := decodeRecords(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1: %s", len(recs), buf.String())
	}
	r := recs[0]
	if r.Message != q {
		t.Errorf("message = %q, want the SQL text", r.Message)
	}
	if r.Level != "debug" {
		t.Errorf("level = %q, want debug", r.Level)
	}
	if got := r.Context["statement_kind"]; got != "query" {
		t.Errorf("statement_kind = %v, want query", got)
	}
	if got := r.Context["arg_count"]; got != float64(1) {
		t.Errorf("arg_count = %v, want 1", got)
	}
	if _, ok := r.Context["duration_ms"]; !ok {
		t.Error("statement record missing duration_ms")
	}
	if strings.Contains(buf.String(), "sekrit-value") {
		t.Error("argument value leaked into the log output")
	}
}

// TestExecLogsStatement checks exec statements log with their own kind.
func TestExecLogsStatement(t *testing.T) {
	logger, buf := newTestLogger(t)
	db, mock := newLoggedDB(t, "logsql_exec", logsql.WithLogger(logger))

	const q = "UPDATE widgets SET name = $1 WHERE id = $2"
	mock.ExpectExec(regexp.QuoteMeta(q)).
		WithArgs("sprocket", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := db.ExecContext(context.Background(), q, "sprocket", int64(3)); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	recs := decodeRecords(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if got := recs[0].Context["statement_kind"]; got != "exec" {
		t.Errorf("statement_kind = %v, want exec", got)
	}
	if got := recs[0].Context["arg_count"]; got != float64(2) {
		t.Errorf("arg_count = %v, want 2", got)
	}
}

// TestQueryErrorLogsException checks failures log at Error with the
// exception attached and still reach the caller.
func TestQueryErrorLogsException(t *testing.T) {
	logger, buf := newTestLogger(t)
	db, mock := newLoggedDB(t, "logsql_err", logsql.WithLogger(logger))

	const q = "SELECT id FROM missing_table"
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnError(errors.New("relation does not exist"))

	if _, err := db.QueryContext(context.Background(), q); err == nil {
		t.Fatal("QueryContext() error = nil, want error")
	}

	recs := decodeRecords(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Level != "error" {
		t.Errorf("level = %q, want error", r.Level)
	}
	if r.Exception == nil || r.Exception["message"] != "relation does not exist" {
		t.Errorf("exception = %v, want relation does not exist", r.Exception)
	}
}

// TestPrepareLogsStatement checks preparation logs without an arg count.
func TestPrepareLogsStatement(t *testing.T) {
	logger, buf := newTestLogger(t)
	db, mock := newLoggedDB(t, "logsql_prepare", logsql.WithLogger(logger))

	const q = "SELECT id FROM widgets WHERE id = $1"
	mock.ExpectPrepare(regexp.QuoteMeta(q))

	stmt, err := db.PrepareContext(context.Background(), q)
	if err != nil {
		t.Fatalf("PrepareContext() error = %v", err)
	}
	stmt.Close()

	recs := decodeRecords(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if got := recs[0].Context["statement_kind"]; got != "prepare" {
		t.Errorf("statement_kind = %v, want prepare", got)
	}
	if _, ok := recs[0].Context["arg_count"]; ok {
		t.Error("prepare record should not carry arg_count")
	}
}

// TestLongStatementTruncatesMessage verifies generated SQL flows through
// the message-truncation policy.
func TestLongStatementTruncatesMessage(t *testing.T) {
	logger, buf := newTestLogger(t, loggable.WithMessagePolicy(loggable.DefaultMessagePolicy()))
	db, mock := newLoggedDB(t, "logsql_long", logsql.WithLogger(logger))

	q := "SELECT '" + strings.Repeat("x", 2480) + "'"
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("x"))

	rows, err := db.QueryContext(context.Background(), q)
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	rows.Close()

	recs := decodeRecords(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	msg := recs[0].Message
	wantMarker := fmt.Sprintf(" [truncated %d chars] ", len(q)-400)
	if !strings.Contains(msg, wantMarker) {
		t.Errorf("message %q missing marker %q", msg, wantMarker)
	}
	if len(msg) >= len(q) {
		t.Errorf("message not shortened: %d >= %d", len(msg), len(q))
	}
}

// TestTransactionsForwardTransparently checks begin/commit produce no
// statement records.
func TestTransactionsForwardTransparently(t *testing.T) {
	logger, buf := newTestLogger(t)
	db, mock := newLoggedDB(t, "logsql_tx", logsql.WithLogger(logger))

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	if recs := decodeRecords(t, buf); len(recs) != 0 {
		t.Fatalf("got %d records, want 0: %s", len(recs), buf.String())
	}
}

// TestContextLoggerPreferred checks statements inside a scoped context log
// through that context's logger.
func TestContextLoggerPreferred(t *testing.T) {
	fallbackLogger, fallbackBuf := newTestLogger(t)
	ctxLogger, ctxBuf := newTestLogger(t)
	db, mock := newLoggedDB(t, "logsql_ctx", logsql.WithLogger(fallbackLogger))

	const q = "SELECT 1"
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	ctx := loggable.ContextWithLogger(context.Background(), ctxLogger)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	rows.Close()

	if recs := decodeRecords(t, ctxBuf); len(recs) != 1 {
		t.Fatalf("context logger got %d records, want 1", len(recs))
	}
	if recs := decodeRecords(t, fallbackBuf); len(recs) != 0 {
		t.Fatalf("fallback logger got %d records, want 0", len(recs))
	}
}
