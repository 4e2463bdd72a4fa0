package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vscd/dbopen"
	"github.com/hazyhaar/vscd/kit"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestSQLiteLogger_Init(t *testing.T) {
	db := dbopen.OpenMemory(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()

	if err := logger.Init(); err != nil {
		t.Fatal(err)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='audit_log'").Scan(&count)
	if count != 1 {
		t.Fatal("audit_log table not created")
	}
}

func TestSQLiteLogger_Log_Sync(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()

	entry := &Entry{Action: "speedwatch_action", Parameters: `{"action":"faster"}`}
	if err := logger.Log(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
	if entry.EntryID == "" || entry.Timestamp == 0 {
		t.Fatalf("defaults not filled: %+v", entry)
	}
	if entry.Status != "success" {
		t.Fatalf("status: got %q, want 'success'", entry.Status)
	}
	if entry.Transport != "http" {
		t.Fatalf("transport: got %q, want 'http'", entry.Transport)
	}

	var action string
	db.QueryRow("SELECT action FROM audit_log WHERE entry_id = ?", entry.EntryID).Scan(&action)
	if action != "speedwatch_action" {
		t.Fatalf("DB action: got %q", action)
	}
}

func TestSQLiteLogger_LogAsyncFlushedOnClose(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	logger.LogAsync(&Entry{Action: "async_test"})
	logger.Close()
	logger.Close()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action='async_test'").Scan(&count)
	if count != 1 {
		t.Fatalf("async entry count: got %d", count)
	}
}

func TestSQLiteLogger_ErrorStatus(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()

	entry := &Entry{Action: "failing_op", Error: "something broke"}
	if err := logger.Log(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
	if entry.Status != "error" {
		t.Fatalf("status for error entry: got %q", entry.Status)
	}
}

func TestSQLiteLogger_WithIDGenerator(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db, WithIDGenerator(func() string { return "custom_id" }))
	defer logger.Close()

	entry := &Entry{Action: "custom_gen"}
	logger.Log(context.Background(), entry)
	if entry.EntryID != "custom_id" {
		t.Fatalf("custom ID: got %q", entry.EntryID)
	}
}

func TestMiddleware_Success(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)

	base := func(ctx context.Context, req any) (any, error) { return "result", nil }
	endpoint := Middleware(logger, "speedwatch_action")(base)

	ctx := kit.WithTransport(context.Background(), "mcp")
	ctx = kit.WithRequestID(ctx, "req_abc")
	resp, err := endpoint(ctx, map[string]string{"page_id": "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp != "result" {
		t.Fatalf("response: got %v", resp)
	}
	logger.Close()

	entries, err := logger.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.Transport != "mcp" || e.RequestID != "req_abc" || e.Status != "success" || e.Parameters != `{"page_id":"p1"}` {
		t.Fatalf("entry = %+v", e)
	}
}

func TestMiddleware_Error(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)

	errFail := errors.New("endpoint failed")
	base := func(ctx context.Context, req any) (any, error) { return nil, errFail }
	_, err := Middleware(logger, "fail_op")(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v", err)
	}
	logger.Close()

	var status, errMsg string
	db.QueryRow("SELECT status, error_message FROM audit_log WHERE action='fail_op'").Scan(&status, &errMsg)
	if status != "error" || errMsg != "endpoint failed" {
		t.Fatalf("status = %q error = %q", status, errMsg)
	}
}

func TestSQLiteLogger_BatchFlush(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	for i := 0; i < 50; i++ {
		logger.LogAsync(&Entry{Action: "batch_test"})
	}
	logger.Close()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action='batch_test'").Scan(&count)
	if count != 50 {
		t.Fatalf("batch count: got %d, want 50", count)
	}
}

func TestCleanup(t *testing.T) {
	db := setupTestDB(t)
	logger := NewSQLiteLogger(db)
	defer logger.Close()
	ctx := context.Background()

	old := &Entry{Action: "old", Timestamp: time.Now().Add(-48 * time.Hour).UnixMilli()}
	if err := logger.Log(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := logger.Log(ctx, &Entry{Action: "new"}); err != nil {
		t.Fatal(err)
	}
	n, err := logger.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
}
