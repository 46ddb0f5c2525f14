package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockPurger はSessionPurgerのモック実装。
type mockPurger struct {
	mu      sync.Mutex
	calls   int
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.deleted, m.err
}

func (m *mockPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// syncBuffer はゴルーチンから書き込まれるログを安全に読むためのバッファ。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestNewCleanupJob_DefaultInterval(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{}, newTestLogger(&buf))

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
	if job.Interval != time.Hour {
		t.Errorf("Interval = %v, want %v", job.Interval, time.Hour)
	}
}

func TestCleanupJob_Run_DeletesExpiredSessions(t *testing.T) {
	var buf bytes.Buffer
	purger := &mockPurger{deleted: 0}
	job := NewCleanupJob(purger, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if purger.callCount() != 1 {
		t.Errorf("DeleteExpired の呼び出し回数 = %d, want 1", purger.callCount())
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{deleted: 42}, newTestLogger(&buf))

	_ = job.Run(context.Background())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["deleted_count"] == float64(42) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ReturnsErrorOnStoreFailure(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPurger{err: sql.ErrConnDone}, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("ストア障害時はエラーを返すべき")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("元のエラーがラップされていない: %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが記録されていない: %s", buf.String())
	}
}

func TestCleanupJob_Start_RunsUntilCancelled(t *testing.T) {
	var buf syncBuffer
	purger := &mockPurger{}
	job := NewCleanupJob(purger, slog.New(slog.NewJSONHandler(&buf, nil)))
	job.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for purger.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("DeleteExpired の呼び出し回数 = %d, want >= 3", purger.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start がキャンセル後に終了しなかった")
	}
}

func TestCleanupJob_Start_ContinuesAfterFailure(t *testing.T) {
	var buf syncBuffer
	purger := &mockPurger{err: errors.New("temporary failure")}
	job := NewCleanupJob(purger, slog.New(slog.NewJSONHandler(&buf, nil)))
	job.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go job.Start(ctx)

	for purger.callCount() < 2 {
		select {
		case <-ctx.Done():
			t.Fatal("失敗後もジョブは継続するべき")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
