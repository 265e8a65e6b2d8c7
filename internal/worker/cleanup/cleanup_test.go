package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

// mockSessionDeleter はIdleSessionDeleterのモック実装。
type mockSessionDeleter struct {
	deleteIdleBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)
	calls              int
}

func (m *mockSessionDeleter) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.calls++
	if m.deleteIdleBeforeFn != nil {
		return m.deleteIdleBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupJob_Run_DeletesIdleSessions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	deleter := &mockSessionDeleter{
		deleteIdleBeforeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			want := now.Add(-2 * time.Hour)
			if !cutoff.Equal(want) {
				t.Errorf("cutoff = %v, want %v", cutoff, want)
			}
			return 5, nil
		},
	}

	job := NewCleanupJob(deleter, testLogger())
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if deleter.calls != 1 {
		t.Errorf("calls = %d, want 1", deleter.calls)
	}
}

func TestCleanupJob_Run_CustomIdleTimeout(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	deleter := &mockSessionDeleter{
		deleteIdleBeforeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			want := now.Add(-30 * time.Minute)
			if !cutoff.Equal(want) {
				t.Errorf("cutoff = %v, want %v", cutoff, want)
			}
			return 0, nil
		},
	}

	job := NewCleanupJob(deleter, testLogger())
	job.IdleTimeout = 30 * time.Minute
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestCleanupJob_Run_DeleteError(t *testing.T) {
	deleter := &mockSessionDeleter{
		deleteIdleBeforeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}

	job := NewCleanupJob(deleter, testLogger())

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want error")
	}
}

func TestCleanupJob_Run_NoIdleSessions(t *testing.T) {
	deleter := &mockSessionDeleter{
		deleteIdleBeforeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, nil
		},
	}

	job := NewCleanupJob(deleter, testLogger())

	// 削除対象がなくても成功する
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestCleanupJob_RunPeriodic_StopsOnContextCancel(t *testing.T) {
	deleter := &mockSessionDeleter{}
	job := NewCleanupJob(deleter, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.RunPeriodic(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not stop after context cancel")
	}

	if deleter.calls == 0 {
		t.Error("DeleteIdleBefore was never called")
	}
}
