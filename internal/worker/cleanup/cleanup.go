// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// セッションの有効期限は最終アクティビティからの経過時間で遅延評価されるため、
// アクセスされないままのセッション行はこのジョブが定期的に回収する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// IdleSessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
type IdleSessionDeleter interface {
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob はアイドル期限を超過したセッションの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions    IdleSessionDeleter
	logger      *slog.Logger
	IdleTimeout time.Duration // セッションのアイドル有効期限（デフォルト: 2時間）

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトのアイドル有効期限は2時間。
func NewCleanupJob(sessions IdleSessionDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:    sessions,
		logger:      logger,
		IdleTimeout: 2 * time.Hour,
		now:         time.Now,
	}
}

// Run はアイドル期限を超過したセッションを削除する。
// last_activity_atがIdleTimeout前より古い行をDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.IdleTimeout)

	deletedCount, err := j.sessions.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("idle_timeout", j.IdleTimeout),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("idle_timeout", j.IdleTimeout),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunPeriodic は指定間隔でRunを繰り返し実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("定期クリーンアップに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
