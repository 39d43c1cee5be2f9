// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 読み取り時点で期限切れのセッションは既に存在しないものとして扱われるため、
// このジョブはストレージの回収のみを目的とする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper は期限切れセッションを削除するインターフェース。
// auth.SessionStoreが実装する。
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Recorder は削除件数を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordSessionsSwept(count int64)
}

// CleanupJob は期限切れセッションの定期削除ジョブ。
// 冪等な削除処理のため、複数ワーカーから同時に実行しても問題ない。
type CleanupJob struct {
	sweeper  Sweeper
	recorder Recorder
	logger   *slog.Logger
	Interval time.Duration // 実行間隔（デフォルト: 1時間）
	Timeout  time.Duration // 1回あたりの実行時間の上限（デフォルト: 1分）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(sweeper Sweeper, recorder Recorder, logger *slog.Logger, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sweeper:  sweeper,
		recorder: recorder,
		logger:   logger,
		Interval: interval,
		Timeout:  time.Minute,
	}
}

// Run は期限切れセッションを1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	deleted, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsSwept(deleted)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降Interval毎に実行する。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
