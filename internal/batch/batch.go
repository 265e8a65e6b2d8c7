// Package batch は複数レコードの一括書き込みと並列処理を提供する。
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/paddock/internal/repository"
)

// maxOpsPerGroup は1トランザクションに含める操作数の上限。
const maxOpsPerGroup = 500

// GroupResult は1グループのコミット結果。
type GroupResult struct {
	Index     int    `json:"index"`
	OpCount   int    `json:"op_count"`
	Committed bool   `json:"committed"`
	Error     string `json:"error,omitempty"`
}

// Write は操作列を最大500件のグループに分割し、グループごとに
// 単一トランザクションで順次コミットする。
// 途中のグループが失敗した場合、コミット済みのグループは巻き戻さず、
// 残りのグループは実行しない。
func Write(ctx context.Context, writer repository.DriverBatchWriter, ops []repository.BatchOp) ([]GroupResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	var results []GroupResult
	for start := 0; start < len(ops); start += maxOpsPerGroup {
		end := start + maxOpsPerGroup
		if end > len(ops) {
			end = len(ops)
		}
		group := ops[start:end]
		index := len(results)

		if err := writer.ApplyBatch(ctx, group); err != nil {
			results = append(results, GroupResult{
				Index:   index,
				OpCount: len(group),
				Error:   err.Error(),
			})
			slog.Error("batch group failed",
				slog.Int("group", index),
				slog.String("error", err.Error()),
			)
			return results, fmt.Errorf("グループ %d の書き込みに失敗しました: %w", index, err)
		}

		results = append(results, GroupResult{
			Index:     index,
			OpCount:   len(group),
			Committed: true,
		})
	}

	slog.Info("batch write completed",
		slog.Int("groups", len(results)),
		slog.Int("ops", len(ops)),
	)
	return results, nil
}

// UnitResult は並列実行された1処理の結果。
type UnitResult struct {
	Index int
	Value interface{}
	Err   error
}

// ParallelMap は処理列を最大concurrency並列で実行し、入力順の結果を返す。
// 個々の処理の失敗は結果に記録し、他の処理は中断しない。
func ParallelMap(ctx context.Context, concurrency int, fns []func(ctx context.Context) (interface{}, error)) []UnitResult {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]UnitResult, len(fns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			value, err := fn(gctx)
			results[i] = UnitResult{Index: i, Value: value, Err: err}
			// エラーは結果として返すため、グループには伝播させない
			return nil
		})
	}

	g.Wait()
	return results
}
