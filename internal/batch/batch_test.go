package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// mockBatchWriter はテスト用のDriverBatchWriter実装
type mockBatchWriter struct {
	applyFn func(ctx context.Context, ops []repository.BatchOp) error
	groups  [][]repository.BatchOp
}

func (m *mockBatchWriter) ApplyBatch(ctx context.Context, ops []repository.BatchOp) error {
	m.groups = append(m.groups, ops)
	if m.applyFn != nil {
		return m.applyFn(ctx, ops)
	}
	return nil
}

func makeOps(n int) []repository.BatchOp {
	ops := make([]repository.BatchOp, n)
	for i := range ops {
		ops[i] = repository.BatchOp{
			Kind:   repository.BatchOpCreate,
			Driver: &model.Driver{ID: fmt.Sprintf("driver-%d", i)},
		}
	}
	return ops
}

// 500件超の操作列がグループに分割されることを検証
func TestWrite_SplitsIntoGroups(t *testing.T) {
	writer := &mockBatchWriter{}

	results, err := Write(context.Background(), writer, makeOps(1200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(writer.groups))
	}
	wantSizes := []int{500, 500, 200}
	for i, want := range wantSizes {
		if len(writer.groups[i]) != want {
			t.Errorf("group %d: expected %d ops, got %d", i, want, len(writer.groups[i]))
		}
		if !results[i].Committed {
			t.Errorf("group %d: expected committed", i)
		}
	}
}

// 途中のグループ失敗でコミット済みグループが残ることを検証
func TestWrite_PartialFailure(t *testing.T) {
	calls := 0
	writer := &mockBatchWriter{
		applyFn: func(ctx context.Context, ops []repository.BatchOp) error {
			calls++
			if calls == 2 {
				return errors.New("connection lost")
			}
			return nil
		},
	}

	results, err := Write(context.Background(), writer, makeOps(1200))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected execution to stop after failed group, got %d calls", calls)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 group results, got %d", len(results))
	}
	if !results[0].Committed {
		t.Error("expected first group to remain committed")
	}
	if results[1].Committed || results[1].Error == "" {
		t.Errorf("expected second group to be marked failed, got %+v", results[1])
	}
}

// 空の操作列で何も実行されないことを検証
func TestWrite_Empty(t *testing.T) {
	writer := &mockBatchWriter{}

	results, err := Write(context.Background(), writer, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected no results, got %v", results)
	}
	if len(writer.groups) != 0 {
		t.Error("expected no writer calls")
	}
}

// 結果が入力順に並び、エラーが値として返ることを検証
func TestParallelMap_PreservesOrderAndErrors(t *testing.T) {
	fns := []func(ctx context.Context) (interface{}, error){
		func(ctx context.Context) (interface{}, error) { return "first", nil },
		func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") },
		func(ctx context.Context) (interface{}, error) { return "third", nil },
	}

	results := ParallelMap(context.Background(), 2, fns)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Value != "first" || results[0].Err != nil {
		t.Errorf("unexpected result[0]: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("expected error in result[1]")
	}
	if results[2].Value != "third" || results[2].Err != nil {
		t.Errorf("unexpected result[2]: %+v", results[2])
	}
}

// 並列数の上限が守られることを検証
func TestParallelMap_RespectsConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	current, peak := 0, 0

	fns := make([]func(ctx context.Context) (interface{}, error), 20)
	block := make(chan struct{})
	for i := range fns {
		fns[i] = func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			<-block

			mu.Lock()
			current--
			mu.Unlock()
			return nil, nil
		}
	}

	done := make(chan []UnitResult)
	go func() {
		done <- ParallelMap(context.Background(), 4, fns)
	}()

	close(block)
	results := <-done

	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > 4 {
		t.Errorf("expected at most 4 concurrent executions, observed %d", peak)
	}
}

// 1つの処理の失敗が他の処理を中断しないことを検証
func TestParallelMap_NoSiblingCancellation(t *testing.T) {
	executed := make([]bool, 10)
	var mu sync.Mutex

	fns := make([]func(ctx context.Context) (interface{}, error), 10)
	for i := range fns {
		i := i
		fns[i] = func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			executed[i] = true
			mu.Unlock()
			if i == 0 {
				return nil, errors.New("boom")
			}
			return i, nil
		}
	}

	ParallelMap(context.Background(), 2, fns)

	mu.Lock()
	defer mu.Unlock()
	for i, ran := range executed {
		if !ran {
			t.Errorf("expected fn %d to run despite sibling failure", i)
		}
	}
}
