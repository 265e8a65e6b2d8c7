package cache

import (
	"context"
	"time"
)

// HitRecorder はキャッシュのヒット・ミスの記録を抽象化するインターフェース。
type HitRecorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// InstrumentedStore はStoreをラップし、Getのヒット・ミスをメトリクスに記録する。
type InstrumentedStore struct {
	inner    Store
	recorder HitRecorder
}

var _ Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore はメトリクス記録付きのStoreを生成する。
func NewInstrumentedStore(inner Store, recorder HitRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		inner:    inner,
		recorder: recorder,
	}
}

// Get は内側のストアに委譲し、結果をヒットまたはミスとして記録する。
// エラー時は記録しない。
func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := s.inner.Get(ctx, key)
	if err == nil {
		if ok {
			s.recorder.RecordCacheHit()
		} else {
			s.recorder.RecordCacheMiss()
		}
	}
	return value, ok, err
}

// Set は内側のストアに委譲する。
func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.inner.Set(ctx, key, value, ttl)
}

// Clear は内側のストアに委譲する。
func (s *InstrumentedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}
