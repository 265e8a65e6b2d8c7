package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix は他の用途のキーと衝突しないようにするための名前空間。
const keyPrefix = "paddock:cache:"

// RedisStore はRedisによるStore実装。複数プロセスでキャッシュを共有できる。
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore は接続URLからRedisStoreを生成する。
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis URLの解析に失敗: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreWithClient は既存のクライアントからRedisStoreを生成する。
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping は接続を確認する。起動時のヘルスチェックに使用する。
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisへの接続に失敗: %w", err)
	}
	return nil
}

// Get はキーに対応する値を返す。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("キャッシュの読み取りに失敗: %w", err)
	}
	return value, true, nil
}

// Set は値をTTL付きで保存する。
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの書き込みに失敗: %w", err)
	}
	return nil
}

// Clear は名前空間配下の全キーを削除する。
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("キャッシュキーの走査に失敗: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("キャッシュの削除に失敗: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
