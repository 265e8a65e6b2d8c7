// Package cache は読み取り系レスポンスの短期キャッシュを提供する。
package cache

import (
	"context"
	"time"
)

// Store はキャッシュバックエンドのインターフェース。
// 実装はメモリ版（単一プロセス向け）とRedis版（複数プロセス向け）がある。
type Store interface {
	// Get はキーに対応する値を返す。存在しない、または期限切れの場合は
	// 第2戻り値がfalseになる。
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set は値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Clear は全エントリを破棄する。
	// 書き込み後のキャッシュ無効化はキー単位ではなく全体破棄で行う。
	Clear(ctx context.Context) error
}
