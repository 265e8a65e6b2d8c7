// Package model はドメインモデルを定義する。
package model

import "time"

// Session はユーザーのログインセッションを表す。
// ログイン成功時にIDプロバイダーから取得したユーザー情報のスナップショットと、
// 監査用のクライアント情報（User-Agent、IPアドレス)を保持する。
// 有効期限は最終アクティビティからの経過時間で判定する（遅延評価）。
type Session struct {
	ID             string
	UID            string
	Email          string
	DisplayName    string
	Admin          bool
	UserAgent      string
	IPAddress      string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// IdleSince は最終アクティビティからの経過時間を返す。
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
