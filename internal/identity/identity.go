// Package identity はIdentity Platform REST APIによるユーザー認証を提供する。
package identity

import "context"

// UserInfo はIDプロバイダーから取得したユーザー情報を表す。
type UserInfo struct {
	UID         string
	Email       string
	DisplayName string
	Admin       bool
}

// Verifier はIDプロバイダーへの認証操作のインターフェース。
type Verifier interface {
	// SignInWithPassword はメールアドレスとパスワードでサインインする。
	// 認証失敗時は *model.APIError を返す。
	SignInWithPassword(ctx context.Context, email, password string) (*UserInfo, error)

	// VerifyIDToken はIDトークンを検証し、対応するユーザー情報を返す。
	// トークンの形式不正、期限切れ、検証失敗はそれぞれ別のエラーコードで返す。
	VerifyIDToken(ctx context.Context, idToken string) (*UserInfo, error)

	// CreateUser は新規ユーザーを作成する。
	// メールアドレスが登録済みの場合は *model.APIError を返す。
	CreateUser(ctx context.Context, email, password, displayName string) (*UserInfo, error)
}
