// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// バリデーションエラーの場合はFieldに問題のあったフィールド名が入る。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, permission, ratelimit, system
	Action   string // ユーザー向け対処方法
	Field    string // バリデーション対象のフィールド名（該当する場合のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeDriverNotFound         = "DRIVER_NOT_FOUND"
	ErrCodeTeamNotFound           = "TEAM_NOT_FOUND"
	ErrCodePermissionDenied       = "PERMISSION_DENIED"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeAuthMissingToken       = "AUTH_MISSING_TOKEN"
	ErrCodeAuthInvalidToken       = "AUTH_INVALID_TOKEN"
	ErrCodeAuthExpiredToken       = "AUTH_EXPIRED_TOKEN"
	ErrCodeAuthVerificationFailed = "AUTH_VERIFICATION_FAILED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeInvalidEmail           = "INVALID_EMAIL"
	ErrCodeWeakPassword           = "WEAK_PASSWORD"
	ErrCodeEmailExists            = "EMAIL_EXISTS"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewValidationError はフィールド単位のバリデーションエラーを生成する。
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
		Field:    field,
	}
}

// NewDriverNotFoundError はドライバー未検出エラーを生成する。
func NewDriverNotFoundError(driverID string) *APIError {
	return &APIError{
		Code:     ErrCodeDriverNotFound,
		Message:  fmt.Sprintf("指定されたドライバーが見つかりません: %s", driverID),
		Category: "validation",
		Action:   "ドライバーIDを確認してください。",
	}
}

// NewTeamNotFoundError はチーム未検出エラーを生成する。
func NewTeamNotFoundError(teamID string) *APIError {
	return &APIError{
		Code:     ErrCodeTeamNotFound,
		Message:  fmt.Sprintf("指定されたチームが見つかりません: %s", teamID),
		Category: "validation",
		Action:   "チームIDを確認してください。",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
// レコードの作成者でも管理者でもない呼び出し元が変更を試みた場合に返す。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "このレコードを変更する権限がありません。",
		Category: "permission",
		Action:   "レコードの作成者または管理者のみが変更できます。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewMissingTokenError はトークン未提示エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthMissingToken,
		Message:  "有効なトークンが提示されていません。",
		Category: "auth",
		Action:   "Authorization: Bearer ヘッダーでIDトークンを送信してください。",
	}
}

// NewInvalidTokenError は形式不正トークンエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthInvalidToken,
		Message:  "トークンが無効です。",
		Category: "auth",
		Action:   "再度ログインしてトークンを取得し直してください。",
	}
}

// NewExpiredTokenError は期限切れトークンエラーを生成する。
func NewExpiredTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpiredToken,
		Message:  "トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてトークンを取得し直してください。",
	}
}

// NewVerificationFailedError はIDプロバイダー側の検証失敗エラーを生成する。
// 内部詳細はログにのみ記録し、クライアントには一般的なメッセージを返す。
func NewVerificationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthVerificationFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
		Field:    "email",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  reason,
		Category: "validation",
		Action:   "6文字以上で、英字と数字を含むパスワードを設定してください。",
		Field:    "password",
	}
}

// NewEmailExistsError はメールアドレス重複エラーを生成する。
func NewEmailExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailExists,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
		Field:    "email",
	}
}
