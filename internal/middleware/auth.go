// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/paddock/internal/identity"
	"github.com/hitoshi/paddock/internal/model"
)

// SessionCookieName はセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// Principal は認証済みリクエストの呼び出し元を表す。
// SessionIDはCookie認証の場合のみ設定される。
type Principal struct {
	UID         string
	Email       string
	DisplayName string
	Admin       bool
	SessionID   string
}

// SessionAuthenticator はセッション認証に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type SessionAuthenticator interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	TouchSession(ctx context.Context, sessionID string) error
}

// NewAuthMiddleware はリクエストを認証するミドルウェアを返す。
// セッションCookieとAuthorization: Bearerヘッダーの2系統を受け付ける。
// Cookieがある場合はセッションを検証し、最終アクティビティ時刻を更新する。
// Bearerヘッダーがある場合はIDトークンを検証する。
// どちらもない場合は401を返す。
// 認証主体はリクエストコンテキストに注入する。
func NewAuthMiddleware(sessions SessionAuthenticator, verifier identity.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. セッションCookie
			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				principal, apiErr := authenticateSession(r.Context(), sessions, cookie.Value)
				if apiErr != nil {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				ctx := ContextWithPrincipal(r.Context(), principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// 2. Authorization: Bearerヘッダー
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token := strings.TrimPrefix(authHeader, "Bearer ")
				principal, apiErr := authenticateToken(r.Context(), verifier, token)
				if apiErr != nil {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				ctx := ContextWithPrincipal(r.Context(), principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingTokenError())
		})
	}
}

// authenticateSession はセッションIDを検証し、認証主体を返す。
// 有効なセッションは最終アクティビティ時刻を更新する。
func authenticateSession(ctx context.Context, sessions SessionAuthenticator, sessionID string) (*Principal, *model.APIError) {
	session, err := sessions.GetSession(ctx, sessionID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		slog.Error("failed to authenticate session", slog.String("error", err.Error()))
		return nil, model.NewUnauthorizedError()
	}

	if err := sessions.TouchSession(ctx, sessionID); err != nil {
		// アクティビティ更新の失敗は認証結果に影響させない
		slog.Warn("failed to touch session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	return &Principal{
		UID:         session.UID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		Admin:       session.Admin,
		SessionID:   session.ID,
	}, nil
}

// authenticateToken はBearerトークンを検証し、認証主体を返す。
func authenticateToken(ctx context.Context, verifier identity.Verifier, token string) (*Principal, *model.APIError) {
	if token == "" {
		return nil, model.NewMissingTokenError()
	}

	info, err := verifier.VerifyIDToken(ctx, token)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		slog.Error("failed to verify token", slog.String("error", err.Error()))
		return nil, model.NewVerificationFailedError()
	}

	return &Principal{
		UID:         info.UID,
		Email:       info.Email,
		DisplayName: info.DisplayName,
		Admin:       info.Admin,
	}, nil
}

// PrincipalFromContext はリクエストコンテキストから認証主体を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストに認証主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
