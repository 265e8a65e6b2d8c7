// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginWithPassword(ctx context.Context, email, password string, client auth.ClientInfo) (*model.Session, error)
	LoginWithIDToken(ctx context.Context, idToken string, client auth.ClientInfo) (*model.Session, error)
	Register(ctx context.Context, email, password, displayName string, client auth.ClientInfo) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はログイン・登録・セッション管理のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// loginRequest はログインリクエストのボディ。
// メールアドレスとパスワードの組か、IDトークンのどちらかを受け付ける。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IDToken  string `json:"id_token"`
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// sessionUserResponse はセッションに紐づくユーザー情報のレスポンス。
type sessionUserResponse struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Admin       bool   `json:"admin"`
}

// Login はログインを処理し、セッションCookieを設定する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	client := clientInfoFromRequest(r)

	var session *model.Session
	var err error
	if req.IDToken != "" {
		session, err = h.service.LoginWithIDToken(r.Context(), req.IDToken, client)
	} else {
		session, err = h.service.LoginWithPassword(r.Context(), req.Email, req.Password, client)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": toSessionUserResponse(session),
	})
}

// Register は新規ユーザー登録を処理し、セッションCookieを設定する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName, clientInfoFromRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user": toSessionUserResponse(session),
	})
}

// Logout はセッションを破棄し、Cookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "ログアウトしました。",
	})
}

// Session は現在のセッションの有効性とユーザー情報を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}

	session, err := h.service.GetSession(r.Context(), cookie.Value)
	if err != nil {
		h.clearSessionCookie(w)
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"user":  toSessionUserResponse(session),
	})
}

// setSessionCookie はセッションIDをHTTP Only Cookieに設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func toSessionUserResponse(session *model.Session) sessionUserResponse {
	return sessionUserResponse{
		UID:         session.UID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		Admin:       session.Admin,
	}
}

// clientInfoFromRequest はセッションに記録するクライアント情報を抽出する。
func clientInfoFromRequest(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
