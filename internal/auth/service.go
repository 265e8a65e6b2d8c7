// Package auth はログイン、ユーザー登録、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/paddock/internal/identity"
	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// emailPattern はメールアドレスの形式検査に使用する。
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const maxDisplayNameLength = 50

// ClientInfo はセッションに記録するクライアント情報。
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionIdleTimeout は最終アクティビティからのセッション有効期間。
	SessionIdleTimeout time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier    identity.Verifier
	sessionRepo repository.SessionRepository
	sanitizer   *bluemonday.Policy
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	verifier identity.Verifier,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		verifier:    verifier,
		sessionRepo: sessionRepo,
		sanitizer:   bluemonday.StrictPolicy(),
		config:      config,
	}
}

// LoginWithPassword はメールアドレスとパスワードでログインし、セッションを発行する。
func (s *Service) LoginWithPassword(ctx context.Context, email, password string, client ClientInfo) (*model.Session, error) {
	if email == "" || password == "" {
		return nil, model.NewValidationError("email", "メールアドレスとパスワードは必須です。")
	}

	info, err := s.verifier.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	session, err := s.createSession(ctx, info, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in with password",
		slog.String("uid", info.UID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// LoginWithIDToken はIDトークンを検証し、セッションを発行する。
func (s *Service) LoginWithIDToken(ctx context.Context, idToken string, client ClientInfo) (*model.Session, error) {
	if idToken == "" {
		return nil, model.NewMissingTokenError()
	}

	info, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	session, err := s.createSession(ctx, info, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in with token",
		slog.String("uid", info.UID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// Register は新規ユーザーを作成し、セッションを発行する。
// 表示名はHTMLタグを除去し、最大50文字に切り詰める。
// 表示名が空の場合はメールアドレスのローカル部を使用する。
func (s *Service) Register(ctx context.Context, email, password, displayName string, client ClientInfo) (*model.Session, error) {
	if !emailPattern.MatchString(email) {
		return nil, model.NewInvalidEmailError()
	}
	if reason := checkPasswordPolicy(password); reason != "" {
		return nil, model.NewWeakPasswordError(reason)
	}

	displayName = s.sanitizeDisplayName(displayName, email)

	info, err := s.verifier.CreateUser(ctx, email, password, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	session, err := s.createSession(ctx, info, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("new user registered",
		slog.String("uid", info.UID),
		slog.String("email", email),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewUnauthorizedError()
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetSession はセッションを取得し、無操作期限を検査する。
// 期限切れのセッションは削除したうえで未認証エラーを返す。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	if session.IdleSince(time.Now()) > s.config.SessionIdleTimeout {
		if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
			slog.Warn("failed to delete expired session",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewUnauthorizedError()
	}

	return session, nil
}

// TouchSession はセッションの最終アクティビティ時刻を現在時刻に更新する。
func (s *Service) TouchSession(ctx context.Context, sessionID string) error {
	return s.sessionRepo.Touch(ctx, sessionID, time.Now())
}

// createSession はユーザー情報のスナップショットを持つセッションを作成する。
// 同一ユーザーの既存セッションはすべて破棄する。
func (s *Service) createSession(ctx context.Context, info *identity.UserInfo, client ClientInfo) (*model.Session, error) {
	if err := s.sessionRepo.DeleteByUID(ctx, info.UID); err != nil {
		return nil, fmt.Errorf("failed to clear previous sessions: %w", err)
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:             sessionID,
		UID:            info.UID,
		Email:          info.Email,
		DisplayName:    info.DisplayName,
		Admin:          info.Admin,
		UserAgent:      client.UserAgent,
		IPAddress:      client.IPAddress,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// sanitizeDisplayName は表示名からHTMLタグを除去し、長さを制限する。
func (s *Service) sanitizeDisplayName(displayName, email string) string {
	displayName = strings.TrimSpace(s.sanitizer.Sanitize(displayName))
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}
	if runes := []rune(displayName); len(runes) > maxDisplayNameLength {
		displayName = string(runes[:maxDisplayNameLength])
	}
	return displayName
}

// checkPasswordPolicy はパスワード要件を検査し、違反理由を返す。
// 問題がなければ空文字列を返す。
func checkPasswordPolicy(password string) string {
	if len(password) < 6 {
		return "パスワードは6文字以上で設定してください。"
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return "パスワードには英字と数字を両方含めてください。"
	}
	return ""
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
