package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	loginWithPasswordFn func(ctx context.Context, email, password string, client auth.ClientInfo) (*model.Session, error)
	loginWithIDTokenFn  func(ctx context.Context, idToken string, client auth.ClientInfo) (*model.Session, error)
	registerFn          func(ctx context.Context, email, password, displayName string, client auth.ClientInfo) (*model.Session, error)
	logoutFn            func(ctx context.Context, sessionID string) error
	getSessionFn        func(ctx context.Context, sessionID string) (*model.Session, error)
}

func (m *mockAuthService) LoginWithPassword(ctx context.Context, email, password string, client auth.ClientInfo) (*model.Session, error) {
	if m.loginWithPasswordFn != nil {
		return m.loginWithPasswordFn(ctx, email, password, client)
	}
	return nil, nil
}

func (m *mockAuthService) LoginWithIDToken(ctx context.Context, idToken string, client auth.ClientInfo) (*model.Session, error) {
	if m.loginWithIDTokenFn != nil {
		return m.loginWithIDTokenFn(ctx, idToken, client)
	}
	return nil, nil
}

func (m *mockAuthService) Register(ctx context.Context, email, password, displayName string, client auth.ClientInfo) (*model.Session, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password, displayName, client)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, sessionID)
	}
	return nil, nil
}

func testSession(id string) *model.Session {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &model.Session{
		ID:             id,
		UID:            "user-123",
		Email:          "driver@example.com",
		DisplayName:    "Max",
		Admin:          false,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		CookieDomain:  "example.com",
		CookieSecure:  true,
		SessionMaxAge: 7200,
	}
}

// findCookie はレスポンスから指定名のCookieを探すヘルパー。
func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- POST /auth/login テスト ---

func TestAuthHandler_Login_WithPassword(t *testing.T) {
	svc := &mockAuthService{
		loginWithPasswordFn: func(ctx context.Context, email, password string, client auth.ClientInfo) (*model.Session, error) {
			if email != "driver@example.com" {
				t.Errorf("email = %q, want %q", email, "driver@example.com")
			}
			if password != "secret1" {
				t.Errorf("password = %q, want %q", password, "secret1")
			}
			if client.UserAgent != "test-agent" {
				t.Errorf("userAgent = %q, want %q", client.UserAgent, "test-agent")
			}
			return testSession("session-abc"), nil
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	body := `{"email": "driver@example.com", "password": "secret1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	cookie := findCookie(t, w, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if cookie.Value != "session-abc" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "session-abc")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	var result struct {
		User sessionUserResponse `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.User.UID != "user-123" {
		t.Errorf("uid = %q, want %q", result.User.UID, "user-123")
	}
}

func TestAuthHandler_Login_WithIDToken(t *testing.T) {
	svc := &mockAuthService{
		loginWithIDTokenFn: func(ctx context.Context, idToken string, client auth.ClientInfo) (*model.Session, error) {
			if idToken != "token-xyz" {
				t.Errorf("idToken = %q, want %q", idToken, "token-xyz")
			}
			return testSession("session-abc"), nil
		},
		loginWithPasswordFn: func(ctx context.Context, email, password string, client auth.ClientInfo) (*model.Session, error) {
			t.Error("LoginWithPassword should not be called when id_token is present")
			return nil, nil
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	body := `{"id_token": "token-xyz"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		loginWithPasswordFn: func(ctx context.Context, email, password string, client auth.ClientInfo) (*model.Session, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	body := `{"email": "driver@example.com", "password": "wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	respBody := parseAPIErrorResponse(t, w)
	if respBody["code"] != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", respBody["code"], model.ErrCodeInvalidCredentials)
	}
	if findCookie(t, w, middleware.SessionCookieName) != nil {
		t.Error("session cookie should not be set on failed login")
	}
}

// --- POST /auth/register テスト ---

func TestAuthHandler_Register_Success(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, email, password, displayName string, client auth.ClientInfo) (*model.Session, error) {
			if displayName != "Max" {
				t.Errorf("displayName = %q, want %q", displayName, "Max")
			}
			return testSession("session-new"), nil
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	body := `{"email": "driver@example.com", "password": "secret1", "display_name": "Max"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	cookie := findCookie(t, w, middleware.SessionCookieName)
	if cookie == nil || cookie.Value != "session-new" {
		t.Errorf("cookie = %+v, want value session-new", cookie)
	}
}

func TestAuthHandler_Register_EmailExists(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, email, password, displayName string, client auth.ClientInfo) (*model.Session, error) {
			return nil, model.NewEmailExistsError()
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	body := `{"email": "driver@example.com", "password": "secret1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// --- POST /auth/logout テスト ---

func TestAuthHandler_Logout_Success(t *testing.T) {
	loggedOut := ""
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-abc"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if loggedOut != "session-abc" {
		t.Errorf("loggedOut = %q, want %q", loggedOut, "session-abc")
	}

	cookie := findCookie(t, w, middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Errorf("cookie = %+v, want MaxAge=-1", cookie)
	}
}

func TestAuthHandler_Logout_NoCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			t.Error("Logout should not be called without a session cookie")
			return nil
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	// Cookieがなくても冪等に成功する
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// --- GET /auth/session テスト ---

func TestAuthHandler_Session_Valid(t *testing.T) {
	svc := &mockAuthService{
		getSessionFn: func(ctx context.Context, sessionID string) (*model.Session, error) {
			if sessionID != "session-abc" {
				t.Errorf("sessionID = %q, want %q", sessionID, "session-abc")
			}
			return testSession(sessionID), nil
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-abc"})
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result struct {
		Valid bool                `json:"valid"`
		User  sessionUserResponse `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.Valid {
		t.Error("valid = false, want true")
	}
	if result.User.Email != "driver@example.com" {
		t.Errorf("email = %q, want %q", result.User.Email, "driver@example.com")
	}
}

func TestAuthHandler_Session_NoCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var result map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["valid"] {
		t.Error("valid = true, want false")
	}
}

func TestAuthHandler_Session_Expired(t *testing.T) {
	svc := &mockAuthService{
		getSessionFn: func(ctx context.Context, sessionID string) (*model.Session, error) {
			return nil, model.NewUnauthorizedError()
		},
	}

	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-stale"})
	w := httptest.NewRecorder()

	h.Session(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// 無効なセッションCookieはクリアされる
	cookie := findCookie(t, w, middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Errorf("cookie = %+v, want MaxAge=-1", cookie)
	}
}
