package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/paddock/internal/model"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    3,
		LoginRate:       rate.Limit(1.0 / 60.0),
		LoginBurst:      2,
		RegisterRate:    rate.Limit(1.0 / 3600.0),
		RegisterBurst:   1,
		DeleteRate:      rate.Limit(1.0 / 60.0),
		DeleteBurst:     2,
		CleanupInterval: time.Hour,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestWithPrincipal(uid string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/drivers", nil)
	return req.WithContext(ContextWithPrincipal(req.Context(), &Principal{UID: uid}))
}

// バーストを使い切ると429になることを検証
func TestRateLimiter_GeneralExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithPrincipal("uid-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithPrincipal("uid-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if body := parseErrorBody(t, rec); body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("expected code %s, got %s", model.ErrCodeRateLimitExceeded, body.Code)
	}
}

// ユーザーごとに独立して制限されることを検証
func TestRateLimiter_GeneralPerUser(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithPrincipal("uid-1"))
	}

	// uid-1は枯渇しているが、uid-2は通る
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithPrincipal("uid-2"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected independent limit for another user, got %d", rec.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("expected 2 limiter entries, got %d", rl.GeneralLimiterCount())
	}
}

// 認証主体のないリクエストが401になることを検証
func TestRateLimiter_GeneralRequiresPrincipal(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/drivers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// ログイン制限がIP単位で動作することを検証
func TestRateLimiter_LoginPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.LoginMiddleware()(okHandler())

	makeRequest := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip + ":12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := makeRequest("10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := makeRequest("10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted IP, got %d", rec.Code)
	}
	if rec := makeRequest("10.0.0.2"); rec.Code != http.StatusOK {
		t.Fatalf("expected independent limit for another IP, got %d", rec.Code)
	}
}

// X-Forwarded-Forの先頭IPがキーになることを検証
func TestClientIP_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if ip := ClientIP(req); ip != "203.0.113.5" {
		t.Errorf("expected forwarded IP, got %q", ip)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "192.0.2.9:5555"
	if ip := ClientIP(req2); ip != "192.0.2.9" {
		t.Errorf("expected remote addr host, got %q", ip)
	}
}

// 削除制限がAPI全般の制限と独立に動作することを検証
func TestRateLimiter_DeleteIndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	generalHandler := rl.GeneralMiddleware()(okHandler())
	deleteHandler := rl.DeleteMiddleware()(okHandler())

	// API全般を枯渇させる
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		generalHandler.ServeHTTP(rec, requestWithPrincipal("uid-1"))
	}

	// 削除の制限枠は残っている
	rec := httptest.NewRecorder()
	deleteHandler.ServeHTTP(rec, requestWithPrincipal("uid-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected delete limit to be independent, got %d", rec.Code)
	}
}

// クリーンアップが古いエントリを削除することを検証
func TestRateLimiter_Cleanup(t *testing.T) {
	config := testRateLimiterConfig()
	config.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(config)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithPrincipal("uid-1"))

	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("expected 1 entry, got %d", rl.GeneralLimiterCount())
	}

	// ttl = CleanupInterval * 2 を超えるまで待つ
	deadline := time.Now().Add(time.Second)
	for rl.GeneralLimiterCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("expected stale entry to be cleaned up, got %d", rl.GeneralLimiterCount())
	}
}

// mockRateLimitRecorder はテスト用のRateLimitRecorder実装
type mockRateLimitRecorder struct {
	rejections map[string]int
}

func (m *mockRateLimitRecorder) RecordRateLimitRejection(limitType string) {
	if m.rejections == nil {
		m.rejections = map[string]int{}
	}
	m.rejections[limitType]++
}

// 拒否がメトリクスに記録されることを検証
func TestRateLimiter_RecordsRejections(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	recorder := &mockRateLimitRecorder{}
	rl.SetRecorder(recorder)

	handler := rl.GeneralMiddleware()(okHandler())
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithPrincipal("uid-1"))
	}

	if recorder.rejections["general"] != 1 {
		t.Errorf("rejections[general] = %d, want 1", recorder.rejections["general"])
	}
}
