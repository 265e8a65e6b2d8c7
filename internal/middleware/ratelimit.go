package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/paddock/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
// ログインと登録はIP単位、API全般と削除はユーザー単位で制限する。
type RateLimiterConfig struct {
	GeneralRate   rate.Limit // API全般のレート（req/sec）
	GeneralBurst  int
	LoginRate     rate.Limit // ログイン試行のレート（req/sec）
	LoginBurst    int
	RegisterRate  rate.Limit // ユーザー登録のレート（req/sec）
	RegisterBurst int
	DeleteRate    rate.Limit // 削除操作のレート（req/sec）
	DeleteBurst   int

	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: API全般 120 req/min/user、ログイン 5 req/min/IP、
// 登録 3 req/hour/IP、削除 10 req/min/user
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		LoginRate:       rate.Limit(5.0 / 60.0),
		LoginBurst:      5,
		RegisterRate:    rate.Limit(3.0 / 3600.0),
		RegisterBurst:   3,
		DeleteRate:      rate.Limit(10.0 / 60.0),
		DeleteBurst:     10,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterClass は制限種別ごとのリミッター群を管理する。
type limiterClass struct {
	name  string
	r     rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*keyLimiter
}

func newLimiterClass(name string, r rate.Limit, burst int) *limiterClass {
	return &limiterClass{
		name:     name,
		r:        r,
		burst:    burst,
		limiters: make(map[string]*keyLimiter),
	}
}

// getOrCreate はキーのリミッターを取得または作成する。
func (c *limiterClass) getOrCreate(key string) *rate.Limiter {
	c.mu.RLock()
	kl, exists := c.limiters[key]
	c.mu.RUnlock()

	if exists {
		c.mu.Lock()
		kl.lastAccess = time.Now()
		c.mu.Unlock()
		return kl.limiter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// ダブルチェック
	if kl, exists := c.limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(c.r, c.burst)
	c.limiters[key] = &keyLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}
	return limiter
}

// count は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (c *limiterClass) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.limiters)
}

// cleanup は最終アクセス時刻がttlを超えたエントリを削除する。
func (c *limiterClass) cleanup(now time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, kl := range c.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(c.limiters, key)
		}
	}
}

// RateLimitRecorder はレート制限による拒否の記録を抽象化するインターフェース。
type RateLimitRecorder interface {
	RecordRateLimitRejection(limitType string)
}

// RateLimiter は制限種別ごとのレート制限を管理する。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterClass
	login    *limiterClass
	register *limiterClass
	delete   *limiterClass
	recorder RateLimitRecorder

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterClass("general", config.GeneralRate, config.GeneralBurst),
		login:    newLimiterClass("login", config.LoginRate, config.LoginBurst),
		register: newLimiterClass("register", config.RegisterRate, config.RegisterBurst),
		delete:   newLimiterClass("delete", config.DeleteRate, config.DeleteBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// SetRecorder はレート制限拒否のメトリクス記録先を設定する。
func (rl *RateLimiter) SetRecorder(recorder RateLimitRecorder) {
	rl.recorder = recorder
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のユーザー単位レート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する必要がある。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.principalKeyed(rl.general)
}

// DeleteMiddleware は削除操作専用のユーザー単位レート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) DeleteMiddleware() func(next http.Handler) http.Handler {
	return rl.principalKeyed(rl.delete)
}

// LoginMiddleware はログイン試行のIP単位レート制限ミドルウェアを返す。
// 認証前に適用するため、キーはクライアントIPアドレス。
func (rl *RateLimiter) LoginMiddleware() func(next http.Handler) http.Handler {
	return rl.ipKeyed(rl.login)
}

// RegisterMiddleware はユーザー登録のIP単位レート制限ミドルウェアを返す。
func (rl *RateLimiter) RegisterMiddleware() func(next http.Handler) http.Handler {
	return rl.ipKeyed(rl.register)
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// LoginLimiterCount は現在管理されているログインリミッターのエントリ数を返す。
func (rl *RateLimiter) LoginLimiterCount() int {
	return rl.login.count()
}

// principalKeyed は認証主体のUIDをキーとする制限ミドルウェアを生成する。
func (rl *RateLimiter) principalKeyed(class *limiterClass) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := PrincipalFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !class.getOrCreate(principal.UID).Allow() {
				rl.recordRejection(class.name)
				writeRateLimitResponse(w, class.r)
				slog.Warn("rate limit exceeded",
					slog.String("uid", principal.UID),
					slog.String("limit_type", class.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ipKeyed はクライアントIPをキーとする制限ミドルウェアを生成する。
func (rl *RateLimiter) ipKeyed(class *limiterClass) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if !class.getOrCreate(ip).Allow() {
				rl.recordRejection(class.name)
				writeRateLimitResponse(w, class.r)
				slog.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("limit_type", class.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recordRejection は拒否をメトリクスに記録する。recorderが未設定なら何もしない。
func (rl *RateLimiter) recordRejection(limitType string) {
	if rl.recorder != nil {
		rl.recorder.RecordRateLimitRejection(limitType)
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.general.cleanup(now, ttl)
	rl.login.cleanup(now, ttl)
	rl.register.cleanup(now, ttl)
	rl.delete.cleanup(now, ttl)
}

// ClientIP はリクエストのクライアントIPアドレスを返す。
// プロキシ経由の場合はX-Forwarded-Forの先頭を使用する。
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     model.ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		Category: "ratelimit",
		Action:   "Retry-Afterヘッダーの秒数が経過してから再試行してください。",
	})
}
