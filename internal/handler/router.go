package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/paddock/internal/identity"
	"github.com/hitoshi/paddock/internal/metrics"
	"github.com/hitoshi/paddock/internal/middleware"
)

// HealthChecker はデータベース接続の死活確認を行うインターフェース。
// *sql.DBがこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	Sessions          middleware.SessionAuthenticator
	Verifier          identity.Verifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// メトリクス
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドライバー
	DriverService DriverServiceInterface

	// チーム
	TeamService TeamServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// グローバルミドルウェアの実行順序:
//
//	Recovery → CORS → SecurityHeaders → Logging → Metrics
//
// /api/* は加えて CSRF → 認証（セッションCookieまたはBearerトークン） →
// レート制限（General）を通過する。認証ルート（/auth/*）とヘルスチェック、
// メトリクスはこのチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		r.Use(metrics.NewHTTPMiddleware(deps.Metrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	driverHandler := NewDriverHandler(deps.DriverService)
	teamHandler := NewTeamHandler(deps.TeamService)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// 認証ルート。ログインと登録には専用のIPベースのレート制限を適用する。
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.With(deps.RateLimiter.RegisterMiddleware()).Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
		r.Get("/session", authHandler.Session)
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewAuthMiddleware(deps.Sessions, deps.Verifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ドライバー管理
		r.Route("/api/drivers", func(r chi.Router) {
			r.Get("/", driverHandler.List)
			r.Post("/", driverHandler.Create)
			r.Get("/search", driverHandler.Search)
			r.Get("/stats", driverHandler.Stats)
			r.Get("/compare", driverHandler.Compare)
			r.Post("/batch", driverHandler.BatchWrite)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", driverHandler.Get)
				r.Put("/", driverHandler.Update)
				r.Patch("/", driverHandler.Update)

				// DELETE には削除専用レート制限を追加
				r.With(deps.RateLimiter.DeleteMiddleware()).Delete("/", driverHandler.Delete)
			})
		})

		// チーム管理
		r.Route("/api/teams", func(r chi.Router) {
			r.Get("/", teamHandler.List)
			r.Post("/", teamHandler.Create)
			r.Get("/{id}", teamHandler.Get)
		})
	})

	return r
}

// newHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// データベースに到達できない場合は503を返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	}
}
