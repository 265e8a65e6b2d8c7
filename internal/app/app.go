package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/paddock/internal/auth"
	"github.com/hitoshi/paddock/internal/cache"
	"github.com/hitoshi/paddock/internal/config"
	"github.com/hitoshi/paddock/internal/database"
	"github.com/hitoshi/paddock/internal/driver"
	"github.com/hitoshi/paddock/internal/handler"
	"github.com/hitoshi/paddock/internal/identity"
	"github.com/hitoshi/paddock/internal/logger"
	"github.com/hitoshi/paddock/internal/metrics"
	"github.com/hitoshi/paddock/internal/middleware"
	"github.com/hitoshi/paddock/internal/repository"
	"github.com/hitoshi/paddock/internal/team"
	"github.com/hitoshi/paddock/internal/worker/cleanup"
)

// cleanupInterval はセッションクリーンアップジョブの実行間隔。
const cleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	driverRepo := repository.NewPostgresDriverRepository(db)
	teamRepo := repository.NewPostgresTeamRepository(db)
	sessionRepo := repository.NewPostgresSessionRepository(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. キャッシュストアの初期化（ヒット・ミスをメトリクスに記録）
	backingStore, err := newCacheStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache store: %w", err)
	}
	cacheStore := cache.NewInstrumentedStore(backingStore, collector)

	// 5. IDプロバイダーの初期化
	verifier := identity.NewHTTPProvider(identity.Config{
		APIKey:  cfg.IdentityAPIKey,
		BaseURL: cfg.IdentityBaseURL,
	})

	// 6. ドメインサービスの初期化
	authService := auth.NewService(verifier, sessionRepo, auth.ServiceConfig{
		SessionIdleTimeout: cfg.SessionIdleTimeout,
	})

	driverService := driver.NewService(driverRepo, teamRepo, driverRepo, cacheStore, driver.ServiceConfig{
		MaxPageSize:     cfg.MaxPageSize,
		DefaultPageSize: cfg.DefaultPageSize,
		CacheTTL:        cfg.CacheTTL,
	})

	teamService := team.NewService(teamRepo, cacheStore, cfg.CacheTTL)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	rateLimiter.SetRecorder(collector)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		Sessions:          authService,
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		Metrics:         collector,
		MetricsGatherer: registry,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: int(cfg.SessionIdleTimeout.Seconds()),
		},

		DriverService: driverService,
		TeamService:   teamService,
	})

	// 8. セッションクリーンアップジョブをバックグラウンドで起動
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupJob := cleanup.NewCleanupJob(sessionRepo, slog.Default())
	cleanupJob.IdleTimeout = cfg.SessionIdleTimeout
	go cleanupJob.RunPeriodic(ctx, cleanupInterval)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup は期限切れセッションの削除を1回実行して終了する。
// cronなどの外部スケジューラから定期実行するためのサブコマンド。
func runCleanup(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sessionRepo := repository.NewPostgresSessionRepository(db)
	job := cleanup.NewCleanupJob(sessionRepo, slog.Default())
	job.IdleTimeout = cfg.SessionIdleTimeout

	return job.Run(context.Background())
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newCacheStore は設定に応じたキャッシュストアを生成する。
// REDIS_URLが設定されている場合はRedis、未設定の場合はインメモリを使用する。
func newCacheStore(cfg *config.Config) (cache.Store, error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-memory cache store")
		return cache.NewMemoryStore(), nil
	}

	store, err := cache.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.Info("redis cache store connected")
	return store, nil
}

// rateLimiterConfig は設定値（req/min、登録のみreq/hour）からレート制限設定を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	limiterCfg := middleware.DefaultRateLimiterConfig()

	limiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	limiterCfg.GeneralBurst = cfg.RateLimitGeneral
	limiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	limiterCfg.LoginBurst = cfg.RateLimitLogin
	limiterCfg.RegisterRate = rate.Limit(float64(cfg.RateLimitRegister) / 3600.0)
	limiterCfg.RegisterBurst = cfg.RateLimitRegister
	limiterCfg.DeleteRate = rate.Limit(float64(cfg.RateLimitDelete) / 60.0)
	limiterCfg.DeleteBurst = cfg.RateLimitDelete

	return limiterCfg
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
