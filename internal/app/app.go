// Package app はプロセスの起動とサブコマンドごとの依存関係の組み立てを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/chat"
	"github.com/hitoshi/codeial/internal/config"
	"github.com/hitoshi/codeial/internal/database"
	"github.com/hitoshi/codeial/internal/handler"
	"github.com/hitoshi/codeial/internal/logger"
	"github.com/hitoshi/codeial/internal/metrics"
	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/repository"
	"github.com/hitoshi/codeial/internal/user"
	"github.com/hitoshi/codeial/internal/worker/cleanup"
)

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
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8000"
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
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, cfg.StoreTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// openSessionRepo は設定されたバックエンドのセッションリポジトリを返す。
// 返されるclose関数はプロセス終了時に呼び出す。
func openSessionRepo(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("session store: redis")
		return repository.NewRedisSessionRepo(rdb), rdb.Close, nil

	case config.SessionStoreBolt:
		repo, err := repository.OpenBoltSessionRepo(cfg.SessionBoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session file: %w", err)
		}
		slog.Info("session store: bolt", slog.String("path", cfg.SessionBoltPath))
		return repo, repo.Close, nil

	default:
		slog.Info("session store: postgres")
		return repository.NewPostgresSessionRepo(db), func() error { return nil }, nil
	}
}

// services はserveとworkerで共有するドメインサービス群。
type services struct {
	sessions *auth.SessionStore
	auth     *auth.Service
	users    *user.Service
}

// buildServices はリポジトリからドメインサービスを組み立てる。
func buildServices(cfg *config.Config, users repository.UserRepository, sessionRepo repository.SessionRepository, recorder auth.Recorder) (*services, error) {
	hasher, err := auth.NewPasswordHasher(bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret: []byte(cfg.SessionSecret),
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.BearerTokenTTL,
		Leeway: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	sessions := auth.NewSessionStore(sessionRepo, cfg.SessionTTL())
	authService := auth.NewService(users, sessions, hasher, issuer, auth.ServiceConfig{
		StoreTimeout: cfg.StoreTimeout,
		Recorder:     recorder,
		Logger:       slog.Default(),
	})

	return &services{
		sessions: sessions,
		auth:     authService,
		users:    user.NewService(users, hasher, sessions),
	}, nil
}

// newRouterDeps は設定とサービスからルーターの依存関係を組み立てる。
func newRouterDeps(cfg *config.Config, svc *services, collector *metrics.Collector, gatherer prometheus.Gatherer, health handler.HealthChecker, rl *middleware.RateLimiter) (*handler.RouterDeps, error) {
	renderer, err := handler.NewRenderer(cfg.CookieSecure)
	if err != nil {
		return nil, err
	}

	return &handler.RouterDeps{
		Logger:              slog.Default(),
		Authorizer:          svc.auth,
		BearerAuthenticator: svc.auth,
		AuthService:         svc.auth,
		UserService:         svc.users,
		SessionCookie: middleware.SessionCookieConfig{
			Name:   cfg.SessionCookieName,
			MaxAge: cfg.SessionMaxAge,
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		},
		Renderer: renderer,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		HealthChecker:     health,
		MetricsHandler:    metrics.Handler(gatherer),
		MetricsRecorder:   collector,
		ChatHandler:       chat.NewServer(chat.NewHub(), chat.NewSanitizer(), slog.Default()),
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	sessionRepo, closeSessions, err := openSessionRepo(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	// 3. メトリクスとドメインサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	svc, err := buildServices(cfg, repository.NewPostgresUserRepo(db), sessionRepo, collector)
	if err != nil {
		return err
	}

	if sweepsInProcess(cfg) {
		job := cleanup.NewCleanupJob(svc.sessions, collector, slog.Default(), cfg.SessionSweepInterval)
		go job.Start(ctx)
		slog.Info("expired-session sweep running in serve", slog.Duration("sweep_interval", job.Interval))
	}

	// 4. ルーターの構築
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rl.Stop()

	deps, err := newRouterDeps(cfg, svc, collector, registry, db, rl)
	if err != nil {
		return err
	}

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの定期削除を実行し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if err := checkWorkerBackend(cfg); err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo, closeSessions, err := openSessionRepo(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	sessions := auth.NewSessionStore(sessionRepo, cfg.SessionTTL())
	job := cleanup.NewCleanupJob(sessions, collector, slog.Default(), cfg.SessionSweepInterval)

	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("worker starting",
		slog.Duration("sweep_interval", job.Interval),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// checkWorkerBackend はワーカーを別プロセスで動かせるバックエンドか検証する。
// bboltはファイルを排他ロックするため、serveと同じファイルを開けない。
func checkWorkerBackend(cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreBolt {
		return fmt.Errorf("worker is not supported with SESSION_STORE=%s: the session file %q is locked by serve, which sweeps expired sessions itself", config.SessionStoreBolt, cfg.SessionBoltPath)
	}
	return nil
}

// sweepsInProcess はserveプロセス内で期限切れセッションを削除するかを返す。
func sweepsInProcess(cfg *config.Config) bool {
	return cfg.SessionStore == config.SessionStoreBolt
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

	version, dirty, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
