package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/codeial/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 認証
	Authorizer          middleware.Authorizer
	BearerAuthenticator middleware.BearerAuthenticator
	AuthService         AuthServiceInterface
	UserService         UserServiceInterface
	SessionCookie       middleware.SessionCookieConfig

	// ブラウザ
	Renderer *Renderer
	CSRF     middleware.CSRFConfig

	// API
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker   HealthChecker
	MetricsHandler  http.Handler
	MetricsRecorder middleware.StatusRecorder

	// チャット（nilの場合はルートを登録しない）
	ChatHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders
//	ブラウザ: CSRF → SetAuthenticatedUser → RateLimit(General) [→ CheckAuthentication]
//	API:      CORS [→ RateLimit(Login)] または [RequireBearer → RateLimit(General)]
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.MetricsRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.MetricsRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())

	userHandler := NewUserHandler(deps.AuthService, deps.UserService, deps.Renderer, deps.SessionCookie)
	apiHandler := NewAPIHandler(deps.AuthService)

	// --- 運用エンドポイント ---
	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- JSON API（Bearerトークン） ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		r.With(deps.RateLimiter.LoginMiddleware()).Post("/users/create-session", apiHandler.CreateSession)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireBearer(deps.BearerAuthenticator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/users/me", apiHandler.Me)
		})
	})

	// --- ブラウザ（セッションCookie） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(middleware.NewSetAuthenticatedUser(deps.Authorizer, deps.SessionCookie))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", userHandler.Home)
		r.Get("/users/sign-in", userHandler.SignIn)
		r.Get("/users/sign-up", userHandler.SignUp)
		r.Post("/users/create", userHandler.Create)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/users/create-session", userHandler.CreateSession)
		r.Post("/users/sign-out", userHandler.DestroySession)

		if deps.ChatHandler != nil {
			r.Handle("/chat/ws", deps.ChatHandler)
		}

		// ログイン必須
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCheckAuthentication(signInPath))

			r.Get("/users/profile/{id}", userHandler.Profile)
			r.Post("/users/password", userHandler.ChangePassword)
			r.Post("/users/withdraw", userHandler.Withdraw)
		})
	})

	return r
}
