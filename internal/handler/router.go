package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/sociallogin/internal/auth"
	"github.com/hitoshi/sociallogin/internal/metrics"
	"github.com/hitoshi/sociallogin/internal/middleware"
	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/view"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder  middleware.SessionFinder
	TrustedProxies []netip.Prefix          // 空の場合は転送ヘッダーを参照しない
	RateLimiter    *middleware.RateLimiter // nilの場合はレート制限なし
	CSRF           middleware.CSRFConfig
	Logger         *slog.Logger

	// 運用
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilの場合は /metrics を公開しない
	HealthChecker  HealthChecker

	// 画面
	Renderer *view.Renderer
	Cookies  CookieConfig

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP(信頼するプロキシのみ) → Metrics → Session → Logging → Recovery →
//	SecurityHeaders → MethodOverride → RateLimit(General)
//
// 画面とユーザーCRUDにはCSRFを、OAuthフローには認証用レート制限を追加で適用する。
// OAuthコールバックはプロバイダーから直接到達するためCSRFの対象外とし、stateで保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &pages{renderer: deps.Renderer, auth: deps.AuthService, cookies: deps.Cookies}
	welcomeHandler := NewWelcomeHandler(p)
	userHandler := NewUserHandler(deps.UserService, p)
	sessionHandler := NewSessionHandler(deps.AuthService, p)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewRealIPMiddleware(deps.TrustedProxies))
	r.Use(metrics.NewHTTPMiddleware(collector))
	// ログにuser_idを含めるためSessionの後に置く
	r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewMethodOverrideMiddleware(maxUserBodyBytes))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.GeneralMiddleware())
	}

	notFound := func(w http.ResponseWriter, r *http.Request) {
		p.notFound(w, r, model.NewRouteNotFoundError(r.URL.Path))
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 画面・ユーザーCRUD ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/", welcomeHandler.Index)
		r.Get("/welcome/index", welcomeHandler.Index)
		r.Get("/welcome/home", welcomeHandler.Home)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.Index)
			r.Post("/", userHandler.Create)
			r.Get("/new", userHandler.New)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", userHandler.Show)
				r.Get("/edit", userHandler.Edit)
				r.Put("/", userHandler.Update)
				r.Patch("/", userHandler.Update)
				r.Delete("/", userHandler.Destroy)
			})
		})

		r.Get("/auth/failure", sessionHandler.Failure)
		r.Get("/logout", sessionHandler.Destroy)
	})

	// --- ソーシャルログイン ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthMiddleware())
		}

		r.Get(auth.DeveloperLoginPath, sessionHandler.DeveloperLogin)
		r.Get("/auth/{provider}", sessionHandler.Begin)
		r.Get("/auth/{provider}/callback", sessionHandler.Create)
		r.Post("/auth/{provider}/callback", sessionHandler.Create)
	})

	return r
}
