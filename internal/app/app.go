package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hitoshi/sociallogin/internal/auth"
	"github.com/hitoshi/sociallogin/internal/config"
	"github.com/hitoshi/sociallogin/internal/database"
	"github.com/hitoshi/sociallogin/internal/handler"
	"github.com/hitoshi/sociallogin/internal/logger"
	"github.com/hitoshi/sociallogin/internal/metrics"
	"github.com/hitoshi/sociallogin/internal/middleware"
	"github.com/hitoshi/sociallogin/internal/repository"
	"github.com/hitoshi/sociallogin/internal/security"
	"github.com/hitoshi/sociallogin/internal/user"
	"github.com/hitoshi/sociallogin/internal/view"
	"github.com/hitoshi/sociallogin/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// errDatabaseRequired はDATABASE_URLが必須のコマンドで未設定の場合に返される。
var errDatabaseRequired = errors.New("DATABASE_URL is required for this command")

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

	flush := initSentry(cfg)
	defer flush()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// initSentry はSENTRY_DSNが設定されている場合にSentryを初期化し、終了時のflush関数を返す。
func initSentry(cfg *config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
	}); err != nil {
		slog.Error("sentry init failed", slog.String("error", err.Error()))
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}

// stores はリポジトリ一式と、その後始末をまとめた構造体。
type stores struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	health     handler.HealthChecker // インメモリストアの場合はnil
	inMemory   bool
	close      func() error
}

// openStores はDATABASE_URLが設定されていればPostgreSQLに接続し、
// 未設定の場合はインメモリストアを返す。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set, using in-memory store")
		mem := repository.NewMemoryStore()
		return &stores{
			users:      mem.Users,
			identities: mem.Identities,
			sessions:   mem.Sessions,
			inMemory:   true,
			close:      func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	return &stores{
		users:      repository.NewPostgresUserRepo(db),
		identities: repository.NewPostgresIdentityRepo(db),
		sessions:   repository.NewPostgresSessionRepo(db),
		health:     db,
		close:      db.Close,
	}, nil
}

// buildProviders は設定で有効化されたプロバイダーのRegistryを構築する。
func buildProviders(cfg *config.Config, client *http.Client) *auth.Registry {
	var providers []auth.IdentityProvider

	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(auth.ProviderConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.CallbackURL(auth.ProviderGitHub),
			HTTPClient:   client,
		}))
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(auth.ProviderGoogle),
			HTTPClient:   client,
		}))
	}
	if cfg.EnableDeveloperAuth {
		slog.Warn("developer authentication is enabled, do not use in production")
		providers = append(providers, auth.NewDeveloperProvider())
	}

	registry := auth.NewRegistry(providers...)
	if len(registry.Names()) == 0 {
		slog.Warn("no identity providers are configured, social login is disabled")
	}
	return registry
}

// newHandler は全依存関係をワイヤリングしたHTTPハンドラーを構築する。
// 返されるstop関数はバックグラウンドのゴルーチンを停止する。
func newHandler(cfg *config.Config, st *stores, reg *prometheus.Registry) (http.Handler, func()) {
	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. ドメインサービスの初期化
	validator := user.NewValidator(security.NewTextSanitizer())
	registry := buildProviders(cfg, security.NewProviderClient(cfg.ProviderTimeout))

	authService := auth.NewService(
		registry,
		auth.NewStateSigner(cfg.SessionSecret),
		st.users, st.identities, st.sessions,
		validator,
		collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	userService := user.NewService(st.users, st.identities, validator, collector)

	// 3. ルーターの構築（req/min単位の設定からレート制限を生成）
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	deps := &handler.RouterDeps{
		SessionFinder:  st.sessions,
		TrustedProxies: cfg.TrustedProxies,
		RateLimiter:    rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  st.health,

		Renderer: view.MustNew(),
		Cookies: handler.CookieConfig{
			Domain:        cfg.CookieDomain,
			Secure:        cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		AuthService: authService,
		UserService: userService,
	}

	return handler.NewRouter(deps), rateLimiter.Stop
}

// newRegistry はGoランタイムとプロセスのメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はHTTPサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. ストア
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. ルーター
	router, stopBackground := newHandler(cfg, st, newRegistry())
	defer stopBackground()

	// インメモリストアは別プロセスのworkerから見えないため、サーバー内でクリーンアップする
	if st.inMemory {
		job := cleanup.NewCleanupJob(st.sessions, slog.Default())
		job.Interval = cfg.SessionCleanupInterval
		go job.Start(ctx)
	}

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errDatabaseRequired
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	job := cleanup.NewCleanupJob(st.sessions, slog.Default())
	job.Interval = cfg.SessionCleanupInterval

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", job.Interval),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errDatabaseRequired
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
