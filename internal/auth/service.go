package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/sociallogin/internal/metrics"
	"github.com/hitoshi/sociallogin/internal/model"
)

// userStore はユーザーの検索と、identityを伴う作成に必要なインターフェース。
type userStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// identityFinder はidentityの検索に必要なインターフェース。
type identityFinder interface {
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// sessionStore はセッションの発行と破棄に必要なインターフェース。
type sessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	DeleteByID(ctx context.Context, id string) error
}

// ProfileNormalizer はIdPのプロフィールをユーザー属性の制約を満たす値に変換する。
type ProfileNormalizer interface {
	ProfileAttributes(identity *model.VerifiedIdentity) model.UserAttributes
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service はソーシャルログインとセッションに関するビジネスロジックを提供する。
type Service struct {
	registry   *Registry
	states     *StateSigner
	users      userStore
	identities identityFinder
	sessions   sessionStore
	profiles   ProfileNormalizer
	metrics    metrics.MetricsCollector
	config     ServiceConfig
	now        func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	registry *Registry,
	states *StateSigner,
	users userStore,
	identities identityFinder,
	sessions sessionStore,
	profiles ProfileNormalizer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		registry:   registry,
		states:     states,
		users:      users,
		identities: identities,
		sessions:   sessions,
		profiles:   profiles,
		metrics:    collector,
		config:     config,
		now:        time.Now,
	}
}

// Providers は有効なプロバイダー名の一覧を返す。
func (s *Service) Providers() []string {
	return s.registry.Names()
}

// BeginLogin はstateを発行し、プロバイダーの認可URLとstateを返す。
func (s *Service) BeginLogin(provider string) (redirectURL, state string, err error) {
	p, ok := s.registry.Get(provider)
	if !ok {
		return "", "", model.NewAuthError(model.AuthErrUnknownProvider, provider, nil)
	}

	state, err = s.states.Issue(provider)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue state: %w", err)
	}
	return p.AuthCodeURL(state), state, nil
}

// HandleCallback はプロバイダーのコールバックを処理し、セッションを発行する。
// stateCookieはBeginLogin時にCookieへ保存したstate。
// ハンドシェイクの失敗は*model.AuthErrorとして返し、セッションは作成しない。
// 未登録のidentityの場合はusersレコードとidentitiesレコードを同時に作成する。
func (s *Service) HandleCallback(ctx context.Context, provider string, params url.Values, stateCookie string) (*model.Session, error) {
	session, err := s.handleCallback(ctx, provider, params, stateCookie)

	label := provider
	if _, ok := s.registry.Get(provider); !ok {
		label = "unknown"
	}
	if err != nil {
		s.metrics.RecordLogin(label, metrics.ResultFailure)
		return nil, err
	}
	s.metrics.RecordLogin(label, metrics.ResultSuccess)
	return session, nil
}

func (s *Service) handleCallback(ctx context.Context, provider string, params url.Values, stateCookie string) (*model.Session, error) {
	// 1. プロバイダーの解決
	p, ok := s.registry.Get(provider)
	if !ok {
		return nil, model.NewAuthError(model.AuthErrUnknownProvider, provider, nil)
	}

	// 2. stateの検証（Cookieとクエリが一致し、署名と有効期限が正しいこと）
	state := params.Get("state")
	if state == "" || state != stateCookie {
		return nil, model.NewAuthError(model.AuthErrInvalidState, provider, errors.New("state mismatch"))
	}
	if err := s.states.Verify(state, provider); err != nil {
		return nil, model.NewAuthError(model.AuthErrInvalidState, provider, err)
	}

	// 3. IdPとのハンドシェイク
	verified, err := p.HandleCallback(ctx, params)
	if err != nil {
		var authErr *model.AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, model.NewAuthError(model.AuthErrProvider, provider, err)
	}
	verified.Provider = provider

	// 4. ローカルユーザーの特定または作成
	userID, err := s.findOrCreateUser(ctx, verified)
	if err != nil {
		return nil, err
	}

	// 5. セッションを発行
	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// findOrCreateUser はidentityに紐づくユーザーIDを返す。未登録の場合は作成する。
func (s *Service) findOrCreateUser(ctx context.Context, verified *model.VerifiedIdentity) (string, error) {
	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, verified.Provider, verified.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", verified.Provider),
		)
		return identity.UserID, nil
	}

	attrs := s.profiles.ProfileAttributes(verified)
	userID, err := s.createUserWithIdentity(ctx, verified, attrs)

	// メールアドレスが既存ユーザーと重複する場合はメールなしで作成する
	var verr *model.ValidationError
	if errors.As(err, &verr) && attrs.Email != "" {
		if _, dup := verr.Fields["email"]; dup {
			attrs.Email = ""
			userID, err = s.createUserWithIdentity(ctx, verified, attrs)
		}
	}
	if err != nil {
		// 同一identityの同時ログインで先に作成された場合はそちらを使う
		if existing, findErr := s.identities.FindByProviderAndProviderUserID(ctx, verified.Provider, verified.ProviderUserID); findErr == nil && existing != nil {
			return existing.UserID, nil
		}
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", userID),
		slog.String("provider", verified.Provider),
	)
	return userID, nil
}

func (s *Service) createUserWithIdentity(ctx context.Context, verified *model.VerifiedIdentity, attrs model.UserAttributes) (string, error) {
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Name:      attrs.Name,
		Email:     attrs.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       verified.Provider,
		ProviderUserID: verified.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.users.CreateWithIdentity(ctx, user, identity); err != nil {
		return "", err
	}
	return user.ID, nil
}

// Logout はセッションを破棄する。セッションIDが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.metrics.RecordLogout()
	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッションに紐づくユーザーを取得する。
// ユーザーIDが空、またはユーザーが削除済みの場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
