package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sociallogin/internal/auth"
	"github.com/hitoshi/sociallogin/internal/middleware"
	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/view"
)

const (
	// afterLoginPath はログイン成功後のリダイレクト先。
	afterLoginPath = "/welcome/home"
	// afterLogoutPath はログアウト後のリダイレクト先。
	afterLogoutPath = "/"
	// authFailurePath はログイン失敗時のリダイレクト先。
	authFailurePath = "/auth/failure"
	// stateCookiePath はstate Cookieを送信するパス。
	stateCookiePath = "/auth"
)

// SessionHandler はソーシャルログインとログアウトのHTTPハンドラー。
type SessionHandler struct {
	*pages
	service AuthServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service AuthServiceInterface, p *pages) *SessionHandler {
	return &SessionHandler{pages: p, service: service}
}

// Begin はstateをCookieに保存し、プロバイダーの認可URLへリダイレクトする。
// GET /auth/{provider}
func (h *SessionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	redirectURL, state, err := h.service.BeginLogin(provider)
	if err != nil {
		var authErr *model.AuthError
		if errors.As(err, &authErr) {
			h.redirectToFailure(w, r, authErr.Kind, provider)
			return
		}
		h.internalError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   int(auth.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// DeveloperLogin は開発用プロバイダーのログインフォームを返す。
// 開発用プロバイダーが無効な場合は404。
// GET /auth/developer/login?state=xxx
func (h *SessionHandler) DeveloperLogin(w http.ResponseWriter, r *http.Request) {
	if !slices.Contains(h.service.Providers(), auth.ProviderDeveloper) {
		h.notFound(w, r, model.NewRouteNotFoundError(r.URL.Path))
		return
	}

	page := h.newPage(w, r, "Developer sign-in")
	page.State = r.URL.Query().Get("state")
	h.render(w, http.StatusOK, view.PageAuthDeveloper, page)
}

// Create はプロバイダーのコールバックを処理し、セッションを確立する。
// 失敗時はセッションを作成せず /auth/failure へリダイレクトする。
// GET/POST /auth/{provider}/callback
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	// クエリとPOSTボディの両方をコールバックパラメータとして扱う
	if err := r.ParseForm(); err != nil {
		h.redirectToFailure(w, r, model.AuthErrInvalidCredentials, provider)
		return
	}
	params := url.Values(r.Form)

	var stateCookie string
	if c, err := r.Cookie(auth.StateCookieName); err == nil {
		stateCookie = c.Value
	}
	// stateは1回限り有効
	h.clearCookie(w, auth.StateCookieName, stateCookiePath)

	session, err := h.service.HandleCallback(r.Context(), provider, params, stateCookie)
	if err != nil {
		var authErr *model.AuthError
		if errors.As(err, &authErr) {
			slog.Warn("social login failed",
				slog.String("provider", provider),
				slog.String("kind", string(authErr.Kind)),
				slog.String("error", authErr.Error()),
			)
			h.redirectToFailure(w, r, authErr.Kind, provider)
			return
		}
		h.internalError(w, r, err)
		return
	}

	// 既存のセッションは新しいセッションで置き換える
	if previous := middleware.SessionIDFromContext(r.Context()); previous != "" {
		if err := h.service.Logout(r.Context(), previous); err != nil {
			slog.Warn("failed to revoke previous session", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   h.cookies.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.setFlash(w, "Signed in successfully.")
	http.Redirect(w, r, afterLoginPath, http.StatusFound)
}

// Failure はログイン失敗ページを返す。
// GET /auth/failure?message=xxx&strategy=yyy
func (h *SessionHandler) Failure(w http.ResponseWriter, r *http.Request) {
	page := h.newPage(w, r, "Sign-in failed")
	page.Message = r.URL.Query().Get("message")
	page.Strategy = r.URL.Query().Get("strategy")
	h.render(w, http.StatusOK, view.PageAuthFailure, page)
}

// Destroy はセッションを破棄してトップページへリダイレクトする。
// セッションがなくてもエラーにしない。
// GET /logout
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			// ログアウトに失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.clearCookie(w, middleware.SessionCookieName, "/")
	h.setFlash(w, "Signed out.")
	http.Redirect(w, r, afterLogoutPath, http.StatusFound)
}

func (h *SessionHandler) redirectToFailure(w http.ResponseWriter, r *http.Request, kind model.AuthErrorKind, provider string) {
	q := url.Values{"message": {string(kind)}, "strategy": {provider}}
	http.Redirect(w, r, authFailurePath+"?"+q.Encode(), http.StatusFound)
}
