// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/sociallogin/internal/middleware"
	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/view"
)

// flashCookieName は次のページで1回だけ表示するメッセージを保持するCookie。
const flashCookieName = "flash"

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, attrs model.UserAttributes) (*model.User, error)
	Update(ctx context.Context, id string, changes model.UserChanges) (*model.User, error)
	Delete(ctx context.Context, id string) error
}

// AuthServiceInterface はセッションハンドラーとページ共通部が必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Providers() []string
	BeginLogin(provider string) (redirectURL, state string, err error)
	HandleCallback(ctx context.Context, provider string, params url.Values, stateCookie string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// CookieConfig はハンドラーが発行するCookieの共通設定。
type CookieConfig struct {
	Domain        string
	Secure        bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// pages はレイアウト共通のデータを組み立ててページを描画する。
type pages struct {
	renderer *view.Renderer
	auth     AuthServiceInterface
	cookies  CookieConfig
}

// newPage は現在のユーザー、CSRFトークン、フラッシュメッセージを設定したPageを返す。
// フラッシュメッセージは読み出した時点で削除する。
func (p *pages) newPage(w http.ResponseWriter, r *http.Request, title string) *view.Page {
	page := &view.Page{
		Title:     title,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Providers: p.auth.Providers(),
		Notice:    p.popFlash(w, r),
	}

	if userID, err := middleware.UserIDFromContext(r.Context()); err == nil {
		user, err := p.auth.CurrentUser(r.Context(), userID)
		if err != nil {
			slog.Warn("failed to load current user", slog.String("error", err.Error()))
		}
		page.CurrentUser = user
	}
	return page
}

func (p *pages) render(w http.ResponseWriter, status int, name string, page *view.Page) {
	p.renderer.Render(w, status, name, page)
}

// notFound はHTMLまたはJSONで404を返す。
func (p *pages) notFound(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	if wantsJSON(r) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
		return
	}
	page := p.newPage(w, r, "Not found")
	page.Message = apiErr.Message
	p.render(w, http.StatusNotFound, view.PageNotFound, page)
}

// internalError は詳細をログに記録し、HTMLまたはJSONで500を返す。
func (p *pages) internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	if wantsJSON(r) {
		middleware.WriteInternalServerError(w)
		return
	}
	page := p.newPage(w, r, "Error")
	page.Message = model.NewInternalError().Message
	p.render(w, http.StatusInternalServerError, view.PageError, page)
}

// handleServiceError はサービス層から返されたエラーをHTTPレスポンスに変換する。
// 検証エラーは各ハンドラーでフォームを再表示するため、ここでは扱わない。
func (p *pages) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
		p.notFound(w, r, apiErr)
		return
	}
	p.internalError(w, r, err)
}

// setFlash は次のリクエストで表示するメッセージを設定する。
func (p *pages) setFlash(w http.ResponseWriter, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		Domain:   p.cookies.Domain,
		HttpOnly: true,
		Secure:   p.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (p *pages) popFlash(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	p.clearCookie(w, flashCookieName, "/")

	decoded, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return ""
	}
	return string(decoded)
}

func (p *pages) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   p.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// wantsJSON はAcceptヘッダーでJSONが要求されているかを判定する。
func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

// hasJSONBody はリクエストボディがJSONかを判定する。
func hasJSONBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}
