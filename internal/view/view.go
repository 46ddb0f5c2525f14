// Package view はHTMLテンプレートの描画を提供する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/hitoshi/sociallogin/internal/model"
)

//go:embed templates
var templatesFS embed.FS

// ページ名（templates/pages 配下のファイル名から拡張子を除いたもの）
const (
	PageWelcomeIndex  = "welcome_index"
	PageWelcomeHome   = "welcome_home"
	PageUsersIndex    = "users_index"
	PageUsersNew      = "users_new"
	PageUsersEdit     = "users_edit"
	PageUsersShow     = "users_show"
	PageAuthFailure   = "auth_failure"
	PageAuthDeveloper = "auth_developer"
	PageNotFound      = "not_found"
	PageError         = "error"
)

// Page はテンプレートに渡すデータ。ページごとに使うフィールドだけを設定する。
type Page struct {
	Title       string
	CurrentUser *model.User
	CSRFToken   string
	Notice      string
	Providers   []string

	// ユーザー詳細・一覧
	User  *model.User
	Users []*model.User

	// ユーザーフォーム
	Form       model.UserAttributes
	Errors     map[string]string
	FormAction string
	FormMethod string

	// 認証失敗・開発用ログイン・エラーページ
	Message  string
	Strategy string
	State    string
}

// Renderer はページごとに layout と partials を組み合わせたテンプレートを保持する。
type Renderer struct {
	pages map[string]*template.Template
}

// New は埋め込みテンプレートをすべて解析してRendererを生成する。
func New() (*Renderer, error) {
	base, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	files, err := fs.Glob(templatesFS, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")

		tmpl, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone layout for %s: %w", name, err)
		}
		if _, err := tmpl.ParseFS(templatesFS, file); err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	return &Renderer{pages: pages}, nil
}

// MustNew はNewと同じだが、失敗時にpanicする。
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render はページをバッファに描画してからステータスコードとともに書き込む。
// 描画に失敗した場合は部分的な出力を送らずに500を返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, page string, data *Page) {
	tmpl, ok := r.pages[page]
	if !ok {
		slog.Error("unknown page template", slog.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// Has は指定したページが存在するかを返す。
func (r *Renderer) Has(page string) bool {
	_, ok := r.pages[page]
	return ok
}
