package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/sociallogin/internal/auth"
	"github.com/hitoshi/sociallogin/internal/middleware"
	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/repository"
	"github.com/hitoshi/sociallogin/internal/security"
	"github.com/hitoshi/sociallogin/internal/user"
	"github.com/hitoshi/sociallogin/internal/view"
	"golang.org/x/net/html"
)

const testSecret = "test-session-secret-32bytes-long!"

// testApp はインメモリストア上に組み立てたアプリケーション全体。
type testApp struct {
	store   *repository.MemoryStore
	handler http.Handler
}

// appOption はテスト用のRouterDepsを上書きする。
type appOption func(deps *RouterDeps)

func newTestApp(t *testing.T, providers []auth.IdentityProvider, opts ...appOption) *testApp {
	t.Helper()

	if providers == nil {
		providers = []auth.IdentityProvider{auth.NewDeveloperProvider()}
	}

	store := repository.NewMemoryStore()
	validator := user.NewValidator(security.NewTextSanitizer())
	userService := user.NewService(store.Users, store.Identities, validator, nil)
	authService := auth.NewService(
		auth.NewRegistry(providers...),
		auth.NewStateSigner(testSecret),
		store.Users,
		store.Identities,
		store.Sessions,
		validator,
		nil,
		auth.ServiceConfig{SessionMaxAge: 3600},
	)

	deps := &RouterDeps{
		SessionFinder: store.Sessions,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Renderer:      view.MustNew(),
		Cookies:       CookieConfig{SessionMaxAge: 3600},
		AuthService:   authService,
		UserService:   userService,
	}
	for _, opt := range opts {
		opt(deps)
	}

	return &testApp{store: store, handler: NewRouter(deps)}
}

func (a *testApp) userCount(t *testing.T) int {
	t.Helper()
	n, err := a.store.Users.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	return n
}

func (a *testApp) browser(t *testing.T) *browser {
	return &browser{t: t, handler: a.handler, cookies: make(map[string]*http.Cookie)}
}

// browser はCookieを保持しながらリクエストを送るテスト用クライアント。
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) getJSON(path string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "application/json")
	return b.do(req)
}

func (b *browser) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) sendJSON(method, path string, body interface{}) *httptest.ResponseRecorder {
	b.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		b.t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.CSRFHeaderName, b.csrfToken())
	return b.do(req)
}

// csrfToken はページのフォームに埋め込まれたトークンを取得する。
func (b *browser) csrfToken() string {
	b.t.Helper()
	rec := b.get("/users/new")
	doc := parseHTML(b.t, rec.Body.String())
	inputs := findAll(doc, func(n *html.Node) bool {
		return n.Data == "input" && attr(n, "name") == middleware.CSRFFormField
	})
	if len(inputs) == 0 {
		b.t.Fatal("authenticity_token input not found")
	}
	return attr(inputs[0], "value")
}

// signIn は開発用プロバイダーでログインし、セッションCookieを取得する。
func (b *browser) signIn(name, email string) *httptest.ResponseRecorder {
	b.t.Helper()
	rec := b.get("/auth/developer")
	if rec.Code != http.StatusFound {
		b.t.Fatalf("GET /auth/developer status = %d, want %d", rec.Code, http.StatusFound)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		b.t.Fatalf("invalid Location: %v", err)
	}
	return b.postForm("/auth/developer/callback", url.Values{
		"state": {loc.Query().Get("state")},
		"name":  {name},
		"email": {email},
	})
}

// createUser はフォーム送信でユーザーを作成し、作成されたユーザーIDを返す。
func (b *browser) createUser(name, email string) string {
	b.t.Helper()
	rec := b.postForm("/users", url.Values{
		middleware.CSRFFormField: {b.csrfToken()},
		"name":                   {name},
		"email":                  {email},
	})
	if rec.Code != http.StatusFound {
		b.t.Fatalf("POST /users status = %d, want %d: %s", rec.Code, http.StatusFound, rec.Body.String())
	}
	return strings.TrimPrefix(rec.Header().Get("Location"), "/users/")
}

// stubIdP はコールバック結果を差し替えられるIdentityProvider。
type stubIdP struct {
	name     string
	callback func(params url.Values) (*model.VerifiedIdentity, error)
}

func (p *stubIdP) Name() string { return p.name }

func (p *stubIdP) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?" + url.Values{"state": {state}}.Encode()
}

func (p *stubIdP) HandleCallback(_ context.Context, params url.Values) (*model.VerifiedIdentity, error) {
	return p.callback(params)
}

// --- HTML helpers ---

func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to parse HTML: %v", err)
	}
	return doc
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func byID(doc *html.Node, id string) *html.Node {
	nodes := findAll(doc, func(n *html.Node) bool { return attr(n, "id") == id })
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func userRows(t *testing.T, body string) []*html.Node {
	t.Helper()
	return findAll(parseHTML(t, body), func(n *html.Node) bool {
		return n.Data == "tr" && attr(n, "data-user-id") != ""
	})
}

func noticeText(t *testing.T, body string) string {
	t.Helper()
	nodes := findAll(parseHTML(t, body), func(n *html.Node) bool { return attr(n, "class") == "notice" })
	if len(nodes) == 0 {
		return ""
	}
	return textContent(nodes[0])
}
