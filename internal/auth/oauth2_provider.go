package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/sociallogin/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"

	defaultGitHubProfileURL = "https://api.github.com/user"
	defaultGoogleProfileURL = "https://openidconnect.googleapis.com/v1/userinfo"

	// maxProfileBytes はプロフィールレスポンスの読み取り上限。
	maxProfileBytes = 1 << 20
)

// ProviderConfig はOAuth2プロバイダーの設定。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient はトークン交換とプロフィール取得に使うクライアント。
	// nilの場合はhttp.DefaultClientを使う。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// profileDecoder はプロフィールAPIのレスポンスを確認済みユーザー情報に変換する。
type profileDecoder func(body []byte) (*model.VerifiedIdentity, error)

// OAuth2Provider は認可コードフローによるIdentityProviderの実装。
// GitHubとGoogleはプロフィールAPIとデコーダーのみが異なる。
type OAuth2Provider struct {
	name         string
	oauth        *oauth2.Config
	profileURL   string
	acceptHeader string
	client       *http.Client
	decode       profileDecoder
}

// NewGitHubProvider はGitHub OAuth AppsのIdentityProviderを生成する。
func NewGitHubProvider(cfg ProviderConfig) *OAuth2Provider {
	return newOAuth2Provider(ProviderGitHub, cfg, endpoints.GitHub,
		[]string{"read:user", "user:email"},
		defaultGitHubProfileURL, "application/vnd.github+json", decodeGitHubProfile)
}

// NewGoogleProvider はGoogle OAuth 2.0のIdentityProviderを生成する。
// スコープにはopenid, email, profileを含む。
func NewGoogleProvider(cfg ProviderConfig) *OAuth2Provider {
	return newOAuth2Provider(ProviderGoogle, cfg, endpoints.Google,
		[]string{"openid", "email", "profile"},
		defaultGoogleProfileURL, "application/json", decodeGoogleProfile)
}

func newOAuth2Provider(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string,
	profileURL, accept string, decode profileDecoder) *OAuth2Provider {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	if cfg.ProfileURL != "" {
		profileURL = cfg.ProfileURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &OAuth2Provider{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		profileURL:   profileURL,
		acceptHeader: accept,
		client:       client,
		decode:       decode,
	}
}

// Name はプロバイダー名を返す。
func (p *OAuth2Provider) Name() string {
	return p.name
}

// AuthCodeURL は認可エンドポイントのURLを返す。
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// HandleCallback は認可コードをトークンに交換し、プロフィールAPIからユーザー情報を取得する。
func (p *OAuth2Provider) HandleCallback(ctx context.Context, params url.Values) (*model.VerifiedIdentity, error) {
	// 1. IdPがエラーを返した場合（同意拒否など）
	if e := params.Get("error"); e != "" {
		if e == "access_denied" {
			return nil, model.NewAuthError(model.AuthErrAccessDenied, p.name, nil)
		}
		return nil, model.NewAuthError(model.AuthErrProvider, p.name,
			fmt.Errorf("%s: %s", e, params.Get("error_description")))
	}

	code := params.Get("code")
	if code == "" {
		return nil, model.NewAuthError(model.AuthErrInvalidCredentials, p.name, errors.New("missing authorization code"))
	}

	// 2. 認可コードをアクセストークンに交換
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, model.NewAuthError(model.AuthErrInvalidCredentials, p.name, fmt.Errorf("failed to exchange token: %w", err))
	}

	// 3. アクセストークンでプロフィールを取得
	identity, err := p.fetchProfile(ctx, token)
	if err != nil {
		return nil, model.NewAuthError(model.AuthErrProvider, p.name, err)
	}
	identity.Provider = p.name
	return identity, nil
}

func (p *OAuth2Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (*model.VerifiedIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", p.acceptHeader)

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d", resp.StatusCode)
	}

	return p.decode(body)
}

// githubProfile はGitHubの /user レスポンス。
type githubProfile struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func decodeGitHubProfile(body []byte) (*model.VerifiedIdentity, error) {
	var p githubProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse github profile: %w", err)
	}
	if p.ID == 0 {
		return nil, errors.New("empty id in github profile")
	}
	name := p.Name
	if name == "" {
		name = p.Login
	}
	return &model.VerifiedIdentity{
		ProviderUserID: strconv.FormatInt(p.ID, 10),
		Email:          p.Email,
		Name:           name,
	}, nil
}

// googleProfile はGoogleのuserinfoレスポンス。
type googleProfile struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func decodeGoogleProfile(body []byte) (*model.VerifiedIdentity, error) {
	var p googleProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse google profile: %w", err)
	}
	if p.Sub == "" {
		return nil, errors.New("empty sub in google profile")
	}
	email := p.Email
	if !p.EmailVerified {
		email = ""
	}
	return &model.VerifiedIdentity{
		ProviderUserID: p.Sub,
		Email:          email,
		Name:           p.Name,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*OAuth2Provider)(nil)
