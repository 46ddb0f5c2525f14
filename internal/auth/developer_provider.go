package auth

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"

	"github.com/hitoshi/sociallogin/internal/model"
)

const (
	ProviderDeveloper = "developer"

	// DeveloperLoginPath は開発用ログインフォームのパス。
	DeveloperLoginPath = "/auth/developer/login"
)

// DeveloperProvider はローカル開発用のIdentityProvider。
// 外部通信を行わず、フォームで送信された名前とメールアドレスをそのまま確認済みとして扱う。
// 本番環境では有効にしないこと。
type DeveloperProvider struct{}

// NewDeveloperProvider はDeveloperProviderを生成する。
func NewDeveloperProvider() *DeveloperProvider {
	return &DeveloperProvider{}
}

// Name はプロバイダー名を返す。
func (p *DeveloperProvider) Name() string {
	return ProviderDeveloper
}

// AuthCodeURL はローカルのログインフォームのURLを返す。
func (p *DeveloperProvider) AuthCodeURL(state string) string {
	return DeveloperLoginPath + "?" + url.Values{"state": {state}}.Encode()
}

// HandleCallback はフォームのname, emailを検証する。provider_user_idは小文字化したメールアドレス。
func (p *DeveloperProvider) HandleCallback(_ context.Context, params url.Values) (*model.VerifiedIdentity, error) {
	email := strings.ToLower(strings.TrimSpace(params.Get("email")))
	if email == "" {
		return nil, model.NewAuthError(model.AuthErrInvalidCredentials, ProviderDeveloper, errors.New("email is required"))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewAuthError(model.AuthErrInvalidCredentials, ProviderDeveloper, err)
	}

	name := strings.TrimSpace(params.Get("name"))
	if name == "" {
		name = email
	}

	return &model.VerifiedIdentity{
		Provider:       ProviderDeveloper,
		ProviderUserID: email,
		Email:          email,
		Name:           name,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*DeveloperProvider)(nil)
