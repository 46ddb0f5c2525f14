// Package auth はソーシャルログインのハンドシェイクとセッション管理を提供する。
package auth

import (
	"context"
	"net/url"
	"sort"

	"github.com/hitoshi/sociallogin/internal/model"
)

// IdentityProvider は外部IdPとのハンドシェイクを行うプロバイダーのインターフェース。
// プロバイダーごとに1つの実装を持つ。
type IdentityProvider interface {
	// Name はルーティングとidentities.providerに使う識別子を返す。
	Name() string
	// AuthCodeURL はユーザーをリダイレクトする認可URLを返す。
	AuthCodeURL(state string) string
	// HandleCallback はコールバックパラメータを検証し、確認済みのユーザー情報を返す。
	// 失敗時は*model.AuthErrorを返す。
	HandleCallback(ctx context.Context, params url.Values) (*model.VerifiedIdentity, error)
}

// Registry は有効なプロバイダーを名前で引くための静的なテーブル。
type Registry struct {
	providers map[string]IdentityProvider
}

// NewRegistry はRegistryを生成する。同名のプロバイダーは後勝ち。
func NewRegistry(providers ...IdentityProvider) *Registry {
	r := &Registry{providers: make(map[string]IdentityProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get は名前に対応するプロバイダーを返す。
func (r *Registry) Get(name string) (IdentityProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names は登録済みプロバイダー名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
