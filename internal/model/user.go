// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDはストアが作成時に採番し、以後変更しない。
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Identities は詳細表示時にのみ読み込まれる。
	Identities []Identity
}

// UserAttributes はフォームまたはJSONで送信されるユーザー属性。
type UserAttributes struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Attributes はユーザーの現在の属性を返す。編集フォームの初期値に使用する。
func (u *User) Attributes() UserAttributes {
	return UserAttributes{Name: u.Name, Email: u.Email}
}

// Identity は外部IdPとの紐付け情報を表す。
// (provider, provider_user_id) の組はユニーク。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// VerifiedIdentity はIdPとのハンドシェイクで検証済みのユーザー情報。
type VerifiedIdentity struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
}

// UserChanges は部分更新で送信された属性。nilのフィールドは変更しない。
type UserChanges struct {
	Name  *string
	Email *string
}

// Apply は変更を属性に適用した結果を返す。
func (c UserChanges) Apply(attrs UserAttributes) UserAttributes {
	if c.Name != nil {
		attrs.Name = *c.Name
	}
	if c.Email != nil {
		attrs.Email = *c.Email
	}
	return attrs
}
