// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/sociallogin/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しない場合に返される。
// 検索系メソッドは見つからない場合にnil, nilを返し、このエラーは使わない。
var ErrNotFound = errors.New("record not found")

// UserRepository はユーザーデータの永続化インターフェース。
// 個々の呼び出しの原子性はストア側が保証する。
type UserRepository interface {
	// FindAll は全ユーザーを作成日時の昇順で取得する。
	FindAll(ctx context.Context) ([]*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	// emailの一意制約違反は*model.ValidationErrorとして返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// Update はユーザーの属性を更新する。IDとCreatedAtは変更しない。
	// 存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。
	// 存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error

	// Count は現存するユーザー数を返す。
	Count(ctx context.Context) (int, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// ListByUserID は指定ユーザーに紐づくidentityを返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
