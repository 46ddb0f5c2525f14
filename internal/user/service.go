// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/sociallogin/internal/metrics"
	"github.com/hitoshi/sociallogin/internal/model"
	"github.com/hitoshi/sociallogin/internal/repository"
)

// IdentityLister はユーザーに紐づくidentityの取得インターフェース。
type IdentityLister interface {
	ListByUserID(ctx context.Context, userID string) ([]model.Identity, error)
}

// 操作メトリクスのラベル
const (
	OperationCreate  = "create"
	OperationUpdate  = "update"
	OperationDestroy = "destroy"
)

// Service はユーザー管理のサービス層。
// 検証はストア呼び出しの前に行い、一意制約はストア側の結果に委ねる。
type Service struct {
	userRepo   repository.UserRepository
	identities IdentityLister
	validator  *Validator
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identities IdentityLister,
	validator *Validator,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		userRepo:   userRepo,
		identities: identities,
		validator:  validator,
		metrics:    collector,
		now:        time.Now,
	}
}

// List は全ユーザーを返す。ユーザーがいない場合は空のスライスを返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// Get は指定IDのユーザーを紐づくidentityとともに返す。
// 存在しない場合はUSER_NOT_FOUNDの*model.APIErrorを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.identities != nil {
		identities, err := s.identities.ListByUserID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("identityの取得に失敗しました: %w", err)
		}
		user.Identities = identities
	}
	return user, nil
}

// Create は属性を検証してユーザーを作成する。
// 検証エラーおよびメールアドレスの重複は*model.ValidationErrorを返す。
func (s *Service) Create(ctx context.Context, attrs model.UserAttributes) (*model.User, error) {
	attrs = s.validator.Normalize(attrs)
	if err := s.validator.Validate(attrs); err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Name:      attrs.Name,
		Email:     attrs.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, wrapStoreError(err, "ユーザーの作成に失敗しました")
	}

	s.metrics.RecordUserOperation(OperationCreate)
	slog.Info("user created", slog.String("user_id", user.ID))
	return user, nil
}

// Update は送信された属性のみを既存ユーザーに適用する。IDと作成日時は変更しない。
func (s *Service) Update(ctx context.Context, id string, changes model.UserChanges) (*model.User, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	attrs := s.validator.Normalize(changes.Apply(user.Attributes()))
	if err := s.validator.Validate(attrs); err != nil {
		return nil, err
	}

	user.Name = attrs.Name
	user.Email = attrs.Email
	user.UpdatedAt = s.now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError(id)
		}
		return nil, wrapStoreError(err, "ユーザーの更新に失敗しました")
	}

	s.metrics.RecordUserOperation(OperationUpdate)
	slog.Info("user updated", slog.String("user_id", id))
	return user, nil
}

// Delete はユーザーを削除する。identitiesとsessionsはストア側で連鎖削除される。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}

	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError(id)
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.metrics.RecordUserOperation(OperationDestroy)
	slog.Info("user deleted", slog.String("user_id", id))
	return nil
}

func (s *Service) find(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return user, nil
}

// wrapStoreError はストアが返した検証エラーはそのまま返し、それ以外をラップする。
func wrapStoreError(err error, msg string) error {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return fmt.Errorf("%s: %w", msg, err)
}
