package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/sociallogin/internal/model"
)

// MemoryStore はプロセス内のマップでusers、identities、sessionsを保持するストア。
// DATABASE_URL未設定時の開発用およびテスト用。
// 3つのリポジトリは同一のロックとデータを共有し、ユーザー削除時のCASCADEを再現する。
type MemoryStore struct {
	Users      *MemoryUserRepo
	Identities *MemoryIdentityRepo
	Sessions   *MemorySessionRepo
}

// memoryData はMemoryStoreの共有データ。
type memoryData struct {
	mu         sync.RWMutex
	userOrder  []string
	users      map[string]model.User
	identities map[string]model.Identity
	sessions   map[string]model.Session
	now        func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	d := &memoryData{
		users:      make(map[string]model.User),
		identities: make(map[string]model.Identity),
		sessions:   make(map[string]model.Session),
		now:        time.Now,
	}
	return &MemoryStore{
		Users:      &MemoryUserRepo{d: d},
		Identities: &MemoryIdentityRepo{d: d},
		Sessions:   &MemorySessionRepo{d: d},
	}
}

// MemoryUserRepo はメモリ上のユーザーリポジトリ。
type MemoryUserRepo struct {
	d *memoryData
}

// FindAll は全ユーザーを作成順に返す。
func (r *MemoryUserRepo) FindAll(ctx context.Context) ([]*model.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	users := make([]*model.User, 0, len(r.d.userOrder))
	for _, id := range r.d.userOrder {
		u := r.d.users[id]
		users = append(users, &u)
	}
	return users, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	u, ok := r.d.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	return r.d.insertUser(user)
}

// CreateWithIdentity はユーザーとidentityを同時に作成する。
func (r *MemoryUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	for _, existing := range r.d.identities {
		if existing.Provider == identity.Provider && existing.ProviderUserID == identity.ProviderUserID {
			return fmt.Errorf("identity %s/%s already exists", identity.Provider, identity.ProviderUserID)
		}
	}
	if err := r.d.insertUser(user); err != nil {
		return err
	}
	r.d.identities[identity.ID] = *identity
	return nil
}

// Update はユーザーの属性を更新する。IDとCreatedAtは保持する。
func (r *MemoryUserRepo) Update(ctx context.Context, user *model.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	current, ok := r.d.users[user.ID]
	if !ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	if r.d.emailTaken(user.Email, user.ID) {
		return duplicateEmailError()
	}

	current.Name = user.Name
	current.Email = user.Email
	current.UpdatedAt = user.UpdatedAt
	r.d.users[user.ID] = current
	return nil
}

// DeleteByID は指定IDのユーザーと関連するidentities、sessionsを削除する。
func (r *MemoryUserRepo) DeleteByID(ctx context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(r.d.users, id)
	for i, orderedID := range r.d.userOrder {
		if orderedID == id {
			r.d.userOrder = append(r.d.userOrder[:i], r.d.userOrder[i+1:]...)
			break
		}
	}
	for key, identity := range r.d.identities {
		if identity.UserID == id {
			delete(r.d.identities, key)
		}
	}
	for key, session := range r.d.sessions {
		if session.UserID == id {
			delete(r.d.sessions, key)
		}
	}
	return nil
}

// Count は現存するユーザー数を返す。
func (r *MemoryUserRepo) Count(ctx context.Context) (int, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	return len(r.d.users), nil
}

// insertUser はロック取得済みの状態でユーザーを追加する。
func (d *memoryData) insertUser(user *model.User) error {
	if _, exists := d.users[user.ID]; exists {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	if d.emailTaken(user.Email, "") {
		return duplicateEmailError()
	}
	d.users[user.ID] = *user
	d.userOrder = append(d.userOrder, user.ID)
	return nil
}

// emailTaken はexceptID以外のユーザーが同じemailを使用しているかを返す。
// 空のemailは重複扱いしない。
func (d *memoryData) emailTaken(email, exceptID string) bool {
	if email == "" {
		return false
	}
	for id, u := range d.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// MemoryIdentityRepo はメモリ上のidentityリポジトリ。
type MemoryIdentityRepo struct {
	d *memoryData
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
func (r *MemoryIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	for _, identity := range r.d.identities {
		if identity.Provider == provider && identity.ProviderUserID == providerUserID {
			found := identity
			return &found, nil
		}
	}
	return nil, nil
}

// ListByUserID は指定ユーザーに紐づくidentityを返す。
func (r *MemoryIdentityRepo) ListByUserID(ctx context.Context, userID string) ([]model.Identity, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	var identities []model.Identity
	for _, identity := range r.d.identities {
		if identity.UserID == userID {
			identities = append(identities, identity)
		}
	}
	return identities, nil
}

// MemorySessionRepo はメモリ上のセッションリポジトリ。
type MemorySessionRepo struct {
	d *memoryData
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.users[session.UserID]; !ok {
		return fmt.Errorf("session user %s: %w", session.UserID, ErrNotFound)
	}
	r.d.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	session, ok := r.d.sessions[id]
	if !ok || !session.ExpiresAt.After(r.d.now()) {
		return nil, nil
	}
	return &session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	delete(r.d.sessions, id)
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	now := r.d.now()
	var deleted int64
	for id, session := range r.d.sessions {
		if !session.ExpiresAt.After(now) {
			delete(r.d.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// compile-time interface check
var (
	_ UserRepository     = (*MemoryUserRepo)(nil)
	_ IdentityRepository = (*MemoryIdentityRepo)(nil)
	_ SessionRepository  = (*MemorySessionRepo)(nil)
)
