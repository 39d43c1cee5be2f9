package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// --- モック定義 ---

// memUserRepo はメモリ上のユーザーリポジトリ。
// errを設定すると全メソッドがそのエラーを返し、blockをtrueにするとコンテキスト終了まで待機する。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	err   error
	block bool
}

func newMemUserRepo(users ...*model.User) *memUserRepo {
	r := &memUserRepo{users: map[string]*model.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) wait(ctx context.Context) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.err
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(ctx context.Context, user *model.User) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
	}
	c := *user
	r.users[user.ID] = &c
	return nil
}

func (r *memUserRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	return nil
}

func (r *memUserRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

// memSessionRepo はメモリ上のセッションリポジトリ。
// 期限切れの判定はSessionStore側で行うため、ここでは期限を見ない。
type memSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]*model.Session
	createErr error
	findErr   error
	deleteErr error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*model.Session{}}
}

func (r *memSessionRepo) Create(_ context.Context, session *model.Session) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *session
	r.sessions[session.ID] = &c
	return nil
}

func (r *memSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *memSessionRepo) DeleteByID(_ context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	return r.deleteWhere(func(s *model.Session) bool { return s.UserID == userID })
}

func (r *memSessionRepo) DeleteByUserIDExcept(_ context.Context, userID, keepID string) error {
	return r.deleteWhere(func(s *model.Session) bool { return s.UserID == userID && s.ID != keepID })
}

func (r *memSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) deleteWhere(match func(*model.Session) bool) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if match(s) {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *memSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// mockRecorder は記録された結果ラベルを保持する。
type mockRecorder struct {
	mu       sync.Mutex
	logins   []string
	bearers  []string
	sessions []string
	storeOps []string
}

func (m *mockRecorder) RecordLogin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, outcome)
}

func (m *mockRecorder) RecordBearerAuth(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bearers = append(m.bearers, outcome)
}

func (m *mockRecorder) RecordSessionResolve(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, outcome)
}

func (m *mockRecorder) RecordStoreLatency(op string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeOps = append(m.storeOps, op)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUserRepo)(nil)
var _ repository.SessionRepository = (*memSessionRepo)(nil)
var _ Recorder = (*mockRecorder)(nil)

// --- ヘルパー ---

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewPasswordHasher failed: %v", err)
	}
	return h
}

// newStoredUser はpasswordのハッシュを持つユーザーを生成する。
func newStoredUser(t *testing.T, h *PasswordHasher, id, email, password string) *model.User {
	t.Helper()
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	now := time.Now()
	return &model.User{
		ID:           id,
		Email:        email,
		Name:         "user " + id,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenConfig{
		Secret: []byte("test-secret"),
		Issuer: "codeial",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}
	return issuer
}
