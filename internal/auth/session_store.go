package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
)

// SessionStore はセッションIDからSessionTokenへの永続的な対応を管理する。
// 有効期限は作成時点からの固定TTLで、期限切れのレコードは読み取り時に存在しないものとして扱う。
type SessionStore struct {
	repo repository.SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionStore はSessionStoreを生成する。
func NewSessionStore(repo repository.SessionRepository, ttl time.Duration) *SessionStore {
	return &SessionStore{repo: repo, ttl: ttl, now: time.Now}
}

// TTL はセッションの有効期間を返す。
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create は新しいセッションIDを生成し、tokenを保存する。
// 同じユーザーの既存セッションは無効化しない。
func (s *SessionStore) Create(ctx context.Context, token SessionToken) (*model.Session, error) {
	if token == "" {
		return nil, errors.New("session token is required")
	}

	id, err := generateSessionID()
	if err != nil {
		return nil, internalError("generate session id", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        id,
		UserID:    string(token),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, internalError("create session", err)
	}
	return session, nil
}

// Read はセッションIDに対応するSessionTokenを返す。
// 存在しないか期限切れの場合はfalseを返す。
func (s *SessionStore) Read(ctx context.Context, sessionID string) (SessionToken, bool, error) {
	if sessionID == "" {
		return "", false, nil
	}
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return "", false, internalError("read session", err)
	}
	if session == nil || session.Expired(s.now()) {
		return "", false, nil
	}
	return SessionToken(session.UserID), true, nil
}

// Destroy はセッションを削除する。存在しない場合もエラーにしない。
func (s *SessionStore) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.repo.DeleteByID(ctx, sessionID); err != nil {
		return internalError("destroy session", err)
	}
	return nil
}

// DestroyAllFor は指定ユーザーの全セッションを削除する。
func (s *SessionStore) DestroyAllFor(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		return internalError("destroy user sessions", err)
	}
	return nil
}

// DestroyOthersFor は指定ユーザーのkeepID以外のセッションを削除する。
func (s *SessionStore) DestroyOthersFor(ctx context.Context, userID, keepID string) error {
	if err := s.repo.DeleteByUserIDExcept(ctx, userID, keepID); err != nil {
		return internalError("destroy other user sessions", err)
	}
	return nil
}

// Sweep は期限切れのセッションを削除し、削除件数を返す。
func (s *SessionStore) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return n, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
