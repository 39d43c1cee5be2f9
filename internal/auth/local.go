package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
)

// LocalStrategy はメールアドレスとパスワードによる認証を行う。
type LocalStrategy struct {
	users  repository.UserRepository
	hasher *PasswordHasher
}

// NewLocalStrategy はLocalStrategyを生成する。
func NewLocalStrategy(users repository.UserRepository, hasher *PasswordHasher) *LocalStrategy {
	return &LocalStrategy{users: users, hasher: hasher}
}

// Verify はemailでユーザーを1件検索し、パスワードを検証する。
// ユーザーが存在しない場合もパスワード不一致の場合もErrInvalidCredentialsを返す。
// 検索や比較の障害はErrInternalでラップして返す。
func (s *LocalStrategy) Verify(ctx context.Context, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.hasher.compareDummy(password)
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError("find user by email", err)
	}
	if user == nil {
		s.hasher.compareDummy(password)
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, internalError("verify password", err)
	}

	return user, nil
}
