package auth

import (
	"context"

	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
)

// SessionToken はセッションに保存するユーザーの最小表現で、ユーザーIDそのもの。
// パスワードハッシュなどの秘密情報は含まない。
type SessionToken string

// Serializer はユーザーとSessionTokenを相互に変換する。
type Serializer struct {
	users repository.UserRepository
}

// NewSerializer はSerializerを生成する。
func NewSerializer(users repository.UserRepository) *Serializer {
	return &Serializer{users: users}
}

// Serialize はユーザーIDのみをSessionTokenとして返す。
func (s *Serializer) Serialize(user *model.User) SessionToken {
	return SessionToken(user.ID)
}

// Deserialize はSessionTokenのユーザーIDでユーザーを再取得する。
// ユーザーが削除済みの場合はErrUnknownSubjectを返す。
func (s *Serializer) Deserialize(ctx context.Context, token SessionToken) (*model.User, error) {
	if token == "" {
		return nil, ErrUnknownSubject
	}
	user, err := s.users.FindByID(ctx, string(token))
	if err != nil {
		return nil, internalError("find session subject", err)
	}
	if user == nil {
		return nil, ErrUnknownSubject
	}
	return user, nil
}
