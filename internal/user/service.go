// Package user はユーザー登録・パスワード変更・退会のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
)

// bcryptが扱えるパスワードの最大バイト数。
const maxPasswordBytes = 72

// PasswordHasher はパスワードハッシュの生成と検証のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// SessionRevoker はユーザー単位のセッション破棄インターフェース。
type SessionRevoker interface {
	DestroyAllFor(ctx context.Context, userID string) error
	DestroyOthersFor(ctx context.Context, userID, keepID string) error
}

// RegisterInput はユーザー登録フォームの入力値。
type RegisterInput struct {
	Email           string
	Name            string
	Password        string
	ConfirmPassword string
}

// ChangePasswordInput はパスワード変更フォームの入力値。
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	hasher   PasswordHasher
	sessions SessionRevoker
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher PasswordHasher,
	sessions SessionRevoker,
) *Service {
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
		sessions: sessions,
		now:      time.Now,
	}
}

// Register は新規ユーザーを作成する。パスワードはハッシュのみを保存する。
// 入力不正の場合はINVALID_INPUT、メールアドレス重複の場合はEMAIL_TAKENのAPIErrorを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)

	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, "<> ") {
		return nil, model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	}
	if name == "" {
		return nil, model.NewInvalidInputError("名前を入力してください")
	}
	if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now()
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", u.ID))
	return u, nil
}

// ChangePassword は現在のパスワードを検証してから新しいハッシュを保存し、
// currentSessionID以外の全セッションを破棄する。
func (s *Service) ChangePassword(ctx context.Context, userID, currentSessionID string, in ChangePasswordInput) error {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.hasher.Compare(u.PasswordHash, in.CurrentPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return model.NewInvalidCredentialsError()
		}
		return fmt.Errorf("現在のパスワードの検証に失敗しました: %w", err)
	}
	if err := validatePassword(in.NewPassword, in.ConfirmPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	if err := s.sessions.DestroyOthersFor(ctx, userID, currentSessionID); err != nil {
		return fmt.Errorf("他のセッションの破棄に失敗しました: %w", err)
	}

	slog.Info("パスワードを変更しました", slog.String("user_id", userID))
	return nil
}

// Profile はプロフィール表示用にユーザーを取得する。
// 返るユーザーはパスワードハッシュを含まない。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	// IDはURLパスから来る。UUIDでない値はストアに渡さず存在しない扱いにする
	if _, err := uuid.Parse(userID); err != nil {
		return nil, model.NewUserNotFoundError()
	}
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u.Public(), nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します", slog.String("user_id", userID))

	if err := s.sessions.DestroyAllFor(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました", slog.String("user_id", userID))
	return nil
}

func validatePassword(password, confirm string) error {
	if password == "" {
		return model.NewInvalidInputError("パスワードを入力してください")
	}
	if len(password) > maxPasswordBytes {
		return model.NewInvalidInputError("パスワードが長すぎます")
	}
	if password != confirm {
		return model.NewInvalidInputError("確認用パスワードが一致しません")
	}
	return nil
}
