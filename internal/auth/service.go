// Package auth はローカル認証・Bearerトークン認証・セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
)

// Recorder は認証結果とストアのレイテンシを記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordLogin(outcome string)
	RecordBearerAuth(outcome string)
	RecordSessionResolve(outcome string)
	RecordStoreLatency(op string, duration time.Duration)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	StoreTimeout time.Duration // ユーザー・セッションストア呼び出し1回あたりの上限
	Recorder     Recorder      // nilの場合は記録しない
	Logger       *slog.Logger  // nilの場合はslog.Default()
}

// Decision はリクエスト1件に対する認可判定。
type Decision struct {
	Allowed bool
	User    *model.User
	// Stale はセッションCookieが削除済みユーザーを指していたことを示す。
	// 該当セッションはサービス側で破棄済み。
	Stale bool
}

// Service は認証に関するビジネスロジックを提供する。
// 起動時に1回生成し、HTTP層へ明示的に渡す。
type Service struct {
	local      *LocalStrategy
	tokens     *TokenStrategy
	issuer     *TokenIssuer
	serializer *Serializer
	sessions   *SessionStore
	config     ServiceConfig
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	sessions *SessionStore,
	hasher *PasswordHasher,
	issuer *TokenIssuer,
	config ServiceConfig,
) *Service {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 3 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		local:      NewLocalStrategy(users, hasher),
		tokens:     NewTokenStrategy(issuer, users),
		issuer:     issuer,
		serializer: NewSerializer(users),
		sessions:   sessions,
		config:     config,
		logger:     logger,
	}
}

// Sessions は内部のSessionStoreを返す。
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// Login はローカル認証を行い、成功した場合にセッションを発行する。
// 認証に失敗した場合、セッションは作成されない。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	var user *model.User
	err := s.callStore(ctx, "credential_verify", func(ctx context.Context) error {
		var err error
		user, err = s.local.Verify(ctx, email, password)
		return err
	})
	if err != nil {
		s.recordLogin(err)
		s.logFailure("login failed", err, slog.String("email", email))
		return nil, nil, err
	}

	var session *model.Session
	err = s.callStore(ctx, "session_create", func(ctx context.Context) error {
		var err error
		session, err = s.sessions.Create(ctx, s.serializer.Serialize(user))
		return err
	})
	if err != nil {
		s.recordLogin(err)
		s.logFailure("session creation failed", err, slog.String("user_id", user.ID))
		return nil, nil, err
	}

	s.recordLogin(nil)
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。セッションIDが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	err := s.callStore(ctx, "session_destroy", func(ctx context.Context) error {
		return s.sessions.Destroy(ctx, sessionID)
	})
	if err != nil {
		s.logFailure("logout failed", err)
		return err
	}
	s.logger.Info("user logged out")
	return nil
}

// ResolveSession はセッションIDから現在のユーザーを解決する。
// セッションが無い・期限切れの場合は(nil, nil)を返し匿名として扱う。
// ユーザーが削除済みの場合はセッションを破棄してErrUnknownSubjectを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	var (
		token SessionToken
		found bool
	)
	err := s.callStore(ctx, "session_read", func(ctx context.Context) error {
		var err error
		token, found, err = s.sessions.Read(ctx, sessionID)
		return err
	})
	if err != nil {
		s.recordSession(err)
		s.logFailure("session read failed", err)
		return nil, err
	}
	if !found {
		s.recordSessionOutcome("absent")
		return nil, nil
	}

	var user *model.User
	err = s.callStore(ctx, "session_deserialize", func(ctx context.Context) error {
		var err error
		user, err = s.serializer.Deserialize(ctx, token)
		return err
	})
	if errors.Is(err, ErrUnknownSubject) {
		s.recordSession(err)
		s.logger.Info("stale session destroyed", slog.String("user_id", string(token)))
		destroyErr := s.callStore(ctx, "session_destroy", func(ctx context.Context) error {
			return s.sessions.Destroy(ctx, sessionID)
		})
		if destroyErr != nil {
			s.logFailure("stale session destroy failed", destroyErr)
		}
		return nil, ErrUnknownSubject
	}
	if err != nil {
		s.recordSession(err)
		s.logFailure("session deserialize failed", err)
		return nil, err
	}

	s.recordSession(nil)
	return user, nil
}

// Authorize はセッションIDから認可判定を1回だけ計算する。
// 判定結果はリクエストコンテキストに載せて後続の処理で共有する。
// 内部エラーの場合はAllowed=falseの判定とエラーを返す。
func (s *Service) Authorize(ctx context.Context, sessionID string) (Decision, error) {
	user, err := s.ResolveSession(ctx, sessionID)
	switch {
	case errors.Is(err, ErrUnknownSubject):
		return Decision{Stale: true}, nil
	case err != nil:
		return Decision{}, err
	case user == nil:
		return Decision{}, nil
	default:
		return Decision{Allowed: true, User: user}, nil
	}
}

// AuthenticateBearer はAuthorizationヘッダー値からAPI呼び出し元のユーザーを解決する。
// セッションには一切触れない。
func (s *Service) AuthenticateBearer(ctx context.Context, authorization string) (*model.User, error) {
	var user *model.User
	err := s.callStore(ctx, "token_verify", func(ctx context.Context) error {
		var err error
		user, err = s.tokens.Verify(ctx, authorization)
		return err
	})
	s.recordBearer(err)
	if err != nil {
		s.logFailure("bearer authentication failed", err)
		return nil, err
	}
	return user, nil
}

// IssueToken はローカル認証に成功したユーザーへBearerトークンを発行する。
func (s *Service) IssueToken(ctx context.Context, email, password string) (string, time.Time, error) {
	var user *model.User
	err := s.callStore(ctx, "credential_verify", func(ctx context.Context) error {
		var err error
		user, err = s.local.Verify(ctx, email, password)
		return err
	})
	s.recordLogin(err)
	if err != nil {
		s.logFailure("token issue failed", err, slog.String("email", email))
		return "", time.Time{}, err
	}

	token, expiresAt, err := s.issuer.Issue(user.ID)
	if err != nil {
		err = internalError("issue token", err)
		s.logFailure("token issue failed", err, slog.String("user_id", user.ID))
		return "", time.Time{}, err
	}

	s.logger.Info("bearer token issued", slog.String("user_id", user.ID))
	return token, expiresAt, nil
}

// callStore はストア呼び出しをStoreTimeout付きのコンテキストで実行する。
// タイムアウトはリポジトリのエラーとして返り、各ストラテジーでErrInternalにラップされる。
func (s *Service) callStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if s.config.Recorder != nil {
		s.config.Recorder.RecordStoreLatency(op, time.Since(start))
	}
	return err
}

func (s *Service) logFailure(msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("outcome", Outcome(err)))
	if errors.Is(err, ErrInternal) {
		s.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
		return
	}
	s.logger.Warn(msg, attrs...)
}

func (s *Service) recordLogin(err error) {
	if s.config.Recorder != nil {
		s.config.Recorder.RecordLogin(Outcome(err))
	}
}

func (s *Service) recordBearer(err error) {
	if s.config.Recorder != nil {
		s.config.Recorder.RecordBearerAuth(Outcome(err))
	}
}

func (s *Service) recordSession(err error) {
	s.recordSessionOutcome(Outcome(err))
}

func (s *Service) recordSessionOutcome(outcome string) {
	if s.config.Recorder != nil {
		s.config.Recorder.RecordSessionResolve(outcome)
	}
}
