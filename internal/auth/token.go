package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/repository"
)

// TokenConfig はBearerトークンの署名設定。
type TokenConfig struct {
	Secret []byte        // HS256の署名鍵
	Issuer string        // issクレーム
	TTL    time.Duration // 有効期間
	Leeway time.Duration // 時刻ずれの許容幅
}

// TokenIssuer はHS256署名のBearerトークンを発行・検証する。
// subクレームにユーザーIDのみを格納し、サーバー側には保存しない。
type TokenIssuer struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid token leeway")
	}
	return &TokenIssuer{config: cfg, now: time.Now}, nil
}

// Issue は指定ユーザーIDをsubに持つトークンと、その有効期限を返す。
func (i *TokenIssuer) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}

	now := i.now()
	expiresAt := now.Add(i.config.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    i.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse はトークンの署名・有効期限・発行者を検証し、subクレームを返す。
// 検証に失敗した場合はErrInvalidTokenでラップしたエラーを返す。
func (i *TokenIssuer) Parse(tokenStr string) (string, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.config.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ExtractBearerToken は"Authorization: Bearer <token>"ヘッダー値からトークンを取り出す。
// 値が空、スキームがBearerでない、トークンが空の場合はErrMissingTokenを返す。
func ExtractBearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMissingToken
	}
	return token, nil
}

// TokenStrategy はBearerトークンでAPI呼び出しを認証する。
// セッションには一切触れない。
type TokenStrategy struct {
	issuer *TokenIssuer
	users  repository.UserRepository
}

// NewTokenStrategy はTokenStrategyを生成する。
func NewTokenStrategy(issuer *TokenIssuer, users repository.UserRepository) *TokenStrategy {
	return &TokenStrategy{issuer: issuer, users: users}
}

// Verify はAuthorizationヘッダー値を検証し、subに対応するユーザーを返す。
func (s *TokenStrategy) Verify(ctx context.Context, authorization string) (*model.User, error) {
	raw, err := ExtractBearerToken(authorization)
	if err != nil {
		return nil, err
	}

	subject, err := s.issuer.Parse(raw)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, subject)
	if err != nil {
		return nil, internalError("find token subject", err)
	}
	if user == nil {
		return nil, ErrUnknownSubject
	}
	return user, nil
}
