package auth

import (
	"errors"
	"fmt"
)

// 認証失敗の分類。呼び出し側はerrors.Isで判定する。
var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードの不一致。
	// メールアドレスの存在有無は区別しない。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingToken はAuthorizationヘッダーが無いかBearer形式でない。
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken は署名不一致・期限切れ・発行者不一致のトークン。
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrUnknownSubject はトークンやセッションのユーザーIDに対応するユーザーが存在しない。
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrInternal はストア障害・タイムアウトなどの内部エラー。
	// 原因はラップして保持するが、呼び出し元への応答には含めない。
	ErrInternal = errors.New("internal error")
)

// internalError は原因をErrInternalとともにラップする。
func internalError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// Outcome はエラーをメトリクス・ログ用の結果ラベルに変換する。
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInternal):
		return "internal"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrUnknownSubject):
		return "unknown_subject"
	default:
		return "internal"
	}
}
