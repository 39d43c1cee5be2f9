package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeMissingToken       = "MISSING_TOKEN"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeUnknownSubject     = "UNKNOWN_SUBJECT"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeSignInRequired     = "SIGN_IN_REQUIRED"
)

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewMissingTokenError はBearerトークン未指定のエラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "認証トークンが指定されていません。",
		Category: "auth",
		Action:   "Authorization: Bearer <token> ヘッダーを付与してください。",
	}
}

// NewInvalidTokenError は署名不一致または期限切れトークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "トークンを再発行してください。",
	}
}

// NewUnknownSubjectError はトークンやセッションの主体が存在しない場合のエラーを生成する。
func NewUnknownSubjectError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownSubject,
		Message:  "認証情報に対応するユーザーが存在しません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEmailTakenError はメールアドレス重複のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidInputError は入力値不正のエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSignInRequiredError はログインが必要な操作を匿名で呼び出した場合のエラーを生成する。
func NewSignInRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSignInRequired,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}
