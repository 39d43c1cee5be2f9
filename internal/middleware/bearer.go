package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/codeial/internal/model"
)

// BearerAuthenticator はAuthorizationヘッダー値からユーザーを解決するインターフェース。
// auth.Serviceが実装する。
type BearerAuthenticator interface {
	AuthenticateBearer(ctx context.Context, authorization string) (*model.User, error)
}

// NewRequireBearer はAPIルート用の認可ゲートを返す。
// 認証に失敗した場合は401の統一エラーレスポンスを返し、リダイレクトはしない。
// セッションCookieは参照しない。
func NewRequireBearer(authenticator BearerAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticator.AuthenticateBearer(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				WriteAuthError(w, err)
				return
			}

			annotateUserID(r.Context(), user.ID)
			ctx := ContextWithUser(r.Context(), user, "")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
