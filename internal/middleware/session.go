// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証状態を格納するためのキー。
var identityContextKey = contextKey("identity")

// identity はリクエスト1件分の認証状態。
type identity struct {
	decision  auth.Decision
	sessionID string
	err       error
}

// Authorizer はセッションIDから認可判定を計算するインターフェース。
// auth.Serviceが実装する。
type Authorizer interface {
	Authorize(ctx context.Context, sessionID string) (auth.Decision, error)
}

// SessionCookieConfig はセッションCookieの設定。
type SessionCookieConfig struct {
	Name   string
	MaxAge int // 秒
	Secure bool
	Domain string
}

// NewSetAuthenticatedUser はすべてのリクエストでセッションCookieからユーザーを解決し、
// 結果をリクエストコンテキストに載せるミドルウェアを返す。
// 公開ページでも実行し、未ログインの場合は匿名として後続に渡す。
// 削除済みユーザーを指すセッションCookieは消去する。
func NewSetAuthenticatedUser(authorizer Authorizer, cookie SessionCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionID string
			if c, err := r.Cookie(cookie.Name); err == nil {
				sessionID = c.Value
			}

			decision, err := authorizer.Authorize(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			if decision.Stale {
				ClearSessionCookie(w, cookie)
			}
			if decision.User != nil {
				decision.User = decision.User.Public()
				annotateUserID(r.Context(), decision.User.ID)
			}

			state := &identity{decision: decision, err: err}
			if decision.Allowed {
				state.sessionID = sessionID
			}
			ctx := context.WithValue(r.Context(), identityContextKey, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewCheckAuthentication は保護されたブラウザ向けルートの認可ゲートを返す。
// NewSetAuthenticatedUserが載せた判定のみを参照し、セッションの状態は変更しない。
// 未ログインの場合はsignInPathへ302でリダイレクトする。
func NewCheckAuthentication(signInPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, _ := r.Context().Value(identityContextKey).(*identity)
			if state != nil && state.err != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if state == nil || !state.decision.Allowed {
				http.Redirect(w, r, signInPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストから現在のユーザーを取得する。
// 返るユーザーはパスワードハッシュを含まない読み取り専用のコピー。
// 匿名の場合はfalseを返す。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	state, ok := ctx.Value(identityContextKey).(*identity)
	if !ok || state == nil || !state.decision.Allowed || state.decision.User == nil {
		return nil, false
	}
	return state.decision.User, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// SessionIDFromContext は認可済みリクエストのセッションIDを返す。
// Bearer認証や匿名の場合は空文字を返す。
func SessionIDFromContext(ctx context.Context) string {
	state, ok := ctx.Value(identityContextKey).(*identity)
	if !ok || state == nil {
		return ""
	}
	return state.sessionID
}

// ContextWithUser はコンテキストに認可済みユーザーを注入する。
// Bearer認証やテストで使用する。
func ContextWithUser(ctx context.Context, user *model.User, sessionID string) context.Context {
	return context.WithValue(ctx, identityContextKey, &identity{
		decision:  auth.Decision{Allowed: true, User: user.Public()},
		sessionID: sessionID,
	})
}

// SetSessionCookie はセッションIDをHttpOnly Cookieに設定する。
func SetSessionCookie(w http.ResponseWriter, cfg SessionCookieConfig, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    session.ID,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cfg SessionCookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
