// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/user"
)

const signInPath = "/users/sign-in"

// AuthServiceInterface はハンドラーが必要とする認証サービスのインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	IssueToken(ctx context.Context, email, password string) (string, time.Time, error)
}

// UserServiceInterface はハンドラーが必要とするユーザーサービスのインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, in user.RegisterInput) (*model.User, error)
	Profile(ctx context.Context, userID string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, currentSessionID string, in user.ChangePasswordInput) error
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はブラウザ向けのユーザー・セッション関連ハンドラー。
type UserHandler struct {
	auth     AuthServiceInterface
	users    UserServiceInterface
	renderer *Renderer
	cookie   middleware.SessionCookieConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(
	authService AuthServiceInterface,
	userService UserServiceInterface,
	renderer *Renderer,
	cookie middleware.SessionCookieConfig,
) *UserHandler {
	return &UserHandler{
		auth:     authService,
		users:    userService,
		renderer: renderer,
		cookie:   cookie,
	}
}

// Home はトップページを描画する。
// GET /
func (h *UserHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "home", pageData{Title: "Home"})
}

// SignIn はログインページを描画する。ログイン済みの場合はプロフィールへリダイレクトする。
// GET /users/sign-in
func (h *UserHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if h.redirectIfSignedIn(w, r) {
		return
	}
	h.renderer.Render(w, r, http.StatusOK, "sign_in", pageData{Title: "Sign In"})
}

// SignUp は登録ページを描画する。ログイン済みの場合はプロフィールへリダイレクトする。
// GET /users/sign-up
func (h *UserHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if h.redirectIfSignedIn(w, r) {
		return
	}
	h.renderer.Render(w, r, http.StatusOK, "sign_up", pageData{Title: "Sign Up"})
}

// Create はユーザーを登録する。
// POST /users/create
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	_, err := h.users.Register(r.Context(), user.RegisterInput{
		Email:           r.PostFormValue("email"),
		Name:            r.PostFormValue("name"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	})
	if err != nil {
		if apiErr, ok := apiErrorFrom(err); ok {
			setFlash(w, h.cookie.Secure, flashError, apiErr.Message)
			http.Redirect(w, r, "/users/sign-up", http.StatusFound)
			return
		}
		slog.Error("failed to register user", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	setFlash(w, h.cookie.Secure, flashSuccess, "Account created. Please sign in.")
	http.Redirect(w, r, signInPath, http.StatusFound)
}

// CreateSession はメールアドレスとパスワードでログインし、セッションCookieを発行する。
// POST /users/create-session
func (h *UserHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	_, session, err := h.auth.Login(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInternal) {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		setFlash(w, h.cookie.Secure, flashError, "Invalid Username/Password")
		http.Redirect(w, r, signInPath, http.StatusFound)
		return
	}

	middleware.SetSessionCookie(w, h.cookie, session)
	setFlash(w, h.cookie.Secure, flashSuccess, "Logged in successfully")
	http.Redirect(w, r, "/", http.StatusFound)
}

// DestroySession はサーバー側のセッションを破棄し、Cookieを削除する。
// POST /users/sign-out（CSRFトークン必須）
func (h *UserHandler) DestroySession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookie.Name); err == nil && c.Value != "" {
		if err := h.auth.Logout(r.Context(), c.Value); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.cookie)
	setFlash(w, h.cookie.Secure, flashSuccess, "Logged out")
	http.Redirect(w, r, "/", http.StatusFound)
}

// Profile は指定ユーザーのプロフィールを描画する。
// GET /users/profile/{id}
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if apiErr, ok := apiErrorFrom(err); ok && apiErr.Code == model.ErrCodeUserNotFound {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to load profile", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "profile", pageData{
		Title:   "Profile",
		Profile: profile,
	})
}

// ChangePassword は現在のユーザーのパスワードを変更し、他のセッションを破棄する。
// POST /users/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, signInPath, http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	profilePath := "/users/profile/" + userID
	err = h.users.ChangePassword(r.Context(), userID, middleware.SessionIDFromContext(r.Context()), user.ChangePasswordInput{
		CurrentPassword: r.PostFormValue("current_password"),
		NewPassword:     r.PostFormValue("new_password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	})
	if err != nil {
		if apiErr, ok := apiErrorFrom(err); ok {
			setFlash(w, h.cookie.Secure, flashError, apiErr.Message)
			http.Redirect(w, r, profilePath, http.StatusFound)
			return
		}
		slog.Error("failed to change password",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	setFlash(w, h.cookie.Secure, flashSuccess, "Password updated")
	http.Redirect(w, r, profilePath, http.StatusFound)
}

// Withdraw は現在のユーザーの退会処理を実行する。
// POST /users/withdraw
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Redirect(w, r, signInPath, http.StatusFound)
		return
	}

	if err := h.users.Withdraw(r.Context(), userID); err != nil {
		slog.Error("failed to withdraw",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	middleware.ClearSessionCookie(w, h.cookie)
	setFlash(w, h.cookie.Secure, flashSuccess, "Your account has been deleted")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *UserHandler) redirectIfSignedIn(w http.ResponseWriter, r *http.Request) bool {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return false
	}
	http.Redirect(w, r, "/users/profile/"+u.ID, http.StatusFound)
	return true
}
