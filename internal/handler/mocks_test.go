package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/model"
	"github.com/hitoshi/codeial/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn      func(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	logoutFn     func(ctx context.Context, sessionID string) error
	issueTokenFn func(ctx context.Context, email, password string) (string, time.Time, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil, auth.ErrInvalidCredentials
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) IssueToken(ctx context.Context, email, password string) (string, time.Time, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(ctx, email, password)
	}
	return "", time.Time{}, auth.ErrInvalidCredentials
}

type mockUserService struct {
	registerFn       func(ctx context.Context, in user.RegisterInput) (*model.User, error)
	profileFn        func(ctx context.Context, userID string) (*model.User, error)
	changePasswordFn func(ctx context.Context, userID, currentSessionID string, in user.ChangePasswordInput) error
	withdrawFn       func(ctx context.Context, userID string) error
}

func (m *mockUserService) Register(ctx context.Context, in user.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.User{ID: "new-user"}, nil
}

func (m *mockUserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockUserService) ChangePassword(ctx context.Context, userID, currentSessionID string, in user.ChangePasswordInput) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, userID, currentSessionID, in)
	}
	return nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// mockAuthorizer はセッションIDごとの判定を返す。
type mockAuthorizer struct {
	decisions map[string]auth.Decision
	err       error
}

func (m *mockAuthorizer) Authorize(_ context.Context, sessionID string) (auth.Decision, error) {
	if m.err != nil {
		return auth.Decision{}, m.err
	}
	return m.decisions[sessionID], nil
}

type mockBearer struct {
	users map[string]*model.User
}

func (m *mockBearer) AuthenticateBearer(_ context.Context, authorization string) (*model.User, error) {
	token, err := auth.ExtractBearerToken(authorization)
	if err != nil {
		return nil, err
	}
	u, ok := m.users[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return u, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

type mockStatusRecorder struct {
	codes []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(code int) { m.codes = append(m.codes, code) }

// --- compile-time interface checks ---
var _ AuthServiceInterface = (*auth.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ middleware.Authorizer = (*auth.Service)(nil)
var _ middleware.BearerAuthenticator = (*auth.Service)(nil)

// --- ヘルパー ---

const (
	testCSRFToken = "csrf-test-token"
	aliceSession  = "sess-alice"
)

var testCookie = middleware.SessionCookieConfig{Name: "codeial", MaxAge: 6000}

func alice() *model.User {
	return &model.User{ID: "user-alice", Email: "alice@example.com", Name: "Alice", PasswordHash: "$2a$04$secret-hash"}
}

// testDeps はAliceのセッションが有効な状態のRouterDepsを返す。
func testDeps(t *testing.T) *RouterDeps {
	t.Helper()

	renderer, err := NewRenderer(false)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Authorizer: &mockAuthorizer{decisions: map[string]auth.Decision{
			aliceSession: {Allowed: true, User: alice()},
		}},
		BearerAuthenticator: &mockBearer{users: map[string]*model.User{"good-token": alice()}},
		AuthService:         &mockAuthService{},
		UserService:         &mockUserService{},
		SessionCookie:       testCookie,
		Renderer:            renderer,
		CORSAllowedOrigin:   "http://localhost:3000",
		RateLimiter:         rl,
		HealthChecker:       &mockHealthChecker{},
	}
}

// serve はルーターにリクエストを流してレスポンスを返す。
func serve(deps *RouterDeps, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, req)
	return w
}

// formRequest はCSRFトークン付きのフォームPOSTリクエストを生成する。
func formRequest(path string, values url.Values) *http.Request {
	if values == nil {
		values = url.Values{}
	}
	values.Set("csrf_token", testCSRFToken)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	return req
}

func withSession(req *http.Request, sessionID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "codeial", Value: sessionID})
	return req
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// flashFrom はレスポンスに設定されたフラッシュメッセージを復号する。
func flashFrom(t *testing.T, w *httptest.ResponseRecorder) *flashMessage {
	t.Helper()
	c := findCookie(w, flashCookieName)
	if c == nil || c.Value == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		t.Fatalf("invalid flash cookie: %v", err)
	}
	var f flashMessage
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("invalid flash payload: %v", err)
	}
	return &f
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (raw %q)", err, w.Body.String())
	}
	return body
}
