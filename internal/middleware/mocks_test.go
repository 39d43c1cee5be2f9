package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/model"
)

// mockAuthorizer はAuthorizerのテスト用モック。
type mockAuthorizer struct {
	authorizeFn func(ctx context.Context, sessionID string) (auth.Decision, error)
	calls       []string
}

func (m *mockAuthorizer) Authorize(ctx context.Context, sessionID string) (auth.Decision, error) {
	m.calls = append(m.calls, sessionID)
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, sessionID)
	}
	return auth.Decision{}, nil
}

// mockBearerAuthenticator はBearerAuthenticatorのテスト用モック。
type mockBearerAuthenticator struct {
	authenticateFn func(ctx context.Context, authorization string) (*model.User, error)
}

func (m *mockBearerAuthenticator) AuthenticateBearer(ctx context.Context, authorization string) (*model.User, error) {
	return m.authenticateFn(ctx, authorization)
}

// mockStatusRecorder はStatusRecorderのテスト用モック。
type mockStatusRecorder struct {
	codes []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.codes = append(m.codes, statusCode)
}

func testUser() *model.User {
	return &model.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "$2a$10$hash",
	}
}

var testCookieConfig = SessionCookieConfig{
	Name:   "codeial",
	MaxAge: 6000,
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
