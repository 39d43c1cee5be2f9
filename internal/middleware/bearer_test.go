package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/model"
)

func TestRequireBearer_ValidToken_PutsUserInContext(t *testing.T) {
	authenticator := &mockBearerAuthenticator{
		authenticateFn: func(ctx context.Context, authorization string) (*model.User, error) {
			if authorization != "Bearer good" {
				t.Errorf("authorization = %q, want %q", authorization, "Bearer good")
			}
			return testUser(), nil
		},
	}

	var gotUser *model.User
	handler := NewRequireBearer(authenticator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser == nil || gotUser.ID != "user-1" {
		t.Fatalf("user = %+v, want user-1", gotUser)
	}
	if gotUser.PasswordHash != "" {
		t.Error("password hash must not be exposed")
	}
}

func TestRequireBearer_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing", auth.ErrMissingToken, http.StatusUnauthorized, model.ErrCodeMissingToken},
		{"invalid", fmt.Errorf("%w: token is expired", auth.ErrInvalidToken), http.StatusUnauthorized, model.ErrCodeInvalidToken},
		{"unknown subject", auth.ErrUnknownSubject, http.StatusUnauthorized, model.ErrCodeUnknownSubject},
		{"internal", fmt.Errorf("find user: %w: %w", auth.ErrInternal, context.DeadlineExceeded), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authenticator := &mockBearerAuthenticator{
				authenticateFn: func(ctx context.Context, authorization string) (*model.User, error) {
					return nil, tt.err
				},
			}

			called := false
			handler := NewRequireBearer(authenticator)(okHandler(&called))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))

			if called {
				t.Error("handler must not be called")
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if loc := w.Header().Get("Location"); loc != "" {
				t.Errorf("API failures must not redirect, got Location %q", loc)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if tt.wantStatus == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}
