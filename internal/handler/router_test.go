package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/model"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"db unreachable", errors.New("connection refused"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(t)
			deps.HealthChecker = &mockHealthChecker{err: tt.pingErr}

			w := serve(deps, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_MetricsEndpointAndRecorder(t *testing.T) {
	rec := &mockStatusRecorder{}
	deps := testDeps(t)
	deps.MetricsRecorder = rec
	deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})

	w := serve(deps, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("GET /metrics = %d %q", w.Code, w.Body.String())
	}

	serve(deps, httptest.NewRequest(http.MethodGet, "/users/profile/x", nil))

	if len(rec.codes) != 2 || rec.codes[0] != http.StatusOK || rec.codes[1] != http.StatusFound {
		t.Errorf("recorded = %v, want [200 302]", rec.codes)
	}
}

func TestRouter_SecurityHeadersOnPages(t *testing.T) {
	w := serve(testDeps(t), httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options header")
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected Content-Security-Policy header")
	}
}

func TestRouter_ChatRouteReceivesPropagatedIdentity(t *testing.T) {
	var sawUser bool
	deps := testDeps(t)
	deps.ChatHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawUser = middleware.UserFromContext(r.Context())
	})

	serve(deps, withSession(httptest.NewRequest(http.MethodGet, "/chat/ws", nil), aliceSession))

	if !sawUser {
		t.Error("chat handler should see the identity resolved from the session cookie")
	}
}

func TestRouter_LoginRateLimitPerIP(t *testing.T) {
	deps := testDeps(t)
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 2))
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl

	var last int
	for i := 0; i < 3; i++ {
		w := serve(deps, formRequest("/users/create-session", nil))
		last = w.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("third attempt status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"INVALID_INPUT", http.StatusBadRequest},
		{"INVALID_CREDENTIALS", http.StatusUnauthorized},
		{"USER_NOT_FOUND", http.StatusNotFound},
		{"EMAIL_TAKEN", http.StatusConflict},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.code, got, tt.want)
		}
	}
}
