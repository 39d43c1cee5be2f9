package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type serviceFixture struct {
	svc      *Service
	users    *memUserRepo
	sessions *memSessionRepo
	store    *SessionStore
	issuer   *TokenIssuer
	recorder *mockRecorder
	logs     *bytes.Buffer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	h := newTestHasher(t)
	users := newMemUserRepo(newStoredUser(t, h, "u1", "a@x.com", "secret"))
	sessions := newMemSessionRepo()
	store := NewSessionStore(sessions, 100*time.Minute)
	issuer := newTestIssuer(t)
	recorder := &mockRecorder{}
	logs := &bytes.Buffer{}

	svc := NewService(users, store, h, issuer, ServiceConfig{
		StoreTimeout: 50 * time.Millisecond,
		Recorder:     recorder,
		Logger:       slog.New(slog.NewJSONHandler(logs, nil)),
	})
	return &serviceFixture{
		svc:      svc,
		users:    users,
		sessions: sessions,
		store:    store,
		issuer:   issuer,
		recorder: recorder,
		logs:     logs,
	}
}

// シナリオ1: 正しい認証情報でログインし、セッションCookieで認可される。
func TestService_LoginThenAuthorize(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, session, err := f.svc.Login(ctx, "a@x.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user.ID = %q, want u1", user.ID)
	}
	if f.sessions.count() != 1 {
		t.Fatalf("sessions = %d, want 1", f.sessions.count())
	}

	decision, err := f.svc.Authorize(ctx, session.ID)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected Allowed=true")
	}
	if decision.User.ID != "u1" {
		t.Errorf("decision user = %q, want u1", decision.User.ID)
	}
	if len(f.recorder.logins) != 1 || f.recorder.logins[0] != "ok" {
		t.Errorf("recorded logins = %v, want [ok]", f.recorder.logins)
	}
}

// シナリオ2: パスワード不一致ではセッションを作成しない。
func TestService_Login_WrongPassword(t *testing.T) {
	f := newServiceFixture(t)

	_, session, err := f.svc.Login(context.Background(), "a@x.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login error = %v, want ErrInvalidCredentials", err)
	}
	if session != nil {
		t.Error("no session should be returned")
	}
	if f.sessions.count() != 0 {
		t.Errorf("sessions = %d, want 0", f.sessions.count())
	}
	if strings.Contains(f.logs.String(), "wrong") {
		t.Error("submitted password must not be logged")
	}
}

// シナリオ3: Cookieもトークンも無いリクエストは匿名として扱われる。
func TestService_Authorize_Anonymous(t *testing.T) {
	f := newServiceFixture(t)

	decision, err := f.svc.Authorize(context.Background(), "")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed || decision.User != nil {
		t.Errorf("decision = %+v, want anonymous", decision)
	}
}

// シナリオ4: 期限切れのBearerトークンはInvalidToken。
func TestService_AuthenticateBearer_ExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	f.issuer.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	expired, _, err := f.issuer.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	f.issuer.now = time.Now

	_, err = f.svc.AuthenticateBearer(context.Background(), "Bearer "+expired)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
	if len(f.recorder.bearers) != 1 || f.recorder.bearers[0] != "invalid_token" {
		t.Errorf("recorded bearer outcomes = %v, want [invalid_token]", f.recorder.bearers)
	}
	if f.sessions.count() != 0 {
		t.Error("bearer authentication must not touch sessions")
	}
}

// シナリオ5: 削除済みアカウントを指すセッションは破棄され、以後は認可されない。
func TestService_Authorize_DeletedAccount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, session, err := f.svc.Login(ctx, "a@x.com", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := f.users.DeleteByID(ctx, "u1"); err != nil {
		t.Fatalf("DeleteByID failed: %v", err)
	}

	_, err = f.svc.ResolveSession(ctx, session.ID)
	if !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("ResolveSession error = %v, want ErrUnknownSubject", err)
	}
	if f.sessions.count() != 0 {
		t.Error("stale session should be destroyed")
	}

	decision, err := f.svc.Authorize(ctx, session.ID)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed {
		t.Error("expected Allowed=false after account deletion")
	}
	if decision.Stale {
		t.Error("destroyed session should now read as absent, not stale")
	}
}

func TestService_Authorize_StaleDecision(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, session, _ := f.svc.Login(ctx, "a@x.com", "secret")
	_ = f.users.DeleteByID(ctx, "u1")

	decision, err := f.svc.Authorize(ctx, session.ID)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed || !decision.Stale {
		t.Errorf("decision = %+v, want Stale and not allowed", decision)
	}
}

func TestService_Logout_DestroysSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, session, _ := f.svc.Login(ctx, "a@x.com", "secret")
	if err := f.svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	decision, err := f.svc.Authorize(ctx, session.ID)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if decision.Allowed {
		t.Error("expected Allowed=false after logout")
	}
	if err := f.svc.Logout(ctx, ""); err != nil {
		t.Errorf("Logout(\"\") = %v, want nil", err)
	}
}

// ストアが応答しない場合もStoreTimeoutでErrInternalとして返ることを検証する。
func TestService_StoreTimeout_IsInternal(t *testing.T) {
	f := newServiceFixture(t)
	f.users.block = true

	start := time.Now()
	_, _, err := f.svc.Login(context.Background(), "a@x.com", "secret")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Login error = %v, want ErrInternal", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Login error = %v, want cause context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Login took %v, want bounded by StoreTimeout", elapsed)
	}
	if f.sessions.count() != 0 {
		t.Error("no session should be persisted")
	}
	if !strings.Contains(f.logs.String(), `"level":"ERROR"`) {
		t.Error("internal errors should be logged at ERROR")
	}
}

// 呼び出し元のキャンセルで検証が中断された場合、セッションは作成されない。
func TestService_Login_CanceledContext(t *testing.T) {
	f := newServiceFixture(t)
	f.users.block = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.svc.Login(ctx, "a@x.com", "secret")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Login error = %v, want ErrInternal", err)
	}
	if f.sessions.count() != 0 {
		t.Error("no session should be persisted")
	}
}

func TestService_ResolveSession_StoreError(t *testing.T) {
	f := newServiceFixture(t)
	f.sessions.findErr = errors.New("redis down")

	decision, err := f.svc.Authorize(context.Background(), "some-session")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Authorize error = %v, want ErrInternal", err)
	}
	if decision.Allowed {
		t.Error("internal errors must not allow access")
	}
}

func TestService_IssueToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	token, expiresAt, err := f.svc.IssueToken(ctx, "a@x.com", "secret")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("expiresAt should be in the future")
	}

	user, err := f.svc.AuthenticateBearer(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("AuthenticateBearer failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user.ID = %q, want u1", user.ID)
	}
	if f.sessions.count() != 0 {
		t.Error("issuing a token must not create a session")
	}

	if _, _, err := f.svc.IssueToken(ctx, "a@x.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("IssueToken error = %v, want ErrInvalidCredentials", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrInvalidCredentials, "invalid_credentials"},
		{ErrMissingToken, "missing_token"},
		{ErrInvalidToken, "invalid_token"},
		{ErrUnknownSubject, "unknown_subject"},
		{internalError("op", errors.New("x")), "internal"},
		{errors.New("unclassified"), "internal"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
