package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/codeial/internal/middleware"
	"github.com/hitoshi/codeial/internal/model"
)

// APIHandler はBearerトークン認証のJSON APIハンドラー。
type APIHandler struct {
	auth AuthServiceInterface
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(authService AuthServiceInterface) *APIHandler {
	return &APIHandler{auth: authService}
}

type createSessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenData struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type userData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type dataResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

// CreateSession はメールアドレスとパスワードを検証し、Bearerトークンを発行する。
// POST /api/v1/users/create-session
func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディが不正です"))
		return
	}

	token, expiresAt, err := h.auth.IssueToken(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{
		Message: "Sign in successful, here is your token, please keep it safe!",
		Data:    tokenData{Token: token, ExpiresAt: expiresAt},
	})
}

// Me はBearerトークンで認証されたユーザーの情報を返す。
// GET /api/v1/users/me
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewSignInRequiredError())
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{
		Data: userData{ID: u.ID, Email: u.Email, Name: u.Name},
	})
}
