package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/codeial/internal/auth"
	"github.com/hitoshi/codeial/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteAuthError は認証エラーを401の統一レスポンスに変換して書き込む。
// 分類できないエラーは内部エラーとして500を返す。
func WriteAuthError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	switch {
	case errors.Is(err, auth.ErrInternal):
		WriteInternalServerError(w)
		return
	case errors.Is(err, auth.ErrMissingToken):
		apiErr = model.NewMissingTokenError()
	case errors.Is(err, auth.ErrInvalidToken):
		apiErr = model.NewInvalidTokenError()
	case errors.Is(err, auth.ErrUnknownSubject):
		apiErr = model.NewUnknownSubjectError()
	case errors.Is(err, auth.ErrInvalidCredentials):
		apiErr = model.NewInvalidCredentialsError()
	default:
		WriteInternalServerError(w)
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="codeial"`)
	WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
}
