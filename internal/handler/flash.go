package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookieName = "flash"

// フラッシュメッセージの種別
const (
	flashSuccess = "success"
	flashError   = "error"
)

// flashMessage は次に描画されるページで1回だけ表示するメッセージ。
type flashMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// setFlash はフラッシュメッセージをCookieに保存する。
func setFlash(w http.ResponseWriter, secure bool, typ, message string) {
	b, err := json.Marshal(flashMessage{Type: typ, Message: message})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash はフラッシュメッセージを読み出し、Cookieを削除する。
// 未設定または壊れている場合はnilを返す。
func popFlash(w http.ResponseWriter, r *http.Request, secure bool) *flashMessage {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	b, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var f flashMessage
	if err := json.Unmarshal(b, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}
