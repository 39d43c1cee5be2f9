// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// emailは全レコードで一意。PasswordHashはbcryptハッシュのみを保持し、平文は保持しない。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public はパスワードハッシュを除いたコピーを返す。
// テンプレートやハンドラーに渡す読み取り専用の参照として使用する。
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	return &c
}

// Session はユーザーのログインセッションを表す。
// ペイロードはユーザーIDのみで、パスワード情報は含まない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
