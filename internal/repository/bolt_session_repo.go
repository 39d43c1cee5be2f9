package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hitoshi/codeial/internal/model"
)

var boltSessionsBucket = []byte("sessions")

// boltSessionRecord はbboltに保存するセッションの値。
type boltSessionRecord struct {
	UserID    string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// BoltSessionRepo はbboltファイルを使用したセッションリポジトリ。
// 単一プロセス構成向けで、期限切れレコードは読み取り時に無視しDeleteExpiredで削除する。
type BoltSessionRepo struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltSessionRepo は開済みのbbolt DBからBoltSessionRepoを生成する。
func NewBoltSessionRepo(db *bbolt.DB) (*BoltSessionRepo, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltSessionsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	return &BoltSessionRepo{db: db, now: time.Now}, nil
}

// OpenBoltSessionRepo は指定パスのbboltファイルを開いてBoltSessionRepoを生成する。
func OpenBoltSessionRepo(path string) (*BoltSessionRepo, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt session store: %w", err)
	}
	repo, err := NewBoltSessionRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Close は内部のbbolt DBを閉じる。
func (r *BoltSessionRepo) Close() error {
	return r.db.Close()
}

// Create はセッションを作成する。
func (r *BoltSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	data, err := json.Marshal(boltSessionRecord{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	err = r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltSessionsBucket).Put([]byte(session.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *BoltSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var session *model.Session
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(boltSessionsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		var rec boltSessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		session = &model.Session{
			ID:        id,
			UserID:    rec.UserID,
			ExpiresAt: rec.ExpiresAt,
			CreatedAt: rec.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.Expired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *BoltSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltSessionsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *BoltSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.deleteWhere(ctx, func(id string, rec boltSessionRecord) bool {
		return rec.UserID == userID
	})
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteByUserIDExcept は指定ユーザーのkeepID以外のセッションを削除する。
func (r *BoltSessionRepo) DeleteByUserIDExcept(ctx context.Context, userID, keepID string) error {
	_, err := r.deleteWhere(ctx, func(id string, rec boltSessionRecord) bool {
		return rec.UserID == userID && id != keepID
	})
	if err != nil {
		return fmt.Errorf("failed to delete other user sessions: %w", err)
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除する。
func (r *BoltSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.deleteWhere(ctx, func(_ string, rec boltSessionRecord) bool {
		return !now.Before(rec.ExpiresAt)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// deleteWhere はmatchがtrueを返すレコードを1トランザクションで削除する。
func (r *BoltSessionRepo) deleteWhere(ctx context.Context, match func(id string, rec boltSessionRecord) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var deleted int64
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltSessionsBucket)
		var targets [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec boltSessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("session %s: %w", k, err)
			}
			if match(string(k), rec) {
				targets = append(targets, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range targets {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// compile-time interface check
var _ SessionRepository = (*BoltSessionRepo)(nil)
