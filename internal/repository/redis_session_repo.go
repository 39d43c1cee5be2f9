package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/codeial/internal/model"
)

const (
	redisSessionPrefix     = "session:"
	redisUserSessionPrefix = "user_sessions:"
)

// redisSessionRecord はRedisに保存するセッションの値。
type redisSessionRecord struct {
	UserID    string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// session:<id> にJSONを保存し、user_sessions:<userID> のSETでユーザー単位の一括削除を行う。
// 有効期限はキーのTTLとしても設定するため、期限切れのキーはRedis側で削除される。
type RedisSessionRepo struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(rdb redis.Cmdable) *RedisSessionRepo {
	return &RedisSessionRepo{rdb: rdb, now: time.Now}
}

func sessionKey(id string) string { return redisSessionPrefix + id }
func userSessionsKey(userID string) string { return redisUserSessionPrefix + userID }

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}

	data, err := json.Marshal(redisSessionRecord{
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, ttl)
		pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
		pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	session := &model.Session{
		ID:        id,
		UserID:    rec.UserID,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}
	if session.Expired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	session, err := r.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if session != nil {
			pipe.SRem(ctx, userSessionsKey(session.UserID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return r.deleteUserSessions(ctx, userID, "")
}

// DeleteByUserIDExcept は指定ユーザーのkeepID以外のセッションを削除する。
func (r *RedisSessionRepo) DeleteByUserIDExcept(ctx context.Context, userID, keepID string) error {
	return r.deleteUserSessions(ctx, userID, keepID)
}

func (r *RedisSessionRepo) deleteUserSessions(ctx context.Context, userID, keepID string) error {
	ids, err := r.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	var targets []string
	for _, id := range ids {
		if id != keepID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, 0, len(targets))
		for _, id := range targets {
			pipe.Del(ctx, sessionKey(id))
			members = append(members, id)
		}
		pipe.SRem(ctx, userSessionsKey(userID), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired はuser_sessionsのSETから、TTLで既に消えたセッションIDを取り除く。
// セッション本体はRedisのTTLで削除されるため、戻り値は整理したSETメンバー数となる。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context, _ time.Time) (int64, error) {
	var removed int64

	iter := r.rdb.Scan(ctx, 0, redisUserSessionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		ids, err := r.rdb.SMembers(ctx, setKey).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to list user sessions: %w", err)
		}
		for _, id := range ids {
			exists, err := r.rdb.Exists(ctx, sessionKey(id)).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to check session: %w", err)
			}
			if exists > 0 {
				continue
			}
			if err := r.rdb.SRem(ctx, setKey, id).Err(); err != nil {
				return removed, fmt.Errorf("failed to prune user sessions: %w", err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan user sessions: %w", err)
	}
	return removed, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
