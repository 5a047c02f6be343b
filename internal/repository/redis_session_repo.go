package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cobaltlabs/aegis/internal/domain"
)

// RedisSessionRepo implements domain.SessionRepository using Redis.
//
// Key layout:
//
//	auth:session:<token>    -> session record (JSON), TTL = absolute expiry
//	auth:session:id:<id>    -> token, for revoke-by-id
//	auth:sessions:<userID>  -> set of tokens, for bulk revocation
type RedisSessionRepo struct {
	client *redis.Client
}

// NewRedisSessionRepo creates a new repository instance.
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

func sessionKey(token string) string { return "auth:session:" + token }

func sessionIDKey(id string) string { return "auth:session:id:" + id }

func userSessionsKey(userID string) string { return "auth:sessions:" + userID }

// Create persists a session under its opaque token with a TTL matching the
// absolute expiry, and indexes it by id and by owning user.
func (r *RedisSessionRepo) Create(ctx context.Context, session *domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session expiry is in the past")
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.Token), payload, ttl)
	pipe.Set(ctx, sessionIDKey(session.ID), session.Token, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.Token)
	// The index must outlive the longest member; sessions share one TTL.
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session in redis: %w", err)
	}
	return nil
}

// GetByToken fetches a session by its opaque token. A record past its
// absolute expiry is deleted as a side effect and reported as expired.
func (r *RedisSessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}

	session := &domain.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	session.Token = token

	if session.Expired(time.Now()) {
		_ = r.remove(ctx, session)
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

// GetByID resolves the id index and then loads the session by token.
func (r *RedisSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	token, err := r.client.Get(ctx, sessionIDKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.GetByToken(ctx, token)
}

// Delete revokes a single session by id. Idempotent: a missing session is
// not an error at this layer.
func (r *RedisSessionRepo) Delete(ctx context.Context, id string) error {
	token, err := r.client.Get(ctx, sessionIDKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis error: %w", err)
	}

	session := &domain.Session{ID: id, Token: token}
	if data, err := r.client.Get(ctx, sessionKey(token)).Bytes(); err == nil {
		_ = json.Unmarshal(data, session)
		session.Token = token
	}
	return r.remove(ctx, session)
}

// DeleteAllForUser hard-deletes every session belonging to the user and
// returns how many were removed.
func (r *RedisSessionRepo) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tokens, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	pipe := r.client.TxPipeline()
	count := 0
	for _, token := range tokens {
		data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
		if err != nil {
			continue // already expired out of the store
		}
		session := &domain.Session{}
		if err := json.Unmarshal(data, session); err == nil {
			pipe.Del(ctx, sessionIDKey(session.ID))
		}
		pipe.Del(ctx, sessionKey(token))
		count++
	}
	pipe.Del(ctx, userSessionsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return count, nil
}

func (r *RedisSessionRepo) remove(ctx context.Context, session *domain.Session) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(session.Token))
	pipe.Del(ctx, sessionIDKey(session.ID))
	if session.UserID != "" {
		pipe.SRem(ctx, userSessionsKey(session.UserID), session.Token)
	}
	_, err := pipe.Exec(ctx)
	return err
}
