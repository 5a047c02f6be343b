package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cobaltlabs/aegis/internal/domain"
)

// usedTokenRetention keeps redeemed records around long enough to report
// "already used" distinctly from "not found" before the sweep prunes them.
const usedTokenRetention = 24 * time.Hour

// RedisResetRepo implements domain.ResetTokenRepository using Redis.
//
// Key layout:
//
//	auth:reset:<token>   -> reset record (JSON)
//	auth:resets:<userID> -> set of tokens issued to the user
type RedisResetRepo struct {
	client *redis.Client
}

// NewRedisResetRepo creates a new repository instance.
func NewRedisResetRepo(client *redis.Client) *RedisResetRepo {
	return &RedisResetRepo{client: client}
}

func resetKey(token string) string { return "auth:reset:" + token }

func userResetsKey(userID string) string { return "auth:resets:" + userID }

// Create persists a fresh token. The redis TTL extends past the validity
// window so used and expired records stay reportable until pruned.
func (r *RedisResetRepo) Create(ctx context.Context, token *domain.ResetToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode reset token: %w", err)
	}

	ttl := time.Until(token.ExpiresAt) + usedTokenRetention

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, resetKey(token.Token), payload, ttl)
	pipe.SAdd(ctx, userResetsKey(token.UserID), token.Token)
	pipe.Expire(ctx, userResetsKey(token.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store reset token in redis: %w", err)
	}
	return nil
}

// Consume redeems a token exactly once. The used flag is flipped inside a
// WATCH transaction, so two concurrent redemptions resolve to one winner;
// the loser observes the committed flag and gets ErrResetTokenUsed.
func (r *RedisResetRepo) Consume(ctx context.Context, token string) (*domain.ResetToken, error) {
	const maxRetries = 4
	key := resetKey(token)

	for i := 0; i < maxRetries; i++ {
		var consumed *domain.ResetToken

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return domain.ErrResetTokenInvalid
				}
				return fmt.Errorf("redis error: %w", err)
			}

			record := &domain.ResetToken{}
			if err := json.Unmarshal(data, record); err != nil {
				return fmt.Errorf("failed to decode reset token: %w", err)
			}
			record.Token = token

			if record.Used {
				return domain.ErrResetTokenUsed
			}
			if record.Expired(time.Now()) {
				// Opportunistic deletion of the stale record.
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, userResetsKey(record.UserID), token)
					return nil
				})
				if err != nil {
					return err
				}
				return domain.ErrResetTokenExpired
			}

			record.Used = true
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if err == nil {
			return consumed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // the key changed under us; re-read and retry
		}
		return nil, err
	}

	// Retries exhausted: a concurrent writer kept winning, which on this key
	// can only mean the token was consumed.
	return nil, domain.ErrResetTokenUsed
}

// DeleteUsedForUser prunes redeemed and expired tokens belonging to a user,
// called opportunistically after a successful reset.
func (r *RedisResetRepo) DeleteUsedForUser(ctx context.Context, userID string) error {
	tokens, err := r.client.SMembers(ctx, userResetsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}

	now := time.Now()
	pipe := r.client.TxPipeline()
	for _, token := range tokens {
		data, err := r.client.Get(ctx, resetKey(token)).Bytes()
		if err != nil {
			pipe.SRem(ctx, userResetsKey(userID), token)
			continue
		}
		record := &domain.ResetToken{}
		if err := json.Unmarshal(data, record); err != nil || record.Used || record.Expired(now) {
			pipe.Del(ctx, resetKey(token))
			pipe.SRem(ctx, userResetsKey(userID), token)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

// CleanupExpired bulk-deletes tokens past their validity window and returns
// the count removed. Intended to run on a periodic schedule.
func (r *RedisResetRepo) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now()
	count := 0

	iter := r.client.Scan(ctx, 0, resetKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		token := strings.TrimPrefix(key, resetKey(""))
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		record := &domain.ResetToken{}
		if err := json.Unmarshal(data, record); err != nil {
			continue
		}
		if record.Used || record.Expired(now) {
			pipe := r.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, userResetsKey(record.UserID), token)
			if _, err := pipe.Exec(ctx); err == nil {
				count++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("redis scan error: %w", err)
	}
	return count, nil
}
