package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"account_service/internal/storage"

	"github.com/redis/go-redis/v9"
)

// TokenIndex maps refresh token values to owning account ids so that token
// operations avoid scanning every account. Entries expire together with the
// token they index.
type TokenIndex struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*TokenIndex, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &TokenIndex{
		client: client,
	}, nil
}

func (r *TokenIndex) SetToken(ctx context.Context, token, accountID string, ttl time.Duration) error {
	const op = "storage.redis.SetToken"

	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, tokenKey(token), accountID, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *TokenIndex) DeleteTokens(ctx context.Context, tokens ...string) error {
	const op = "storage.redis.DeleteTokens"

	if len(tokens) == 0 {
		return nil
	}

	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, tokenKey(t))
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *TokenIndex) AccountIDByToken(ctx context.Context, token string) (string, error) {
	const op = "storage.redis.AccountIDByToken"

	id, err := r.client.Get(ctx, tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrTokenNotIndexed
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// * Close закрывает соединение с базой данных.
func (r *TokenIndex) Close() {
	r.client.Close()
}

func tokenKey(token string) string {
	return "token:" + token
}
