package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/models"
)

const defaultKeyPrefix = "rachma:archive:"

// redisCommands is the part of the go-redis client the registry uses
type redisCommands interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRegistry shares archive tokens between API instances. Keys expire
// with the archive.
type RedisRegistry struct {
	client    redisCommands
	keyPrefix string
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewRedisRegistry creates a registry over an existing client
func NewRedisRegistry(client redisCommands, keyPrefix string) *RedisRegistry {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisRegistry{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Put stores archive until its expiry
func (r *RedisRegistry) Put(ctx context.Context, archive *Archive) error {
	ttl := archive.ExpiresAt.Sub(models.GetCurrentTime())
	if ttl <= 0 {
		return fmt.Errorf("archive %s already expired", archive.Token)
	}

	payload, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}

	if err := r.client.Set(ctx, r.keyPrefix+archive.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store archive: %w", err)
	}
	return nil
}

// Get returns the archive for token
func (r *RedisRegistry) Get(ctx context.Context, token string) (*Archive, error) {
	payload, err := r.client.Get(ctx, r.keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}

	var archive Archive
	if err := json.Unmarshal(payload, &archive); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive: %w", err)
	}
	if archive.Expired(models.GetCurrentTime()) {
		return nil, ErrArchiveNotFound
	}
	return &archive, nil
}

// Delete removes token
func (r *RedisRegistry) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

var _ Registry = (*RedisRegistry)(nil)
