package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlobStore persists the serialized conversation list.
// Load returns nil, nil when nothing has been saved yet.
type BlobStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// FileStore keeps the blob in a single file.
type FileStore struct {
	Path string
}

func (f FileStore) Load(context.Context) ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// Save writes through a temp file so a crash never leaves half a blob.
func (f FileStore) Save(_ context.Context, blob []byte) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

// DefaultRedisKey is the key RedisStore uses when none is given.
const DefaultRedisKey = "chat:conversations"

// RedisStore keeps the blob under one Redis key.
type RedisStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisStore stores under key; ttl 0 keeps the blob forever.
func NewRedisStore(rdb *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return b, nil
}

func (r *RedisStore) Save(ctx context.Context, blob []byte) error {
	if err := r.rdb.Set(ctx, r.key, blob, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}
