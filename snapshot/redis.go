package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/swarmer/core"
)

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "swarmer:snapshot:"

// RedisConfig describes the connection of a RedisStore.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps snapshots as plain string values under <prefix><id> and
// tracks stored identities in the set <prefix>index.
type RedisStore struct {
	client redis.Cmdable
	closer func() error
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s := NewRedisStoreFromClient(client, cfg.Prefix)
	s.closer = client.Close
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreFromClient(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id core.Identity) string { return s.prefix + id.String() }

func (s *RedisStore) indexKey() string { return s.prefix + "index" }

// Put stores data and indexes id.
func (s *RedisStore) Put(ctx context.Context, id core.Identity, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(id), data, 0)
		p.SAdd(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put snapshot: %w", err)
	}
	return nil
}

// Get returns the stored bytes or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id core.Identity) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return data, nil
}

// Delete removes the snapshot or returns ErrNotFound.
func (s *RedisStore) Delete(ctx context.Context, id core.Identity) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.key(id))
		p.SRem(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete snapshot: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the indexed identities.
func (s *RedisStore) List(ctx context.Context) ([]core.Identity, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list snapshots: %w", err)
	}
	ids := make([]core.Identity, 0, len(members))
	for _, m := range members {
		id, err := core.ParseIdentity(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sortIdentities(ids)
	return ids, nil
}

// Close releases the connection if the store created it.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
