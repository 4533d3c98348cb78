package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a storage.Store backed by redis keys that expire after ttl. It
// serves the ephemeral tier when sessions must outlive a single process.
type Store struct {
	client    *Client
	namespace string
	ttl       time.Duration
}

// NewStore scopes values under namespace; a zero ttl keeps keys forever.
func (c *Client) NewStore(namespace string, ttl time.Duration) *Store {
	return &Store{client: c, namespace: namespace, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil || s.client.store == nil {
		return nil, false, errors.New("redis client not initialized")
	}
	raw, err := s.client.store.Get(ctx, s.client.KVKey(s.namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.client == nil || s.client.store == nil {
		return errors.New("redis client not initialized")
	}
	return s.client.store.Set(ctx, s.client.KVKey(s.namespace, key), value, s.ttl).Err()
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if s.client == nil || s.client.store == nil {
		return errors.New("redis client not initialized")
	}
	return s.client.store.Del(ctx, s.client.KVKey(s.namespace, key)).Err()
}
