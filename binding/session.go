package binding

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// SessionStore is the small durable keyspace tracking the current and
// pending device addresses. It survives a crash or reload so a stuck native
// connection can still be targeted by a forced disconnect. Written on every
// connect attempt and success, purged on every cleanup path.
type SessionStore interface {
	SetPending(ctx context.Context, address string) error
	SetCurrent(ctx context.Context, address string) error
	Addresses(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

const (
	sessionFieldCurrent = "current-address"
	sessionFieldPending = "pending-address"
)

// RedisSessionStore keeps the session keys in one Redis hash.
type RedisSessionStore struct {
	client *redis.Client
	key    string
}

func NewRedisSessionStore(client *redis.Client, key string) *RedisSessionStore {
	if key == "" {
		key = "bind:session"
	}
	return &RedisSessionStore{client: client, key: key}
}

func (s *RedisSessionStore) SetPending(ctx context.Context, address string) error {
	return s.client.HSet(ctx, s.key, sessionFieldPending, address).Err()
}

func (s *RedisSessionStore) SetCurrent(ctx context.Context, address string) error {
	return s.client.HSet(ctx, s.key, sessionFieldCurrent, address).Err()
}

// Addresses returns every stored address, deduplicated.
func (s *RedisSessionStore) Addresses(ctx context.Context) ([]string, error) {
	vals, err := s.client.HMGet(ctx, s.key, sessionFieldCurrent, sessionFieldPending).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	seen := make(map[string]struct{}, 2)
	var out []string
	for _, v := range vals {
		addr, _ := v.(string)
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func (s *RedisSessionStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
