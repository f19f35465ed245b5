package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnknownRefreshToken is returned by Take for unknown or used tokens.
var ErrUnknownRefreshToken = errors.New("unknown refresh token")

// Grant is what a refresh token stands for.
type Grant struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

// RefreshStore keeps single-use refresh tokens.
type RefreshStore interface {
	Put(ctx context.Context, token string, g Grant, ttl time.Duration) error
	// Take returns the grant and invalidates token.
	Take(ctx context.Context, token string) (Grant, error)
}

type memoryRefreshStore struct {
	mu     sync.Mutex
	grants map[string]memoryGrant
	now    func() time.Time
}

type memoryGrant struct {
	grant   Grant
	expires time.Time
}

// NewMemoryRefreshStore returns an in-process RefreshStore.
func NewMemoryRefreshStore() RefreshStore {
	return &memoryRefreshStore{grants: make(map[string]memoryGrant), now: time.Now}
}

func (m *memoryRefreshStore) Put(_ context.Context, token string, g Grant, ttl time.Duration) error {
	m.mu.Lock()
	m.grants[token] = memoryGrant{grant: g, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *memoryRefreshStore) Take(_ context.Context, token string) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mg, ok := m.grants[token]
	delete(m.grants, token)
	if !ok || m.now().After(mg.expires) {
		return Grant{}, ErrUnknownRefreshToken
	}
	return mg.grant, nil
}

type redisRefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRefreshStore keeps refresh tokens under "<prefix>:rt:<token>".
// Take uses GETDEL so a token is redeemed at most once across replicas.
func NewRedisRefreshStore(client redis.UniversalClient, prefix string) RefreshStore {
	if prefix == "" {
		prefix = "stub"
	}
	return &redisRefreshStore{redis: client, prefix: prefix}
}

func (r *redisRefreshStore) key(token string) string {
	return r.prefix + ":rt:" + token
}

func (r *redisRefreshStore) Put(ctx context.Context, token string, g Grant, ttl time.Duration) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := r.redis.Set(ctx, r.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (r *redisRefreshStore) Take(ctx context.Context, token string) (Grant, error) {
	data, err := r.redis.GetDel(ctx, r.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Grant{}, ErrUnknownRefreshToken
		}
		return Grant{}, fmt.Errorf("redeem refresh token: %w", err)
	}

	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return Grant{}, fmt.Errorf("decode refresh grant: %w", err)
	}
	return g, nil
}
