package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const purgeSlotsScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, key in ipairs(members) do
  if ARGV[1] == "" or string.sub(key, 1, #ARGV[1]) ~= ARGV[1] then
    removed = removed + redis.call("DEL", key)
    redis.call("SREM", KEYS[1], key)
  end
end
return removed
`

var purgeSlotsLua = redis.NewScript(purgeSlotsScript)

// RedisBackend stores credentials in Redis so several processes (CLI
// invocations, workers) share one portal session.
//
// Keys are "{<prefix>}:<portal>:<kind>"; the set "{<prefix>}:slots" indexes
// them so Purge can run as one script. The braces are a Redis Cluster hash
// tag: every key of one prefix maps to the same slot, which the script needs
// since it deletes keys it reads from the index.
type RedisBackend struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend creates a backend using prefix as key namespace. A ttl of 0
// keeps credentials until they are deleted.
func NewRedisBackend(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "vp"
	}
	return &RedisBackend{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisBackend) tag() string {
	return "{" + r.prefix + "}"
}

func (r *RedisBackend) key(portal string, kind Kind) string {
	return r.tag() + ":" + portal + ":" + kind.String()
}

func (r *RedisBackend) indexKey() string {
	return r.tag() + ":slots"
}

func (r *RedisBackend) Load(ctx context.Context, portal string, kind Kind) (*Session, error) {
	key := r.key(portal, kind)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	s, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if err := r.maybeMigrate(ctx, key, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisBackend) Save(ctx context.Context, s *Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}

	key := r.key(s.Portal, s.Kind)
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, r.ttl)
		pipe.SAdd(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, portal string, kind Kind) error {
	key := r.key(portal, kind)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (r *RedisBackend) Purge(ctx context.Context, keep string) (int, error) {
	keepPrefix := ""
	if keep != "" {
		keepPrefix = r.tag() + ":" + keep + ":"
	}

	n, err := purgeSlotsLua.Run(ctx, r.redis, []string{r.indexKey()}, keepPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

// List returns every indexed credential. Index entries whose key expired are
// dropped from the index as a side effect.
func (r *RedisBackend) List(ctx context.Context) ([]*Session, error) {
	keys, err := r.redis.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err = r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Get(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]*Session, 0, len(keys))
	stale := make([]any, 0)
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, keys[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		s, err := Decode(data)
		if err != nil {
			continue
		}
		out = append(out, s)
	}

	if len(stale) > 0 {
		if err := r.redis.SRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	sortSessions(out)
	return out, nil
}

// Ping reports the round-trip time to Redis, or ErrBackendUnavailable.
func (r *RedisBackend) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return time.Since(start), nil
}

func (r *RedisBackend) maybeMigrate(ctx context.Context, key string, s *Session) error {
	if s.SchemaVersion == CurrentSchemaVersion {
		return nil
	}

	s.SchemaVersion = CurrentSchemaVersion
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := r.redis.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
