package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

const (
	sessionKeyPrefix     = "warden:session:"
	sessionIndexPrefix   = "warden:sessions:"
	linkRequestKeyPrefix = "warden:link:"
)

// RedisSessionStore keeps live sessions in Redis with TTL matching the
// session lifetime, so expiry needs no sweeper.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) ports.SessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Put(ctx context.Context, sess *core.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", core.ErrInvalidRequest)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+sess.ID, payload, ttl)
	pipe.SAdd(ctx, sessionIndexPrefix+sess.MerchantID, sess.ID)
	pipe.ExpireGT(ctx, sessionIndexPrefix+sess.MerchantID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", core.ErrStoreUnavailable)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	val, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", core.ErrStoreUnavailable)
	}

	var sess core.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, merchantID, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.MerchantID != merchantID {
		return core.ErrSessionNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.SRem(ctx, sessionIndexPrefix+merchantID, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", core.ErrStoreUnavailable)
	}
	return nil
}

func (s *RedisSessionStore) ListByMerchant(ctx context.Context, merchantID string) ([]*core.Session, error) {
	ids, err := s.client.SMembers(ctx, sessionIndexPrefix+merchantID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", core.ErrStoreUnavailable)
	}

	var out []*core.Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			// Expired entries fall out of the index lazily.
			if err == core.ErrSessionNotFound {
				s.client.SRem(ctx, sessionIndexPrefix+merchantID, id)
				continue
			}
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// RedisLinkStore keeps pending linking requests in Redis with TTL.
// Consumption uses a Lua script so concurrent redemption of the same
// token succeeds at most once.
type RedisLinkStore struct {
	client *redis.Client
}

// NewRedisLinkStore creates a Redis-backed link store.
func NewRedisLinkStore(client *redis.Client) ports.LinkStore {
	return &RedisLinkStore{client: client}
}

// consumeScript swaps in the confirmed payload only while the stored
// one is still unconfirmed, so exactly one redeemer wins.
var consumeScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
  return false
end
if not string.find(val, '"ConfirmedAt":null', 1, true) then
  return "consumed"
end
redis.call("SET", KEYS[1], ARGV[1], "KEEPTTL")
return "ok"
`)

func (s *RedisLinkStore) Put(ctx context.Context, r *core.LinkingRequest) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal linking request: %w", err)
	}

	ttl := time.Until(r.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: linking request already expired", core.ErrInvalidRequest)
	}
	if err := s.client.Set(ctx, linkRequestKeyPrefix+r.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store linking request: %w", core.ErrStoreUnavailable)
	}
	return nil
}

func (s *RedisLinkStore) Get(ctx context.Context, token string) (*core.LinkingRequest, error) {
	val, err := s.client.Get(ctx, linkRequestKeyPrefix+token).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to read linking request: %w", core.ErrStoreUnavailable)
	}

	var r core.LinkingRequest
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal linking request: %w", err)
	}
	return &r, nil
}

func (s *RedisLinkStore) Consume(ctx context.Context, token string, at time.Time) (*core.LinkingRequest, error) {
	prev, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	confirmed := *prev
	t := at
	confirmed.ConfirmedAt = &t
	payload, err := json.Marshal(&confirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal linking request: %w", err)
	}

	res, err := consumeScript.Run(ctx, s.client,
		[]string{linkRequestKeyPrefix + token},
		string(payload),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to consume linking request: %w", core.ErrStoreUnavailable)
	}

	switch v := res.(type) {
	case nil:
		return nil, core.ErrLinkNotFound
	case string:
		if v == "consumed" {
			return nil, core.ErrLinkTokenConsumed
		}
	}
	return &confirmed, nil
}
