package attendance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionCache is a read-through redis cache wrapped around a SessionStore.
// It exists to absorb the burst of GetSession lookups while a class scans
// the same QR code; the TTL is short and every mutation drops the key, so a
// closed session disappears from the cache immediately. Usage counters are
// bumped DB-side during commit, so a cached count is advisory only — the
// commit re-checks the cap in SQL regardless.
type SessionCache struct {
	inner SessionStore
	rdb   *redis.Client
	ttl   time.Duration
}

// NewSessionCache wraps inner. A nil redis client disables caching and just
// forwards every call.
func NewSessionCache(inner SessionStore, rdb *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SessionCache{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(id string) string { return "qrsession:" + id }

// InsertSession forwards to the store. No pre-warming; the first lookup
// populates the key.
func (c *SessionCache) InsertSession(ctx context.Context, tok Token) error {
	return c.inner.InsertSession(ctx, tok)
}

// GetSession serves from redis when possible, falling back to the store on
// miss or any redis error. Cache failures never fail the lookup.
func (c *SessionCache) GetSession(ctx context.Context, id string) (*Token, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
		if err == nil {
			var tok Token
			if jerr := json.Unmarshal(raw, &tok); jerr == nil {
				return &tok, nil
			}
		} else if err != redis.Nil {
			log.Printf("session cache get %s: %v", id, err)
		}
	}

	tok, err := c.inner.GetSession(ctx, id)
	if err != nil || tok == nil {
		return tok, err
	}

	if c.rdb != nil {
		if raw, jerr := json.Marshal(tok); jerr == nil {
			if serr := c.rdb.Set(ctx, cacheKey(id), raw, c.ttl).Err(); serr != nil {
				log.Printf("session cache set %s: %v", id, serr)
			}
		}
	}
	return tok, nil
}

// CloseSession forwards and drops the cached copy so the inactive state is
// seen on the very next lookup.
func (c *SessionCache) CloseSession(ctx context.Context, id string) error {
	if err := c.inner.CloseSession(ctx, id); err != nil {
		return err
	}
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
			log.Printf("session cache del %s: %v", id, err)
		}
	}
	return nil
}
