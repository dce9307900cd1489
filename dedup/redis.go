package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hazyhaar/mangafetch/idgen"
)

// releaseScript deletes the key only if it still carries the caller's token.
// KEYS[1] = dedup key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Deduplicator shared by every replica pointing at the same
// Redis. Keys are SET NX with a PX expiry equal to the window.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	window time.Duration
}

// NewRedis creates a Redis-backed deduplicator. An empty prefix defaults
// to "mangafetch:inflight".
func NewRedis(rdb redis.UniversalClient, prefix string, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "mangafetch:inflight"
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{rdb: rdb, prefix: prefix, window: window}
}

func (r *Redis) key(k string) string { return fmt.Sprintf("%s:%s", r.prefix, k) }

// Acquire implements Deduplicator.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := idgen.New()
	ok, err := r.rdb.SetNX(ctx, r.key(key), token, r.window).Result()
	if err != nil {
		return nil, fmt.Errorf("dedup: redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, r.rdb, []string{r.key(key)}, token).Err()
		})
	}, nil
}

// Close closes the underlying redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
