package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// DefaultKeyPrefix namespaces answer keys in a shared Redis.
const DefaultKeyPrefix = "ocs:answer:"

const scanBatch = 500

// Redis is a networked cache that relies on Redis key expiry.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewRedis wraps an existing client. Keys are stored under prefix.
func NewRedis(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// DialRedis parses a redis:// URL, connects and pings the server.
func DialRedis(ctx context.Context, url, prefix string, defaultTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	return NewRedis(client, prefix, defaultTTL), nil
}

// Name implements Cache.
func (r *Redis) Name() string { return "redis" }

func (r *Redis) key(fp fingerprint.Fingerprint) string { return r.prefix + string(fp) }

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, fp fingerprint.Fingerprint) (*model.Result, bool, error) {
	data, err := r.client.Get(ctx, r.key(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.misses.Add(1)
		return nil, false, eris.Wrap(err, "cache: redis get")
	}

	var res model.Result
	if err := json.Unmarshal(data, &res); err != nil {
		r.misses.Add(1)
		return nil, false, eris.Wrap(err, "cache: decode cached result")
	}
	r.hits.Add(1)
	return &res, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, fp fingerprint.Fingerprint, res *model.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	data, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "cache: encode result")
	}
	if err := r.client.Set(ctx, r.key(fp), data, ttl).Err(); err != nil {
		return eris.Wrap(err, "cache: redis set")
	}
	return nil
}

// InvalidateAll deletes keys under the prefix only.
func (r *Redis) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return eris.Wrap(err, "cache: redis scan")
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return eris.Wrap(err, "cache: redis del")
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats implements StatsReporter. Entry count comes from a prefix scan.
func (r *Redis) Stats(ctx context.Context) Stats {
	var (
		cursor  uint64
		entries int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			break
		}
		entries += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	hits, misses := r.hits.Load(), r.misses.Load()
	return Stats{
		Backend: r.Name(),
		Entries: entries,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
