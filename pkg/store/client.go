// Package store wraps the Redis client used as the aggregation store. It
// exposes the handful of primitives the engine needs (counters, hashes,
// sorted sets, capped lists, expiry) plus a pipelined Batch for low
// round-trip writes.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/utils"
)

// Default batch configuration.
const (
	DefaultFlushEvery = 200 // pipeline commands per flush
)

// Options configures the connection. Zero fields fall back to the REDIS_*
// environment variables and then to local defaults, matching how the rest of
// the stack is configured.
type Options struct {
	Addr       string
	Password   string
	DB         int
	FlushEvery int
}

func (o *Options) withDefaults() {
	if o.Addr == "" {
		host := utils.Env("REDIS_HOST", "localhost")
		port := utils.Env("REDIS_PORT", "6379")
		o.Addr = fmt.Sprintf("%s:%s", host, port)
	}
	if o.Password == "" {
		o.Password = utils.Env("REDIS_PASSWORD", "")
	}
	if o.DB == 0 {
		o.DB = utils.EnvInt("REDIS_DB", 0)
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = utils.EnvInt("REDIS_FLUSH_EVERY", DefaultFlushEvery)
	}
}

// Client wraps the Redis client behind the typed helpers the engine uses.
type Client struct {
	client     *redis.Client
	logger     *zap.Logger
	flushEvery int
}

// NewClient connects and pings the aggregation store.
func NewClient(ctx context.Context, logger *zap.Logger, opts Options) (*Client, error) {
	opts.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts: the write path must never block indefinitely on a slow store.
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to aggregation store at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to aggregation store",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("flushEvery", opts.FlushEvery))

	return &Client{
		client:     rdb,
		logger:     logger,
		flushEvery: opts.FlushEvery,
	}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if the store is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for callers that need the
// full API.
func (c *Client) GetClient() *redis.Client {
	return c.client
}

// Member is a sorted-set entry. Scores are integral amounts; Redis stores
// them as floats but every writer in this repo writes whole numbers.
type Member struct {
	ID    string
	Score int64
}

// GetInt64 reads a scalar counter. A missing key reads as zero; a value that
// doesn't parse as an integer is treated as zero and logged, it will be
// overwritten by the next write.
func (c *Client) GetInt64(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		c.logger.Warn("Malformed counter value, treating as zero",
			zap.String("key", key),
			zap.String("value", v))
		return 0, nil
	}
	return n, nil
}

// HGetAll reads a whole hash. A missing key reads as an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

// ZRangeWithScores reads an entire sorted set, lowest score first.
func (c *Client) ZRangeWithScores(ctx context.Context, key string) ([]Member, error) {
	zs, err := c.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", key, err)
	}
	out := make([]Member, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, Member{ID: id, Score: int64(z.Score)})
	}
	return out, nil
}

// ScanKeys collects every key matching pattern. Uses SCAN, never KEYS, so it
// is safe against a live store.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		out = append(out, batch...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// LRange reads up to n entries from the head of a list.
func (c *Client) LRange(ctx context.Context, key string, n int64) ([]string, error) {
	vs, err := c.client.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vs, nil
}

// OldestBefore returns the member of a time-scored sorted set with the oldest
// score not newer than before, if any.
func (c *Client) OldestBefore(ctx context.Context, key string, before time.Time) (string, bool, error) {
	vs, err := c.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	if len(vs) == 0 {
		return "", false, nil
	}
	return vs[0], true, nil
}

// StampTime sets member's score in a time-scored sorted set to at.
func (c *Client) StampTime(ctx context.Context, key, member string, at time.Time) error {
	if err := c.client.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}
