package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/0x4133/nan/pkg/logger"
)

// DefaultDialTimeout bounds the connection check done by NewRedisStore.
const DefaultDialTimeout = 5 * time.Second

// scanCount is the COUNT hint used when iterating keys.
const scanCount = 500

// unlockScript deletes the lock key only when it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements LockingStore on a go-redis client.
type RedisStore struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    logger.Logger
}

// RedisStoreOptions configures NewRedisStore.
type RedisStoreOptions struct {
	RedisURL string
	// DB overrides the database selected by RedisURL when greater than zero.
	DB int
	// Namespace prefixes every key as "<namespace>:<key>".
	Namespace   string
	DialTimeout time.Duration
	Logger      logger.Logger
}

// NewRedisStore parses the URL, connects, and verifies the connection with PING.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	log := logger.ForComponent(opts.Logger, "store/redis")

	if opts.RedisURL == "" {
		log.Error("Failed to initialize Redis store", map[string]interface{}{
			"error":      "Redis URL is required",
			"error_type": "ErrInvalidConfiguration",
		})
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		log.Error("Failed to parse Redis URL", map[string]interface{}{
			"error":      err.Error(),
			"error_type": fmt.Sprintf("%T", err),
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}
	if opts.DB > 0 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", map[string]interface{}{
			"error":      err.Error(),
			"error_type": fmt.Sprintf("%T", err),
			"db":         redisOpt.DB,
			"namespace":  opts.Namespace,
		})
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w: %w", redisOpt.DB, ErrStorageUnavailable, err)
	}

	s := &RedisStore{
		client:    client,
		dbID:      redisOpt.DB,
		namespace: opts.Namespace,
		logger:    log,
	}

	log.Info("Redis store connected", map[string]interface{}{
		"db":        redisOpt.DB,
		"namespace": opts.Namespace,
	})

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client without a connection check.
func NewRedisStoreFromClient(client *redis.Client, namespace string, log logger.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		dbID:      client.Options().DB,
		namespace: namespace,
		logger:    logger.ForComponent(log, "store/redis"),
	}
}

// GetDB returns the selected database number.
func (r *RedisStore) GetDB() int {
	return r.dbID
}

// GetNamespace returns the key namespace.
func (r *RedisStore) GetNamespace() string {
	return r.namespace
}

func (r *RedisStore) formatKey(key string) string {
	if r.namespace != "" {
		return r.namespace + ":" + key
	}
	return key
}

func (r *RedisStore) stripKey(key string) string {
	if r.namespace != "" {
		return strings.TrimPrefix(key, r.namespace+":")
	}
	return key
}

func wrapErr(op, key string, err error) error {
	return fmt.Errorf("redis %s %q: %w: %w", op, key, ErrStorageUnavailable, err)
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// --- Scalars ---

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("GET", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.formatKey(key), value, 0).Err(); err != nil {
		return wrapErr("SET", key, err)
	}
	return nil
}

func (r *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.formatKey(key), value, ttl).Result()
	if err != nil {
		return false, wrapErr("SETNX", key, err)
	}
	return ok, nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	n, err := r.client.Del(ctx, formatted...).Result()
	if err != nil {
		return 0, wrapErr("DEL", strings.Join(keys, ","), err)
	}
	return n, nil
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, r.formatKey(key)).Result()
	if err != nil {
		return 0, wrapErr("INCR", key, err)
	}
	return n, nil
}

// --- Lists ---

func (r *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		return r.LLen(ctx, key)
	}
	n, err := r.client.RPush(ctx, r.formatKey(key), toArgs(values)...).Result()
	if err != nil {
		return 0, wrapErr("RPUSH", key, err)
	}
	return n, nil
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	items, err := r.client.LRange(ctx, r.formatKey(key), start, stop).Result()
	if err != nil {
		return nil, wrapErr("LRANGE", key, err)
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}

func (r *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := r.client.LLen(ctx, r.formatKey(key)).Result()
	if err != nil {
		return 0, wrapErr("LLEN", key, err)
	}
	return n, nil
}

func (r *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := r.client.LTrim(ctx, r.formatKey(key), start, stop).Err(); err != nil {
		return wrapErr("LTRIM", key, err)
	}
	return nil
}

// --- Sets ---

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := r.client.SAdd(ctx, r.formatKey(key), toArgs(members)...).Result()
	if err != nil {
		return 0, wrapErr("SADD", key, err)
	}
	return n, nil
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	n, err := r.client.SRem(ctx, r.formatKey(key), toArgs(members)...).Result()
	if err != nil {
		return 0, wrapErr("SREM", key, err)
	}
	return n, nil
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.formatKey(key)).Result()
	if err != nil {
		return nil, wrapErr("SMEMBERS", key, err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.formatKey(key), member).Result()
	if err != nil {
		return false, wrapErr("SISMEMBER", key, err)
	}
	return ok, nil
}

// Keys walks the keyspace with SCAN so large databases are not blocked.
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		result []string
	)
	match := r.formatKey(pattern)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, wrapErr("SCAN", pattern, err)
		}
		for _, k := range keys {
			result = append(result, r.stripKey(k))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

// --- Locks ---

func (r *RedisStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.formatKey(key), token, ttl).Result()
	if err != nil {
		return false, wrapErr("SETNX", key, err)
	}
	return ok, nil
}

func (r *RedisStore) Unlock(ctx context.Context, key, token string) (bool, error) {
	n, err := unlockScript.Run(ctx, r.client, []string{r.formatKey(key)}, token).Int64()
	if err != nil {
		return false, wrapErr("EVAL", key, err)
	}
	return n == 1, nil
}

// --- Lifecycle ---

// Ping verifies connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Error("Redis health check failed", map[string]interface{}{
			"error":     err.Error(),
			"db":        r.dbID,
			"namespace": r.namespace,
		})
		return wrapErr("PING", "", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	r.logger.Info("Closing Redis store connection", map[string]interface{}{
		"db":        r.dbID,
		"namespace": r.namespace,
	})
	err := r.client.Close()
	if err != nil {
		r.logger.Error("Failed to close Redis store", map[string]interface{}{
			"error": err.Error(),
			"db":    r.dbID,
		})
	}
	return err
}
