package lockservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTransient wraps a network or store-unavailability error; callers
// distinguish it from a logic failure (e.g. lock already held) so that
// housekeeping can skip a cycle instead of treating it as a bug.
var ErrTransient = errors.New("lock service transient error")

// Client is the minimal set of primitives a single-node key-value store
// with scripting support must offer. A Redis-backed implementation is
// provided below; tests substitute an in-memory fake.
type Client interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
	Scan(ctx context.Context, pattern string) (<-chan string, <-chan error)
}

// RedisClient implements Client on top of go-redis.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient dials addr and returns a ready Client.
func NewRedisClient(addr string) *RedisClient {
	return &RedisClient{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisClientFromOptions wraps an already-configured go-redis client,
// useful when the caller needs TLS or auth options this package doesn't
// expose directly.
func NewRedisClientFromOptions(opts *redis.Options) *RedisClient {
	return &RedisClient{rdb: redis.NewClient(opts)}
}

func classify(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// IsTransient reports whether err originated from a network or availability
// failure rather than a lock-logic outcome.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func (c *RedisClient) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return v, true, nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return classify(err)
	}
	return nil
}

var compareAndDeleteScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (c *RedisClient) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, c.rdb, []string{key}, expected).Result()
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (c *RedisClient) SAdd(ctx context.Context, key, member string) error {
	if err := c.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *RedisClient) SRem(ctx context.Context, key, member string) error {
	if err := c.rdb.SRem(ctx, key, member).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, classify(err)
	}
	return members, nil
}

func (c *RedisClient) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (c *RedisClient) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (c *RedisClient) Scan(ctx context.Context, pattern string) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			select {
			case out <- iter.Val():
			case <-ctx.Done():
				return
			}
		}
		if err := iter.Err(); err != nil {
			errCh <- classify(err)
		}
	}()
	return out, errCh
}

// hashResource derives a fixed-length key suffix for a resource name so
// arbitrarily long names don't blow past store key limits.
func hashResource(resource string) string {
	sum := sha256.Sum256([]byte(resource))
	return hex.EncodeToString(sum[:])
}

// ExclusiveKey returns the lock service key holding a resource's exclusive
// owner.
func ExclusiveKey(resource string) string {
	return "resource-exclusive:" + hashResource(resource)
}

// SharedKey returns the lock service key holding a resource's shared-owner
// set.
func SharedKey(resource string) string {
	return "resource-shared:" + hashResource(resource)
}

// ClaimKey returns the lock service key for a task's claim lock.
func ClaimKey(taskID string) string {
	return "task:" + taskID
}
