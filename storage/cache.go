package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskmanager/domain"
)

type taskBackend interface {
	Insert(ctx context.Context, t domain.Task) error
	Get(ctx context.Context, taskID string) (domain.Task, error)
	Replace(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, taskID string) error
}

// Cached rows are hashes {v: updatedAt in µs, d: task JSON}. A deleted task
// leaves a tombstone (v = tombstoneVersion, empty d) until the TTL expires.
const tombstoneVersion = int64(1) << 52

// storeIfNewer writes the row only when no cached version is at least as new.
var storeIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// TaskCache wraps the document store with a Redis read-through cache. Writes
// go through to the cache with the row's updatedAt as version, and fills
// after a miss never replace a newer cached version or a tombstone.
type TaskCache struct {
	base  taskBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewTaskCache creates a caching wrapper. A zero ttl disables population but
// still evicts on writes.
func NewTaskCache(base taskBackend, client *redis.Client, ttl time.Duration) *TaskCache {
	if base == nil {
		panic("storage.NewTaskCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &TaskCache{base: base, redis: client, ttl: ttl}
}

func (c *TaskCache) Insert(ctx context.Context, t domain.Task) error {
	if err := c.base.Insert(ctx, t); err != nil {
		return err
	}
	c.overwrite(ctx, t.TaskID, taskVersion(t), &t)
	return nil
}

// Get answers from the cache when possible. Callers that rewrite the row
// read through Fresh instead.
func (c *TaskCache) Get(ctx context.Context, taskID string) (domain.Task, error) {
	if t, ok := c.load(ctx, taskID); ok {
		return t, nil
	}
	return c.Latest(ctx, taskID)
}

// Latest reads the row from the document store and refreshes the cache.
func (c *TaskCache) Latest(ctx context.Context, taskID string) (domain.Task, error) {
	t, err := c.base.Get(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	c.fill(ctx, t)
	return t, nil
}

func (c *TaskCache) Replace(ctx context.Context, t domain.Task) error {
	if err := c.base.Replace(ctx, t); err != nil {
		c.evict(ctx, t.TaskID)
		return err
	}
	c.fill(ctx, t)
	return nil
}

func (c *TaskCache) Delete(ctx context.Context, taskID string) error {
	if err := c.base.Delete(ctx, taskID); err != nil {
		return err
	}
	c.overwrite(ctx, taskID, tombstoneVersion, nil)
	return nil
}

// Fresh returns a view of c whose reads always hit the document store.
// Writes still go through c.
func (c *TaskCache) Fresh() FreshTasks {
	return FreshTasks{c}
}

// FreshTasks is a TaskCache whose Get bypasses the cached copy.
type FreshTasks struct {
	*TaskCache
}

func (f FreshTasks) Get(ctx context.Context, taskID string) (domain.Task, error) {
	return f.Latest(ctx, taskID)
}

func (c *TaskCache) load(ctx context.Context, taskID string) (domain.Task, bool) {
	if c.redis == nil {
		return domain.Task{}, false
	}
	key := taskCacheKey(taskID)
	data, err := c.redis.HGet(ctx, key, "d").Result()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, key).Err()
		}
		return domain.Task{}, false
	}
	if data == "" {
		return domain.Task{}, false
	}
	var t domain.Task
	if err := sonic.UnmarshalString(data, &t); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return domain.Task{}, false
	}
	return t, true
}

func (c *TaskCache) fill(ctx context.Context, t domain.Task) {
	if c.redis == nil {
		return
	}
	if c.ttl == 0 {
		c.evict(ctx, t.TaskID)
		return
	}
	data, err := sonic.MarshalString(t)
	if err != nil {
		c.evict(ctx, t.TaskID)
		return
	}
	key := taskCacheKey(t.TaskID)
	args := []any{strconv.FormatInt(taskVersion(t), 10), data, c.ttl.Milliseconds()}
	if err := storeIfNewer.Run(ctx, c.redis, []string{key}, args...).Err(); err != nil {
		c.evict(ctx, t.TaskID)
	}
}

// overwrite sets the cached row unconditionally. A nil task writes a
// tombstone.
func (c *TaskCache) overwrite(ctx context.Context, taskID string, version int64, t *domain.Task) {
	if c.redis == nil {
		return
	}
	if c.ttl == 0 {
		c.evict(ctx, taskID)
		return
	}
	data := ""
	if t != nil {
		var err error
		if data, err = sonic.MarshalString(*t); err != nil {
			c.evict(ctx, taskID)
			return
		}
	}
	key := taskCacheKey(taskID)
	_, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, "v", strconv.FormatInt(version, 10), "d", data)
		p.PExpire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.evict(ctx, taskID)
	}
}

func (c *TaskCache) evict(ctx context.Context, taskID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, taskCacheKey(taskID)).Err()
}

func taskVersion(t domain.Task) int64 {
	v := t.UpdatedAt.UnixMicro()
	if v < 0 {
		return 0
	}
	return min(v, tombstoneVersion-1)
}

func taskCacheKey(taskID string) string {
	return "task:" + taskID
}
