package shared

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// PaymentLockKeys returns one redis key per settled key of target, sorted so
// every caller acquires them in the same order.
func PaymentLockKeys(targetRef string, keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, fmt.Sprintf("billing:payment:%s:%s:lock", targetRef, k))
	}
	sort.Strings(out)
	return out
}

// releaseScript deletes the lock only while owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker implements owned, expiring locks with SET NX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs the locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes key for owner until ttl passes. It returns false when
// someone else holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, owner, ttl).Result()
}

// Release frees key if owner still holds it. A lock that expired and was
// taken by another owner is left alone.
func (l *RedisLocker) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
}
