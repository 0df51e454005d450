package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johnwmail/pastebin-lite/models"
	"github.com/redis/go-redis/v9"
)

// Script results for claimScript
const (
	claimNotFound = 0
	claimHeld     = 1
	claimAcquired = 2
)

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

	claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local current = redis.call('GET', KEYS[2])
if current and current ~= ARGV[1] then return 1 end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
return 2
`)

	writeViewsScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'current_views', ARGV[2])
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) == ARGV[1] then return redis.call('DEL', KEYS[2]) end
return 0
`)
)

// RedisStore implements PasteStore on Redis. A paste is a hash; its lock is
// a separate key set with NX semantics and a PX lease. Both keys share a
// hash tag so they live in the same cluster slot.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	lease  leaseOptions
}

// NewRedisStore connects to the Redis server at url
func NewRedisStore(ctx context.Context, url, prefix string, opts ...LeaseOption) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStoreWithClient(rdb, prefix, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(rdb *redis.Client, prefix string, opts ...LeaseOption) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: strings.Trim(prefix, ":"),
		lease:  newLeaseOptions(opts...),
	}
}

func (r *RedisStore) pasteKey(id string) string {
	return fmt.Sprintf("%s:paste:{%s}", r.prefix, id)
}

func (r *RedisStore) lockKey(id string) string {
	return fmt.Sprintf("%s:lock:{%s}", r.prefix, id)
}

// Create stores the paste hash, refusing to overwrite an existing id
func (r *RedisStore) Create(ctx context.Context, paste *models.Paste) error {
	created, err := createScript.Run(ctx, r.rdb, []string{r.pasteKey(paste.ID)}, pasteToHash(paste)...).Int()
	if err != nil {
		return fmt.Errorf("failed to store paste: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("paste %s already exists", paste.ID)
	}
	return nil
}

// WithTx runs fn under the lease protocol
func (r *RedisStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return withLeaseTx(ctx, r, r.lease, fn)
}

// Ping checks the Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// claim ignores now: lease expiry is enforced by the server through PX
func (r *RedisStore) claim(ctx context.Context, id, owner string, now, until time.Time) (*models.Paste, error) {
	leaseMillis := until.Sub(now).Milliseconds()
	if leaseMillis < 1 {
		leaseMillis = 1
	}

	keys := []string{r.pasteKey(id), r.lockKey(id)}
	status, err := claimScript.Run(ctx, r.rdb, keys, owner, leaseMillis).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to claim paste lease: %w", err)
	}

	switch status {
	case claimNotFound:
		return nil, ErrNotFound
	case claimHeld:
		return nil, errLeaseHeld
	}

	fields, err := r.rdb.HGetAll(ctx, r.pasteKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read paste: %w", err)
	}
	return hashToPaste(id, fields)
}

func (r *RedisStore) writeViews(ctx context.Context, paste *models.Paste, owner string) error {
	keys := []string{r.pasteKey(paste.ID), r.lockKey(paste.ID)}
	ok, err := writeViewsScript.Run(ctx, r.rdb, keys, owner, paste.CurrentViews).Int()
	if err != nil {
		return fmt.Errorf("failed to update paste views: %w", err)
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}

func (r *RedisStore) release(ctx context.Context, id, owner string) error {
	return releaseScript.Run(ctx, r.rdb, []string{r.pasteKey(id), r.lockKey(id)}, owner).Err()
}

// pasteToHash flattens a paste into HSET field/value arguments. Times are
// milliseconds since the epoch.
func pasteToHash(paste *models.Paste) []interface{} {
	args := []interface{}{
		"content", paste.Content,
		"current_views", strconv.FormatInt(paste.CurrentViews, 10),
		"created_at", strconv.FormatInt(paste.CreatedAt.UnixMilli(), 10),
	}
	if paste.MaxViews != nil {
		args = append(args, "max_views", strconv.FormatInt(*paste.MaxViews, 10))
	}
	if paste.ExpiresAt != nil {
		args = append(args, "expires_at", strconv.FormatInt(paste.ExpiresAt.UnixMilli(), 10))
	}
	return args
}

func hashToPaste(id string, fields map[string]string) (*models.Paste, error) {
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	paste := &models.Paste{ID: id, Content: fields["content"]}

	parse := func(name string) (int64, bool, error) {
		raw, ok := fields[name]
		if !ok {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, true, nil
	}

	views, _, err := parse("current_views")
	if err != nil {
		return nil, err
	}
	paste.CurrentViews = views

	if n, ok, err := parse("max_views"); err != nil {
		return nil, err
	} else if ok {
		paste.MaxViews = &n
	}

	if ms, ok, err := parse("created_at"); err != nil {
		return nil, err
	} else if ok {
		paste.CreatedAt = time.UnixMilli(ms).UTC()
	}

	if ms, ok, err := parse("expires_at"); err != nil {
		return nil, err
	} else if ok {
		expiry := time.UnixMilli(ms).UTC()
		paste.ExpiresAt = &expiry
	}

	return paste, nil
}
