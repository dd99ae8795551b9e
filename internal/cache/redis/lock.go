package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// settleLockTTL caps how long a settlement lock can be held by a crashed
// process.
const settleLockTTL = 30 * time.Second

// SlugLocker implements domain.SlugLocker using SETNX with a TTL and a
// Lua-based conditional unlock. It serializes settlement writes per market
// slug across bot instances.
type SlugLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

func NewSlugLocker(c *Client) *SlugLocker {
	return &SlugLocker{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func (sl *SlugLocker) TryLock(ctx context.Context, slug string) (func(), error) {
	token := uuid.New().String()
	key := "settle-lock:" + slug

	ok, err := sl.rdb.SetNX(ctx, key, token, settleLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", slug, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Background context so release works even after the caller's
		// context is cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sl.unlockSc.Run(unlockCtx, sl.rdb, []string{key}, token).Err()
	}
	return release, nil
}

var _ domain.SlugLocker = (*SlugLocker)(nil)
