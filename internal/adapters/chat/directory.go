package chat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

const defaultDirectoryTTL = 5 * time.Minute

// directory caches the workspace member list. Concurrent misses share
// one users.list walk.
type directory struct {
	fetch func(ctx context.Context) ([]offer.Member, error)
	ttl   time.Duration
	clock func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	members   []offer.Member
	fetchedAt time.Time
}

func newDirectory(fetch func(ctx context.Context) ([]offer.Member, error), ttl time.Duration) *directory {
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	return &directory{fetch: fetch, ttl: ttl, clock: time.Now}
}

// Members returns the cached list, fetching it when stale or when force is
// set. fresh reports whether the list was fetched by this call.
func (d *directory) Members(ctx context.Context, force bool) (members []offer.Member, fresh bool, err error) {
	if !force {
		d.mu.RLock()
		cached, at := d.members, d.fetchedAt
		d.mu.RUnlock()
		if cached != nil && d.clock().Sub(at) < d.ttl {
			return cached, false, nil
		}
	}

	v, err, _ := d.group.Do("members", func() (interface{}, error) {
		list, err := d.fetch(ctx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.members, d.fetchedAt = list, d.clock()
		d.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]offer.Member), true, nil
}
