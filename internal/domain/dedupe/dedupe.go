// Package dedupe drops repeated deliveries of the same Slack callback.
//
// Slack retries a request it did not see acknowledged, and a user can click
// a button twice. Within one process the deduper filters those before a job
// is queued; across processes the ledger's conditional writes take over.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMaxSize = 10_000
	defaultTTL     = 10 * time.Minute
)

// Deduper records seen delivery keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a later redelivery is processed. Used when a
	// job was recorded but could not be queued.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key  string
	seen time.Time
}

// inMemoryDeduper keeps keys in insertion order; the oldest are evicted
// first when the cache is full or their ttl has passed.
type inMemoryDeduper struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	maxSize int // <= 0 means unbounded
	ttl     time.Duration
	now     func() time.Time
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		ttl:     defaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.index = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.index[key]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.remove(d.order.Front())
	}
	d.index[key] = d.order.PushBack(&entry{key: key, seen: now})
	d.size.Store(int64(d.order.Len()))
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.remove(el)
		d.size.Store(int64(d.order.Len()))
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// expire drops entries older than ttl. Must be called with d.mu held.
func (d *inMemoryDeduper) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < d.ttl {
			return
		}
		d.remove(el)
	}
}

func (d *inMemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	delete(d.index, el.Value.(*entry).key)
	d.order.Remove(el)
}
