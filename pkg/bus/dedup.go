package bus

import (
	"container/list"
	"sync"
	"time"

	"github.com/codeready-toolchain/relay/pkg/metrics"
)

const (
	defaultDedupTTL            = 10 * time.Minute
	defaultDedupMaxEntries     = 10_000
	defaultDedupCompaction     = 0.25
	defaultDedupScanInterval   = time.Minute
	minDedupCompactionEvictees = 1
)

// DedupOptions configures a DedupCache. Zero fields take the defaults
// above.
type DedupOptions struct {
	// TTL is the sliding expiry window per notification id. A hit refreshes
	// the entry.
	TTL time.Duration

	// MaxEntries is the hard size cap.
	MaxEntries int

	// CompactionPercentage is the fraction of oldest entries evicted when
	// the cache is full, in (0, 1].
	CompactionPercentage float64

	// ScanInterval is the background expiry scan period.
	ScanInterval time.Duration
}

func (o DedupOptions) withDefaults() DedupOptions {
	if o.TTL <= 0 {
		o.TTL = defaultDedupTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = defaultDedupMaxEntries
	}
	if o.CompactionPercentage <= 0 || o.CompactionPercentage > 1 {
		o.CompactionPercentage = defaultDedupCompaction
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = defaultDedupScanInterval
	}
	return o
}

// DedupCache is a bounded notification-id cache with sliding TTL.
//
// Seen is an atomic check-and-insert guarded by a single mutex; recency is
// tracked in LRU order so the size cap evicts the oldest entries and the
// background scanner stops at the first unexpired one.
type DedupCache struct {
	opts    DedupOptions
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently seen

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type dedupEntry struct {
	id       string
	lastSeen time.Time
}

// NewDedupCache creates the cache and starts its expiry scanner.
func NewDedupCache(opts DedupOptions, m *metrics.Metrics) *DedupCache {
	c := &DedupCache{
		opts:    opts.withDefaults(),
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.scanLoop()
	return c
}

// Seen records id and reports whether it was already present within the TTL
// window. Hits slide the expiry forward; misses insert the id, compacting
// the oldest entries first when the cache is full.
func (c *DedupCache) Seen(id string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		ent := el.Value.(*dedupEntry)
		expired := now.Sub(ent.lastSeen) >= c.opts.TTL
		ent.lastSeen = now
		c.order.MoveToFront(el)
		return !expired
	}

	if len(c.entries) >= c.opts.MaxEntries {
		c.compactLocked()
	}
	c.entries[id] = c.order.PushFront(&dedupEntry{id: id, lastSeen: now})
	c.metrics.SetDedupSize(len(c.entries))
	return false
}

// compactLocked evicts the oldest CompactionPercentage of the cap.
func (c *DedupCache) compactLocked() {
	evict := int(float64(c.opts.MaxEntries) * c.opts.CompactionPercentage)
	if evict < minDedupCompactionEvictees {
		evict = minDedupCompactionEvictees
	}
	for i := 0; i < evict; i++ {
		back := c.order.Back()
		if back == nil {
			break
		}
		ent := c.order.Remove(back).(*dedupEntry)
		delete(c.entries, ent.id)
	}
}

// Len returns the current entry count.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the expiry scanner. Idempotent.
func (c *DedupCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *DedupCache) scanLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.opts.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired sweeps from the least recently seen end until it meets an
// unexpired entry.
func (c *DedupCache) removeExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		back := c.order.Back()
		if back == nil {
			break
		}
		ent := back.Value.(*dedupEntry)
		if now.Sub(ent.lastSeen) < c.opts.TTL {
			break
		}
		c.order.Remove(back)
		delete(c.entries, ent.id)
	}
	c.metrics.SetDedupSize(len(c.entries))
}
