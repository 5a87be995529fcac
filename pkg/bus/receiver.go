package bus

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/google/uuid"
)

const defaultChannelCapacity = 20_000

// CompositeReceiverOptions configures a CompositeReceiver.
type CompositeReceiverOptions struct {
	// ChannelCapacity is the per-subscriber buffer size.
	ChannelCapacity int

	// Dedup configures the shared deduplication cache.
	Dedup DedupOptions
}

// CompositeReceiver merges the inbound streams of every transport,
// deduplicates by notification id, and multicasts per tag filter.
//
// Subscriptions sharing a tag filter share one merged, deduplicated
// upstream: the first subscriber connects it, later ones join it, and the
// last unsubscribe tears it down. Deduplication is keyed per tag filter:
// each multicast group carries its own cache, so a notification consumed
// under one filter still reaches subscribers of every other matching
// filter. The receiver owns the multicast registry but not the transports,
// which are injected and closed by whoever created them.
type CompositeReceiver struct {
	transports []Transport
	dedupOpts  DedupOptions
	capacity   int
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	groups map[string]*multicastGroup
	closed bool
}

// multicastGroup is the shared stream for one tag-filter key.
type multicastGroup struct {
	key    string
	cancel context.CancelFunc
	dedup  *DedupCache
	merged chan notification.Notification
	done   chan struct{} // closed when the pump exits

	// guarded by CompositeReceiver.mu
	subs map[string]chan notification.Notification
}

// NewCompositeReceiver creates a receiver over the given transports.
func NewCompositeReceiver(opts CompositeReceiverOptions, m *metrics.Metrics, transports ...Transport) *CompositeReceiver {
	capacity := opts.ChannelCapacity
	if capacity <= 0 {
		capacity = defaultChannelCapacity
	}
	return &CompositeReceiver{
		transports: transports,
		dedupOpts:  opts.Dedup,
		capacity:   capacity,
		metrics:    m,
		groups:     make(map[string]*multicastGroup),
	}
}

// Receive subscribes to the merged, deduplicated notification stream for
// the given tag filter (any-match; empty filter receives everything). The
// returned channel is closed when ctx is cancelled or the receiver closes.
func (r *CompositeReceiver) Receive(ctx context.Context, tags ...string) (<-chan notification.Notification, error) {
	key := multicastKey(tags)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	g, ok := r.groups[key]
	if !ok {
		g = r.connectGroup(key, tags)
		r.groups[key] = g
	}
	id := uuid.New().String()
	ch := make(chan notification.Notification, r.capacity)
	g.subs[id] = ch
	r.mu.Unlock()

	r.metrics.SubscriptionOpened()
	go func() {
		select {
		case <-ctx.Done():
		case <-g.done:
		}
		r.unsubscribe(g, id)
	}()
	return ch, nil
}

// connectGroup wires a new multicast group to every transport, gives it
// its own dedup cache, and starts its pump. Called with r.mu held.
func (r *CompositeReceiver) connectGroup(key string, tags []string) *multicastGroup {
	groupCtx, cancel := context.WithCancel(context.Background())
	g := &multicastGroup{
		key:    key,
		cancel: cancel,
		dedup:  NewDedupCache(r.dedupOpts, r.metrics),
		merged: make(chan notification.Notification, r.capacity),
		done:   make(chan struct{}),
		subs:   make(map[string]chan notification.Notification),
	}

	var forwarders sync.WaitGroup
	for _, tr := range r.transports {
		src, err := tr.Receive(groupCtx, tags...)
		if err != nil {
			// A failed source contributes an empty substream; the merged
			// stream survives on the remaining transports.
			slog.Warn("Transport subscription failed, continuing without it",
				"transport", tr.Name(),
				"tags", tags,
				"error", err)
			continue
		}
		forwarders.Add(1)
		go func(name string, src <-chan notification.Notification) {
			defer forwarders.Done()
			for n := range src {
				r.metrics.IncReceived(name)
				g.merged <- n
			}
		}(tr.Name(), src)
	}
	go func() {
		forwarders.Wait()
		close(g.merged)
	}()
	go r.pump(g)
	return g
}

// pump applies deduplication and fans each surviving notification out to
// the group's subscribers. Sends are non-blocking: a full subscriber buffer
// drops the notification for that subscriber only.
func (r *CompositeReceiver) pump(g *multicastGroup) {
	defer close(g.done)
	defer g.dedup.Close()
	for n := range g.merged {
		if id := n.Env().NotificationID; id != "" && g.dedup.Seen(id) {
			r.metrics.IncDuplicateDropped()
			continue
		}
		r.mu.RLock()
		for _, ch := range g.subs {
			select {
			case ch <- n:
			default:
				r.metrics.IncSubscriberDrop()
			}
		}
		r.mu.RUnlock()
	}
}

// unsubscribe detaches one subscriber; the last one out disconnects the
// group from the transports.
func (r *CompositeReceiver) unsubscribe(g *multicastGroup, id string) {
	r.mu.Lock()
	ch, ok := g.subs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(g.subs, id)
	// Closing under the write lock excludes concurrent pump sends, which
	// hold the read lock.
	close(ch)
	last := len(g.subs) == 0
	if last {
		delete(r.groups, g.key)
	}
	r.mu.Unlock()

	r.metrics.SubscriptionClosed()
	if last {
		g.cancel()
	}
}

// Close tears down every multicast group. Each group's pump closes its own
// dedup cache on exit. Idempotent. Injected transports are left running.
func (r *CompositeReceiver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	groups := make([]*multicastGroup, 0, len(r.groups))
	for key, g := range r.groups {
		delete(r.groups, key)
		for id, ch := range g.subs {
			delete(g.subs, id)
			close(ch)
			r.metrics.SubscriptionClosed()
		}
		groups = append(groups, g)
	}
	r.mu.Unlock()

	for _, g := range groups {
		g.cancel()
	}
}

// groupCount is a test helper.
func (r *CompositeReceiver) groupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// multicastKey normalizes a tag filter into its cache key: sorted, unique,
// comma-joined. All subscriptions with the same effective filter share one
// upstream.
func multicastKey(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	uniq := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			uniq = append(uniq, tag)
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ",")
}

// ReceiveAs narrows a composite subscription to notifications of concrete
// type T. The type filter runs after deduplication, so a mixed-type stream
// still dedups across all subscribers of the same tag filter.
func ReceiveAs[T notification.Notification](ctx context.Context, r *CompositeReceiver, tags ...string) (<-chan T, error) {
	src, err := r.Receive(ctx, tags...)
	if err != nil {
		return nil, err
	}
	out := make(chan T, cap(src))
	go func() {
		defer close(out)
		for n := range src {
			if typed, ok := n.(T); ok {
				out <- typed
			}
		}
	}()
	return out, nil
}
