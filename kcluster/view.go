// Package kcluster maintains the cached view of cluster metadata the
// consumer core and the wire client's per-partition fetch routing need:
// which broker currently leads each partition, and which partitions a
// topic has. It is grounded in the teacher's own
// cluster.ConsumerGroup.rebalance, which fetched a partition list and
// resolved each partition's leader broker before computing claims; this
// generalizes that same fetch-partitions-then-resolve-leaders shape away
// from ZooKeeper and sarama, onto kwire's Metadata RPC.
package kcluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/klog"
	"github.com/mistsys/kafkagroup/kwire"
)

// View caches broker and partition-leader metadata for a set of topics,
// refreshed on demand through a kwire.Client. It satisfies
// kwire.LeaderResolver.
type View struct {
	client      *kwire.Client
	seedBrokers []string
	logger      klog.Logger
	staleAfter  time.Duration

	mu          sync.Mutex
	topics      map[string]struct{}
	partitions  map[string][]int32
	leaders     map[kwire.TopicPartition]kwire.Node
	lastRefresh time.Time
	stale       bool
}

// Option configures a View.
type Option func(*View)

// WithLogger attaches a structured logger.
func WithLogger(l klog.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithStaleAfter overrides how long a successful refresh is trusted
// before MaybeRefresh forces another one even without an invalidating
// error. The teacher's ConsumerGroup had no periodic refresh at all,
// relying solely on a ZooKeeper watch; this client has no equivalent
// push channel for partition-leader changes, so it falls back to a
// periodic pull.
func WithStaleAfter(d time.Duration) Option {
	return func(v *View) { v.staleAfter = d }
}

// NewView returns a View with no cached metadata; the first call to
// Refresh or MaybeRefresh populates it.
func NewView(client *kwire.Client, seedBrokers []string, opts ...Option) *View {
	v := &View{
		client:      client,
		seedBrokers: seedBrokers,
		logger:      klog.Nop,
		staleAfter:  5 * time.Minute,
		topics:      make(map[string]struct{}),
		partitions:  make(map[string][]int32),
		leaders:     make(map[kwire.TopicPartition]kwire.Node),
		stale:       true,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Watch adds topic to the set this View refreshes, and marks the cache
// stale so the next MaybeRefresh picks it up.
func (v *View) Watch(topic string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.topics[topic]; ok {
		return
	}
	v.topics[topic] = struct{}{}
	v.stale = true
}

// Unwatch drops topic from the watched set and clears its cached
// metadata.
func (v *View) Unwatch(topic string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.topics, topic)
	delete(v.partitions, topic)
	for tp := range v.leaders {
		if tp.Topic == topic {
			delete(v.leaders, tp)
		}
	}
}

// Invalidate marks the cache stale so the next MaybeRefresh performs a
// real metadata fetch, regardless of staleAfter.
func (v *View) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stale = true
}

// NoteError inspects err and invalidates the cache when it names a
// partition-leadership condition (NotLeaderForPartition,
// LeaderNotAvailable), so the next fetch or produce re-resolves the
// leader instead of repeating the same stale route.
func (v *View) NoteError(err error) {
	ke, ok := err.(*kerrors.KafkaError)
	if !ok {
		return
	}
	switch ke.Code {
	case kerrors.NotLeaderForPartition, kerrors.LeaderNotAvailable:
		v.Invalidate()
	}
}

// MaybeRefresh refreshes the cache if it is stale (invalidated, never
// populated, or older than staleAfter). It is safe to call on every
// Poll iteration; most calls are no-ops.
func (v *View) MaybeRefresh(ctx context.Context) error {
	v.mu.Lock()
	needsRefresh := v.stale || time.Since(v.lastRefresh) > v.staleAfter
	v.mu.Unlock()
	if !needsRefresh {
		return nil
	}
	return v.Refresh(ctx)
}

// Refresh unconditionally fetches fresh metadata for every watched topic
// from a seed broker.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	topics := make([]string, 0, len(v.topics))
	for t := range v.topics {
		topics = append(topics, t)
	}
	v.mu.Unlock()
	if len(topics) == 0 {
		return nil
	}
	if len(v.seedBrokers) == 0 {
		return fmt.Errorf("kcluster: no seed brokers configured")
	}

	var lastErr error
	for _, addr := range v.seedBrokers {
		resp, err := v.client.Metadata(ctx, addr, topics)
		if err != nil {
			lastErr = err
			v.logger.Warnw("metadata refresh failed against seed broker", "addr", addr, "err", err)
			continue
		}
		v.applyMetadata(resp)
		return nil
	}
	return fmt.Errorf("kcluster: metadata refresh failed against all seed brokers: %w", lastErr)
}

// applyMetadata rebuilds the partitions and leaders maps from a fresh
// Metadata response. Topics or partitions the response reports an error
// for keep their previous cached entry, if any, rather than being wiped,
// so a transient per-topic error during refresh does not blow away an
// otherwise-valid route.
func (v *View) applyMetadata(resp *kwire.MetadataResponse) {
	brokers := make(map[int32]kwire.Node, len(resp.Brokers))
	for _, b := range resp.Brokers {
		brokers[b.NodeID] = kwire.Node{ID: b.NodeID, Host: b.Host, Port: b.Port}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range resp.Topics {
		if err := kerrors.NewKafkaError(kerrors.Code(t.ErrorCode)); err != nil {
			v.logger.Warnw("metadata error for topic", "topic", t.Topic, "err", err)
			continue
		}
		parts := make([]int32, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			parts = append(parts, p.Partition)
			if err := kerrors.NewKafkaError(kerrors.Code(p.ErrorCode)); err != nil {
				v.logger.Warnw("metadata error for partition", "topic", t.Topic, "partition", p.Partition, "err", err)
				continue
			}
			leader, ok := brokers[p.Leader]
			if !ok {
				continue
			}
			v.leaders[kwire.TopicPartition{Topic: t.Topic, Partition: p.Partition}] = leader
		}
		v.partitions[t.Topic] = parts
	}
	v.lastRefresh = time.Now()
	v.stale = false
}

// LeaderFor resolves the broker currently leading (topic, partition),
// satisfying kwire.LeaderResolver.
func (v *View) LeaderFor(topic string, partition int32) (kwire.Node, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.leaders[kwire.TopicPartition{Topic: topic, Partition: partition}]
	return n, ok
}

// PartitionsForTopic returns the known partition ids for topic.
func (v *View) PartitionsForTopic(topic string) ([]int32, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	parts, ok := v.partitions[topic]
	return parts, ok
}
