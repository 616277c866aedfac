// Package kwire implements the wire client: request/response correlation
// over broker connections, the concrete request and response shapes for
// every RPC the consumer core needs, and per-partition fetch routing. It
// is the client-side analogue of what sarama's own encoder/decoder pairs
// and RPC methods do internally, reimplemented against kschema instead of
// delegating to an external client library, since the spec this module
// implements brings the wire protocol itself in scope.
package kwire

import "fmt"

// Node identifies a single Kafka broker.
type Node struct {
	ID   int32
	Host string
	Port int32
}

// Addr returns the broker's host:port dial address.
func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// TopicPartition is a (topic, partition) pair, compared by both fields.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// TopicPartitionSet is a topic -> set of partition ids mapping, the shape
// used by assignment, pause, subscribe, and seek APIs.
type TopicPartitionSet map[string]map[int32]struct{}

// NewTopicPartitionSet builds a TopicPartitionSet from a flat list.
func NewTopicPartitionSet(tps ...TopicPartition) TopicPartitionSet {
	out := make(TopicPartitionSet)
	for _, tp := range tps {
		if out[tp.Topic] == nil {
			out[tp.Topic] = make(map[int32]struct{})
		}
		out[tp.Topic][tp.Partition] = struct{}{}
	}
	return out
}

// Contains reports whether (topic, partition) is a member of the set.
func (s TopicPartitionSet) Contains(topic string, partition int32) bool {
	parts, ok := s[topic]
	if !ok {
		return false
	}
	_, ok = parts[partition]
	return ok
}

// Add inserts (topic, partition) into the set.
func (s TopicPartitionSet) Add(topic string, partition int32) {
	if s[topic] == nil {
		s[topic] = make(map[int32]struct{})
	}
	s[topic][partition] = struct{}{}
}

// Remove deletes (topic, partition) from the set, if present.
func (s TopicPartitionSet) Remove(topic string, partition int32) {
	if parts, ok := s[topic]; ok {
		delete(parts, partition)
	}
}

// List flattens the set into a slice of TopicPartition.
func (s TopicPartitionSet) List() []TopicPartition {
	var out []TopicPartition
	for topic, parts := range s {
		for p := range parts {
			out = append(out, TopicPartition{Topic: topic, Partition: p})
		}
	}
	return out
}

// TopicPartitionOffsets is a topic -> (partition -> offset) mapping. The
// sentinel -1 denotes "unknown" at the wire boundary.
type TopicPartitionOffsets map[string]map[int32]int64

// Get returns the stored offset and whether it is present.
func (o TopicPartitionOffsets) Get(topic string, partition int32) (int64, bool) {
	parts, ok := o[topic]
	if !ok {
		return 0, false
	}
	off, ok := parts[partition]
	return off, ok
}

// Set stores an offset for (topic, partition).
func (o TopicPartitionOffsets) Set(topic string, partition int32, offset int64) {
	if o[topic] == nil {
		o[topic] = make(map[int32]int64)
	}
	o[topic][partition] = offset
}

// UnknownOffset is the wire-level sentinel meaning "no committed
// position". It is translated to an absent map entry at the
// kwire/consumer boundary so internal logic is never polluted with it
// directly.
const UnknownOffset int64 = -1

// RecordBatch is a contiguous run of records returned by a single fetch
// for one partition.
type RecordBatch struct {
	Offset int64
	Key    []byte
	Value  []byte
}

// FetchResult is topic -> partition -> the record batches fetched for
// it, in offset order.
type FetchResult map[string]map[int32][]RecordBatch

// FetchError is raised when a Fetch partially succeeds: some partitions
// returned data, others returned per-partition errors. It carries both
// so that recovery (e.g. OffsetOutOfRange repair) and reporting can use
// whatever succeeded without losing the rest.
type FetchError struct {
	Result FetchResult
	Errors map[TopicPartition]error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("kwire: fetch failed for %d partition(s)", len(e.Errors))
}

// LeaderResolver resolves the broker currently leading a partition.
// kcluster.View satisfies this interface; kwire depends only on the
// interface to avoid an import cycle between the wire client and the
// cluster view that refreshes itself through the wire client.
type LeaderResolver interface {
	LeaderFor(topic string, partition int32) (Node, bool)
}
