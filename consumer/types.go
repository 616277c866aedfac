/*
  A simple kafka consumer-group client

  Copyright 2016 MistSys
*/

// Package consumer implements the consumer-group client core: join-group
// and sync-group, partition assignment, offset tracking, the poll-driven
// fetch loop with partial-failure recovery, and the heartbeat/rebalance
// lifecycle. It is grounded in the teacher package's own client/Consumer
// split (consumer.go), generalized from a goroutine-and-channel design
// wrapping sarama.Client onto a single-threaded, poll-driven KafkaConsumer
// value driving kwire.Client directly, since nothing here delivers
// records asynchronously anymore.
package consumer

import (
	"time"

	"github.com/mistsys/kafkagroup/kassign"
	"github.com/mistsys/kafkagroup/kconfig"
	"github.com/mistsys/kafkagroup/kwire"
)

// TopicPartition, TopicPartitionSet and TopicPartitionOffsets are the
// shapes every public API in this package uses. They are aliases of
// kwire's types rather than distinct ones: the wire client, the cluster
// view and the consumer core all speak the same (topic, partition)
// vocabulary, and a translation layer between identical shapes would add
// nothing but noise.
type TopicPartition = kwire.TopicPartition
type TopicPartitionSet = kwire.TopicPartitionSet
type TopicPartitionOffsets = kwire.TopicPartitionOffsets

// RecordBatch is a contiguous run of records returned by a single fetch
// for one partition.
type RecordBatch = kwire.RecordBatch

// FetchResult is the raw result of a poll: topic -> partition -> the
// batches fetched for it.
type FetchResult = kwire.FetchResult

// FetchError is raised by a Poll that partially failed: some partitions
// returned data, others returned errors, both of which the caller needs
// to decide what to do next.
type FetchError = kwire.FetchError

// Subscription is the set of topics this consumer asked to consume, plus
// an optional user-data byte string carried opaque to the coordinator.
// It is serializable as this member's JoinGroup protocol metadata.
type Subscription struct {
	Topics   []string
	UserData []byte
}

// state is the consumer's position in the group lifecycle (spec.md
// §4.5.6): Unsubscribed -> Joining -> Syncing -> Assigned (steady) ->
// Leaving -> Unsubscribed.
type state int

const (
	stateUnsubscribed state = iota
	stateJoining
	stateSyncing
	stateAssigned
	stateLeaving
)

func (s state) String() string {
	switch s {
	case stateUnsubscribed:
		return "unsubscribed"
	case stateJoining:
		return "joining"
	case stateSyncing:
		return "syncing"
	case stateAssigned:
		return "assigned"
	case stateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// groupState is the consumer's view of its own membership, valid only
// while coordinator is set and the consumer has not left the group.
type groupState struct {
	coordinator    kwire.Node
	hasCoordinator bool
	memberID       string
	generationID   int32
	leaderID       string
}

func (g groupState) isLeader() bool {
	return g.memberID != "" && g.memberID == g.leaderID
}

// clock is the monotonic time source used for heartbeat and auto-commit
// timing. Tests override it; production uses time.Now.
type clock func() time.Time

var defaultClock clock = time.Now

// assignorFor resolves cfg's configured strategy. New calls it at
// construction time so a bad PARTITION_ASSIGNMENT_STRATEGY value
// fails immediately rather than on the first rebalance.
func assignorFor(cfg *kconfig.Config) (kassign.Assignor, error) {
	a, ok := kassign.ByName(cfg.AssignmentStrategy)
	if !ok {
		return nil, userErrorf("assignor", "assignment_strategy %q is not a registered kassign.Assignor", cfg.AssignmentStrategy)
	}
	return a, nil
}
