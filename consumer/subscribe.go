package consumer

import (
	"context"
	"sort"

	"github.com/mistsys/kafkagroup/kassign"
	"github.com/mistsys/kafkagroup/kwire"
)

// Subscribe drives the full join-group/sync-group lifecycle (spec.md
// §4.5.1) for the given topics: coordinator lookup, JoinGroup, the
// leader's assignor invocation or the follower's SyncGroup decode, and
// finally Assign over whatever partitions this member was handed.
//
// It is grounded in the teacher's own consumer.client.run join loop,
// generalized from a background goroutine looping until a channel close
// onto a single synchronous call a caller re-issues on heartbeat
// failure, exactly as spec.md §4.5.3 and §4.5.6 require.
func (c *KafkaConsumer) Subscribe(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		return userErrorf("subscribe", "topics must not be empty")
	}

	c.state = stateJoining
	c.subscription = Subscription{Topics: topics}
	for _, t := range topics {
		c.cluster.Watch(t)
	}
	if err := c.cluster.MaybeRefresh(ctx); err != nil {
		return err
	}

	coord, err := c.discoverCoordinator(ctx)
	if err != nil {
		return err
	}
	c.group.coordinator = coord
	c.group.hasCoordinator = true

	metadata, err := kassign.EncodeMemberMetadata(kassign.MemberMetadata{Topics: topics})
	if err != nil {
		return fatalErrorf("subscribe", "encoding member metadata: %s", err)
	}
	protocols := []kwire.GroupProtocol{{Name: c.assignor.Name(), Metadata: metadata}}

	join, err := c.wire.JoinGroup(ctx, coord, c.cfg.GroupID, c.group.memberID, protocolType, protocols,
		c.cfg.SessionTimeoutMs.Duration(), c.cfg.RebalanceTimeoutMs.Duration())
	if err != nil {
		return err
	}
	c.group.memberID = join.MemberID
	c.group.generationID = join.GenerationID
	c.group.leaderID = join.LeaderID

	c.state = stateSyncing
	var assignmentBytes []byte
	if c.group.isLeader() {
		members := make([]kassign.Member, len(join.Members))
		for i, m := range join.Members {
			meta, err := kassign.DecodeMemberMetadata(m.Metadata)
			if err != nil {
				return fatalErrorf("subscribe", "decoding member %s metadata: %s", m.MemberID, err)
			}
			members[i] = kassign.Member{ID: m.MemberID, Metadata: meta}
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		assignments, err := c.assignor.Assign(c.cluster, members)
		if err != nil {
			return fatalErrorf("subscribe", "computing assignment: %s", err)
		}
		syncAssignments := make([]kwire.MemberAssignment, 0, len(assignments))
		for memberID, a := range assignments {
			b, err := kassign.EncodeAssignment(a)
			if err != nil {
				return fatalErrorf("subscribe", "encoding assignment for %s: %s", memberID, err)
			}
			syncAssignments = append(syncAssignments, kwire.MemberAssignment{MemberID: memberID, Assignment: b})
		}
		own, err := c.wire.SyncGroup(ctx, coord, c.cfg.GroupID, c.group.memberID, c.group.generationID, syncAssignments)
		if err != nil {
			return err
		}
		assignmentBytes = own
	} else {
		own, err := c.wire.SyncGroup(ctx, coord, c.cfg.GroupID, c.group.memberID, c.group.generationID, nil)
		if err != nil {
			return err
		}
		assignmentBytes = own
	}

	myAssignment, err := kassign.DecodeAssignment(assignmentBytes)
	if err != nil {
		return fatalErrorf("subscribe", "decoding own assignment: %s", err)
	}

	var tps []TopicPartition
	for topic, parts := range myAssignment.Topics {
		for _, p := range parts {
			tps = append(tps, TopicPartition{Topic: topic, Partition: p})
		}
	}
	c.state = stateAssigned
	c.lastHeartbeat = c.clockNow()
	if len(tps) == 0 {
		c.assignedTopicPartitions = kwire.NewTopicPartitionSet()
		c.topicPartitionOffsets = make(TopicPartitionOffsets)
		return nil
	}
	return c.Assign(ctx, kwire.NewTopicPartitionSet(tps...))
}

// discoverCoordinator asks any seed broker for the group coordinator,
// trying each in turn so a single unreachable seed doesn't fail the
// whole join.
func (c *KafkaConsumer) discoverCoordinator(ctx context.Context) (kwire.Node, error) {
	var lastErr error
	for _, addr := range c.cfg.SeedBrokers {
		coord, err := c.wire.GetGroupCoordinator(ctx, addr, c.cfg.GroupID)
		if err == nil {
			return coord, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fatalErrorf("subscribe", "no seed brokers configured")
	}
	return kwire.Node{}, lastErr
}

// Unsubscribe implements spec.md §4.5.5: it sends LeaveGroup if
// currently subscribed, then unconditionally clears subscription,
// assignment and offset state, and resets coordinator/memberId/
// generationId to their zero values so a later Subscribe starts clean
// (spec.md §9's second open question, resolved that way rather than
// left dangling as the original leaves it). It never fails observably:
// LeaveGroup errors are logged, not returned, since teardown must
// succeed regardless of the group's state.
func (c *KafkaConsumer) Unsubscribe(ctx context.Context) {
	if c.group.hasCoordinator && c.group.memberID != "" {
		if err := c.wire.LeaveGroup(ctx, c.group.coordinator, c.cfg.GroupID, c.group.memberID); err != nil {
			c.logger.Warnw("leave group failed during unsubscribe", "group", c.cfg.GroupID, "err", err)
		}
	}
	c.state = stateUnsubscribed
	c.group = groupState{}
	c.subscription = Subscription{}
	c.assignedTopicPartitions = kwire.NewTopicPartitionSet()
	c.topicPartitionOffsets = make(TopicPartitionOffsets)
	c.pausedTopicPartitions = kwire.NewTopicPartitionSet()
}

// resubscribe re-issues Subscribe against the previously recorded topic
// list, the action spec.md §4.5.3 step 1 and scenario S6 require when a
// heartbeat fails with a retriable coordinator error.
func (c *KafkaConsumer) resubscribe(ctx context.Context) error {
	topics := c.subscription.Topics
	return c.Subscribe(ctx, topics)
}
