package consumer

import (
	"context"
	"fmt"

	"github.com/mistsys/kafkagroup/kconfig"
	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/kwire"
)

// Assign sets the assigned partition set directly (manual assignment,
// spec.md §4.5 row 2), or is invoked internally by Subscribe with the
// partitions the group coordinator handed this member. While a
// subscription is active, every topic in tps must be part of it; with no
// subscription (manual assignment) any topic is accepted. Assign then
// fetches each partition's committed offset from the coordinator and
// auto-resets any that come back unknown, per spec.md §4.5.2.
func (c *KafkaConsumer) Assign(ctx context.Context, tps TopicPartitionSet) error {
	list := tps.List()
	if len(list) == 0 {
		return userErrorf("assign", "topicPartitions must not be empty")
	}
	subscribed := make(map[string]struct{}, len(c.subscription.Topics))
	for _, t := range c.subscription.Topics {
		subscribed[t] = struct{}{}
	}
	for _, tp := range list {
		if len(subscribed) > 0 {
			if _, ok := subscribed[tp.Topic]; !ok {
				return unknownTopicPartitionErr(tp.Topic, tp.Partition)
			}
		}
		c.cluster.Watch(tp.Topic)
	}
	if err := c.cluster.MaybeRefresh(ctx); err != nil {
		return err
	}

	c.assignedTopicPartitions = kwire.NewTopicPartitionSet(list...)

	committed, err := c.wire.FetchGroupOffsets(ctx, c.group.coordinator, c.cfg.GroupID, c.assignedTopicPartitions)
	if err != nil {
		return err
	}

	unknown := kwire.NewTopicPartitionSet()
	offsets := make(TopicPartitionOffsets)
	for _, tp := range list {
		off, ok := committed.Get(tp.Topic, tp.Partition)
		if !ok {
			unknown.Add(tp.Topic, tp.Partition)
			continue
		}
		offsets.Set(tp.Topic, tp.Partition, off)
	}
	if len(unknown.List()) > 0 {
		resolved, err := c.autoResetOffsets(ctx, unknown, c.cfg.AutoOffsetReset)
		if err != nil {
			return err
		}
		for _, tp := range unknown.List() {
			if off, ok := resolved.Get(tp.Topic, tp.Partition); ok {
				offsets.Set(tp.Topic, tp.Partition, off)
			}
		}
	}
	c.topicPartitionOffsets = offsets
	return nil
}

// autoResetOffsets resolves an "unknown" committed offset (the wire
// sentinel -1, absent from FetchGroupOffsets's result) according to
// policy: earliest/latest issue a ListOffsets request; any other value
// is a fatal OffsetOutOfRange per spec.md §4.5.2 and §7, since the
// consumer has no position to start from and no instruction to pick
// one.
func (c *KafkaConsumer) autoResetOffsets(ctx context.Context, tps TopicPartitionSet, policy kconfig.OffsetReset) (TopicPartitionOffsets, error) {
	switch policy {
	case kconfig.OffsetResetEarliest:
		return c.wire.FetchTopicPartitionOffsets(ctx, c.cluster, tps, kwire.ListOffsetsEarliest)
	case kconfig.OffsetResetLatest:
		return c.wire.FetchTopicPartitionOffsets(ctx, c.cluster, tps, kwire.ListOffsetsLatest)
	default:
		for _, tp := range tps.List() {
			return nil, &kerrors.FatalError{Context: "assign", Err: fmt.Errorf("%w: no committed offset for %s/%d and auto_offset_reset=%q",
				kerrors.NewKafkaError(kerrors.OffsetOutOfRange), tp.Topic, tp.Partition, policy)}
		}
		return nil, nil
	}
}
