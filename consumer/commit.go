package consumer

import "context"

// CommitSync commits offsets (or, when nil, the current
// topicPartitionOffsets snapshot — spec.md §8 invariant 4) synchronously
// to the coordinator under the current generation. It is rejected
// outside the Assigned state, per spec.md §4.5.6.
func (c *KafkaConsumer) CommitSync(ctx context.Context, offsets TopicPartitionOffsets) error {
	if c.state != stateAssigned {
		return fatalErrorf("commit", "consumer is %s, not assigned", c.state)
	}
	if offsets == nil {
		offsets = c.topicPartitionOffsets
	}
	return c.wire.CommitGroupOffsets(ctx, c.group.coordinator, c.cfg.GroupID, c.group.memberID,
		c.group.generationID, offsets, c.cfg.OffsetRetentionMs.Duration().Milliseconds())
}
