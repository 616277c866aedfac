package consumer

import (
	"context"

	"github.com/mistsys/kafkagroup/kwire"
)

// Seek overrides the next fetch position for an assigned partition: a
// subsequent Position(topic, partition) call returns offset+1 with no
// intervening Poll, per spec.md §8 invariant 2.
func (c *KafkaConsumer) Seek(topic string, partition int32, offset int64) error {
	if !c.assignedTopicPartitions.Contains(topic, partition) {
		return unknownTopicPartitionErr(topic, partition)
	}
	c.topicPartitionOffsets.Set(topic, partition, offset)
	return nil
}

// SeekToBeginning resolves and stores the earliest available offset for
// each assigned partition in tps.
func (c *KafkaConsumer) SeekToBeginning(ctx context.Context, tps TopicPartitionSet) error {
	return c.seekVia(ctx, tps, kwire.ListOffsetsEarliest)
}

// SeekToEnd resolves and stores the latest available offset for each
// assigned partition in tps.
func (c *KafkaConsumer) SeekToEnd(ctx context.Context, tps TopicPartitionSet) error {
	return c.seekVia(ctx, tps, kwire.ListOffsetsLatest)
}

func (c *KafkaConsumer) seekVia(ctx context.Context, tps TopicPartitionSet, timestamp int64) error {
	for _, tp := range tps.List() {
		if !c.assignedTopicPartitions.Contains(tp.Topic, tp.Partition) {
			return unknownTopicPartitionErr(tp.Topic, tp.Partition)
		}
	}
	resolved, err := c.wire.FetchTopicPartitionOffsets(ctx, c.cluster, tps, timestamp)
	if err != nil {
		return err
	}
	for _, tp := range tps.List() {
		if off, ok := resolved.Get(tp.Topic, tp.Partition); ok {
			c.topicPartitionOffsets.Set(tp.Topic, tp.Partition, off)
		}
	}
	return nil
}
