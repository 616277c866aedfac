package consumer

import (
	"context"
	"time"

	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/kwire"
)

// Poll drives one steady-state iteration (spec.md §4.5.3): a heartbeat
// if due, a fetch over the active (assigned minus paused) set, position
// advancement for whatever batches came back, and an auto-commit if
// due. It is rejected outside the Assigned state.
func (c *KafkaConsumer) Poll(ctx context.Context, timeout time.Duration) (FetchResult, error) {
	if c.state != stateAssigned {
		return nil, fatalErrorf("poll", "consumer is %s, not assigned", c.state)
	}

	now := c.clockNow()
	if now.Sub(c.lastHeartbeat) > c.cfg.HeartbeatIntervalMs.Duration() {
		if err := c.heartbeatTick(ctx, now); err != nil {
			return nil, err
		}
	}

	active := make(TopicPartitionOffsets)
	for topic, parts := range c.topicPartitionOffsets {
		for partition, offset := range parts {
			if c.pausedTopicPartitions.Contains(topic, partition) {
				continue
			}
			active.Set(topic, partition, offset+1)
		}
	}

	result, fetchErr := c.fetchMessages(ctx, active, timeout)

	for topic, parts := range result {
		for partition, batches := range parts {
			if len(batches) == 0 {
				continue
			}
			max := batches[0].Offset
			for _, b := range batches[1:] {
				if b.Offset > max {
					max = b.Offset
				}
			}
			c.topicPartitionOffsets.Set(topic, partition, max)
		}
	}

	if c.cfg.EnableAutoCommit && now.Sub(c.lastAutoCommit) > c.cfg.AutoCommitIntervalMs.Duration() {
		if err := c.CommitSync(ctx, nil); err != nil {
			if fetchErr == nil {
				fetchErr = err
			}
		} else {
			c.lastAutoCommit = now
		}
	}

	return result, fetchErr
}

// heartbeatTick issues a heartbeat and, on a retriable failure, rejoins
// the group from the previously recorded subscription before returning
// — scenario S6. A non-retriable heartbeat error is returned directly
// rather than masked behind a resubscribe attempt that would only fail
// the same way again.
func (c *KafkaConsumer) heartbeatTick(ctx context.Context, now time.Time) error {
	err := c.wire.Heartbeat(ctx, c.group.coordinator, c.cfg.GroupID, c.group.memberID, c.group.generationID)
	if err == nil {
		c.lastHeartbeat = now
		return nil
	}
	if !kerrors.IsRetriable(err) {
		return err
	}
	c.logger.Warnw("heartbeat failed, resubscribing", "group", c.cfg.GroupID, "err", err)
	c.cluster.NoteError(err)
	if rerr := c.resubscribe(ctx); rerr != nil {
		return rerr
	}
	c.lastHeartbeat = c.clockNow()
	return nil
}

// fetchMessages implements the partial-failure recovery algorithm of
// spec.md §4.5.4: a *kwire.FetchError carrying OffsetOutOfRange
// partitions is repaired in-band (list-offsets, commit, re-fetch) and
// merged into the partial result; any other per-partition error is left
// in the residual error set returned to the caller.
func (c *KafkaConsumer) fetchMessages(ctx context.Context, offsets TopicPartitionOffsets, timeout time.Duration) (FetchResult, error) {
	result, err := c.wire.Fetch(ctx, c.cluster, offsets, timeout, 1, defaultMaxBytesPerPartition)
	if err == nil {
		return result, nil
	}
	fe, ok := err.(*kwire.FetchError)
	if !ok {
		return result, err
	}

	recoverable := kwire.NewTopicPartitionSet()
	residual := make(map[kwire.TopicPartition]error, len(fe.Errors))
	for tp, perr := range fe.Errors {
		if kerrors.IsOffsetOutOfRange(perr) {
			recoverable.Add(tp.Topic, tp.Partition)
		} else {
			residual[tp] = perr
		}
	}

	if len(recoverable.List()) > 0 {
		resolved, lerr := c.wire.FetchTopicPartitionOffsets(ctx, c.cluster, recoverable, kwire.ListOffsetsLatest)
		if lerr != nil {
			for _, tp := range recoverable.List() {
				residual[kwire.TopicPartition{Topic: tp.Topic, Partition: tp.Partition}] = lerr
			}
		} else {
			repositioned := make(TopicPartitionOffsets)
			for _, tp := range recoverable.List() {
				off, ok := resolved.Get(tp.Topic, tp.Partition)
				if !ok {
					// still unknown: last-resort EARLIEST, not the
					// configured auto-reset policy, per spec.md §4.5.4.
					earliest, eerr := c.wire.FetchTopicPartitionOffsets(ctx, c.cluster,
						kwire.NewTopicPartitionSet(kwire.TopicPartition{Topic: tp.Topic, Partition: tp.Partition}),
						kwire.ListOffsetsEarliest)
					if eerr != nil {
						residual[tp] = eerr
						continue
					}
					off, ok = earliest.Get(tp.Topic, tp.Partition)
					if !ok {
						residual[tp] = fatalErrorf("fetch recovery", "no earliest offset for %s/%d", tp.Topic, tp.Partition)
						continue
					}
				}
				repositioned.Set(tp.Topic, tp.Partition, off)
			}

			if len(repositioned) > 0 {
				if cerr := c.wire.CommitGroupOffsets(ctx, c.group.coordinator, c.cfg.GroupID, c.group.memberID,
					c.group.generationID, repositioned, c.cfg.OffsetRetentionMs.Duration().Milliseconds()); cerr != nil {
					for topic, parts := range repositioned {
						for partition := range parts {
							residual[kwire.TopicPartition{Topic: topic, Partition: partition}] = cerr
						}
					}
				} else {
					for topic, parts := range repositioned {
						for partition, off := range parts {
							c.topicPartitionOffsets.Set(topic, partition, off)
						}
					}
					retryOffsets := repositioned
					second, serr := c.wire.Fetch(ctx, c.cluster, retryOffsets, timeout, 1, defaultMaxBytesPerPartition)
					if serr != nil {
						if sfe, ok := serr.(*kwire.FetchError); ok {
							mergeFetchResult(result, sfe.Result)
							for tp, perr := range sfe.Errors {
								residual[tp] = perr
							}
						} else {
							for topic, parts := range repositioned {
								for partition := range parts {
									residual[kwire.TopicPartition{Topic: topic, Partition: partition}] = serr
								}
							}
						}
					} else {
						mergeFetchResult(result, second)
					}
				}
			}
		}
	}

	if len(residual) > 0 {
		return result, &kwire.FetchError{Result: result, Errors: residual}
	}
	return result, nil
}

func mergeFetchResult(dst, src FetchResult) {
	for topic, parts := range src {
		if dst[topic] == nil {
			dst[topic] = make(map[int32][]kwire.RecordBatch)
		}
		for partition, batches := range parts {
			dst[topic][partition] = batches
		}
	}
}

// defaultMaxBytesPerPartition bounds how much data a single partition
// contributes to one Fetch response; the teacher leaves this to
// sarama's own default (256KB) and this client follows the same figure.
const defaultMaxBytesPerPartition = 256 * 1024
