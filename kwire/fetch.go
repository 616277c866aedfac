package kwire

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/kschema"
)

// Fetch issues a Fetch RPC per leader broker, routing each requested
// partition to whichever broker currently leads it and merging the
// results back into a single FetchResult keyed the same way the request
// was. A partition whose leader cannot be resolved, or whose broker
// response carries a non-zero error code, is recorded in the returned
// *FetchError's Errors map rather than aborting the whole call: whatever
// other partitions succeeded are still returned in Result.
func (c *Client) Fetch(ctx context.Context, resolver LeaderResolver, offsets TopicPartitionOffsets, maxWait time.Duration, minBytes, maxBytesPerPartition int32) (FetchResult, error) {
	byLeaderTopic := make(map[string]map[string][]fetchRequestPartition)
	errs := make(map[TopicPartition]error)

	for topic, parts := range offsets {
		for partition, offset := range parts {
			leader, ok := resolver.LeaderFor(topic, partition)
			if !ok {
				errs[TopicPartition{Topic: topic, Partition: partition}] = kerrors.NewKafkaError(kerrors.LeaderNotAvailable)
				continue
			}
			addr := leader.Addr()
			if byLeaderTopic[addr] == nil {
				byLeaderTopic[addr] = make(map[string][]fetchRequestPartition)
			}
			byLeaderTopic[addr][topic] = append(byLeaderTopic[addr][topic], fetchRequestPartition{
				Partition:   partition,
				FetchOffset: offset,
				MaxBytes:    maxBytesPerPartition,
			})
		}
	}

	result := make(FetchResult)
	for addr, topics := range byLeaderTopic {
		var wireTopics []fetchRequestTopic
		for topic, partitions := range topics {
			wireTopics = append(wireTopics, fetchRequestTopic{Topic: topic, Partitions: partitions})
		}
		req := fetchRequest{
			ReplicaID:   -1,
			MaxWaitTime: int32(maxWait.Milliseconds()),
			MinBytes:    minBytes,
			Topics:      wireTopics,
		}
		var resp fetchResponse
		if err := c.call(ctx, addr, apiKeyFetch, 1, req, &resp, maxWait); err != nil {
			for topic, partitions := range topics {
				for _, p := range partitions {
					errs[TopicPartition{Topic: topic, Partition: p.Partition}] = err
				}
			}
			continue
		}
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				tp := TopicPartition{Topic: t.Topic, Partition: p.Partition}
				if err := kerrors.NewKafkaError(kerrors.Code(p.ErrorCode)); err != nil {
					errs[tp] = err
					continue
				}
				batches, err := parseMessageSet(p.MessageSetBytes)
				if err != nil {
					errs[tp] = &kerrors.FatalError{Context: fmt.Sprintf("decoding message set for %s/%d", t.Topic, p.Partition), Err: err}
					continue
				}
				if result[t.Topic] == nil {
					result[t.Topic] = make(map[int32][]RecordBatch)
				}
				result[t.Topic][p.Partition] = batches
			}
		}
	}

	if len(errs) > 0 {
		return result, &FetchError{Result: result, Errors: errs}
	}
	return result, nil
}

// FetchTopicPartitionOffsets resolves the offset corresponding to
// timestamp (ListOffsetsEarliest or ListOffsetsLatest, or a real
// timestamp in milliseconds) for every requested partition, routing each
// to its current leader the same way Fetch does.
func (c *Client) FetchTopicPartitionOffsets(ctx context.Context, resolver LeaderResolver, partitions TopicPartitionSet, timestamp int64) (TopicPartitionOffsets, error) {
	byLeaderTopic := make(map[string]map[string][]listOffsetsRequestPartition)
	errs := make(map[TopicPartition]error)

	for topic, parts := range partitions {
		for partition := range parts {
			leader, ok := resolver.LeaderFor(topic, partition)
			if !ok {
				errs[TopicPartition{Topic: topic, Partition: partition}] = kerrors.NewKafkaError(kerrors.LeaderNotAvailable)
				continue
			}
			addr := leader.Addr()
			if byLeaderTopic[addr] == nil {
				byLeaderTopic[addr] = make(map[string][]listOffsetsRequestPartition)
			}
			byLeaderTopic[addr][topic] = append(byLeaderTopic[addr][topic], listOffsetsRequestPartition{
				Partition:     partition,
				Timestamp:     timestamp,
				MaxNumOffsets: 1,
			})
		}
	}

	out := make(TopicPartitionOffsets)
	for addr, topics := range byLeaderTopic {
		var wireTopics []listOffsetsRequestTopic
		for topic, parts := range topics {
			wireTopics = append(wireTopics, listOffsetsRequestTopic{Topic: topic, Partitions: parts})
		}
		req := listOffsetsRequest{ReplicaID: -1, Topics: wireTopics}
		var resp listOffsetsResponse
		if err := c.call(ctx, addr, apiKeyListOffsets, 0, req, &resp, 0); err != nil {
			for topic, parts := range topics {
				for _, p := range parts {
					errs[TopicPartition{Topic: topic, Partition: p.Partition}] = err
				}
			}
			continue
		}
		for _, t := range resp.Topics {
			for _, p := range t.Partitions {
				tp := TopicPartition{Topic: t.Topic, Partition: p.Partition}
				if err := kerrors.NewKafkaError(kerrors.Code(p.ErrorCode)); err != nil {
					errs[tp] = err
					continue
				}
				if len(p.Offsets) == 0 {
					continue
				}
				out.Set(t.Topic, p.Partition, p.Offsets[0])
			}
		}
	}

	if len(errs) > 0 {
		return out, &FetchError{Errors: errs}
	}
	return out, nil
}

// Well-known ListOffsets timestamps, exported for callers building the
// timestamp argument to FetchTopicPartitionOffsets.
const (
	ListOffsetsLatest   = timestampLatest
	ListOffsetsEarliest = timestampEarliest
)

// legacyMessageHeaderSize is the size, in bytes, of a v0/v1 message set
// entry's offset+size prefix.
const legacyMessageHeaderSize = 12

// parseMessageSet decodes a Fetch response's MessageSetBytes into
// RecordBatches. It understands the legacy v0/v1 message format: an
// offset, a message size, and a CRC-prefixed message that is either a
// plain record or, when its attributes byte names a compression codec, a
// wrapper whose value is itself a nested, compressed message set. A
// partial trailing message (the broker filled up to MaxBytes mid-message)
// is silently dropped, matching real broker behavior of never splitting
// a message across fetch responses.
func parseMessageSet(data []byte) ([]RecordBatch, error) {
	var out []RecordBatch
	for len(data) >= legacyMessageHeaderSize {
		offset := int64(binary.BigEndian.Uint64(data[0:8]))
		msgSize := int32(binary.BigEndian.Uint32(data[8:12]))
		if msgSize < 0 {
			return nil, fmt.Errorf("kwire: negative message size %d", msgSize)
		}
		remaining := data[legacyMessageHeaderSize:]
		if int(msgSize) > len(remaining) {
			break
		}
		msg := remaining[:msgSize]
		data = remaining[msgSize:]

		batches, err := parseLegacyMessage(offset, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, batches...)
	}
	return out, nil
}

// parseLegacyMessage decodes a single v0/v1 message: 4-byte CRC (ignored;
// the transport already checksums the TCP stream and broker-side
// corruption is out of scope), 1-byte magic, 1-byte attributes, an
// optional 8-byte timestamp when magic >= 1, then nullable key and value
// byte arrays.
func parseLegacyMessage(offset int64, msg []byte) ([]RecordBatch, error) {
	if len(msg) < 6 {
		return nil, fmt.Errorf("kwire: message too short: %d bytes", len(msg))
	}
	magic := int8(msg[4])
	attributes := int8(msg[5])
	pos := 6
	if magic >= 1 {
		pos += 8 // timestamp
	}

	key, n, err := readNullableBytes(msg, pos)
	if err != nil {
		return nil, err
	}
	pos = n
	value, _, err := readNullableBytes(msg, pos)
	if err != nil {
		return nil, err
	}

	codec := kschema.Compression(attributes & 0x07)
	if codec == kschema.CompressionNone {
		return []RecordBatch{{Offset: offset, Key: key, Value: value}}, nil
	}

	plain, err := kschema.Decompress(codec, value)
	if err != nil {
		return nil, fmt.Errorf("kwire: decompressing wrapped message set: %w", err)
	}
	return parseMessageSet(plain)
}

func readNullableBytes(buf []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(buf) {
		return nil, 0, fmt.Errorf("kwire: truncated message reading length prefix")
	}
	size := int32(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if size < 0 {
		return nil, pos, nil
	}
	if pos+int(size) > len(buf) {
		return nil, 0, fmt.Errorf("kwire: truncated message reading %d byte field", size)
	}
	out := make([]byte, size)
	copy(out, buf[pos:pos+int(size)])
	return out, pos + int(size), nil
}
