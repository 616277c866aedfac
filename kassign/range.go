package kassign

import (
	"math"
	"sort"
)

// RangeAssignor divides each subscribed topic's partitions into
// contiguous ranges across the members that subscribed to it, one range
// per member. It is grounded directly in the teacher's
// cluster.ConsumerGroup.claimRange: sort the candidate ids, sort the
// partitions, give member i the slice
// parts[i*step:min((i+1)*step,len(parts))] where step=ceil(len(parts)/
// len(members)). The teacher applied this to a single topic under ZK;
// here it runs once per topic in the group's combined subscription,
// independently, which is how Kafka's own range assignor behaves too.
type RangeAssignor struct{}

func (RangeAssignor) Name() string { return "range" }

func (RangeAssignor) Assign(partitions PartitionLister, members []Member) (map[string]Assignment, error) {
	out := make(map[string]Assignment, len(members))
	for _, m := range members {
		out[m.ID] = Assignment{Topics: make(map[string][]int32)}
	}

	byTopic := make(map[string][]string) // topic -> subscribed member ids, in JoinGroup order
	for _, m := range members {
		for _, topic := range m.Metadata.Topics {
			byTopic[topic] = append(byTopic[topic], m.ID)
		}
	}

	for topic, memberIDs := range byTopic {
		parts, ok := partitions.PartitionsForTopic(topic)
		if !ok || len(parts) == 0 {
			continue
		}
		sortedParts := append([]int32(nil), parts...)
		sort.Sort(int32Slice(sortedParts))
		ids := sortedMemberIDs(dedupe(memberIDs))

		clen := len(ids)
		plen := len(sortedParts)
		step := int(math.Ceil(float64(plen) / float64(clen)))
		if step < 1 {
			step = 1
		}

		for i, id := range ids {
			start := i * step
			if start >= plen {
				break
			}
			end := start + step
			if end > plen {
				end = plen
			}
			assignment := out[id]
			assignment.Topics[topic] = append(assignment.Topics[topic], sortedParts[start:end]...)
			out[id] = assignment
		}
	}
	return out, nil
}

// int32Slice is a sortable []int32, the same shape as the teacher's own
// helper of the same name in consumer.go.
type int32Slice []int32

func (p int32Slice) Len() int           { return len(p) }
func (p int32Slice) Less(i, j int) bool { return p[i] < p[j] }
func (p int32Slice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
