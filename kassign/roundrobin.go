package kassign

// RoundRobinAssignor distributes each topic's partitions round-robin
// across the members subscribed to it. It is ported directly from the
// teacher's own RoundRobin.Partition: invert the member->topics
// subscriptions into topic->members, then for each topic hand partition
// i to member i%len(members) in join order.
type RoundRobinAssignor struct{}

func (RoundRobinAssignor) Name() string { return "roundrobin" }

func (RoundRobinAssignor) Assign(partitions PartitionLister, members []Member) (map[string]Assignment, error) {
	out := make(map[string]Assignment, len(members))
	for _, m := range members {
		out[m.ID] = Assignment{Topics: make(map[string][]int32)}
	}

	byTopic := make(map[string][]string)
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
		ids := dedupe(memberIDs)
		for i, partition := range parts {
			id := ids[i%len(ids)]
			assignment := out[id]
			assignment.Topics[topic] = append(assignment.Topics[topic], partition)
			out[id] = assignment
		}
	}
	return out, nil
}
