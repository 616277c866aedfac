// Package kassign implements partition assignment for a joined consumer
// group: the per-member protocol metadata embedded in JoinGroup, the
// per-member assignment embedded in SyncGroup, and the Assignor
// strategies that turn a member list into assignments. It generalizes the
// teacher's Partitioner interface (PrepareJoin/Partition/ParseSync,
// scoped to sarama's wire types and a single sarama.Client) to the
// group-coordinator protocol running over kwire/kcluster instead.
package kassign

import "github.com/mistsys/kafkagroup/kschema"

// protocolVersion is the only MemberMetadata/Assignment version this
// client emits or understands, matching the teacher's own
// ConsumerGroupMemberMetadata/Assignment version 1.
const protocolVersion int16 = 1

type wireMemberMetadata struct {
	Version  int16
	Topics   []string
	UserData []byte `kafka:"nullable"`
}

// MemberMetadata is a joined member's subscription, as embedded in its
// JoinGroup protocol metadata.
type MemberMetadata struct {
	Topics   []string
	UserData []byte
}

// EncodeMemberMetadata scheme-encodes a subscription for JoinGroup.
func EncodeMemberMetadata(m MemberMetadata) ([]byte, error) {
	return kschema.Encode(wireMemberMetadata{Version: protocolVersion, Topics: m.Topics, UserData: m.UserData})
}

// DecodeMemberMetadata decodes a JoinGroup member's opaque metadata
// bytes. A metadata blob at an unsupported version decodes with no
// topics, so the caller's assignor simply does not assign that member
// anything rather than failing the whole group, the same tolerance the
// teacher's RoundRobin.Partition applies ("skip unsupported versions").
func DecodeMemberMetadata(b []byte) (MemberMetadata, error) {
	var w wireMemberMetadata
	if err := kschema.Decode(b, &w); err != nil {
		return MemberMetadata{}, err
	}
	if w.Version != protocolVersion {
		return MemberMetadata{}, nil
	}
	return MemberMetadata{Topics: w.Topics, UserData: w.UserData}, nil
}

type wireTopicPartitions struct {
	Topic      string
	Partitions []int32
}

type wireAssignment struct {
	Version  int16
	Topics   []wireTopicPartitions
	UserData []byte `kafka:"nullable"`
}

// Assignment is one member's computed partition assignment, embedded
// opaque in SyncGroup.
type Assignment struct {
	Topics   map[string][]int32
	UserData []byte
}

// EncodeAssignment scheme-encodes a computed assignment for SyncGroup.
func EncodeAssignment(a Assignment) ([]byte, error) {
	w := wireAssignment{Version: protocolVersion, UserData: a.UserData}
	for topic, partitions := range a.Topics {
		w.Topics = append(w.Topics, wireTopicPartitions{Topic: topic, Partitions: partitions})
	}
	return kschema.Encode(w)
}

// DecodeAssignment decodes the bytes a member receives back from
// SyncGroup.
func DecodeAssignment(b []byte) (Assignment, error) {
	var w wireAssignment
	if err := kschema.Decode(b, &w); err != nil {
		return Assignment{}, err
	}
	a := Assignment{UserData: w.UserData}
	if len(w.Topics) > 0 {
		a.Topics = make(map[string][]int32, len(w.Topics))
		for _, t := range w.Topics {
			a.Topics[t.Topic] = t.Partitions
		}
	}
	return a, nil
}

// Member is one joined group member, as the leader sees it while
// computing assignments: its id and its decoded subscription.
type Member struct {
	ID       string
	Metadata MemberMetadata
}

// PartitionLister resolves the known partition ids for a topic.
// kcluster.View satisfies this.
type PartitionLister interface {
	PartitionsForTopic(topic string) ([]int32, bool)
}

// Assignor computes a partition assignment for every member of a joined
// group. Only the group leader runs Assign; every other member relays
// nil assignments in its own SyncGroup request and receives its slice
// back from the coordinator.
type Assignor interface {
	// Name is the protocol name offered in JoinGroup ("range" or
	// "roundrobin").
	Name() string
	Assign(partitions PartitionLister, members []Member) (map[string]Assignment, error)
}

// ByName returns the built-in Assignor registered under name, and false
// if name is not recognized.
func ByName(name string) (Assignor, bool) {
	switch name {
	case "range":
		return RangeAssignor{}, true
	case "roundrobin":
		return RoundRobinAssignor{}, true
	default:
		return nil, false
	}
}
