package kwire

import (
	"context"
	"time"

	"github.com/mistsys/kafkagroup/kerrors"
)

// GetGroupCoordinator resolves the broker that owns groupID's generation
// and offsets. addr is any broker currently reachable, since
// GroupCoordinator can be asked of any broker in the cluster.
func (c *Client) GetGroupCoordinator(ctx context.Context, addr, groupID string) (Node, error) {
	req := groupCoordinatorRequest{GroupID: groupID}
	var resp groupCoordinatorResponse
	if err := c.call(ctx, addr, apiKeyGroupCoordinator, 0, req, &resp, 0); err != nil {
		return Node{}, err
	}
	if err := kerrors.NewKafkaError(kerrors.Code(resp.ErrorCode)); err != nil {
		return Node{}, err
	}
	return Node{ID: resp.CoordinatorID, Host: resp.CoordinatorHost, Port: resp.CoordinatorPort}, nil
}

// Metadata fetches broker and partition metadata for topics from addr.
func (c *Client) Metadata(ctx context.Context, addr string, topics []string) (*MetadataResponse, error) {
	req := metadataRequest{Topics: topics}
	var resp MetadataResponse
	if err := c.call(ctx, addr, apiKeyMetadata, 1, req, &resp, 0); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GroupProtocol is a (protocol name, opaque per-protocol metadata) pair
// offered by this member in JoinGroup, produced by a kassign.Assignor.
type GroupProtocol struct {
	Name     string
	Metadata []byte
}

// JoinGroupMember is one group member as returned to the group leader by
// JoinGroup.
type JoinGroupMember struct {
	MemberID string
	Metadata []byte
}

// JoinGroupResult is the decoded, error-checked result of a JoinGroup
// call.
type JoinGroupResult struct {
	GenerationID  int32
	GroupProtocol string
	LeaderID      string
	MemberID      string
	Members       []JoinGroupMember
}

// JoinGroup joins or re-joins groupID at coord, offering protocols. An
// empty memberID asks the coordinator to assign a fresh one.
func (c *Client) JoinGroup(ctx context.Context, coord Node, groupID, memberID, protocolType string, protocols []GroupProtocol, sessionTimeout, rebalanceTimeout time.Duration) (*JoinGroupResult, error) {
	wireProtocols := make([]groupProtocol, len(protocols))
	for i, p := range protocols {
		wireProtocols[i] = groupProtocol{Name: p.Name, Metadata: p.Metadata}
	}
	req := joinGroupRequest{
		GroupID:          groupID,
		SessionTimeout:   int32(sessionTimeout.Milliseconds()),
		RebalanceTimeout: int32(rebalanceTimeout.Milliseconds()),
		MemberID:         memberID,
		ProtocolType:     protocolType,
		GroupProtocols:   wireProtocols,
	}
	var resp joinGroupResponse
	if err := c.call(ctx, coord.Addr(), apiKeyJoinGroup, 1, req, &resp, rebalanceTimeout); err != nil {
		return nil, err
	}
	if err := kerrors.NewKafkaError(kerrors.Code(resp.ErrorCode)); err != nil {
		return nil, err
	}
	members := make([]JoinGroupMember, len(resp.Members))
	for i, m := range resp.Members {
		members[i] = JoinGroupMember{MemberID: m.MemberID, Metadata: m.Metadata}
	}
	return &JoinGroupResult{
		GenerationID:  resp.GenerationID,
		GroupProtocol: resp.GroupProtocol,
		LeaderID:      resp.LeaderID,
		MemberID:      resp.MemberID,
		Members:       members,
	}, nil
}

// MemberAssignment is the leader's computed assignment for one member,
// as carried by SyncGroup.
type MemberAssignment struct {
	MemberID   string
	Assignment []byte
}

// SyncGroup submits the leader's computed assignments (non-leader members
// pass a nil assignments slice) and returns this member's own assignment.
func (c *Client) SyncGroup(ctx context.Context, coord Node, groupID, memberID string, generationID int32, assignments []MemberAssignment) ([]byte, error) {
	wireAssignments := make([]syncGroupAssignment, len(assignments))
	for i, a := range assignments {
		wireAssignments[i] = syncGroupAssignment{MemberID: a.MemberID, MemberAssignment: a.Assignment}
	}
	req := syncGroupRequest{
		GroupID:          groupID,
		GenerationID:     generationID,
		MemberID:         memberID,
		GroupAssignments: wireAssignments,
	}
	var resp syncGroupResponse
	if err := c.call(ctx, coord.Addr(), apiKeySyncGroup, 0, req, &resp, 0); err != nil {
		return nil, err
	}
	if err := kerrors.NewKafkaError(kerrors.Code(resp.ErrorCode)); err != nil {
		return nil, err
	}
	return resp.MemberAssignment, nil
}

// Heartbeat signals liveness for the current generation.
func (c *Client) Heartbeat(ctx context.Context, coord Node, groupID, memberID string, generationID int32) error {
	req := heartbeatRequest{GroupID: groupID, GenerationID: generationID, MemberID: memberID}
	var resp heartbeatResponse
	if err := c.call(ctx, coord.Addr(), apiKeyHeartbeat, 0, req, &resp, 0); err != nil {
		return err
	}
	return kerrors.NewKafkaError(kerrors.Code(resp.ErrorCode))
}

// LeaveGroup departs groupID explicitly, so the coordinator does not wait
// out a session timeout before rebalancing the remaining members.
func (c *Client) LeaveGroup(ctx context.Context, coord Node, groupID, memberID string) error {
	req := leaveGroupRequest{GroupID: groupID, MemberID: memberID}
	var resp leaveGroupResponse
	if err := c.call(ctx, coord.Addr(), apiKeyLeaveGroup, 0, req, &resp, 0); err != nil {
		return err
	}
	return kerrors.NewKafkaError(kerrors.Code(resp.ErrorCode))
}

// FetchGroupOffsets retrieves the committed offsets for the requested
// partitions. A partition with no committed offset is simply absent from
// the result, not present with UnknownOffset, matching the
// TopicPartitionOffsets convention used across the API.
func (c *Client) FetchGroupOffsets(ctx context.Context, coord Node, groupID string, tps TopicPartitionSet) (TopicPartitionOffsets, error) {
	var wireTopics []offsetFetchRequestTopic
	for topic, parts := range tps {
		var partitions []int32
		for p := range parts {
			partitions = append(partitions, p)
		}
		wireTopics = append(wireTopics, offsetFetchRequestTopic{Topic: topic, Partitions: partitions})
	}
	req := offsetFetchRequest{GroupID: groupID, Topics: wireTopics}
	var resp offsetFetchResponse
	if err := c.call(ctx, coord.Addr(), apiKeyOffsetFetch, 1, req, &resp, 0); err != nil {
		return nil, err
	}
	out := make(TopicPartitionOffsets)
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if err := kerrors.NewKafkaError(kerrors.Code(p.ErrorCode)); err != nil {
				return nil, err
			}
			if p.Offset == UnknownOffset {
				continue
			}
			out.Set(t.Topic, p.Partition, p.Offset)
		}
	}
	return out, nil
}

// CommitGroupOffsets commits offsets for the current generation and
// member, with retentionMs passed through (0 lets the broker apply its
// own default retention).
func (c *Client) CommitGroupOffsets(ctx context.Context, coord Node, groupID, memberID string, generationID int32, offsets TopicPartitionOffsets, retentionMs int64) error {
	var wireTopics []offsetCommitRequestTopic
	for topic, parts := range offsets {
		var partitions []offsetCommitRequestPartition
		for p, off := range parts {
			partitions = append(partitions, offsetCommitRequestPartition{Partition: p, Offset: off})
		}
		wireTopics = append(wireTopics, offsetCommitRequestTopic{Topic: topic, Partitions: partitions})
	}
	req := offsetCommitRequest{
		GroupID:       groupID,
		GenerationID:  generationID,
		MemberID:      memberID,
		RetentionTime: retentionMs,
		Topics:        wireTopics,
	}
	var resp offsetCommitResponse
	if err := c.call(ctx, coord.Addr(), apiKeyOffsetCommit, 2, req, &resp, 0); err != nil {
		return err
	}
	for _, t := range resp.Topics {
		for _, p := range t.Partitions {
			if err := kerrors.NewKafkaError(kerrors.Code(p.ErrorCode)); err != nil {
				return err
			}
		}
	}
	return nil
}
