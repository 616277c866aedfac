package consumer

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/mistsys/kafkagroup/kconfig"
	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/kschema"
	"github.com/mistsys/kafkagroup/kwire"
)

// The wire shapes below are local, minimal copies of kwire's own
// (unexported) request/response structs: this package only sees kwire's
// exported RPC surface, so the fake broker harness needs its own
// schema-tagged types to decode requests and build responses, the same
// way kwire/client_test.go's startFakeBroker does from inside kwire.

type wireAPIKey = int16

const (
	apiKeyFetch            wireAPIKey = 1
	apiKeyListOffsets      wireAPIKey = 2
	apiKeyMetadata         wireAPIKey = 3
	apiKeyOffsetCommit     wireAPIKey = 8
	apiKeyOffsetFetch      wireAPIKey = 9
	apiKeyGroupCoordinator wireAPIKey = 10
	apiKeyJoinGroup        wireAPIKey = 11
	apiKeyHeartbeat        wireAPIKey = 12
	apiKeyLeaveGroup       wireAPIKey = 13
	apiKeySyncGroup        wireAPIKey = 14
)

type fakeGroupCoordResp struct {
	ErrorCode       int16
	CoordinatorID   int32
	CoordinatorHost string
	CoordinatorPort int32
}

type fakeJoinMember struct {
	MemberID string
	Metadata []byte
}
type fakeJoinResp struct {
	ErrorCode     int16
	GenerationID  int32
	GroupProtocol string
	LeaderID      string
	MemberID      string
	Members       []fakeJoinMember
}

type fakeSyncResp struct {
	ErrorCode        int16
	MemberAssignment []byte
}

type fakeHeartbeatResp struct {
	ErrorCode int16
}

type fakeLeaveResp struct {
	ErrorCode int16
}

type fakeOffsetFetchPartition struct {
	Partition int32
	Offset    int64
	Metadata  string
	ErrorCode int16
}
type fakeOffsetFetchTopic struct {
	Topic      string
	Partitions []fakeOffsetFetchPartition
}
type fakeOffsetFetchResp struct {
	Topics []fakeOffsetFetchTopic
}

type fakeOffsetCommitRespPartition struct {
	Partition int32
	ErrorCode int16
}
type fakeOffsetCommitRespTopic struct {
	Topic      string
	Partitions []fakeOffsetCommitRespPartition
}
type fakeOffsetCommitResp struct {
	Topics []fakeOffsetCommitRespTopic
}

type fakeOffsetCommitReqPartition struct {
	Partition int32
	Offset    int64
	Metadata  string
}
type fakeOffsetCommitReqTopic struct {
	Topic      string
	Partitions []fakeOffsetCommitReqPartition
}
type fakeOffsetCommitReq struct {
	GroupID       string
	GenerationID  int32
	MemberID      string
	RetentionTime int64
	Topics        []fakeOffsetCommitReqTopic
}

type fakeListOffsetsPartition struct {
	Partition int32
	ErrorCode int16
	Offsets   []int64
}
type fakeListOffsetsTopic struct {
	Topic      string
	Partitions []fakeListOffsetsPartition
}
type fakeListOffsetsResp struct {
	Topics []fakeListOffsetsTopic
}

type fakeFetchPartition struct {
	Partition       int32
	ErrorCode       int16
	HighWatermark   int64
	MessageSetBytes []byte
}
type fakeFetchTopic struct {
	Topic      string
	Partitions []fakeFetchPartition
}
type fakeFetchResp struct {
	Topics []fakeFetchTopic
}

type fakeMetadataBroker struct {
	NodeID int32
	Host   string
	Port   int32
}
type fakeMetadataPartition struct {
	ErrorCode int16
	Partition int32
	Leader    int32
	Replicas  []int32
	ISR       []int32
}
type fakeMetadataTopic struct {
	ErrorCode  int16
	Topic      string
	Partitions []fakeMetadataPartition
}
type fakeMetadataResp struct {
	Brokers []fakeMetadataBroker
	Topics  []fakeMetadataTopic
}

// legacyMessageSet builds a v0 message-set blob (no compression) holding
// one record per value, the same minimal raw shape kwire/fetch.go parses.
func legacyMessageSet(offsetValues map[int64][]byte) []byte {
	var out []byte
	for offset, value := range offsetValues {
		msg := make([]byte, 6)
		msg[4] = 0 // magic
		msg[5] = 0 // attributes
		msg = appendBytes(msg, nil)  // key
		msg = appendBytes(msg, value) // value

		var hdr [12]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(offset))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(msg)))
		out = append(out, hdr[:]...)
		out = append(out, msg...)
	}
	return out
}

func appendBytes(b []byte, v []byte) []byte {
	if v == nil {
		var sz [4]byte
		binary.BigEndian.PutUint32(sz[:], uint32(int32(-1)))
		return append(b, sz[:]...)
	}
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(v)))
	b = append(b, sz[:]...)
	return append(b, v...)
}

// fakeBroker serves one connection, dispatching by api key to handler.
// handler returns the encoded response body (header-less).
func fakeBroker(t *testing.T, handler func(apiKey int16, body []byte) []byte) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		for {
			sizeBuf := make([]byte, 4)
			if _, err := readFull(serverConn, sizeBuf); err != nil {
				return
			}
			size := binary.BigEndian.Uint32(sizeBuf)
			frame := make([]byte, size)
			if _, err := readFull(serverConn, frame); err != nil {
				return
			}
			apiKey := int16(binary.BigEndian.Uint16(frame[0:2]))
			correlationID := int32(binary.BigEndian.Uint32(frame[4:8]))
			pos := 8
			clientIDLen := int16(binary.BigEndian.Uint16(frame[pos : pos+2]))
			pos += 2
			if clientIDLen >= 0 {
				pos += int(clientIDLen)
			}
			body := frame[pos:]

			respBody := handler(apiKey, body)
			var corrBuf [4]byte
			binary.BigEndian.PutUint32(corrBuf[:], uint32(correlationID))
			out := append(corrBuf[:], respBody...)

			var outSize [4]byte
			binary.BigEndian.PutUint32(outSize[:], uint32(len(out)))
			if _, err := serverConn.Write(outSize[:]); err != nil {
				return
			}
			if _, err := serverConn.Write(out); err != nil {
				return
			}
		}
	}()
	return clientConn
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type fakeDialer struct{ conn net.Conn }

func (d fakeDialer) Dial(ctx context.Context, addr string) (net.Conn, error) { return d.conn, nil }

func testConfig() *kconfig.Config {
	cfg := kconfig.NewConfig()
	cfg.GroupID = "g1"
	cfg.SeedBrokers = []string{"broker:9092"}
	cfg.AutoOffsetReset = kconfig.OffsetResetEarliest
	cfg.EnableAutoCommit = false
	cfg.HeartbeatIntervalMs = 3000
	return cfg
}

// TestSubscribeFollowerPathAssignsAndPolls covers scenarios S1, S3 and
// S4: a follower joins, decodes its assignment, resolves an unknown
// committed offset via earliest auto-reset, then Poll fetches and
// advances position.
func TestSubscribeFollowerPathAssignsAndPolls(t *testing.T) {
	assignmentBytes, err := encodeTestAssignment(map[string][]int32{"orders": {0}})
	if err != nil {
		t.Fatalf("encodeTestAssignment: %v", err)
	}

	fetchCount := 0
	conn := fakeBroker(t, func(apiKey int16, body []byte) []byte {
		switch apiKey {
		case apiKeyGroupCoordinator:
			b, _ := kschema.Encode(fakeGroupCoordResp{CoordinatorID: 1, CoordinatorHost: "broker", CoordinatorPort: 9092})
			return b
		case apiKeyJoinGroup:
			b, _ := kschema.Encode(fakeJoinResp{GenerationID: 7, LeaderID: "m0", MemberID: "m1", GroupProtocol: "range"})
			return b
		case apiKeySyncGroup:
			b, _ := kschema.Encode(fakeSyncResp{MemberAssignment: assignmentBytes})
			return b
		case apiKeyMetadata:
			b, _ := kschema.Encode(fakeMetadataResp{
				Brokers: []fakeMetadataBroker{{NodeID: 1, Host: "broker", Port: 9092}},
				Topics: []fakeMetadataTopic{{
					Topic:      "orders",
					Partitions: []fakeMetadataPartition{{Partition: 0, Leader: 1}},
				}},
			})
			return b
		case apiKeyOffsetFetch:
			b, _ := kschema.Encode(fakeOffsetFetchResp{Topics: []fakeOffsetFetchTopic{{
				Topic:      "orders",
				Partitions: []fakeOffsetFetchPartition{{Partition: 0, Offset: kwire.UnknownOffset}},
			}}})
			return b
		case apiKeyListOffsets:
			b, _ := kschema.Encode(fakeListOffsetsResp{Topics: []fakeListOffsetsTopic{{
				Topic:      "orders",
				Partitions: []fakeListOffsetsPartition{{Partition: 0, Offsets: []int64{42}}},
			}}})
			return b
		case apiKeyFetch:
			fetchCount++
			b, _ := kschema.Encode(fakeFetchResp{Topics: []fakeFetchTopic{{
				Topic: "orders",
				Partitions: []fakeFetchPartition{{
					Partition:       0,
					MessageSetBytes: legacyMessageSet(map[int64][]byte{11: []byte("a"), 12: []byte("b"), 13: []byte("c")}),
				}},
			}}})
			return b
		default:
			t.Fatalf("unexpected apiKey %d", apiKey)
			return nil
		}
	})

	c, err := New(testConfig(), WithDialer(fakeDialer{conn: conn}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Subscribe(ctx, []string{"orders"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if c.Assignment()["orders"] == nil {
		t.Fatalf("expected orders assigned, got %+v", c.Assignment())
	}
	pos, err := c.Position("orders", 0)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 43 { // offset 42 + 1
		t.Fatalf("position = %d, want 43 (S3)", pos)
	}

	result, err := c.Poll(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	batches := result["orders"][0]
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	pos, err = c.Position("orders", 0)
	if err != nil {
		t.Fatalf("Position after poll: %v", err)
	}
	if pos != 14 { // last offset 13 + 1 (S4)
		t.Fatalf("position after poll = %d, want 14", pos)
	}
}

// TestSeekThenPosition covers spec.md §8 invariant 2: Seek followed
// immediately by Position, with no intervening Poll, reflects the
// sought offset plus one.
func TestSeekThenPosition(t *testing.T) {
	c := &KafkaConsumer{
		assignedTopicPartitions: kwire.NewTopicPartitionSet(kwire.TopicPartition{Topic: "orders", Partition: 0}),
		topicPartitionOffsets:   make(TopicPartitionOffsets),
	}
	if err := c.Seek("orders", 0, 99); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pos, err := c.Position("orders", 0)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 100 {
		t.Fatalf("position = %d, want 100", pos)
	}
}

// TestUnsubscribeIsIdempotent covers spec.md §8 invariant 5: calling
// Unsubscribe twice issues at most one LeaveGroup.
func TestUnsubscribeIsIdempotent(t *testing.T) {
	leaveCount := 0
	conn := fakeBroker(t, func(apiKey int16, body []byte) []byte {
		if apiKey == apiKeyLeaveGroup {
			leaveCount++
		}
		b, _ := kschema.Encode(fakeLeaveResp{})
		return b
	})

	c, err := New(testConfig(), WithDialer(fakeDialer{conn: conn}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.group.hasCoordinator = true
	c.group.coordinator = kwire.Node{Host: "broker", Port: 9092}
	c.group.memberID = "m1"

	ctx := context.Background()
	c.Unsubscribe(ctx)
	c.Unsubscribe(ctx)
	if leaveCount != 1 {
		t.Fatalf("leaveCount = %d, want 1", leaveCount)
	}
	if c.group.memberID != "" || c.group.hasCoordinator {
		t.Fatalf("expected group state reset, got %+v", c.group)
	}
}

// TestFetchMessagesRecoversOffsetOutOfRange covers scenario S5: a first
// Fetch returns OffsetOutOfRange for (t,0); ListOffsets resolves it;
// the repaired offset is committed; a second Fetch is issued and its
// result replaces the failed partition's entry.
func TestFetchMessagesRecoversOffsetOutOfRange(t *testing.T) {
	fetchCalls := 0
	var committed fakeOffsetCommitReq
	conn := fakeBroker(t, func(apiKey int16, body []byte) []byte {
		switch apiKey {
		case apiKeyMetadata:
			b, _ := kschema.Encode(fakeMetadataResp{
				Brokers: []fakeMetadataBroker{{NodeID: 1, Host: "broker", Port: 9092}},
				Topics: []fakeMetadataTopic{{
					Topic:      "orders",
					Partitions: []fakeMetadataPartition{{Partition: 0, Leader: 1}},
				}},
			})
			return b
		case apiKeyFetch:
			fetchCalls++
			if fetchCalls == 1 {
				b, _ := kschema.Encode(fakeFetchResp{Topics: []fakeFetchTopic{{
					Topic:      "orders",
					Partitions: []fakeFetchPartition{{Partition: 0, ErrorCode: int16(kerrors.OffsetOutOfRange)}},
				}}})
				return b
			}
			b, _ := kschema.Encode(fakeFetchResp{Topics: []fakeFetchTopic{{
				Topic: "orders",
				Partitions: []fakeFetchPartition{{
					Partition:       0,
					MessageSetBytes: legacyMessageSet(map[int64][]byte{100: []byte("x")}),
				}},
			}}})
			return b
		case apiKeyListOffsets:
			b, _ := kschema.Encode(fakeListOffsetsResp{Topics: []fakeListOffsetsTopic{{
				Topic:      "orders",
				Partitions: []fakeListOffsetsPartition{{Partition: 0, Offsets: []int64{100}}},
			}}})
			return b
		case apiKeyOffsetCommit:
			kschema.Decode(body, &committed)
			b, _ := kschema.Encode(fakeOffsetCommitResp{Topics: []fakeOffsetCommitRespTopic{{
				Topic:      "orders",
				Partitions: []fakeOffsetCommitRespPartition{{Partition: 0}},
			}}})
			return b
		default:
			t.Fatalf("unexpected apiKey %d", apiKey)
			return nil
		}
	})

	c, err := New(testConfig(), WithDialer(fakeDialer{conn: conn}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.group.hasCoordinator = true
	c.group.coordinator = kwire.Node{Host: "broker", Port: 9092}
	c.group.memberID = "m1"
	c.group.generationID = 1
	c.cluster.Watch("orders")
	ctx := context.Background()
	if err := c.cluster.Refresh(ctx); err != nil {
		t.Fatalf("cluster.Refresh: %v", err)
	}

	offsets := kwire.TopicPartitionOffsets{"orders": {0: 5}}
	result, err := c.fetchMessages(ctx, offsets, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("fetchMessages: %v", err)
	}
	batches := result["orders"][0]
	if len(batches) != 1 || batches[0].Offset != 100 {
		t.Fatalf("unexpected recovered batches: %+v", batches)
	}
	if fetchCalls != 2 {
		t.Fatalf("fetchCalls = %d, want 2", fetchCalls)
	}
	if len(committed.Topics) != 1 || len(committed.Topics[0].Partitions) != 1 ||
		committed.Topics[0].Partitions[0].Partition != 0 || committed.Topics[0].Partitions[0].Offset != 100 {
		t.Fatalf("expected repaired offset 100 committed for orders/0, got %+v", committed)
	}
}

// TestSubscribeLeaderPathInvokesAssignorOnce covers scenario S2: the
// leader computes the assignment itself (the assignor runs exactly
// once) and ships every member's table in the SyncGroup request; this
// member's own resulting assignment is whatever the assignor computed
// for its own id.
func TestSubscribeLeaderPathInvokesAssignorOnce(t *testing.T) {
	var syncAssignmentCount int
	conn := fakeBroker(t, func(apiKey int16, body []byte) []byte {
		switch apiKey {
		case apiKeyGroupCoordinator:
			b, _ := kschema.Encode(fakeGroupCoordResp{CoordinatorID: 1, CoordinatorHost: "broker", CoordinatorPort: 9092})
			return b
		case apiKeyJoinGroup:
			m0meta, _ := kschema.Encode(struct {
				Version int16
				Topics  []string
				UserData []byte `kafka:"nullable"`
			}{Version: 1, Topics: []string{"orders"}})
			m1meta := m0meta
			b, _ := kschema.Encode(fakeJoinResp{
				GenerationID:  7,
				LeaderID:      "m0",
				MemberID:      "m0",
				GroupProtocol: "range",
				Members: []fakeJoinMember{
					{MemberID: "m0", Metadata: m0meta},
					{MemberID: "m1", Metadata: m1meta},
				},
			})
			return b
		case apiKeySyncGroup:
			var req struct {
				GroupID      string
				GenerationID int32
				MemberID     string
				Assignments  []struct {
					MemberID   string
					Assignment []byte
				}
			}
			if err := kschema.Decode(body, &req); err == nil {
				syncAssignmentCount = len(req.Assignments)
			}
			var mine []byte
			for _, a := range req.Assignments {
				if a.MemberID == "m0" {
					mine = a.Assignment
				}
			}
			b, _ := kschema.Encode(fakeSyncResp{MemberAssignment: mine})
			return b
		case apiKeyMetadata:
			b, _ := kschema.Encode(fakeMetadataResp{
				Brokers: []fakeMetadataBroker{{NodeID: 1, Host: "broker", Port: 9092}},
				Topics: []fakeMetadataTopic{{
					Topic: "orders",
					Partitions: []fakeMetadataPartition{
						{Partition: 0, Leader: 1}, {Partition: 1, Leader: 1},
					},
				}},
			})
			return b
		case apiKeyOffsetFetch:
			b, _ := kschema.Encode(fakeOffsetFetchResp{Topics: []fakeOffsetFetchTopic{{
				Topic: "orders",
				Partitions: []fakeOffsetFetchPartition{
					{Partition: 0, Offset: 5},
				},
			}}})
			return b
		default:
			t.Fatalf("unexpected apiKey %d", apiKey)
			return nil
		}
	})

	cfg := testConfig()
	cfg.AssignmentStrategy = "range"
	c, err := New(cfg, WithDialer(fakeDialer{conn: conn}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Subscribe(ctx, []string{"orders"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if syncAssignmentCount != 2 {
		t.Fatalf("SyncGroup carried %d member assignments, want 2 (leader computed for both)", syncAssignmentCount)
	}
	if !c.Assignment().Contains("orders", 0) {
		t.Fatalf("expected leader (range, first member) assigned orders/0, got %+v", c.Assignment())
	}
}

// TestPauseExcludesFromActiveSet covers spec.md §8 invariant 1: a paused
// partition is skipped by fetchMessages even though it stays in the
// assignment.
func TestPauseExcludesFromActiveSet(t *testing.T) {
	var fetchedPartitions []int32
	conn := fakeBroker(t, func(apiKey int16, body []byte) []byte {
		switch apiKey {
		case apiKeyHeartbeat:
			b, _ := kschema.Encode(fakeHeartbeatResp{})
			return b
		case apiKeyMetadata:
			b, _ := kschema.Encode(fakeMetadataResp{
				Brokers: []fakeMetadataBroker{{NodeID: 1, Host: "broker", Port: 9092}},
				Topics: []fakeMetadataTopic{{
					Topic: "orders",
					Partitions: []fakeMetadataPartition{
						{Partition: 0, Leader: 1}, {Partition: 1, Leader: 1},
					},
				}},
			})
			return b
		case apiKeyFetch:
			var req struct {
				ReplicaID         int32
				MaxWaitMs         int32
				MinBytes          int32
				Topics            []struct {
					Topic      string
					Partitions []struct {
						Partition int32
						Offset    int64
						MaxBytes  int32
					}
				}
			}
			kschema.Decode(body, &req)
			var parts []fakeFetchPartition
			for _, topic := range req.Topics {
				for _, p := range topic.Partitions {
					fetchedPartitions = append(fetchedPartitions, p.Partition)
					parts = append(parts, fakeFetchPartition{Partition: p.Partition})
				}
			}
			b, _ := kschema.Encode(fakeFetchResp{Topics: []fakeFetchTopic{{Topic: "orders", Partitions: parts}}})
			return b
		default:
			t.Fatalf("unexpected apiKey %d", apiKey)
			return nil
		}
	})

	c, err := New(testConfig(), WithDialer(fakeDialer{conn: conn}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.state = stateAssigned
	c.group.hasCoordinator = true
	c.group.coordinator = kwire.Node{Host: "broker", Port: 9092}
	c.group.memberID = "m1"
	c.group.generationID = 1
	c.assignedTopicPartitions = kwire.NewTopicPartitionSet(
		kwire.TopicPartition{Topic: "orders", Partition: 0},
		kwire.TopicPartition{Topic: "orders", Partition: 1},
	)
	c.topicPartitionOffsets = kwire.TopicPartitionOffsets{"orders": {0: 5, 1: 5}}
	c.cluster.Watch("orders")
	ctx := context.Background()
	if err := c.cluster.Refresh(ctx); err != nil {
		t.Fatalf("cluster.Refresh: %v", err)
	}

	c.Pause(kwire.NewTopicPartitionSet(kwire.TopicPartition{Topic: "orders", Partition: 1}))
	if _, err := c.Poll(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	for _, p := range fetchedPartitions {
		if p == 1 {
			t.Fatalf("paused partition 1 was fetched: %v", fetchedPartitions)
		}
	}
	if !c.Assignment().Contains("orders", 1) {
		t.Fatalf("partition 1 should stay assigned while paused")
	}

	c.Resume(kwire.NewTopicPartitionSet(kwire.TopicPartition{Topic: "orders", Partition: 1}))
	fetchedPartitions = nil
	if _, err := c.Poll(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("Poll after resume: %v", err)
	}
	var sawResumed bool
	for _, p := range fetchedPartitions {
		if p == 1 {
			sawResumed = true
		}
	}
	if !sawResumed {
		t.Fatalf("expected partition 1 fetched again after Resume, fetched %v", fetchedPartitions)
	}
}

// TestHeartbeatFailureTriggersResubscribe covers scenario S6: a
// retriable Heartbeat error causes Poll to rejoin the group via a fresh
// JoinGroup/SyncGroup round trip before fetching, and the refreshed
// member id / generation id are the ones the new round trip returned.
func TestHeartbeatFailureTriggersResubscribe(t *testing.T) {
	assignmentBytes, err := encodeTestAssignment(map[string][]int32{"orders": {0}})
	if err != nil {
		t.Fatalf("encodeTestAssignment: %v", err)
	}

	heartbeatCalls := 0
	fetchCalls := 0
	conn := fakeBroker(t, func(apiKey int16, body []byte) []byte {
		switch apiKey {
		case apiKeyHeartbeat:
			heartbeatCalls++
			b, _ := kschema.Encode(fakeHeartbeatResp{ErrorCode: int16(kerrors.RebalanceInProgress)})
			return b
		case apiKeyGroupCoordinator:
			b, _ := kschema.Encode(fakeGroupCoordResp{CoordinatorID: 1, CoordinatorHost: "broker", CoordinatorPort: 9092})
			return b
		case apiKeyJoinGroup:
			b, _ := kschema.Encode(fakeJoinResp{GenerationID: 8, LeaderID: "m2", MemberID: "m2", GroupProtocol: "range"})
			return b
		case apiKeySyncGroup:
			b, _ := kschema.Encode(fakeSyncResp{MemberAssignment: assignmentBytes})
			return b
		case apiKeyMetadata:
			b, _ := kschema.Encode(fakeMetadataResp{
				Brokers: []fakeMetadataBroker{{NodeID: 1, Host: "broker", Port: 9092}},
				Topics: []fakeMetadataTopic{{
					Topic:      "orders",
					Partitions: []fakeMetadataPartition{{Partition: 0, Leader: 1}},
				}},
			})
			return b
		case apiKeyOffsetFetch:
			b, _ := kschema.Encode(fakeOffsetFetchResp{Topics: []fakeOffsetFetchTopic{{
				Topic:      "orders",
				Partitions: []fakeOffsetFetchPartition{{Partition: 0, Offset: 50}},
			}}})
			return b
		case apiKeyFetch:
			fetchCalls++
			b, _ := kschema.Encode(fakeFetchResp{Topics: []fakeFetchTopic{{
				Topic:      "orders",
				Partitions: []fakeFetchPartition{{Partition: 0}},
			}}})
			return b
		default:
			t.Fatalf("unexpected apiKey %d", apiKey)
			return nil
		}
	})

	c, err := New(testConfig(), WithDialer(fakeDialer{conn: conn}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.state = stateAssigned
	c.group.hasCoordinator = true
	c.group.coordinator = kwire.Node{Host: "broker", Port: 9092}
	c.group.memberID = "m1"
	c.group.generationID = 1
	c.group.leaderID = "m1"
	c.subscription = Subscription{Topics: []string{"orders"}}
	c.assignedTopicPartitions = kwire.NewTopicPartitionSet(kwire.TopicPartition{Topic: "orders", Partition: 0})
	c.topicPartitionOffsets = kwire.TopicPartitionOffsets{"orders": {0: 5}}

	ctx := context.Background()
	if _, err := c.Poll(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if heartbeatCalls != 1 {
		t.Fatalf("heartbeatCalls = %d, want 1", heartbeatCalls)
	}
	if c.group.memberID != "m2" || c.group.generationID != 8 {
		t.Fatalf("expected refreshed member/generation after resubscribe, got memberID=%q generationID=%d",
			c.group.memberID, c.group.generationID)
	}
	if fetchCalls != 1 {
		t.Fatalf("expected Poll to fetch under the new generation, fetchCalls = %d", fetchCalls)
	}
}

func encodeTestAssignment(topics map[string][]int32) ([]byte, error) {
	type wireTP struct {
		Topic      string
		Partitions []int32
	}
	type wireAssignment struct {
		Version  int16
		Topics   []wireTP
		UserData []byte `kafka:"nullable"`
	}
	w := wireAssignment{Version: 1}
	for topic, parts := range topics {
		w.Topics = append(w.Topics, wireTP{Topic: topic, Partitions: parts})
	}
	return kschema.Encode(w)
}
