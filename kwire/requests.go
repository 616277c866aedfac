package kwire

// API keys for the RPCs this client issues. Values match the Kafka wire
// protocol's own numbering.
const (
	apiKeyProduce           = 0
	apiKeyFetch             = 1
	apiKeyListOffsets       = 2
	apiKeyMetadata          = 3
	apiKeyOffsetCommit      = 8
	apiKeyOffsetFetch       = 9
	apiKeyGroupCoordinator  = 10
	apiKeyJoinGroup         = 11
	apiKeyHeartbeat         = 12
	apiKeyLeaveGroup        = 13
	apiKeySyncGroup         = 14
)

type requestHeader struct {
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string `kafka:"nullable"`
}

// --- Metadata ---

type metadataRequest struct {
	Topics []string
}

// MetadataResponseBroker is one broker entry in a Metadata response.
type MetadataResponseBroker struct {
	NodeID int32
	Host   string
	Port   int32
}

// MetadataResponsePartition is one partition's leadership and replica
// info in a Metadata response.
type MetadataResponsePartition struct {
	ErrorCode int16
	Partition int32
	Leader    int32
	Replicas  []int32
	ISR       []int32
}

// MetadataResponseTopic is one topic's partitions in a Metadata response.
type MetadataResponseTopic struct {
	ErrorCode  int16
	Topic      string
	Partitions []MetadataResponsePartition
}

// MetadataResponse is the decoded result of a Metadata RPC.
type MetadataResponse struct {
	Brokers []MetadataResponseBroker
	Topics  []MetadataResponseTopic
}

// --- GroupCoordinator ---

type groupCoordinatorRequest struct {
	GroupID string
}

type groupCoordinatorResponse struct {
	ErrorCode       int16
	CoordinatorID   int32
	CoordinatorHost string
	CoordinatorPort int32
}

// --- JoinGroup ---

type groupProtocol struct {
	Name     string
	Metadata []byte
}

type joinGroupRequest struct {
	GroupID          string
	SessionTimeout   int32
	RebalanceTimeout int32
	MemberID         string
	ProtocolType     string
	GroupProtocols   []groupProtocol
}

type joinGroupResponseMember struct {
	MemberID string
	Metadata []byte
}

type joinGroupResponse struct {
	ErrorCode    int16
	GenerationID int32
	GroupProtocol string
	LeaderID     string
	MemberID     string
	Members      []joinGroupResponseMember
}

// --- SyncGroup ---

type syncGroupAssignment struct {
	MemberID         string
	MemberAssignment []byte
}

type syncGroupRequest struct {
	GroupID          string
	GenerationID     int32
	MemberID         string
	GroupAssignments []syncGroupAssignment
}

type syncGroupResponse struct {
	ErrorCode        int16
	MemberAssignment []byte
}

// --- Heartbeat ---

type heartbeatRequest struct {
	GroupID      string
	GenerationID int32
	MemberID     string
}

type heartbeatResponse struct {
	ErrorCode int16
}

// --- LeaveGroup ---

type leaveGroupRequest struct {
	GroupID  string
	MemberID string
}

type leaveGroupResponse struct {
	ErrorCode int16
}

// --- OffsetFetch ---

type offsetFetchRequestTopic struct {
	Topic      string
	Partitions []int32
}

type offsetFetchRequest struct {
	GroupID string
	Topics  []offsetFetchRequestTopic
}

type offsetFetchResponsePartition struct {
	Partition int32
	Offset    int64
	Metadata  string
	ErrorCode int16
}

type offsetFetchResponseTopic struct {
	Topic      string
	Partitions []offsetFetchResponsePartition
}

type offsetFetchResponse struct {
	Topics []offsetFetchResponseTopic
}

// --- OffsetCommit ---

type offsetCommitRequestPartition struct {
	Partition int32
	Offset    int64
	Metadata  string
}

type offsetCommitRequestTopic struct {
	Topic      string
	Partitions []offsetCommitRequestPartition
}

type offsetCommitRequest struct {
	GroupID       string
	GenerationID  int32
	MemberID      string
	RetentionTime int64
	Topics        []offsetCommitRequestTopic
}

type offsetCommitResponsePartition struct {
	Partition int32
	ErrorCode int16
}

type offsetCommitResponseTopic struct {
	Topic      string
	Partitions []offsetCommitResponsePartition
}

type offsetCommitResponse struct {
	Topics []offsetCommitResponseTopic
}

// --- ListOffsets ---

type listOffsetsRequestPartition struct {
	Partition     int32
	Timestamp     int64
	MaxNumOffsets int32
}

type listOffsetsRequestTopic struct {
	Topic      string
	Partitions []listOffsetsRequestPartition
}

type listOffsetsRequest struct {
	ReplicaID int32
	Topics    []listOffsetsRequestTopic
}

type listOffsetsResponsePartition struct {
	Partition int32
	ErrorCode int16
	Offsets   []int64
}

type listOffsetsResponseTopic struct {
	Topic      string
	Partitions []listOffsetsResponsePartition
}

type listOffsetsResponse struct {
	Topics []listOffsetsResponseTopic
}

// Well-known ListOffsets timestamps.
const (
	timestampLatest   int64 = -1
	timestampEarliest int64 = -2
)

// --- Fetch ---

type fetchRequestPartition struct {
	Partition   int32
	FetchOffset int64
	MaxBytes    int32
}

type fetchRequestTopic struct {
	Topic      string
	Partitions []fetchRequestPartition
}

type fetchRequest struct {
	ReplicaID   int32
	MaxWaitTime int32
	MinBytes    int32
	Topics      []fetchRequestTopic
}

type fetchResponsePartition struct {
	Partition       int32
	ErrorCode       int16
	HighWatermark   int64
	MessageSetBytes []byte
}

type fetchResponseTopic struct {
	Topic      string
	Partitions []fetchResponsePartition
}

type fetchResponse struct {
	Topics []fetchResponseTopic
}
