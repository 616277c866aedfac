package kwire

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mistsys/kafkagroup/kerrors"
	"github.com/mistsys/kafkagroup/kschema"
)

// pipeDialer hands back a single pre-established net.Conn, letting tests
// stand in a fake broker without opening a real socket.
type pipeDialer struct {
	conn net.Conn
	err  error
}

func (p pipeDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

// startFakeBroker serves one connection, decoding each request's header by
// hand and handing the body to respond, which returns the encoded
// response body to frame back.
func startFakeBroker(t *testing.T, respond func(apiKey, apiVersion int16, body []byte) []byte) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		for {
			frame, err := readFrame(serverConn, time.Now().Add(5*time.Second), kschema.DefaultMaxLen)
			if err != nil {
				return
			}
			apiKey := int16(binary.BigEndian.Uint16(frame[0:2]))
			apiVersion := int16(binary.BigEndian.Uint16(frame[2:4]))
			correlationID := int32(binary.BigEndian.Uint32(frame[4:8]))
			pos := 8
			clientIDLen := int16(binary.BigEndian.Uint16(frame[pos : pos+2]))
			pos += 2
			if clientIDLen >= 0 {
				pos += int(clientIDLen)
			}
			body := frame[pos:]

			respBody := respond(apiKey, apiVersion, body)
			var out []byte
			var corrBuf [4]byte
			binary.BigEndian.PutUint32(corrBuf[:], uint32(correlationID))
			out = append(out, corrBuf[:]...)
			out = append(out, respBody...)
			if err := writeFrame(serverConn, time.Now().Add(5*time.Second), out); err != nil {
				return
			}
		}
	}()
	return clientConn
}

func TestClientHeartbeatRoundTrip(t *testing.T) {
	conn := startFakeBroker(t, func(apiKey, apiVersion int16, body []byte) []byte {
		if apiKey != apiKeyHeartbeat {
			t.Fatalf("apiKey = %d, want %d", apiKey, apiKeyHeartbeat)
		}
		var req heartbeatRequest
		if err := kschema.Decode(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.GroupID != "g1" || req.MemberID != "m1" || req.GenerationID != 7 {
			t.Fatalf("unexpected request: %+v", req)
		}
		respBody, err := kschema.Encode(heartbeatResponse{ErrorCode: 0})
		if err != nil {
			t.Fatalf("encode response: %v", err)
		}
		return respBody
	})

	c := NewClient(pipeDialer{conn: conn}, "test-client")
	err := c.Heartbeat(context.Background(), Node{Host: "broker", Port: 9092}, "g1", "m1", 7)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}

func TestClientHeartbeatSurfacesKafkaError(t *testing.T) {
	conn := startFakeBroker(t, func(apiKey, apiVersion int16, body []byte) []byte {
		respBody, _ := kschema.Encode(heartbeatResponse{ErrorCode: int16(kerrors.RebalanceInProgress)})
		return respBody
	})

	c := NewClient(pipeDialer{conn: conn}, "test-client")
	err := c.Heartbeat(context.Background(), Node{Host: "broker", Port: 9092}, "g1", "m1", 7)
	if !kerrors.IsRetriable(err) {
		t.Fatalf("expected a retriable kafka error, got %v", err)
	}
}

func TestClientJoinGroupRoundTrip(t *testing.T) {
	conn := startFakeBroker(t, func(apiKey, apiVersion int16, body []byte) []byte {
		var req joinGroupRequest
		if err := kschema.Decode(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.GroupProtocols) != 1 || req.GroupProtocols[0].Name != "range" {
			t.Fatalf("unexpected protocols: %+v", req.GroupProtocols)
		}
		resp := joinGroupResponse{
			GenerationID:  3,
			GroupProtocol: "range",
			LeaderID:      "m1",
			MemberID:      "m1",
			Members: []joinGroupResponseMember{
				{MemberID: "m1", Metadata: []byte("meta1")},
			},
		}
		respBody, _ := kschema.Encode(resp)
		return respBody
	})

	c := NewClient(pipeDialer{conn: conn}, "test-client")
	result, err := c.JoinGroup(context.Background(), Node{Host: "broker", Port: 9092}, "g1", "", "consumer",
		[]GroupProtocol{{Name: "range", Metadata: []byte("meta")}}, 30*time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if result.LeaderID != "m1" || result.GenerationID != 3 || len(result.Members) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClientDialFailureIsNetworkError(t *testing.T) {
	c := NewClient(pipeDialer{err: errors.New("refused")}, "test-client", WithRetryBackoff(nil))
	err := c.Heartbeat(context.Background(), Node{Host: "broker", Port: 9092}, "g1", "m1", 1)
	var netErr *kerrors.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *kerrors.NetworkError, got %T: %v", err, err)
	}
}

func TestFetchGroupOffsetsOmitsUnknown(t *testing.T) {
	conn := startFakeBroker(t, func(apiKey, apiVersion int16, body []byte) []byte {
		resp := offsetFetchResponse{
			Topics: []offsetFetchResponseTopic{
				{
					Topic: "orders",
					Partitions: []offsetFetchResponsePartition{
						{Partition: 0, Offset: 42},
						{Partition: 1, Offset: UnknownOffset},
					},
				},
			},
		}
		respBody, _ := kschema.Encode(resp)
		return respBody
	})

	c := NewClient(pipeDialer{conn: conn}, "test-client")
	tps := NewTopicPartitionSet(
		TopicPartition{Topic: "orders", Partition: 0},
		TopicPartition{Topic: "orders", Partition: 1},
	)
	offsets, err := c.FetchGroupOffsets(context.Background(), Node{Host: "broker", Port: 9092}, "g1", tps)
	if err != nil {
		t.Fatalf("FetchGroupOffsets: %v", err)
	}
	if off, ok := offsets.Get("orders", 0); !ok || off != 42 {
		t.Fatalf("partition 0 offset = %v, %v", off, ok)
	}
	if _, ok := offsets.Get("orders", 1); ok {
		t.Fatalf("partition 1 should be absent, has no committed offset")
	}
}
