package kschema

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

type innerScheme struct {
	PartitionIndex int32
	Offset         int64
}

type topicScheme struct {
	Name       string
	Partitions []innerScheme
}

type requestScheme struct {
	GroupID      string
	GenerationID int32
	MemberID     *string      `kafka:"nullable"`
	Topics       []topicScheme `kafka:"nullable"`
	UserData     []byte        `kafka:"nullable"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	member := "m1"
	in := requestScheme{
		GroupID:      "g1",
		GenerationID: 7,
		MemberID:     &member,
		Topics: []topicScheme{
			{
				Name: "t",
				Partitions: []innerScheme{
					{PartitionIndex: 0, Offset: 42},
					{PartitionIndex: 1, Offset: 43},
				},
			},
		},
		UserData: []byte("hello"),
	}

	buf, err := Encode(&in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out requestScheme
	if err := Decode(buf, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s\ngot: %s", diff, spew.Sdump(out))
	}
}

func TestEncodeDecodeNullableFields(t *testing.T) {
	in := requestScheme{
		GroupID:      "g1",
		GenerationID: 1,
		MemberID:     nil,
		Topics:       nil,
		UserData:     nil,
	}
	buf, err := Encode(&in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out requestScheme
	if err := Decode(buf, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.MemberID != nil {
		t.Fatalf("expected nil MemberID, got %v", *out.MemberID)
	}
	if out.Topics != nil {
		t.Fatalf("expected nil Topics, got %v", out.Topics)
	}
	if out.UserData != nil {
		t.Fatalf("expected nil UserData, got %v", out.UserData)
	}
}

func TestDecodeRejectsNullOnNonNullableField(t *testing.T) {
	type nonNullable struct {
		Data []byte
	}
	buf := appendInt32(nil, -1)
	var out nonNullable
	if err := Decode(buf, &out); err == nil {
		t.Fatalf("expected error decoding -1 length into non-nullable field")
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	type simple struct {
		A int32
		B int32
	}
	buf := appendInt32(nil, 1)
	var out simple
	if err := Decode(buf, &out); err == nil {
		t.Fatalf("expected error decoding truncated stream")
	}
}

func TestDecodeRejectsOversizedArray(t *testing.T) {
	type withArray struct {
		Items []int32
	}
	d := &Decoder{MaxLen: 4}
	buf := appendInt32(nil, 1000)
	var out withArray
	if err := d.Decode(buf, &out); err == nil {
		t.Fatalf("expected error decoding array length exceeding max")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	in := topicScheme{Name: "t", Partitions: []innerScheme{{PartitionIndex: 0, Offset: 1}}}
	a, err := Encode(&in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(&in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("encoding not deterministic (-first +second):\n%s", diff)
	}
}
