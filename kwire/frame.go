package kwire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// writeFrame writes a length-prefixed Kafka request frame: a 4-byte
// big-endian size followed by payload.
func writeFrame(conn net.Conn, deadline time.Time, payload []byte) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if _, err := conn.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// readFrame reads a single length-prefixed Kafka response frame, rejecting
// a claimed size above maxLen.
func readFrame(conn net.Conn, deadline time.Time, maxLen int32) ([]byte, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var sizeBuf [4]byte
	if _, err := io.ReadFull(conn, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf[:]))
	if size < 0 || size > maxLen {
		return nil, fmt.Errorf("kwire: response frame size %d exceeds maximum %d", size, maxLen)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
