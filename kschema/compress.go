package kschema

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/DataDog/zstd"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4"
)

// Compression identifies the record-batch compression codec carried in
// the low 3 bits of a Fetch response record batch's attributes field.
type Compression int8

// Compression codecs supported by the Kafka wire format.
const (
	CompressionNone   Compression = 0
	CompressionGzip   Compression = 1
	CompressionSnappy Compression = 2
	CompressionLZ4    Compression = 3
	CompressionZstd   Compression = 4
)

// Decompress returns the decompressed record-batch payload for the given
// codec. It is used by kwire while parsing Fetch responses, where a
// broker may have compressed a record batch with any of these codecs
// before writing it to disk.
func Decompress(codec Compression, payload []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("kschema: gzip: %w", err)
		}
		defer zr.Close()
		out, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("kschema: gzip: %w", err)
		}
		return out, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("kschema: snappy: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		zr := lz4.NewReader(bytes.NewReader(payload))
		out, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("kschema: lz4: %w", err)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstd.Decompress(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("kschema: zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("kschema: unknown compression codec %d", codec)
	}
}
