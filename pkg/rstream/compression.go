package rstream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType is the compression scheme field carried in an osiris
// chunk's type byte.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionGZIP
	CompressionSnappy
	CompressionLZ4
	CompressionZSTD
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZIP:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// decompressChunk returns the decoded record bytes for an osiris chunk
// whose Data is encoded under the chunk's CompressionType. The core calls
// this before handing a Delivery to a subscription sink when the
// connection was dialed with WithChunkDecompression.
func decompressChunk(typ CompressionType, data []byte) ([]byte, error) {
	switch typ {
	case CompressionNone:
		return data, nil
	case CompressionGZIP:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("rstream: gzip chunk: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("rstream: snappy chunk: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		zr := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(zr)
	case CompressionZSTD:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("rstream: zstd chunk: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("rstream: unsupported chunk compression %s", typ)
	}
}

// compressChunk encodes data under typ; it is the inverse of
// decompressChunk. It is unexported and Publish does not call it: message
// bodies go on the wire exactly as the caller passes them. It does not
// batch or schedule publishes.
func compressChunk(typ CompressionType, data []byte) ([]byte, error) {
	switch typ {
	case CompressionNone:
		return data, nil
	case CompressionGZIP:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZSTD:
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer zw.Close()
		return zw.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("rstream: unsupported chunk compression %s", typ)
	}
}
