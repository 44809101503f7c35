package driver

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressorID identifies a wire-level message compressor, per the
// OP_COMPRESSED envelope the teacher's core/connection/connection.go
// compressMessage/uncompressMessage wrap OP_MSG in.
type CompressorID uint8

// The compressor ids negotiated during the handshake.
const (
	CompressorNoop CompressorID = iota
	CompressorSnappy
	CompressorZlib
	CompressorZstd
)

// compress wraps an OP_MSG payload for OP_COMPRESSED framing.
func compress(id CompressorID, payload []byte) ([]byte, error) {
	switch id {
	case CompressorNoop:
		return payload, nil
	case CompressorSnappy:
		return snappy.Encode(nil, payload), nil
	case CompressorZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("driver: unknown compressor id %d", id)
	}
}

// decompress reverses compress.
func decompress(id CompressorID, payload []byte, uncompressedSize int32) ([]byte, error) {
	switch id {
	case CompressorNoop:
		return payload, nil
	case CompressorSnappy:
		return snappy.Decode(make([]byte, 0, uncompressedSize), payload)
	case CompressorZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
	default:
		return nil, fmt.Errorf("driver: unknown compressor id %d", id)
	}
}
