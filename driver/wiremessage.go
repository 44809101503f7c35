package driver

import (
	"encoding/binary"
	"fmt"
)

// OP_MSG opcode and flag bits, per spec.md §6 "Command wire protocol".
const (
	opCodeCompressed = 2012
	opCodeMsg        = 2013

	msgFlagChecksumPresent = 1 << 0
	msgFlagMoreToCome      = 1 << 1
	msgFlagExhaustAllowed  = 1 << 16

	sectionKindSingleDocument  = 0
	sectionKindDocumentSequence = 1
)

// section is one OP_MSG body section, grounded on the teacher's decodeResult
// SingleDocument/DocumentSequence branch (x/mongo/driverx/driver.go).
type section struct {
	kind       byte
	doc        Doc    // kind 0
	identifier string // kind 1
	docs       []Doc  // kind 1
}

// encodeMsg assembles one OP_MSG wire message (header + flagBits + sections)
// for requestID, using enc to turn each Doc into its BSON body bytes.
func encodeMsg(requestID int32, flags uint32, sections []section, enc Encoder) ([]byte, error) {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, flags)

	for _, s := range sections {
		switch s.kind {
		case sectionKindSingleDocument:
			docBytes, err := enc.Encode(s.doc)
			if err != nil {
				return nil, fmt.Errorf("driver: encode section: %w", err)
			}
			body = append(body, sectionKindSingleDocument)
			body = append(body, docBytes...)
		case sectionKindDocumentSequence:
			var seq []byte
			seq = append(seq, []byte(s.identifier)...)
			seq = append(seq, 0x00)
			for _, d := range s.docs {
				docBytes, err := enc.Encode(d)
				if err != nil {
					return nil, fmt.Errorf("driver: encode sequence doc: %w", err)
				}
				seq = append(seq, docBytes...)
			}
			sizeField := make([]byte, 4)
			binary.LittleEndian.PutUint32(sizeField, uint32(len(seq)+4))
			body = append(body, sectionKindDocumentSequence)
			body = append(body, sizeField...)
			body = append(body, seq...)
		default:
			return nil, fmt.Errorf("driver: unknown section kind %d", s.kind)
		}
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(body)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(header[8:12], 0) // responseTo: requests start a new conversation
	binary.LittleEndian.PutUint32(header[12:16], opCodeMsg)

	return append(header, body...), nil
}

// decodeMsg parses an OP_MSG wire message into its flags and sections,
// decoding each section's documents with dec. Grounded on the teacher's
// decodeResult's wiremessage.OpMsg branch (x/mongo/driverx/driver.go).
func decodeMsg(msg []byte, dec Decoder) (responseTo int32, flags uint32, docs []Doc, err error) {
	if len(msg) < 20 {
		return 0, 0, nil, fmt.Errorf("driver: OP_MSG too short: %d bytes", len(msg))
	}
	opCode := binary.LittleEndian.Uint32(msg[12:16])
	if opCode != opCodeMsg {
		return 0, 0, nil, fmt.Errorf("driver: unexpected opcode %d, want OP_MSG (%d)", opCode, opCodeMsg)
	}
	responseTo = int32(binary.LittleEndian.Uint32(msg[8:12]))
	flags = binary.LittleEndian.Uint32(msg[16:20])

	body := msg[20:]
	if flags&msgFlagChecksumPresent != 0 {
		if len(body) < 4 {
			return 0, 0, nil, fmt.Errorf("driver: OP_MSG missing checksum")
		}
		body = body[:len(body)-4]
	}

	for len(body) > 0 {
		kind := body[0]
		body = body[1:]
		switch kind {
		case sectionKindSingleDocument:
			d, rest, derr := decodeOneDoc(body, dec)
			if derr != nil {
				return 0, 0, nil, derr
			}
			docs = append(docs, d)
			body = rest
		case sectionKindDocumentSequence:
			if len(body) < 4 {
				return 0, 0, nil, fmt.Errorf("driver: truncated document sequence section")
			}
			size := int(binary.LittleEndian.Uint32(body[:4]))
			if size < 4 || size > len(body) {
				return 0, 0, nil, fmt.Errorf("driver: invalid document sequence size %d", size)
			}
			seq := body[4:size]
			body = body[size:]

			nul := indexByte(seq, 0x00)
			if nul < 0 {
				return 0, 0, nil, fmt.Errorf("driver: document sequence missing identifier terminator")
			}
			rest := seq[nul+1:]
			for len(rest) > 0 {
				d, next, derr := decodeOneDoc(rest, dec)
				if derr != nil {
					return 0, 0, nil, derr
				}
				docs = append(docs, d)
				rest = next
			}
		default:
			return 0, 0, nil, fmt.Errorf("driver: unknown OP_MSG section kind %d", kind)
		}
	}
	return responseTo, flags, docs, nil
}

func decodeOneDoc(buf []byte, dec Decoder) (Doc, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("driver: truncated document")
	}
	size := int(binary.LittleEndian.Uint32(buf[:4]))
	if size < 4 || size > len(buf) {
		return nil, nil, fmt.Errorf("driver: invalid document size %d", size)
	}
	d, err := dec.Decode(buf[:size])
	if err != nil {
		return nil, nil, fmt.Errorf("driver: decode document: %w", err)
	}
	return d, buf[size:], nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// wrapCompressed wraps an already-built OP_MSG message in an OP_COMPRESSED
// envelope, per the teacher's core/connection/connection.go compressMessage.
func wrapCompressed(msg []byte, id CompressorID) ([]byte, error) {
	if id == CompressorNoop {
		return msg, nil
	}
	originalOpCode := binary.LittleEndian.Uint32(msg[12:16])
	uncompressedSize := int32(len(msg) - 16)
	payload, err := compress(id, msg[16:])
	if err != nil {
		return nil, err
	}

	body := make([]byte, 9)
	binary.LittleEndian.PutUint32(body[0:4], originalOpCode)
	binary.LittleEndian.PutUint32(body[4:8], uint32(uncompressedSize))
	body[8] = byte(id)
	body = append(body, payload...)

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(body)))
	copy(header[4:12], msg[4:12]) // requestID, responseTo carry over
	binary.LittleEndian.PutUint32(header[12:16], opCodeCompressed)

	return append(header, body...), nil
}

// unwrapCompressed reverses wrapCompressed when the peer replies with
// OP_COMPRESSED; other opcodes pass through unchanged.
func unwrapCompressed(msg []byte) ([]byte, error) {
	if len(msg) < 16 {
		return msg, nil
	}
	opCode := binary.LittleEndian.Uint32(msg[12:16])
	if opCode != opCodeCompressed {
		return msg, nil
	}
	if len(msg) < 25 {
		return nil, fmt.Errorf("driver: OP_COMPRESSED header too short")
	}
	originalOpCode := binary.LittleEndian.Uint32(msg[16:20])
	uncompressedSize := int32(binary.LittleEndian.Uint32(msg[20:24]))
	compressorID := CompressorID(msg[24])

	payload, err := decompress(compressorID, msg[25:], uncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("driver: decompress OP_COMPRESSED payload: %w", err)
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(payload)))
	copy(header[4:12], msg[4:12])
	binary.LittleEndian.PutUint32(header[12:16], originalOpCode)
	return append(header, payload...), nil
}
