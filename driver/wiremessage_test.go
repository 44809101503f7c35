package driver

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// fakeCodec is a minimal, test-only Encoder/Decoder: each Doc becomes a
// 4-byte length prefix followed by key/type-tag/value triples. It exists
// only to exercise encodeMsg/decodeMsg's framing, never production code
// (spec.md §1 "BSON encoding ... out of scope" — a real BSON library is
// the external collaborator for Encoder/Decoder).
type fakeCodec struct{}

const (
	tagString byte = 1
	tagInt32  byte = 2
)

func (fakeCodec) Encode(d Doc) ([]byte, error) {
	body := []byte{}
	for _, e := range d {
		if len(e.Key) > 255 {
			return nil, fmt.Errorf("fakeCodec: key too long")
		}
		body = append(body, byte(len(e.Key)))
		body = append(body, e.Key...)
		switch v := e.Value.(type) {
		case string:
			body = append(body, tagString)
			lenBuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(lenBuf, uint32(len(v)))
			body = append(body, lenBuf...)
			body = append(body, v...)
		case int32:
			body = append(body, tagInt32)
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(v))
			body = append(body, buf...)
		default:
			return nil, fmt.Errorf("fakeCodec: unsupported value type %T", v)
		}
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(4+len(body)))
	return append(out, body...), nil
}

func (fakeCodec) Decode(b []byte) (Doc, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("fakeCodec: truncated document")
	}
	body := b[4:]
	var d Doc
	for len(body) > 0 {
		keyLen := int(body[0])
		body = body[1:]
		key := string(body[:keyLen])
		body = body[keyLen:]
		tag := body[0]
		body = body[1:]
		switch tag {
		case tagString:
			strLen := int(binary.LittleEndian.Uint32(body[:4]))
			body = body[4:]
			d = d.Append(key, string(body[:strLen]))
			body = body[strLen:]
		case tagInt32:
			d = d.Append(key, int32(binary.LittleEndian.Uint32(body[:4])))
			body = body[4:]
		default:
			return nil, fmt.Errorf("fakeCodec: unknown tag %d", tag)
		}
	}
	return d, nil
}

func TestEncodeDecodeMsgSingleDocumentRoundTrip(t *testing.T) {
	codec := fakeCodec{}
	cmd := Doc{{Key: "hello", Value: int32(1)}, {Key: "name", Value: "client"}}

	wire, err := encodeMsg(7, 0, []section{{kind: sectionKindSingleDocument, doc: cmd}}, codec)
	if err != nil {
		t.Fatalf("encodeMsg: %v", err)
	}

	responseTo, flags, docs, err := decodeMsg(wire, codec)
	if err != nil {
		t.Fatalf("decodeMsg: %v", err)
	}
	if responseTo != 0 {
		t.Errorf("responseTo = %d, want 0 for a request", responseTo)
	}
	if flags != 0 {
		t.Errorf("flags = %d, want 0", flags)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if v, ok := docs[0].Lookup("hello"); !ok || v.(int32) != 1 {
		t.Errorf("expected hello:1 to round trip, got %v (ok=%v)", v, ok)
	}
	if v, ok := docs[0].Lookup("name"); !ok || v.(string) != "client" {
		t.Errorf("expected name:client to round trip, got %v (ok=%v)", v, ok)
	}
}

func TestEncodeDecodeMsgDocumentSequenceRoundTrip(t *testing.T) {
	codec := fakeCodec{}
	cmd := Doc{{Key: "insert", Value: "coll"}}
	docSeq := []Doc{
		{{Key: "_id", Value: int32(1)}},
		{{Key: "_id", Value: int32(2)}},
	}

	sections := []section{
		{kind: sectionKindSingleDocument, doc: cmd},
		{kind: sectionKindDocumentSequence, identifier: "documents", docs: docSeq},
	}
	wire, err := encodeMsg(1, 0, sections, codec)
	if err != nil {
		t.Fatalf("encodeMsg: %v", err)
	}

	_, _, docs, err := decodeMsg(wire, codec)
	if err != nil {
		t.Fatalf("decodeMsg: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 1 command doc + 2 sequence docs, got %d", len(docs))
	}
}

func TestDecodeMsgRejectsWrongOpcode(t *testing.T) {
	header := make([]byte, 20)
	binary.LittleEndian.PutUint32(header[12:16], 1) // OP_REPLY, not OP_MSG
	if _, _, _, err := decodeMsg(header, fakeCodec{}); err == nil {
		t.Fatal("expected an error for a non-OP_MSG opcode")
	}
}

func TestWrapUnwrapCompressedRoundTrip(t *testing.T) {
	codec := fakeCodec{}
	cmd := Doc{{Key: "ping", Value: int32(1)}}
	wire, err := encodeMsg(3, 0, []section{{kind: sectionKindSingleDocument, doc: cmd}}, codec)
	if err != nil {
		t.Fatalf("encodeMsg: %v", err)
	}

	wrapped, err := wrapCompressed(wire, CompressorSnappy)
	if err != nil {
		t.Fatalf("wrapCompressed: %v", err)
	}
	opCode := binary.LittleEndian.Uint32(wrapped[12:16])
	if opCode != opCodeCompressed {
		t.Fatalf("expected OP_COMPRESSED opcode, got %d", opCode)
	}

	unwrapped, err := unwrapCompressed(wrapped)
	if err != nil {
		t.Fatalf("unwrapCompressed: %v", err)
	}
	if string(unwrapped) != string(wire) {
		t.Fatalf("expected unwrapCompressed to reproduce the original OP_MSG bytes")
	}
}

func TestWrapCompressedNoopPassesThrough(t *testing.T) {
	wire := []byte{1, 2, 3, 4}
	wrapped, err := wrapCompressed(wire, CompressorNoop)
	if err != nil {
		t.Fatalf("wrapCompressed: %v", err)
	}
	if string(wrapped) != string(wire) {
		t.Fatalf("expected CompressorNoop to pass the message through unchanged")
	}
}

func TestUnwrapCompressedPassesThroughNonCompressedOpcode(t *testing.T) {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[12:16], opCodeMsg)
	got, err := unwrapCompressed(header)
	if err != nil {
		t.Fatalf("unwrapCompressed: %v", err)
	}
	if string(got) != string(header) {
		t.Fatalf("expected a non-OP_COMPRESSED message to pass through unchanged")
	}
}
