// Package frame implements the wire format for a Piper: one
// length-prefixed record per Frame, control tags distinguished from
// application payloads by a sentinel leading byte.
package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"
)

// Tag identifies a Frame's kind on the wire.
type Tag byte

const (
	// TagValue carries an application payload (msgpack-encoded). Starts at 1
	// so no tag byte can ever collide with sentinel.
	TagValue Tag = iota + 1
	// TagStart is the START control tag (announce readiness / request restart).
	TagStart
	// TagHalt is the HALT control tag (ask the child driver to stop).
	TagHalt
	// TagHeartbeat is the HEARTBEAT control tag.
	TagHeartbeat
	// TagError carries a serialized ChildError.
	TagError
)

// sentinel is a leading NUL byte marking a control tag: control tags use
// a leading NUL byte followed by a fixed mnemonic.
const sentinel = 0x00

// lenPrefixSize is the width, in bytes, of the big-endian record-length
// prefix that precedes every record's body (tag/sentinel byte plus
// mnemonic or payload). A length prefix is used instead of a fixed
// delimiter because msgpack's str8/bin8 encodings embed payload bytes
// verbatim: any fixed byte sequence could appear inside a payload and
// desynchronize the stream. Knowing the body's length up front makes that
// impossible.
const lenPrefixSize = 4

// maxFrameSize bounds a single record's body length, rejecting corrupt or
// hostile length prefixes before attempting to allocate or read that many
// bytes.
const maxFrameSize = 64 << 20

var mh = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	return h
}()

// ChildError is the structured error a child sends back over its Piper; it
// round-trips kind and message so the parent can reconstruct errs.ChildRaised.
type ChildError struct {
	Kind    string
	Message string
}

// Frame is one self-delimited record: a control tag, or TagValue/TagError
// with an opaque msgpack-encoded Payload.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// mnemonics holds only the pure control tags (no payload). TagError, despite
// also being a fixed wire marker conceptually, always carries a payload and
// so is encoded on the byte-prefix path alongside TagValue.
var mnemonics = map[Tag][]byte{
	TagStart:     []byte("START"),
	TagHalt:      []byte("HALT"),
	TagHeartbeat: []byte("HEARTBEAT"),
}

// Encode serializes v (any msgpack-transferable application value) into a
// TagValue Frame ready to be written with WriteTo.
func Encode(v any) (Frame, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, mh)
	if err := enc.Encode(v); err != nil {
		return Frame{}, fmt.Errorf("frame: encode payload: %w", err)
	}
	return Frame{Tag: TagValue, Payload: buf.Bytes()}, nil
}

// EncodeError serializes a ChildError into a TagError Frame.
func EncodeError(ce ChildError) (Frame, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, mh)
	if err := enc.Encode(ce); err != nil {
		return Frame{}, fmt.Errorf("frame: encode error: %w", err)
	}
	return Frame{Tag: TagError, Payload: buf.Bytes()}, nil
}

// Control builds a control Frame (START/HALT/HEARTBEAT).
func Control(t Tag) Frame { return Frame{Tag: t} }

// Decode deserializes a TagValue Frame's payload into v.
func (f Frame) Decode(v any) error {
	dec := codec.NewDecoderBytes(f.Payload, mh)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("frame: decode payload: %w", err)
	}
	return nil
}

// DecodeError deserializes a TagError Frame's payload into a ChildError.
func (f Frame) DecodeError() (ChildError, error) {
	var ce ChildError
	dec := codec.NewDecoderBytes(f.Payload, mh)
	if err := dec.Decode(&ce); err != nil {
		return ChildError{}, fmt.Errorf("frame: decode error payload: %w", err)
	}
	return ce, nil
}

// marshal renders the on-wire bytes for f: a 4-byte big-endian length
// prefix, then the record body — for control tags, the sentinel NUL byte
// followed by the tag's fixed mnemonic; for TagValue/TagError, a one-byte
// tag prefix followed by the encoded payload.
func (f Frame) marshal() []byte {
	var body []byte
	if mnem, ok := mnemonics[f.Tag]; ok {
		body = make([]byte, 0, 1+len(mnem))
		body = append(body, sentinel)
		body = append(body, mnem...)
	} else {
		body = make([]byte, 0, 1+len(f.Payload))
		body = append(body, byte(f.Tag))
		body = append(body, f.Payload...)
	}
	out := make([]byte, lenPrefixSize+len(body))
	binary.BigEndian.PutUint32(out[:lenPrefixSize], uint32(len(body)))
	copy(out[lenPrefixSize:], body)
	return out
}

// WriteTo writes one complete frame to w, never partially: the whole
// marshaled record is written by a single Write call.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	b := f.marshal()
	n, err := w.Write(b)
	return int64(n), err
}

// Reader reads Frames off a byte stream, one length-prefixed record at a
// time, distinguishing control tags from value/error payloads.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for framed reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// ReadFrame blocks until one complete frame has been read, or returns the
// underlying read error (including io.EOF when the peer closed its end).
func (fr *Reader) ReadFrame() (Frame, error) {
	var lenBuf [lenPrefixSize]byte
	if _, err := io.ReadFull(fr.br, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return Frame{}, fmt.Errorf("frame: record length %d exceeds max %d", n, maxFrameSize)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(fr.br, raw); err != nil {
		return Frame{}, err
	}
	return parseRaw(raw)
}

// Peek returns the next n bytes without advancing the read position,
// letting Piper implement Readable() without consuming a frame.
func (fr *Reader) Peek(n int) ([]byte, error) {
	return fr.br.Peek(n)
}

func parseRaw(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, fmt.Errorf("frame: empty record")
	}
	if raw[0] == sentinel {
		mnem := raw[1:]
		for tag, m := range mnemonics {
			if bytes.Equal(m, mnem) {
				return Frame{Tag: tag}, nil
			}
		}
		return Frame{}, fmt.Errorf("frame: unrecognized control mnemonic %q", mnem)
	}
	return Frame{Tag: Tag(raw[0]), Payload: raw[1:]}, nil
}
