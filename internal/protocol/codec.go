package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrUnknownMessage = errors.New("unknown message type")
)

type encodable interface {
	Message
	appendFields(b []byte) []byte
}

type decodable interface {
	Message
	readFields(r record)
}

// record holds the fields of one frame body, last value wins.
type record struct {
	varints map[protowire.Number]uint64
	bytes   map[protowire.Number][]byte
}

// Codec reads and writes length-prefixed frames whose bodies use the protobuf wire format.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	frame, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	enc, ok := msg.(encodable)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	frame := make([]byte, FrameHeaderSize, 64)
	frame = appendVarint(frame, fieldType, uint64(msg.Type()))
	frame = enc.appendFields(frame)

	size := len(frame) - FrameHeaderSize
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	binary.BigEndian.PutUint32(frame[:FrameHeaderSize], uint32(size))
	return frame, nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	return c.Decode(bytes.NewReader(data))
}

func decodeBody(body []byte) (Message, error) {
	r, err := parseRecord(body)
	if err != nil {
		return nil, err
	}
	t := MessageType(r.varints[fieldType])
	msg, ok := newMessage(t)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownMessage, uint16(t))
	}
	msg.readFields(r)
	return msg, nil
}

func parseRecord(b []byte) (record, error) {
	r := record{
		varints: make(map[protowire.Number]uint64),
		bytes:   make(map[protowire.Number][]byte),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.varints[num] = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.bytes[num] = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
