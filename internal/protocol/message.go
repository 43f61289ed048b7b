package protocol

import "google.golang.org/protobuf/encoding/protowire"

type Message interface {
	Type() MessageType
}

// Field 1 of every frame body carries the MessageType, message fields start at 2.
const (
	fieldType protowire.Number = 1
	fieldA    protowire.Number = 2
	fieldB    protowire.Number = 3
)

type ConnectionRequest struct {
	EndpointID   string
	EndpointName string
}

func (ConnectionRequest) Type() MessageType { return MsgConnectionRequest }

func (m ConnectionRequest) appendFields(b []byte) []byte {
	b = appendString(b, fieldA, m.EndpointID)
	return appendString(b, fieldB, m.EndpointName)
}

func (m *ConnectionRequest) readFields(r record) {
	m.EndpointID = string(r.bytes[fieldA])
	m.EndpointName = string(r.bytes[fieldB])
}

type ConnectionResponse struct {
	Accepted bool
}

func (ConnectionResponse) Type() MessageType { return MsgConnectionResponse }

func (m ConnectionResponse) appendFields(b []byte) []byte {
	return appendVarint(b, fieldA, protowire.EncodeBool(m.Accepted))
}

func (m *ConnectionResponse) readFields(r record) {
	m.Accepted = protowire.DecodeBool(r.varints[fieldA])
}

type Disconnect struct{}

func (Disconnect) Type() MessageType { return MsgDisconnect }

func (Disconnect) appendFields(b []byte) []byte { return b }

func (*Disconnect) readFields(record) {}

type BytesPayload struct {
	PayloadID uint64
	Data      []byte
}

func (BytesPayload) Type() MessageType { return MsgBytesPayload }

func (m BytesPayload) appendFields(b []byte) []byte {
	b = appendVarint(b, fieldA, m.PayloadID)
	return appendBytes(b, fieldB, m.Data)
}

func (m *BytesPayload) readFields(r record) {
	m.PayloadID = r.varints[fieldA]
	if data := r.bytes[fieldB]; len(data) > 0 {
		m.Data = append([]byte(nil), data...)
	}
}

// FileHeader opens a file stream. Size is -1 when the sender does not know it.
type FileHeader struct {
	PayloadID uint64
	Size      int64
}

func (FileHeader) Type() MessageType { return MsgFileHeader }

func (m FileHeader) appendFields(b []byte) []byte {
	b = appendVarint(b, fieldA, m.PayloadID)
	return appendVarint(b, fieldB, uint64(m.Size))
}

func (m *FileHeader) readFields(r record) {
	m.PayloadID = r.varints[fieldA]
	m.Size = int64(r.varints[fieldB])
}

type Error struct {
	Code    ErrorCode
	Message string
}

func (Error) Type() MessageType { return MsgError }

func (m Error) appendFields(b []byte) []byte {
	b = appendVarint(b, fieldA, uint64(m.Code))
	return appendString(b, fieldB, m.Message)
}

func (m *Error) readFields(r record) {
	m.Code = ErrorCode(r.varints[fieldA])
	m.Message = string(r.bytes[fieldB])
}

func (m *Error) Error() string {
	if m.Message == "" {
		return m.Code.String()
	}
	return m.Code.String() + ": " + m.Message
}

type Ping struct{}

func (Ping) Type() MessageType { return MsgPing }

func (Ping) appendFields(b []byte) []byte { return b }

func (*Ping) readFields(record) {}

type Pong struct{}

func (Pong) Type() MessageType { return MsgPong }

func (Pong) appendFields(b []byte) []byte { return b }

func (*Pong) readFields(record) {}

func newMessage(t MessageType) (decodable, bool) {
	switch t {
	case MsgBytesPayload:
		return &BytesPayload{}, true
	case MsgConnectionRequest:
		return &ConnectionRequest{}, true
	case MsgConnectionResponse:
		return &ConnectionResponse{}, true
	case MsgDisconnect:
		return &Disconnect{}, true
	case MsgError:
		return &Error{}, true
	case MsgFileHeader:
		return &FileHeader{}, true
	case MsgPing:
		return &Ping{}, true
	case MsgPong:
		return &Pong{}, true
	default:
		return nil, false
	}
}
