package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecConnectionRequestResponse(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	req := &ConnectionRequest{EndpointID: "3F9A0C21", EndpointName: "Swift Otter"}
	if err := codec.Encode(&buf, req); err != nil {
		t.Fatalf("Encode ConnectionRequest failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ConnectionRequest failed: %v", err)
	}

	decodedReq, ok := decoded.(*ConnectionRequest)
	if !ok {
		t.Fatalf("Expected *ConnectionRequest, got %T", decoded)
	}
	if decodedReq.EndpointID != "3F9A0C21" {
		t.Errorf("Expected endpoint id 3F9A0C21, got %q", decodedReq.EndpointID)
	}
	if decodedReq.EndpointName != "Swift Otter" {
		t.Errorf("Expected endpoint name 'Swift Otter', got %q", decodedReq.EndpointName)
	}

	buf.Reset()
	if err := codec.Encode(&buf, &ConnectionResponse{Accepted: true}); err != nil {
		t.Fatalf("Encode ConnectionResponse failed: %v", err)
	}

	decoded, err = codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode ConnectionResponse failed: %v", err)
	}

	res, ok := decoded.(*ConnectionResponse)
	if !ok {
		t.Fatalf("Expected *ConnectionResponse, got %T", decoded)
	}
	if !res.Accepted {
		t.Error("Expected Accepted to be true")
	}
}

func TestCodecBytesPayloadKeepsUTF8(t *testing.T) {
	codec := NewCodec()

	text := "rock, papier, Schere 🪨✂️"
	data, err := codec.EncodeToBytes(&BytesPayload{PayloadID: 1 << 62, Data: []byte(text)})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	payload, ok := decoded.(*BytesPayload)
	if !ok {
		t.Fatalf("Expected *BytesPayload, got %T", decoded)
	}
	if payload.PayloadID != 1<<62 {
		t.Errorf("Expected payload id %d, got %d", uint64(1<<62), payload.PayloadID)
	}
	if string(payload.Data) != text {
		t.Errorf("Expected %q, got %q", text, payload.Data)
	}
}

func TestCodecFileHeaderUnknownSize(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &FileHeader{PayloadID: 42, Size: -1}); err != nil {
		t.Fatalf("Encode FileHeader failed: %v", err)
	}
	buf.WriteString("raw file bytes follow the header")

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode FileHeader failed: %v", err)
	}

	hdr, ok := decoded.(*FileHeader)
	if !ok {
		t.Fatalf("Expected *FileHeader, got %T", decoded)
	}
	if hdr.PayloadID != 42 || hdr.Size != -1 {
		t.Errorf("Expected {42 -1}, got {%d %d}", hdr.PayloadID, hdr.Size)
	}
	if buf.String() != "raw file bytes follow the header" {
		t.Errorf("Decode consumed bytes past the frame, remaining %q", buf.String())
	}
}

func TestCodecSequentialFrames(t *testing.T) {
	codec := NewCodec()
	var buf bytes.Buffer

	msgs := []Message{&Ping{}, &Disconnect{}, &Pong{}}
	for _, m := range msgs {
		if err := codec.Encode(&buf, m); err != nil {
			t.Fatalf("Encode %s failed: %v", m.Type(), err)
		}
	}

	for _, want := range msgs {
		got, err := codec.Decode(&buf)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.Type() != want.Type() {
			t.Errorf("Expected %s, got %s", want.Type(), got.Type())
		}
	}
}

func TestCodecError(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&Error{Code: ErrNotAdvertising, Message: "not accepting connections"})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	msg, ok := decoded.(*Error)
	if !ok {
		t.Fatalf("Expected *Error, got %T", decoded)
	}
	if msg.Code != ErrNotAdvertising {
		t.Errorf("Expected code %s, got %s", ErrNotAdvertising, msg.Code)
	}
	if msg.Error() != "NOT_ADVERTISING: not accepting connections" {
		t.Errorf("Unexpected error text %q", msg.Error())
	}
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	codec := NewCodec()

	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)

	_, err := codec.DecodeFromBytes(hdr[:])
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}

	_, err = codec.EncodeToBytes(&BytesPayload{PayloadID: 1, Data: make([]byte, MaxFrameSize)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge on encode, got %v", err)
	}
}

func TestCodecUnknownMessageType(t *testing.T) {
	codec := NewCodec()

	body := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	body = protowire.AppendVarint(body, 0x7777)
	frame := make([]byte, FrameHeaderSize, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	frame = append(frame, body...)

	_, err := codec.DecodeFromBytes(frame)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Expected ErrUnknownMessage, got %v", err)
	}
}

func TestCodecSkipsUnknownFields(t *testing.T) {
	codec := NewCodec()

	data, err := codec.EncodeToBytes(&ConnectionResponse{Accepted: true})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	extra := protowire.AppendTag(nil, 9, protowire.Fixed32Type)
	extra = protowire.AppendFixed32(extra, 0xdeadbeef)
	data = append(data, extra...)
	binary.BigEndian.PutUint32(data, uint32(len(data)-FrameHeaderSize))

	decoded, err := codec.DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}
	if res, ok := decoded.(*ConnectionResponse); !ok || !res.Accepted {
		t.Errorf("Expected accepted response, got %#v", decoded)
	}
}

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrNotAdvertising, "NOT_ADVERTISING"},
		{ErrPayloadTooLarge, "PAYLOAD_TOO_LARGE"},
		{ErrUnknown, "UNKNOWN"},
		{ErrorCode(0xFFFE), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.code.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.code, got, tt.expected)
		}
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		expected string
		msgType  MessageType
	}{
		{"BYTES_PAYLOAD", MsgBytesPayload},
		{"CONNECTION_REQUEST", MsgConnectionRequest},
		{"FILE_HEADER", MsgFileHeader},
		{"PING", MsgPing},
		{"PONG", MsgPong},
		{"UNKNOWN", MessageType(0xFFFF)},
	}

	for _, tt := range tests {
		if got := tt.msgType.String(); got != tt.expected {
			t.Errorf("%v.String() = %s, want %s", tt.msgType, got, tt.expected)
		}
	}
}
