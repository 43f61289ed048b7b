package protocol

const (
	// FrameHeaderSize is the big-endian length prefix in front of every frame.
	FrameHeaderSize = 4
	// MaxBytesPayloadSize is the largest inline payload a BytesPayload may carry.
	MaxBytesPayloadSize = 32 * 1024
	MaxFrameSize        = 1024 * 1024
	FileChunkSize       = 64 * 1024
	EndpointIDSize      = 8
)

type MessageType uint16

const (
	MsgBytesPayload       MessageType = 0x0020
	MsgConnectionRequest  MessageType = 0x0010
	MsgConnectionResponse MessageType = 0x0011
	MsgDisconnect         MessageType = 0x0012
	MsgError              MessageType = 0x00FF
	MsgFileHeader         MessageType = 0x0021
	MsgPing               MessageType = 0x0001
	MsgPong               MessageType = 0x0002
)

func (t MessageType) String() string {
	switch t {
	case MsgBytesPayload:
		return "BYTES_PAYLOAD"
	case MsgConnectionRequest:
		return "CONNECTION_REQUEST"
	case MsgConnectionResponse:
		return "CONNECTION_RESPONSE"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgError:
		return "ERROR"
	case MsgFileHeader:
		return "FILE_HEADER"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

type ErrorCode uint16

const (
	ErrInternal         ErrorCode = 0x00FF
	ErrInvalidMsg       ErrorCode = 0x0001
	ErrNotAdvertising   ErrorCode = 0x0002
	ErrAlreadyConnected ErrorCode = 0x0003
	ErrPayloadTooLarge  ErrorCode = 0x0004
	ErrUnknown          ErrorCode = 0x0000
)

func (e ErrorCode) String() string {
	switch e {
	case ErrInternal:
		return "INTERNAL_ERROR"
	case ErrInvalidMsg:
		return "INVALID_MESSAGE"
	case ErrNotAdvertising:
		return "NOT_ADVERTISING"
	case ErrAlreadyConnected:
		return "ALREADY_CONNECTED"
	case ErrPayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case ErrUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}
