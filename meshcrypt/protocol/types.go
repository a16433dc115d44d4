package protocol

// MessageType identifies a handshake message.
type MessageType uint8

const (
	MessageTypeSyncIV  MessageType = 1
	MessageTypeSyncKey MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeSyncIV:
		return "SYNC_IV"
	case MessageTypeSyncKey:
		return "SYNC_KEY"
	default:
		return "UNKNOWN"
	}
}

// FrameType identifies a frame on a link that carries mesh traffic.
type FrameType uint8

const (
	FrameTypeData          FrameType = 1
	FrameTypeAck           FrameType = 2
	FrameTypeAddressReq    FrameType = 3
	FrameTypeAddressAssign FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeData:
		return "DATA"
	case FrameTypeAck:
		return "ACK"
	case FrameTypeAddressReq:
		return "ADDRESS_REQ"
	case FrameTypeAddressAssign:
		return "ADDRESS_ASSIGN"
	default:
		return "UNKNOWN"
	}
}
