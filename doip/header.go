package doip

import "encoding/binary"

// HeaderLen is the fixed size, in bytes, of the generic DoIP header that
// prefixes every message on both the TCP and UDP transports.
const HeaderLen = 8

// DefaultProtocolVersion is the version byte for ISO 13400-2:2012, used
// unless Config.ProtocolVersion overrides it.
const DefaultProtocolVersion byte = 0x02

// PayloadType identifies the shape of the bytes following the generic
// header. See Table 12 (DoIP Payload types) of ISO 13400-2.
type PayloadType uint16

const (
	PayloadGenericNack               PayloadType = 0x0000
	PayloadVehicleIDRequest          PayloadType = 0x0001
	PayloadVehicleAnnouncement       PayloadType = 0x0004
	PayloadRoutingActivationRequest  PayloadType = 0x0005
	PayloadRoutingActivationResponse PayloadType = 0x0006
	PayloadDiagnosticMessage         PayloadType = 0x8001
	PayloadDiagnosticPositiveAck     PayloadType = 0x8002
	PayloadDiagnosticNegativeAck     PayloadType = 0x8003
)

// isDiagnosticPayload reports whether t carries a diagnostic payload (subject
// to Config.MaxPayloadLen) as opposed to a control payload (subject to the
// smaller Config.MaxControlPayloadLen) -- the split the TCP channel applies
// per §4.3 of the channel's framing rules.
func isDiagnosticPayload(t PayloadType) bool {
	switch t {
	case PayloadDiagnosticMessage, PayloadDiagnosticPositiveAck, PayloadDiagnosticNegativeAck:
		return true
	default:
		return false
	}
}

func (t PayloadType) String() string {
	switch t {
	case PayloadGenericNack:
		return "generic-nack"
	case PayloadVehicleIDRequest:
		return "vehicle-id-request"
	case PayloadVehicleAnnouncement:
		return "vehicle-announcement"
	case PayloadRoutingActivationRequest:
		return "routing-activation-request"
	case PayloadRoutingActivationResponse:
		return "routing-activation-response"
	case PayloadDiagnosticMessage:
		return "diagnostic-message"
	case PayloadDiagnosticPositiveAck:
		return "diagnostic-positive-ack"
	case PayloadDiagnosticNegativeAck:
		return "diagnostic-negative-ack"
	default:
		return "unknown"
	}
}

// Generic negative acknowledge codes (Table 14).
const (
	NackIncorrectPatternFormat byte = 0x00
	NackUnknownPayloadType     byte = 0x01
	NackMessageTooLarge        byte = 0x02
	NackOutOfMemory            byte = 0x03
	NackInvalidPayloadLength   byte = 0x04
)

// Routing activation response codes (Table 25), the ones the core cares about.
const (
	RSCRoutingDeniedUnsupportedType byte = 0x06
	RSCRoutingSuccessfullyActivated byte = 0x10
)

// Header is the decoded 8-byte generic DoIP header.
type Header struct {
	ProtocolVersion byte
	InverseVersion  byte
	Type            PayloadType
	Len             uint32
}

// EncodeHeader emits the 8-byte generic header for a payload of type t
// with ln bytes to follow, using version as the protocol version byte.
func EncodeHeader(version byte, t PayloadType, ln uint32) [HeaderLen]byte {
	var b [HeaderLen]byte
	b[0] = version
	b[1] = ^version
	binary.BigEndian.PutUint16(b[2:4], uint16(t))
	binary.BigEndian.PutUint32(b[4:8], ln)
	return b
}

// DecodeHeader parses the first HeaderLen bytes of b into a Header.
// It validates the version/inverse-version pattern and the payload length
// ceiling; it deliberately does NOT reject unknown payload types -- that is
// the dispatcher's job (see channel.go), matching §4.1 of the spec.
func DecodeHeader(b []byte, maxPayloadLen uint32) (Header, Error) {
	if len(b) < HeaderLen {
		return Header{}, NewError(ErrMalformed, "short header: got %d bytes, want %d", len(b), HeaderLen)
	}
	h := Header{
		ProtocolVersion: b[0],
		InverseVersion:  b[1],
		Type:            PayloadType(binary.BigEndian.Uint16(b[2:4])),
		Len:             binary.BigEndian.Uint32(b[4:8]),
	}
	if h.InverseVersion != ^h.ProtocolVersion {
		return h, NewError(ErrInvalidProtocolVersion, "version 0x%02x inverse 0x%02x", h.ProtocolVersion, h.InverseVersion)
	}
	if maxPayloadLen != 0 && h.Len > maxPayloadLen {
		return h, NewError(ErrInvalidPayloadLen, "payload length %d exceeds ceiling %d", h.Len, maxPayloadLen)
	}
	return h, nil
}
