package doip

import (
	"encoding/binary"
	"errors"
)

// Unpack/Pack sentinel errors, named the way the teacher's msg.go names them.
var (
	ErrUnpackNoHandler = errors.New("doip: no unpack handler registered for payload type")
	ErrUnpackTooShort  = errors.New("doip: payload too short")
	ErrUnpackTrailing  = errors.New("doip: trailing bytes after payload")
	ErrPackNoHandler   = errors.New("doip: no pack handler registered for payload type")
	ErrPackWrongType   = errors.New("doip: value does not match payload type")
)

// Payload is implemented by every typed payload the codec knows how to
// encode. GetType mirrors the teacher's Msg.GetID() idiom.
type Payload interface {
	GetType() PayloadType
}

// GenericNack is the 1-byte body of a payload-type 0x0000 frame.
type GenericNack struct {
	Code byte
}

func (GenericNack) GetType() PayloadType { return PayloadGenericNack }

// VehicleIDRequest is the body of a payload-type 0x0001 frame. Exactly one
// of EID/VIN may be set; if neither is set this is the "no selector" form.
type VehicleIDRequest struct {
	EID []byte // 6 bytes when present
	VIN []byte // 17 bytes when present
}

func (VehicleIDRequest) GetType() PayloadType { return PayloadVehicleIDRequest }

// VehicleAnnouncement is the body of a payload-type 0x0004 frame.
type VehicleAnnouncement struct {
	VIN            [17]byte
	LogicalAddress uint16
	EID            [6]byte
	GID            [6]byte
	FurtherAction  byte
	SyncStatus     *byte // optional 33rd byte
}

func (VehicleAnnouncement) GetType() PayloadType { return PayloadVehicleAnnouncement }

// RoutingActivationRequest is the body of a payload-type 0x0005 frame.
type RoutingActivationRequest struct {
	SourceAddress  uint16
	ActivationType byte
	ReservedOEM    [4]byte
	OEM            []byte // optional 4 bytes
}

func (RoutingActivationRequest) GetType() PayloadType { return PayloadRoutingActivationRequest }

// RoutingActivationResponse is the body of a payload-type 0x0006 frame.
type RoutingActivationResponse struct {
	ClientAddress  uint16
	LogicalAddress uint16
	ResponseCode   byte
	Reserved       [4]byte
	OEM            []byte // optional 4 bytes
}

func (RoutingActivationResponse) GetType() PayloadType { return PayloadRoutingActivationResponse }

// DiagnosticMessage is the body of a payload-type 0x8001 frame.
type DiagnosticMessage struct {
	SourceAddress uint16
	TargetAddress uint16
	UserData      []byte
}

func (DiagnosticMessage) GetType() PayloadType { return PayloadDiagnosticMessage }

// DiagnosticAck is the shared shape of payload types 0x8002 and 0x8003: an
// acknowledge/negative-acknowledge carrying the originating addresses, a
// code, and an optional echo of the acknowledged diagnostic message's user
// data (every byte after the code).
type DiagnosticAck struct {
	Positive      bool
	SourceAddress uint16
	TargetAddress uint16
	Code          byte
	Echo          []byte
}

func (a DiagnosticAck) GetType() PayloadType {
	if a.Positive {
		return PayloadDiagnosticPositiveAck
	}
	return PayloadDiagnosticNegativeAck
}

// EncodePayload serializes p's body (excluding the generic header).
func EncodePayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case GenericNack:
		return []byte{v.Code}, nil
	case *GenericNack:
		return []byte{v.Code}, nil
	case VehicleIDRequest:
		return encodeVehicleIDRequest(v), nil
	case *VehicleIDRequest:
		return encodeVehicleIDRequest(*v), nil
	case VehicleAnnouncement:
		return encodeVehicleAnnouncement(v), nil
	case *VehicleAnnouncement:
		return encodeVehicleAnnouncement(*v), nil
	case RoutingActivationRequest:
		return encodeRoutingActivationRequest(v), nil
	case *RoutingActivationRequest:
		return encodeRoutingActivationRequest(*v), nil
	case RoutingActivationResponse:
		return encodeRoutingActivationResponse(v), nil
	case *RoutingActivationResponse:
		return encodeRoutingActivationResponse(*v), nil
	case DiagnosticMessage:
		return encodeDiagnosticMessage(v), nil
	case *DiagnosticMessage:
		return encodeDiagnosticMessage(*v), nil
	case DiagnosticAck:
		return encodeDiagnosticAck(v), nil
	case *DiagnosticAck:
		return encodeDiagnosticAck(*v), nil
	default:
		return nil, ErrPackNoHandler
	}
}

// DecodePayload parses b (the bytes following the generic header) according
// to t. It returns ErrUnpackNoHandler for payload types the core does not
// originate/consume as a typed value (the dispatcher handles those as raw
// NACK-worthy frames instead).
func DecodePayload(t PayloadType, b []byte) (Payload, error) {
	switch t {
	case PayloadGenericNack:
		return decodeGenericNack(b)
	case PayloadVehicleIDRequest:
		return decodeVehicleIDRequest(b)
	case PayloadVehicleAnnouncement:
		return decodeVehicleAnnouncement(b)
	case PayloadRoutingActivationRequest:
		return decodeRoutingActivationRequest(b)
	case PayloadRoutingActivationResponse:
		return decodeRoutingActivationResponse(b)
	case PayloadDiagnosticMessage:
		return decodeDiagnosticMessage(b)
	case PayloadDiagnosticPositiveAck:
		return decodeDiagnosticAck(b, true)
	case PayloadDiagnosticNegativeAck:
		return decodeDiagnosticAck(b, false)
	default:
		return nil, ErrUnpackNoHandler
	}
}

func encodeVehicleIDRequest(v VehicleIDRequest) []byte {
	switch {
	case len(v.EID) == 6:
		out := make([]byte, 6)
		copy(out, v.EID)
		return out
	case len(v.VIN) == 17:
		out := make([]byte, 17)
		copy(out, v.VIN)
		return out
	default:
		return []byte{}
	}
}

func decodeVehicleIDRequest(b []byte) (Payload, error) {
	switch len(b) {
	case 0:
		return VehicleIDRequest{}, nil
	case 6:
		eid := make([]byte, 6)
		copy(eid, b)
		return VehicleIDRequest{EID: eid}, nil
	case 17:
		vin := make([]byte, 17)
		copy(vin, b)
		return VehicleIDRequest{VIN: vin}, nil
	default:
		return nil, ErrUnpackTrailing
	}
}

func encodeVehicleAnnouncement(v VehicleAnnouncement) []byte {
	ln := 32
	if v.SyncStatus != nil {
		ln = 33
	}
	out := make([]byte, ln)
	copy(out[0:17], v.VIN[:])
	binary.BigEndian.PutUint16(out[17:19], v.LogicalAddress)
	copy(out[19:25], v.EID[:])
	copy(out[25:31], v.GID[:])
	out[31] = v.FurtherAction
	if v.SyncStatus != nil {
		out[32] = *v.SyncStatus
	}
	return out
}

func decodeVehicleAnnouncement(b []byte) (Payload, error) {
	if len(b) != 32 && len(b) != 33 {
		return nil, ErrUnpackTooShort
	}
	var v VehicleAnnouncement
	copy(v.VIN[:], b[0:17])
	v.LogicalAddress = binary.BigEndian.Uint16(b[17:19])
	copy(v.EID[:], b[19:25])
	copy(v.GID[:], b[25:31])
	v.FurtherAction = b[31]
	if len(b) == 33 {
		sync := b[32]
		v.SyncStatus = &sync
	}
	return v, nil
}

func encodeRoutingActivationRequest(v RoutingActivationRequest) []byte {
	ln := 7
	if len(v.OEM) == 4 {
		ln = 11
	}
	out := make([]byte, ln)
	binary.BigEndian.PutUint16(out[0:2], v.SourceAddress)
	out[2] = v.ActivationType
	copy(out[3:7], v.ReservedOEM[:])
	if ln == 11 {
		copy(out[7:11], v.OEM)
	}
	return out
}

func decodeRoutingActivationRequest(b []byte) (Payload, error) {
	if len(b) != 7 && len(b) != 11 {
		return nil, ErrUnpackTooShort
	}
	v := RoutingActivationRequest{
		SourceAddress:  binary.BigEndian.Uint16(b[0:2]),
		ActivationType: b[2],
	}
	copy(v.ReservedOEM[:], b[3:7])
	if len(b) == 11 {
		v.OEM = append([]byte(nil), b[7:11]...)
	}
	return v, nil
}

func encodeRoutingActivationResponse(v RoutingActivationResponse) []byte {
	ln := 9
	if len(v.OEM) == 4 {
		ln = 13
	}
	out := make([]byte, ln)
	binary.BigEndian.PutUint16(out[0:2], v.ClientAddress)
	binary.BigEndian.PutUint16(out[2:4], v.LogicalAddress)
	out[4] = v.ResponseCode
	copy(out[5:9], v.Reserved[:])
	if ln == 13 {
		copy(out[9:13], v.OEM)
	}
	return out
}

func decodeRoutingActivationResponse(b []byte) (Payload, error) {
	if len(b) != 9 && len(b) != 13 {
		return nil, ErrUnpackTooShort
	}
	v := RoutingActivationResponse{
		ClientAddress:  binary.BigEndian.Uint16(b[0:2]),
		LogicalAddress: binary.BigEndian.Uint16(b[2:4]),
		ResponseCode:   b[4],
	}
	copy(v.Reserved[:], b[5:9])
	if len(b) == 13 {
		v.OEM = append([]byte(nil), b[9:13]...)
	}
	return v, nil
}

func encodeDiagnosticMessage(v DiagnosticMessage) []byte {
	out := make([]byte, 4+len(v.UserData))
	binary.BigEndian.PutUint16(out[0:2], v.SourceAddress)
	binary.BigEndian.PutUint16(out[2:4], v.TargetAddress)
	copy(out[4:], v.UserData)
	return out
}

func decodeDiagnosticMessage(b []byte) (Payload, error) {
	if len(b) < 5 {
		return nil, ErrUnpackTooShort
	}
	v := DiagnosticMessage{
		SourceAddress: binary.BigEndian.Uint16(b[0:2]),
		TargetAddress: binary.BigEndian.Uint16(b[2:4]),
		UserData:      append([]byte(nil), b[4:]...),
	}
	return v, nil
}

func encodeDiagnosticAck(v DiagnosticAck) []byte {
	out := make([]byte, 5+len(v.Echo))
	binary.BigEndian.PutUint16(out[0:2], v.SourceAddress)
	binary.BigEndian.PutUint16(out[2:4], v.TargetAddress)
	out[4] = v.Code
	copy(out[5:], v.Echo)
	return out
}

func decodeDiagnosticAck(b []byte, positive bool) (Payload, error) {
	if len(b) < 5 {
		return nil, ErrUnpackTooShort
	}
	v := DiagnosticAck{
		Positive:      positive,
		SourceAddress: binary.BigEndian.Uint16(b[0:2]),
		TargetAddress: binary.BigEndian.Uint16(b[2:4]),
		Code:          b[4],
	}
	if len(b) > 5 {
		v.Echo = append([]byte(nil), b[5:]...)
	}
	return v, nil
}

func decodeGenericNack(b []byte) (Payload, error) {
	if len(b) < 1 {
		return nil, ErrUnpackTooShort
	}
	if len(b) > 1 {
		return nil, ErrUnpackTrailing
	}
	return GenericNack{Code: b[0]}, nil
}
