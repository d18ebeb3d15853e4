// Package telemetry implements the wire protocol for supervision: a
// byte-exact frame codec plus a websocket publisher that broadcasts
// engine-status frames to connected clients. Like the CAN client and
// CLI, this is an external collaborator — it consumes the core's
// published state and never participates in the real-time loop.
package telemetry

import (
	"encoding/binary"
	"fmt"
)

// MsgType enumerates the wire protocol's message types.
type MsgType byte

const (
	MsgEngineStatus  MsgType = 0x01
	MsgSensorData    MsgType = 0x02
	MsgDiagnostic    MsgType = 0x03
	MsgConfigRequest MsgType = 0x10
	MsgConfigResp    MsgType = 0x11
	MsgTableUpdate   MsgType = 0x12
	MsgParamSet      MsgType = 0x13
	MsgAck           MsgType = 0xFF
)

// Flag bits for the header's flags byte.
const (
	FlagAckRequired  byte = 1 << 0
	FlagHighPriority byte = 1 << 1
	FlagEncrypted    byte = 1 << 2
)

const (
	headerSize    = 7
	maxPayloadLen = 232
	protoVersion  = 1
)

// Header is the fixed 7-byte frame header.
type Header struct {
	MsgType    MsgType
	Version    byte
	MsgID      uint16
	PayloadLen uint16
	Flags      byte
}

// Frame is a complete header+payload wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode serializes a frame: the 7-byte header fields, an 8th checksum
// byte, then the payload. The checksum is an XOR over the whole frame
// with the checksum byte itself taken as zero.
func Encode(msgType MsgType, msgID uint16, flags byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("telemetry: payload length %d exceeds max %d", len(payload), maxPayloadLen)
	}

	out := make([]byte, headerSize+1+len(payload))
	out[0] = byte(msgType)
	out[1] = protoVersion
	binary.BigEndian.PutUint16(out[2:4], msgID)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(payload)))
	out[6] = flags
	out[7] = 0 // checksum placeholder
	copy(out[headerSize+1:], payload)

	out[headerSize] = xorChecksum(out)
	return out, nil
}

// Decode parses a wire frame and validates its checksum.
func Decode(data []byte) (*Frame, error) {
	if len(data) < headerSize+1 {
		return nil, fmt.Errorf("telemetry: frame too short: %d bytes", len(data))
	}

	h := Header{
		MsgType:    MsgType(data[0]),
		Version:    data[1],
		MsgID:      binary.BigEndian.Uint16(data[2:4]),
		PayloadLen: binary.BigEndian.Uint16(data[4:6]),
		Flags:      data[6],
	}
	gotChecksum := data[7]

	total := headerSize + 1 + int(h.PayloadLen)
	if len(data) < total {
		return nil, fmt.Errorf("telemetry: frame too short for declared payload_len %d: have %d, want %d", h.PayloadLen, len(data), total)
	}

	check := make([]byte, total)
	copy(check, data[:total])
	check[headerSize] = 0
	if want := xorChecksum(check); want != gotChecksum {
		return nil, fmt.Errorf("telemetry: checksum mismatch: got 0x%02X, want 0x%02X", gotChecksum, want)
	}

	payload := make([]byte, h.PayloadLen)
	copy(payload, data[headerSize+1:total])

	return &Frame{Header: h, Payload: payload}, nil
}

func xorChecksum(data []byte) byte {
	var c byte
	for _, b := range data {
		c ^= b
	}
	return c
}

// EngineStatus is the decoded engine-status payload, emitted at 10 Hz.
type EngineStatus struct {
	RPM                 uint16
	MapKpaX10           uint16
	CLTCx10             int16
	IATCx10             int16
	TPSPctX10           uint16
	VBatMv              uint16
	SyncStatus          byte
	LimpMode            byte
	AdvanceDegX10       uint16
	PWUs                uint16
	LambdaTargetX1000   uint16
	LambdaMeasuredX1000 uint16
	TimestampMs         uint32
}

const engineStatusPayloadLen = 2 + 2 + 2 + 2 + 2 + 2 + 1 + 1 + 2 + 2 + 2 + 2 + 4

// EncodeEngineStatus packs an EngineStatus into its byte-exact payload
// layout and wraps it in a frame.
func EncodeEngineStatus(msgID uint16, s EngineStatus) ([]byte, error) {
	p := make([]byte, engineStatusPayloadLen)
	i := 0
	binary.BigEndian.PutUint16(p[i:], s.RPM)
	i += 2
	binary.BigEndian.PutUint16(p[i:], s.MapKpaX10)
	i += 2
	binary.BigEndian.PutUint16(p[i:], uint16(s.CLTCx10))
	i += 2
	binary.BigEndian.PutUint16(p[i:], uint16(s.IATCx10))
	i += 2
	binary.BigEndian.PutUint16(p[i:], s.TPSPctX10)
	i += 2
	binary.BigEndian.PutUint16(p[i:], s.VBatMv)
	i += 2
	p[i] = s.SyncStatus
	i++
	p[i] = s.LimpMode
	i++
	binary.BigEndian.PutUint16(p[i:], s.AdvanceDegX10)
	i += 2
	binary.BigEndian.PutUint16(p[i:], s.PWUs)
	i += 2
	binary.BigEndian.PutUint16(p[i:], s.LambdaTargetX1000)
	i += 2
	binary.BigEndian.PutUint16(p[i:], s.LambdaMeasuredX1000)
	i += 2
	binary.BigEndian.PutUint32(p[i:], s.TimestampMs)

	return Encode(MsgEngineStatus, msgID, 0, p)
}

// DecodeEngineStatus unpacks an engine-status payload. Intended for
// test round-trips and for tuning-tool consumers of the wire format.
func DecodeEngineStatus(payload []byte) (EngineStatus, error) {
	if len(payload) != engineStatusPayloadLen {
		return EngineStatus{}, fmt.Errorf("telemetry: engine-status payload length %d, want %d", len(payload), engineStatusPayloadLen)
	}
	var s EngineStatus
	i := 0
	s.RPM = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.MapKpaX10 = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.CLTCx10 = int16(binary.BigEndian.Uint16(payload[i:]))
	i += 2
	s.IATCx10 = int16(binary.BigEndian.Uint16(payload[i:]))
	i += 2
	s.TPSPctX10 = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.VBatMv = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.SyncStatus = payload[i]
	i++
	s.LimpMode = payload[i]
	i++
	s.AdvanceDegX10 = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.PWUs = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.LambdaTargetX1000 = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.LambdaMeasuredX1000 = binary.BigEndian.Uint16(payload[i:])
	i += 2
	s.TimestampMs = binary.BigEndian.Uint32(payload[i:])
	return s, nil
}
