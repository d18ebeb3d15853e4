// Package canclient implements the wideband-lambda CAN client: an
// external collaborator that decodes AFR frames
// from one of three wideband-lambda controller protocols and answers
// in-band tuning commands (EOIT calibration, MAP-table mode, MAP-table
// cell set, diagnostic/calibration reads). It has no real-time
// obligation — frames arrive asynchronously off an 11-bit, 500 kbit/s
// CAN bus and are decoded at whatever rate they arrive.
package canclient

import (
	"encoding/binary"
	"log"
	"sync"
)

// Frame is the transport-agnostic shape this package consumes: a CAN
// bus binding (see DESIGN.md for why none is vendored here) is
// expected to deliver frames of this shape from whatever
// socketcan/USB-CAN interface the deployment uses.
type Frame struct {
	ID     uint32
	DLC    int
	Data   [8]byte
	TimeUs float64
}

// protoSpec identifies one of the three supported wideband protocols
// by its (CAN ID, DLC) tuple, with the AFR field's byte offset and the
// offset of the status byte whose low bit marks the reading valid.
type protoSpec struct {
	name       string
	canID      uint32
	dlc        int
	afrOffset  int
	statusByte int
}

var knownProtocols = []protoSpec{
	{name: "aem-x-series", canID: 0x180, dlc: 8, afrOffset: 0, statusByte: 2},
	{name: "innovate-lc2", canID: 0x2A0, dlc: 4, afrOffset: 0, statusByte: 2},
	{name: "14point7-spartan", canID: 0x3E8, dlc: 6, afrOffset: 2, statusByte: 4},
}

// Reading is one decoded wideband-lambda sample.
type Reading struct {
	Protocol string
	AFRRaw   uint16
	Lambda   float64
	Valid    bool
	TimeUs   float64
}

const stoichRatio = 14.7

// Client decodes frames as they arrive and answers in-band tuning
// requests. All state is guarded by a single mutex; nothing here runs
// on the tooth-edge core.
type Client struct {
	mu         sync.Mutex
	latest     Reading
	eoit       EOITCalibration
	mapTableOn bool
	mapTable   [16][16]float64
	reqID      uint32
	respID     uint32
	sendFn     func(Frame)
}

// EOITCalibration is the 3-value, ×100-scaled calibration set by the
// "set EOIT calibration" in-band command.
type EOITCalibration struct {
	BoundaryX100 int16
	NormalX100   int16
	FallbackX100 int16
}

// New creates a Client. reqID/respID are the reserved CAN IDs for
// in-band tuning commands and their replies; sendFn transmits a
// response frame on the bus (nil is valid for decode-only use, e.g.
// in tests).
func New(reqID, respID uint32, sendFn func(Frame)) *Client {
	return &Client{reqID: reqID, respID: respID, sendFn: sendFn}
}

// OnFrame processes one incoming CAN frame: either a wideband-lambda
// broadcast from a known protocol, or an in-band tuning command on the
// reserved request ID.
func (c *Client) OnFrame(f Frame) {
	if f.ID == c.reqID {
		c.handleCommand(f)
		return
	}
	c.decodeWideband(f)
}

// decodeWideband matches the frame's (ID, DLC) against the known
// protocol table and, on a match, decodes and publishes a Reading.
func (c *Client) decodeWideband(f Frame) {
	spec, ok := matchProtocol(f.ID, f.DLC)
	if !ok {
		return
	}

	afrRaw := binary.BigEndian.Uint16(f.Data[spec.afrOffset : spec.afrOffset+2])
	valid := f.Data[spec.statusByte]&1 != 0

	r := Reading{
		Protocol: spec.name,
		AFRRaw:   afrRaw,
		Lambda:   float64(afrRaw) / stoichRatio,
		Valid:    valid,
		TimeUs:   f.TimeUs,
	}

	c.mu.Lock()
	c.latest = r
	c.mu.Unlock()
}

func matchProtocol(id uint32, dlc int) (protoSpec, bool) {
	for _, p := range knownProtocols {
		if p.canID == id && p.dlc == dlc {
			return p, true
		}
	}
	return protoSpec{}, false
}

// Latest returns the most recently decoded wideband reading.
func (c *Client) Latest() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// In-band tuning command bytes (first byte of the request payload).
const (
	cmdSetEOITCalibration byte = 0x01
	cmdSetMapTableMode    byte = 0x02
	cmdSetMapTableCell    byte = 0x03
	cmdGetDiagnostic      byte = 0x04
	cmdGetCalibration     byte = 0x05
)

// Response status bytes.
const (
	statusOK       byte = 0x00
	statusBadFrame byte = 0x01
)

func (c *Client) handleCommand(f Frame) {
	if f.DLC < 1 {
		return
	}
	cmd := f.Data[0]

	switch cmd {
	case cmdSetEOITCalibration:
		c.setEOITCalibration(f)
	case cmdSetMapTableMode:
		c.setMapTableMode(f)
	case cmdSetMapTableCell:
		c.setMapTableCell(f)
	case cmdGetDiagnostic:
		c.replyDiagnostic(cmd)
	case cmdGetCalibration:
		c.replyCalibration(cmd)
	default:
		log.Printf("[canclient] unknown command byte 0x%02X", cmd)
		c.reply(cmd, statusBadFrame, nil)
	}
}

// setEOITCalibration decodes 3 big-endian i16 values (×100-scaled)
// starting at payload offset 1.
func (c *Client) setEOITCalibration(f Frame) {
	if f.DLC < 7 {
		c.reply(cmdSetEOITCalibration, statusBadFrame, nil)
		return
	}
	cal := EOITCalibration{
		BoundaryX100: int16(binary.BigEndian.Uint16(f.Data[1:3])),
		NormalX100:   int16(binary.BigEndian.Uint16(f.Data[3:5])),
		FallbackX100: int16(binary.BigEndian.Uint16(f.Data[5:7])),
	}
	c.mu.Lock()
	c.eoit = cal
	c.mu.Unlock()
	c.reply(cmdSetEOITCalibration, statusOK, nil)
}

func (c *Client) setMapTableMode(f Frame) {
	if f.DLC < 2 {
		c.reply(cmdSetMapTableMode, statusBadFrame, nil)
		return
	}
	on := f.Data[1] != 0
	c.mu.Lock()
	c.mapTableOn = on
	c.mu.Unlock()
	c.reply(cmdSetMapTableMode, statusOK, nil)
}

// setMapTableCell decodes (rpm_idx, load_idx, normal_value) where
// normal_value is a big-endian i16 ×100-scaled fuel correction.
func (c *Client) setMapTableCell(f Frame) {
	if f.DLC < 5 {
		c.reply(cmdSetMapTableCell, statusBadFrame, nil)
		return
	}
	rpmIdx := int(f.Data[1])
	loadIdx := int(f.Data[2])
	value := float64(int16(binary.BigEndian.Uint16(f.Data[3:5]))) / 100.0

	if rpmIdx < 0 || rpmIdx >= 16 || loadIdx < 0 || loadIdx >= 16 {
		c.reply(cmdSetMapTableCell, statusBadFrame, nil)
		return
	}

	c.mu.Lock()
	c.mapTable[rpmIdx][loadIdx] = value
	c.mu.Unlock()
	c.reply(cmdSetMapTableCell, statusOK, nil)
}

func (c *Client) replyDiagnostic(cmd byte) {
	c.mu.Lock()
	r := c.latest
	c.mu.Unlock()

	payload := make([]byte, 3)
	payload[0] = boolByte(r.Valid)
	binary.BigEndian.PutUint16(payload[1:3], r.AFRRaw)
	c.reply(cmd, statusOK, payload)
}

func (c *Client) replyCalibration(cmd byte) {
	c.mu.Lock()
	cal := c.eoit
	c.mu.Unlock()

	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload[0:2], uint16(cal.BoundaryX100))
	binary.BigEndian.PutUint16(payload[2:4], uint16(cal.NormalX100))
	binary.BigEndian.PutUint16(payload[4:6], uint16(cal.FallbackX100))
	c.reply(cmd, statusOK, payload)
}

// reply transmits a response frame on respID: {cmd, status, payload...}.
func (c *Client) reply(cmd, status byte, payload []byte) {
	if c.sendFn == nil {
		return
	}
	var data [8]byte
	data[0] = cmd
	data[1] = status
	n := copy(data[2:], payload)

	c.sendFn(Frame{ID: c.respID, DLC: 2 + n, Data: data})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// MapTableCell returns the current value at (rpmIdx, loadIdx).
func (c *Client) MapTableCell(rpmIdx, loadIdx int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapTable[rpmIdx][loadIdx]
}

// MapTableEnabled reports whether MAP-table mode is currently on.
func (c *Client) MapTableEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapTableOn
}

// EOIT returns the current EOIT calibration.
func (c *Client) EOIT() EOITCalibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eoit
}
