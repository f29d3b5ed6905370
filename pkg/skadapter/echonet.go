package skadapter

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ECHONET Lite property codes of the low-voltage smart meter object.
const (
	EPCEnergyUnit            byte = 0xE1 // cumulative energy unit coefficient
	EPCCumulativeEnergy      byte = 0xE0 // cumulative energy, forward
	EPCCumulativeEnergyRev   byte = 0xE3 // cumulative energy, reverse
	EPCInstantPower          byte = 0xE7 // instant power, signed W
	EPCInstantCurrent        byte = 0xE8 // instant current, R/T phases
	EPCFixedCumulativeEnergy byte = 0xEA // cumulative energy at 30-min boundary
)

const (
	esvGet    byte = 0x62
	esvSetRes byte = 0x71
	esvGetRes byte = 0x72
	esvGetSNA byte = 0x52
)

// EchonetPort is the UDP port of the ECHONET Lite service.
const EchonetPort = 0x0E1A

var (
	frameHeader    = [2]byte{0x10, 0x81}
	seojController = [3]byte{0x05, 0xFF, 0x01}
	deojMeter      = [3]byte{0x02, 0x88, 0x01}
)

// Frame is a decoded ECHONET Lite response frame.
type Frame struct {
	TID        uint16
	ESV        byte
	Properties []Property
}

type Property struct {
	EPC byte
	EDT []byte
}

func (f *Frame) Property(epc byte) ([]byte, bool) {
	for _, p := range f.Properties {
		if p.EPC == epc {
			return p.EDT, true
		}
	}
	return nil, false
}

// EncodeGetRequest builds a Get frame addressing the smart meter object,
// one property entry per requested EPC.
func EncodeGetRequest(tid uint16, epcs ...byte) []byte {
	frame := make([]byte, 0, 12+2*len(epcs))
	frame = append(frame, frameHeader[0], frameHeader[1])
	frame = binary.BigEndian.AppendUint16(frame, tid)
	frame = append(frame, seojController[:]...)
	frame = append(frame, deojMeter[:]...)
	frame = append(frame, esvGet, byte(len(epcs)))
	for _, epc := range epcs {
		frame = append(frame, epc, 0x00)
	}
	return frame
}

// DecodeFrame parses a response frame. It validates the header and the ESV
// and walks the property list; anything malformed is a ProtocolError, never
// a value.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 12 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame too short (%d bytes)", len(data))}
	}
	if data[0] != frameHeader[0] || data[1] != frameHeader[1] {
		return nil, &ProtocolError{Reason: "bad frame header"}
	}
	esv := data[10]
	if esv != esvGetRes && esv != esvSetRes && esv != esvGetSNA {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected ESV 0x%02X", esv)}
	}
	frame := &Frame{
		TID: binary.BigEndian.Uint16(data[2:4]),
		ESV: esv,
	}
	opc := int(data[11])
	pos := 12
	for i := 0; i < opc; i++ {
		if pos+2 > len(data) {
			return nil, &ProtocolError{Reason: "truncated property header"}
		}
		epc := data[pos]
		pdc := int(data[pos+1])
		pos += 2
		if pos+pdc > len(data) {
			return nil, &ProtocolError{Reason: "truncated property value"}
		}
		frame.Properties = append(frame.Properties, Property{
			EPC: epc,
			EDT: data[pos : pos+pdc],
		})
		pos += pdc
	}
	return frame, nil
}

// ParseInstantPower decodes EPC 0xE7: signed 32-bit watts.
func ParseInstantPower(edt []byte) (int32, error) {
	if len(edt) != 4 {
		return 0, &ProtocolError{Reason: fmt.Sprintf("instant power EDT length %d", len(edt))}
	}
	return int32(binary.BigEndian.Uint32(edt)), nil
}

// ParseInstantCurrent decodes EPC 0xE8: two signed 16-bit values in 0.1 A
// units. 0x7FFE marks an absent T phase on single-phase meters and decodes
// to zero.
func ParseInstantCurrent(edt []byte) (r, t float64, err error) {
	if len(edt) != 4 {
		return 0, 0, &ProtocolError{Reason: fmt.Sprintf("instant current EDT length %d", len(edt))}
	}
	r = currentValue(int16(binary.BigEndian.Uint16(edt[0:2])))
	t = currentValue(int16(binary.BigEndian.Uint16(edt[2:4])))
	return r, t, nil
}

func currentValue(raw int16) float64 {
	if raw == 0x7FFE {
		return 0
	}
	return float64(raw) * 0.1
}

// DefaultEnergyUnitKWh is assumed when the meter's unit property cannot be
// read. 0.1 kWh is by far the most common deployment value.
const DefaultEnergyUnitKWh = 0.1

// ParseEnergyUnit decodes EPC 0xE1 into a kWh coefficient.
func ParseEnergyUnit(edt []byte) (float64, error) {
	if len(edt) != 1 {
		return 0, &ProtocolError{Reason: fmt.Sprintf("energy unit EDT length %d", len(edt))}
	}
	units := map[byte]float64{
		0x00: 1.0,
		0x01: 0.1,
		0x02: 0.01,
		0x03: 0.001,
		0x04: 0.0001,
		0x0A: 10.0,
		0x0B: 100.0,
		0x0C: 1000.0,
		0x0D: 10000.0,
	}
	unit, ok := units[edt[0]]
	if !ok {
		return 0, &ProtocolError{Reason: fmt.Sprintf("unknown energy unit code 0x%02X", edt[0])}
	}
	return unit, nil
}

// ParseCumulativeEnergy decodes EPC 0xE0/0xE3: unsigned 32-bit scaled by
// the unit coefficient. The meter reports 0xFFFFFFFE on counter overflow.
func ParseCumulativeEnergy(edt []byte, unitKWh float64) (float64, error) {
	if len(edt) != 4 {
		return 0, &ProtocolError{Reason: fmt.Sprintf("cumulative energy EDT length %d", len(edt))}
	}
	raw := binary.BigEndian.Uint32(edt)
	if raw == 0xFFFFFFFE {
		return 0, ErrEnergyOverflow
	}
	return float64(raw) * unitKWh, nil
}

// ParseFixedEnergy decodes EPC 0xEA: timestamp (year u16, month, day, hour,
// minute, second) followed by the unsigned 32-bit counter value.
func ParseFixedEnergy(edt []byte, unitKWh float64) (*FixedEnergy, error) {
	if len(edt) != 11 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("fixed energy EDT length %d", len(edt))}
	}
	raw := binary.BigEndian.Uint32(edt[7:11])
	if raw == 0xFFFFFFFE {
		return nil, ErrEnergyOverflow
	}
	ts := time.Date(
		int(binary.BigEndian.Uint16(edt[0:2])),
		time.Month(edt[2]),
		int(edt[3]),
		int(edt[4]), int(edt[5]), int(edt[6]),
		0, time.Local,
	)
	return &FixedEnergy{
		Timestamp: ts,
		EnergyKWh: float64(raw) * unitKWh,
	}, nil
}
