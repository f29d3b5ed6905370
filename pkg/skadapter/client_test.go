package skadapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// meterResponder extends the join console with ECHONET Lite property
// answers. It parses the binary frame appended to SKSENDTO to learn the
// transaction id and the requested properties.
type meterResponder struct {
	meterConsole
	answer func(tid uint16, epcs []byte) []string
}

func (m *meterResponder) script(written []byte) []string {
	if !strings.HasPrefix(string(written), "SKSENDTO") {
		return m.meterConsole.script(written)
	}
	idx := bytes.Index(written, []byte{0x10, 0x81})
	if idx < 0 {
		return []string{"FAIL ER05"}
	}
	frame := written[idx:]
	tid := binary.BigEndian.Uint16(frame[2:4])
	opc := int(frame[11])
	var epcs []byte
	pos := 12
	for i := 0; i < opc; i++ {
		epcs = append(epcs, frame[pos])
		pos += 2 + int(frame[pos+1])
	}
	lines := []string{"EVENT 21 FE80:0000:0000:0000:021D:1290:1234:5678 0 00", "OK"}
	if m.answer != nil {
		lines = append(lines, m.answer(tid, epcs)...)
	}
	return lines
}

func erxudpLine(frame []byte) string {
	return fmt.Sprintf(
		"ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:1234:5678:90AB:CDEF 0E1A 0E1A 001D129012345678 38 1 0 %04X %s",
		len(frame), strings.ToUpper(hex.EncodeToString(frame)),
	)
}

func newTestClient(t *testing.T, responder *meterResponder) (*BRouteClient, *fakePort) {
	t.Helper()
	port := newFakePort(responder.script)
	tr := NewTransport(port, nil)
	t.Cleanup(func() { tr.Close() })

	c := NewBRouteClient(tr, strings.Repeat("0", 32), strings.Repeat("A", 12), "", nil)
	require.NoError(t, c.Connect(context.Background()))
	return c, port
}

func TestGetInstantReading(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			return []string{erxudpLine(buildResponse(tid, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x01, 0xC2}},   // 450 W
				{EPC: EPCInstantCurrent, EDT: []byte{0x00, 0x17, 0x00, 0x17}}, // 2.3 A each
			}))}
		},
	}
	c, _ := newTestClient(t, responder)

	reading, err := c.GetInstantReading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(450), reading.PowerWatt)
	assert.InDelta(t, 2.3, reading.CurrentRAmp, 1e-9)
	assert.InDelta(t, 2.3, reading.CurrentTAmp, 1e-9)
	assert.False(t, reading.Timestamp.IsZero())
}

func TestGetInstantReadingRecordsRSSI(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			return []string{erxudpLine(buildResponse(tid, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x01, 0xC2}},
			}))}
		},
	}
	c, _ := newTestClient(t, responder)

	_, err := c.GetInstantReading(context.Background())
	require.NoError(t, err)

	info := c.GetConnectionInfo()
	assert.True(t, info.HasRSSI)
	assert.Equal(t, -51, info.RSSI) // 0x38 - 107
	assert.Equal(t, QualityExcellent, info.Quality)
	assert.Equal(t, "21", info.Channel)
}

func TestMismatchedTransactionIsDiscarded(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			stale := buildResponse(tid+100, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x00, 0x63}},
			})
			good := buildResponse(tid, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x03, 0xE8}},
			})
			return []string{erxudpLine(stale), erxudpLine(good)}
		},
	}
	c, _ := newTestClient(t, responder)

	reading, err := c.GetInstantReading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1000), reading.PowerWatt, "stale transaction must not satisfy the request")
}

func TestMulticastChatterIsIgnored(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			announce := buildResponse(tid, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x00, 0x01}},
			})
			multicast := fmt.Sprintf(
				"ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FF02:0000:0000:0000:0000:0000:0000:0001 0E1A 0E1A 001D129012345678 38 1 0 %04X %s",
				len(announce), strings.ToUpper(hex.EncodeToString(announce)),
			)
			good := buildResponse(tid, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x02, 0x00}},
			})
			return []string{multicast, erxudpLine(good)}
		},
	}
	c, _ := newTestClient(t, responder)

	reading, err := c.GetInstantReading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(512), reading.PowerWatt)
}

func TestSessionExpiryEventAbortsRequest(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			return []string{"EVENT 29 FE80:0000:0000:0000:021D:1290:1234:5678"}
		},
	}
	c, _ := newTestClient(t, responder)

	_, err := c.GetInstantReading(context.Background())
	assert.ErrorIs(t, err, ErrSessionLost)
}

func TestSessionExpiryWhileIdleFailsNextRequest(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			return []string{erxudpLine(buildResponse(tid, 0x72, []Property{
				{EPC: EPCInstantPower, EDT: []byte{0x00, 0x00, 0x01, 0xC2}},
			}))}
		},
	}
	c, port := newTestClient(t, responder)

	// expiry arrives between polls, while no request is pending
	port.pushLine("EVENT 29 FE80:0000:0000:0000:021D:1290:1234:5678")
	time.Sleep(50 * time.Millisecond)

	_, err := c.GetInstantReading(context.Background())
	assert.ErrorIs(t, err, ErrSessionLost)
}

func TestSendFailureEventAbortsRequest(t *testing.T) {
	responder := &meterResponder{}
	responder.answer = func(tid uint16, epcs []byte) []string {
		return []string{"EVENT 21 FE80:0000:0000:0000:021D:1290:1234:5678 0 01"}
	}
	c, _ := newTestClient(t, responder)

	_, err := c.GetInstantReading(context.Background())
	assert.ErrorIs(t, err, ErrSessionLost)
}

func TestGetInstantReadingBeforeConnect(t *testing.T) {
	port := newFakePort(nil)
	tr := NewTransport(port, nil)
	defer tr.Close()

	c := NewBRouteClient(tr, strings.Repeat("0", 32), strings.Repeat("A", 12), "", nil)
	_, err := c.GetInstantReading(context.Background())
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestGetEnergyReading(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			var props []Property
			for _, epc := range epcs {
				switch epc {
				case EPCEnergyUnit:
					props = append(props, Property{EPC: epc, EDT: []byte{0x01}})
				case EPCCumulativeEnergy:
					props = append(props, Property{EPC: epc, EDT: []byte{0x00, 0x00, 0x29, 0x1E}}) // 10526
				case EPCCumulativeEnergyRev:
					props = append(props, Property{EPC: epc, EDT: []byte{0x00, 0x00, 0x04, 0xD2}}) // 1234
				case EPCFixedCumulativeEnergy:
					props = append(props, Property{EPC: epc, EDT: []byte{
						0x07, 0xEA, 0x08, 0x1E, 0x0C, 0x1E, 0x00,
						0x00, 0x00, 0x29, 0x00,
					}})
				}
			}
			return []string{erxudpLine(buildResponse(tid, 0x72, props))}
		},
	}
	c, _ := newTestClient(t, responder)

	reading, err := c.GetEnergyReading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.1, reading.UnitKWh)
	assert.InDelta(t, 1052.6, reading.CumulativeKWh, 1e-9)
	assert.InDelta(t, 123.4, reading.CumulativeReverseKWh, 1e-9)
	if assert.NotNil(t, reading.Fixed) {
		assert.InDelta(t, 1049.6, reading.Fixed.EnergyKWh, 1e-9)
		assert.Equal(t, 30, reading.Fixed.Timestamp.Minute())
	}

	// the unit coefficient is cached, later readings skip the 0xE1 request
	_, err = c.GetEnergyReading(context.Background())
	require.NoError(t, err)
}

func TestGetEnergyReadingDefaultsUnitOnFailure(t *testing.T) {
	responder := &meterResponder{
		answer: func(tid uint16, epcs []byte) []string {
			if len(epcs) == 1 && epcs[0] == EPCEnergyUnit {
				// Get_SNA with no value, the meter refuses the property
				return []string{erxudpLine(buildResponse(tid, 0x52, []Property{
					{EPC: EPCEnergyUnit, EDT: nil},
				}))}
			}
			var props []Property
			for _, epc := range epcs {
				switch epc {
				case EPCCumulativeEnergy, EPCCumulativeEnergyRev:
					props = append(props, Property{EPC: epc, EDT: []byte{0x00, 0x00, 0x00, 0x64}})
				case EPCFixedCumulativeEnergy:
					props = append(props, Property{EPC: epc, EDT: []byte{
						0x07, 0xEA, 0x08, 0x1E, 0x0C, 0x00, 0x00,
						0x00, 0x00, 0x00, 0x64,
					}})
				}
			}
			return []string{erxudpLine(buildResponse(tid, 0x72, props))}
		},
	}
	c, _ := newTestClient(t, responder)

	reading, err := c.GetEnergyReading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultEnergyUnitKWh, reading.UnitKWh)
	assert.InDelta(t, 10.0, reading.CumulativeKWh, 1e-9)
}
