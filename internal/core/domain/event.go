package domain

import (
	"fmt"

	"wisun2web/pkg/skadapter"
)

const (
	SENSOR_ID_INSTANT_POWER     = "instant_power"
	SENSOR_ID_CURRENT_R         = "current_r"
	SENSOR_ID_CURRENT_T         = "current_t"
	SENSOR_ID_CUMULATIVE_ENERGY = "cumulative_energy"
	SENSOR_ID_REVERSE_ENERGY    = "cumulative_energy_reverse"
	SENSOR_ID_FIXED_ENERGY      = "fixed_energy"
	SENSOR_ID_LINK_STATE        = "link_state"
	SENSOR_ID_RSSI              = "rssi"
	SENSOR_ID_RSSI_QUALITY      = "rssi_quality"
)

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// InstantReadingSnapshotEvent carries the full fast-cycle sample for
// streaming consumers (WebSocket feed) that want readings, not sensors.
type InstantReadingSnapshotEvent struct {
	Reading    skadapter.InstantReading
	Connection skadapter.ConnectionInfo
	LinkState  LinkState
}
