package events

import (
	. "wisun2web/internal/core/domain"
	"wisun2web/pkg/skadapter"
)

func InstantReadingToUpdateEvents(r *skadapter.InstantReading) []any {
	var events []any

	// Instant power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_INSTANT_POWER,
		},
		Value:    float64(r.PowerWatt),
		Decimals: 0,
	})
	// Phase currents
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CURRENT_R,
		},
		Value:    r.CurrentRAmp,
		Decimals: 1,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CURRENT_T,
		},
		Value:    r.CurrentTAmp,
		Decimals: 1,
	})

	return events
}

func EnergyReadingToUpdateEvents(r *skadapter.EnergyReading) []any {
	var events []any

	// Cumulative energy, forward and reverse
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CUMULATIVE_ENERGY,
		},
		Value:    r.CumulativeKWh,
		Decimals: energyDecimals(r.UnitKWh),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_REVERSE_ENERGY,
		},
		Value:    r.CumulativeReverseKWh,
		Decimals: energyDecimals(r.UnitKWh),
	})
	// Fixed 30-minute snapshot
	if r.Fixed != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_FIXED_ENERGY,
			},
			Value:    r.Fixed.EnergyKWh,
			Decimals: energyDecimals(r.UnitKWh),
		})
	}

	return events
}

func LinkStateToUpdateEvents(state LinkState) []any {
	var events []any

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_STATE,
		},
		Value: state.String(),
	})
	events = append(events, BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_STATE,
		},
		Value: state.Usable(),
	})

	return events
}

func ConnectionInfoToUpdateEvents(info skadapter.ConnectionInfo) []any {
	var events []any
	if !info.HasRSSI {
		return events
	}

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RSSI,
		},
		Value:    float64(info.RSSI),
		Decimals: 0,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RSSI_QUALITY,
		},
		Value: info.Quality,
	})

	return events
}

// energyDecimals matches the meter's counter resolution so MQTT payloads
// do not invent precision.
func energyDecimals(unitKWh float64) uint {
	switch {
	case unitKWh >= 1:
		return 0
	case unitKWh >= 0.1:
		return 1
	case unitKWh >= 0.01:
		return 2
	case unitKWh >= 0.001:
		return 3
	default:
		return 4
	}
}
