package skadapter

import (
	"context"
	"time"
)

// MeterDataSource is the contract shared by the real B-route client and the
// mock source. Exactly one implementation is active per process.
type MeterDataSource interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
	GetInstantReading(ctx context.Context) (*InstantReading, error)
	GetEnergyReading(ctx context.Context) (*EnergyReading, error)
	GetConnectionInfo() ConnectionInfo
}

// InstantReading is one fast-cycle sample. Immutable once created.
type InstantReading struct {
	PowerWatt   int32
	CurrentRAmp float64
	CurrentTAmp float64
	Timestamp   time.Time
}

// EnergyReading is one slow-cycle sample of the meter's cumulative counters.
type EnergyReading struct {
	CumulativeKWh        float64
	CumulativeReverseKWh float64
	Fixed                *FixedEnergy
	UnitKWh              float64
	Timestamp            time.Time
}

// FixedEnergy is the meter's cumulative counter frozen at the last
// 30-minute boundary.
type FixedEnergy struct {
	Timestamp time.Time
	EnergyKWh float64
}

// Session holds the radio parameters of an established B-route link.
// Published by the join engine, read-only afterwards.
type Session struct {
	Channel       string
	PanID         string
	MacAddr       string
	IPv6Addr      string
	EstablishedAt time.Time
}

type ConnectionInfo struct {
	Channel  string
	PanID    string
	MacAddr  string
	IPv6Addr string
	RSSI     int
	HasRSSI  bool
	Quality  string
}

const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// RSSIQuality maps a dBm value to a coarse quality band.
func RSSIQuality(dbm int) string {
	switch {
	case dbm >= -60:
		return QualityExcellent
	case dbm >= -70:
		return QualityGood
	case dbm >= -80:
		return QualityFair
	default:
		return QualityPoor
	}
}
