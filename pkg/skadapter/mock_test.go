package skadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPowerCurveShape(t *testing.T) {
	m := NewMockMeterSource(nil)
	day := time.Date(2026, time.August, 30, 0, 0, 0, 0, time.Local)

	var nightSum, middaySum float64
	var nightN, middayN int
	for minute := 0; minute < 24*60; minute += 5 {
		ts := day.Add(time.Duration(minute) * time.Minute)
		p := m.basePowerAt(ts)
		assert.GreaterOrEqual(t, p, 0.0, "power must never go negative at %s", ts)
		switch h := ts.Hour(); {
		case h >= 1 && h < 5:
			nightSum += p
			nightN++
		case h >= 11 && h < 14:
			middaySum += p
			middayN++
		}
	}
	assert.Less(t, nightSum/float64(nightN), middaySum/float64(middayN),
		"overnight average should sit below the midday average")
}

func TestMockJitterStaysNonNegative(t *testing.T) {
	m := NewMockMeterSource(nil)
	ts := time.Date(2026, time.August, 30, 3, 0, 0, 0, time.Local)
	for i := 0; i < 500; i++ {
		assert.GreaterOrEqual(t, m.powerAt(ts), 0.0)
	}
}

func TestMockInstantReading(t *testing.T) {
	m := NewMockMeterSource(nil)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	reading, err := m.GetInstantReading(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reading.PowerWatt, int32(0))
	assert.GreaterOrEqual(t, reading.CurrentRAmp, 0.0)
	assert.False(t, reading.Timestamp.IsZero())
}

func TestMockIntegrationAdvancesCounters(t *testing.T) {
	m := NewMockMeterSource(nil)
	clock := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.Local)
	m.now = func() time.Time { return clock }

	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	before, err := m.GetEnergyReading(context.Background())
	require.NoError(t, err)

	// one simulated hour at midday: consumption and solar export both move
	clock = clock.Add(time.Hour)
	m.integrate()

	after, err := m.GetEnergyReading(context.Background())
	require.NoError(t, err)
	assert.Greater(t, after.CumulativeKWh, before.CumulativeKWh)
	assert.Greater(t, after.CumulativeReverseKWh, before.CumulativeReverseKWh)

	// the fixed snapshot moved to the new half-hour boundary
	require.NotNil(t, after.Fixed)
	assert.Equal(t, clock.Truncate(30*time.Minute), after.Fixed.Timestamp)
}

func TestMockConnectionInfoQuality(t *testing.T) {
	m := NewMockMeterSource(nil)
	info := m.GetConnectionInfo()
	assert.True(t, info.HasRSSI)
	assert.NotEmpty(t, info.Quality)
	assert.Equal(t, RSSIQuality(info.RSSI), info.Quality)
}

func TestRSSIQualityBands(t *testing.T) {
	assert.Equal(t, QualityExcellent, RSSIQuality(-50))
	assert.Equal(t, QualityExcellent, RSSIQuality(-60))
	assert.Equal(t, QualityGood, RSSIQuality(-65))
	assert.Equal(t, QualityFair, RSSIQuality(-75))
	assert.Equal(t, QualityPoor, RSSIQuality(-90))
}
