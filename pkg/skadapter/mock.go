package skadapter

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/reugn/go-quartz/quartz"
	log "github.com/sirupsen/logrus"
)

const mockIntegrateInterval = 30 * time.Second

// MockMeterSource is a drop-in MeterDataSource that needs no adapter
// hardware. Instant power follows a smooth time-of-day curve with bounded
// jitter; cumulative energy is integrated from the emitted power by a
// scheduled background job.
type MockMeterSource struct {
	logger *log.Logger
	now    func() time.Time

	mu            sync.Mutex
	connected     bool
	cumulativeKWh float64
	reverseKWh    float64
	fixed         FixedEnergy
	lastIntegrate time.Time

	sched  quartz.Scheduler
	cancel context.CancelFunc
}

var _ MeterDataSource = (*MockMeterSource)(nil)

func NewMockMeterSource(logger *log.Logger) *MockMeterSource {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &MockMeterSource{
		logger: logger,
		now:    time.Now,
	}
}

func (m *MockMeterSource) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}

	now := m.now()
	// seed the counters as if the meter had been running since the 1st of
	// the month, roughly 20 kWh consumed and 5 kWh sold per day
	day := float64(now.Day())
	m.cumulativeKWh = day*20.0 + rand.Float64()*5.0
	m.reverseKWh = day*5.0 + rand.Float64()*2.0
	m.lastIntegrate = now
	m.fixed = FixedEnergy{
		Timestamp: lastHalfHourBoundary(now),
		EnergyKWh: roundKWh(m.cumulativeKWh - rand.Float64()),
	}

	m.sched = quartz.NewStdScheduler()
	schedCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.sched.Start(schedCtx)
	job := quartz.NewJobDetail(&integrateJob{src: m}, quartz.NewJobKey("mock_energy_integrator"))
	if err := m.sched.ScheduleJob(job, quartz.NewSimpleTrigger(mockIntegrateInterval)); err != nil {
		cancel()
		return err
	}

	m.connected = true
	m.logger.Info("mock meter source connected")
	return nil
}

func (m *MockMeterSource) Reconnect(ctx context.Context) error {
	return m.Connect(ctx)
}

func (m *MockMeterSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.sched.Stop()
	m.cancel()
	m.connected = false
	m.logger.Info("mock meter source disconnected")
	return nil
}

func (m *MockMeterSource) GetInstantReading(ctx context.Context) (*InstantReading, error) {
	now := m.now()
	power := m.powerAt(now)
	// a household meter reports at 100 V per phase, load split evenly
	current := math.Round(power/200.0*10) / 10
	return &InstantReading{
		PowerWatt:   int32(power),
		CurrentRAmp: current,
		CurrentTAmp: current,
		Timestamp:   now,
	}, nil
}

func (m *MockMeterSource) GetEnergyReading(ctx context.Context) (*EnergyReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fixed := m.fixed
	return &EnergyReading{
		CumulativeKWh:        roundKWh(m.cumulativeKWh),
		CumulativeReverseKWh: roundKWh(m.reverseKWh),
		Fixed:                &fixed,
		UnitKWh:              0.1,
		Timestamp:            m.now(),
	}, nil
}

func (m *MockMeterSource) GetConnectionInfo() ConnectionInfo {
	rssi := -80 + rand.IntN(31)
	return ConnectionInfo{
		Channel:  "33",
		PanID:    "MOCK",
		MacAddr:  "MOCK00000001",
		IPv6Addr: "FE80:0000:0000:0000:0000:0000:0000:0001",
		RSSI:     rssi,
		HasRSSI:  true,
		Quality:  RSSIQuality(rssi),
	}
}

// powerAt synthesizes instant power: a base load plus meal-time bumps,
// with ±10% jitter. Never negative.
func (m *MockMeterSource) powerAt(t time.Time) float64 {
	power := m.basePowerAt(t) * (0.9 + rand.Float64()*0.2)
	if power < 0 {
		return 0
	}
	return power
}

// basePowerAt is the deterministic time-of-day curve: overnight trough,
// breakfast/lunch bumps and a broad evening peak.
func (m *MockMeterSource) basePowerAt(t time.Time) float64 {
	h := float64(t.Hour()) + float64(t.Minute())/60.0
	power := 180.0
	power += gaussianBump(h, 7.2, 1.4, 520)
	power += gaussianBump(h, 12.6, 1.1, 430)
	power += gaussianBump(h, 19.3, 1.8, 780)
	return power
}

func gaussianBump(h, center, width, height float64) float64 {
	d := h - center
	return height * math.Exp(-(d*d)/(2*width*width))
}

// integrate advances the cumulative counters by the power emitted since
// the last tick and refreshes the fixed snapshot at 30-minute boundaries.
func (m *MockMeterSource) integrate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dt := now.Sub(m.lastIntegrate)
	if dt <= 0 {
		return
	}
	m.cumulativeKWh += m.basePowerAt(now) / 1000.0 * dt.Hours()
	if h := now.Hour(); h >= 9 && h <= 16 {
		// daylight solar export
		m.reverseKWh += 0.8 * dt.Hours()
	}
	boundary := lastHalfHourBoundary(now)
	if boundary.After(m.fixed.Timestamp) {
		m.fixed = FixedEnergy{
			Timestamp: boundary,
			EnergyKWh: roundKWh(m.cumulativeKWh),
		}
	}
	m.lastIntegrate = now
}

type integrateJob struct {
	src *MockMeterSource
}

func (j *integrateJob) Execute(ctx context.Context) error {
	j.src.integrate()
	return nil
}

func (j *integrateJob) Description() string {
	return "mock cumulative energy integrator"
}

func lastHalfHourBoundary(t time.Time) time.Time {
	return t.Truncate(30 * time.Minute)
}

func roundKWh(v float64) float64 {
	return math.Round(v*10) / 10
}
