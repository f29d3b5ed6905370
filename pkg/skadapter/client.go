package skadapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	echonetResponseTimeout = 5 * time.Second
	maxConnectAttempts     = 3
	connectRetryDelay      = 2 * time.Second
)

// BRouteClient drives a Wi-SUN B-route adapter over its SK command console
// and speaks ECHONET Lite to the smart meter behind it. It implements
// MeterDataSource.
//
// The client is half-duplex: one application request may be outstanding at
// a time. A second concurrent request gets ErrBusy instead of being queued.
type BRouteClient struct {
	tr     *Transport
	joiner *Joiner
	logger *log.Logger

	mu         sync.Mutex
	session    *Session
	busy       bool
	tid        uint16
	energyUnit float64
	lastRSSI   int
	hasRSSI    bool
}

var _ MeterDataSource = (*BRouteClient)(nil)

func NewBRouteClient(tr *Transport, brouteID, password, cacheFile string, logger *log.Logger) *BRouteClient {
	if logger == nil {
		logger = log.StandardLogger()
	}
	var cache *ConnectionCache
	if cacheFile != "" {
		cache = NewConnectionCache(cacheFile)
	}
	return &BRouteClient{
		tr:     tr,
		joiner: NewJoiner(tr, brouteID, password, cache, logger),
		logger: logger,
	}
}

// Connect runs the join engine, retrying a bounded number of times before
// surfacing a fatal JoinFailure.
func (c *BRouteClient) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		sess, err := c.joiner.Join(ctx)
		if err == nil {
			c.setSession(sess)
			return nil
		}
		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt).Warn("skadapter: connect attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
	return lastErr
}

// Reconnect tries the fast re-join path using the current session; when no
// session exists (or the fast path degrades the cache) it falls back to a
// full Connect.
func (c *BRouteClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		renewed, err := c.joiner.Rejoin(ctx, sess)
		if err == nil {
			c.setSession(renewed)
			return nil
		}
		c.logger.WithError(err).Warn("skadapter: fast re-join failed")
	}
	return c.Connect(ctx)
}

func (c *BRouteClient) Close() error {
	return c.tr.Close()
}

func (c *BRouteClient) GetInstantReading(ctx context.Context) (*InstantReading, error) {
	frame, err := c.requestProperties(ctx, EPCInstantPower, EPCInstantCurrent)
	if err != nil {
		return nil, err
	}

	edt, ok := frame.Property(EPCInstantPower)
	if !ok {
		return nil, &ProtocolError{Reason: "instant power missing from response"}
	}
	power, err := ParseInstantPower(edt)
	if err != nil {
		return nil, err
	}

	reading := &InstantReading{
		PowerWatt: power,
		Timestamp: time.Now(),
	}
	if edt, ok := frame.Property(EPCInstantCurrent); ok {
		r, t, err := ParseInstantCurrent(edt)
		if err != nil {
			return nil, err
		}
		reading.CurrentRAmp = r
		reading.CurrentTAmp = t
	}
	return reading, nil
}

func (c *BRouteClient) GetEnergyReading(ctx context.Context) (*EnergyReading, error) {
	unit := c.ensureEnergyUnit(ctx)

	reading := &EnergyReading{
		UnitKWh:   unit,
		Timestamp: time.Now(),
	}

	fwd, err := c.requestEnergyValue(ctx, EPCCumulativeEnergy, unit)
	if err != nil {
		return nil, err
	}
	reading.CumulativeKWh = fwd

	rev, err := c.requestEnergyValue(ctx, EPCCumulativeEnergyRev, unit)
	if err != nil {
		return nil, err
	}
	reading.CumulativeReverseKWh = rev

	frame, err := c.requestProperties(ctx, EPCFixedCumulativeEnergy)
	if err != nil {
		return nil, err
	}
	if edt, ok := frame.Property(EPCFixedCumulativeEnergy); ok {
		fixed, err := ParseFixedEnergy(edt, unit)
		if err != nil && !errors.Is(err, ErrEnergyOverflow) {
			return nil, err
		}
		reading.Fixed = fixed
	}
	return reading, nil
}

func (c *BRouteClient) GetConnectionInfo() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := ConnectionInfo{}
	if c.session != nil {
		info.Channel = c.session.Channel
		info.PanID = c.session.PanID
		info.MacAddr = c.session.MacAddr
		info.IPv6Addr = c.session.IPv6Addr
	}
	if c.hasRSSI {
		info.RSSI = c.lastRSSI
		info.HasRSSI = true
		info.Quality = RSSIQuality(c.lastRSSI)
	}
	return info
}

func (c *BRouteClient) setSession(sess *Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// ensureEnergyUnit reads the meter's unit coefficient once and caches it.
// The read is best-effort: on failure the common 0.1 kWh default applies.
func (c *BRouteClient) ensureEnergyUnit(ctx context.Context) float64 {
	c.mu.Lock()
	unit := c.energyUnit
	c.mu.Unlock()
	if unit != 0 {
		return unit
	}

	frame, err := c.requestProperties(ctx, EPCEnergyUnit)
	if err == nil {
		if edt, ok := frame.Property(EPCEnergyUnit); ok {
			if parsed, perr := ParseEnergyUnit(edt); perr == nil {
				c.mu.Lock()
				c.energyUnit = parsed
				c.mu.Unlock()
				return parsed
			}
		}
	}
	c.logger.Warn("skadapter: energy unit unavailable, assuming 0.1 kWh")
	return DefaultEnergyUnitKWh
}

func (c *BRouteClient) requestEnergyValue(ctx context.Context, epc byte, unit float64) (float64, error) {
	frame, err := c.requestProperties(ctx, epc)
	if err != nil {
		return 0, err
	}
	edt, ok := frame.Property(epc)
	if !ok {
		return 0, &ProtocolError{Reason: fmt.Sprintf("property 0x%02X missing from response", epc)}
	}
	return ParseCumulativeEnergy(edt, unit)
}

// requestProperties sends one Get frame and waits for the matching
// response: the single PendingRequest slot of the link.
func (c *BRouteClient) requestProperties(ctx context.Context, epcs ...byte) (*Frame, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return nil, ErrNotJoined
	}
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	c.tid++
	if c.tid == 0 {
		c.tid = 1
	}
	tid := c.tid
	ipv6 := c.session.IPv6Addr
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	// stale events from a previous exchange must not satisfy this request,
	// but a session expiry seen while idle still means the link is gone
	for _, ev := range c.tr.DrainEvents() {
		if ev.Code == 29 {
			return nil, ErrSessionLost
		}
	}

	frame := EncodeGetRequest(tid, epcs...)
	// command and payload go out in one write, payload without CRLF
	cmd := fmt.Sprintf("SKSENDTO 1 %s %04X 1 0 %04X ", ipv6, EchonetPort, len(frame))
	if _, err := c.tr.SendCommand(cmd, frame, []string{"OK"}, 0); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(echonetResponseTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &TimeoutError{Op: fmt.Sprintf("echonet get (tid %04X)", tid)}
		case ev := <-c.tr.Events():
			resp, err := c.handleEvent(ev, tid)
			if err != nil {
				return nil, err
			}
			if resp != nil {
				return resp, nil
			}
		}
	}
}

// handleEvent inspects one async event while a request is pending. It
// returns a non-nil frame when the matching response arrived, an error for
// link-level failures, and (nil, nil) for events to skip.
func (c *BRouteClient) handleEvent(ev Event, tid uint16) (*Frame, error) {
	switch {
	case ev.Code == 29:
		// PANA session lifetime expired
		return nil, ErrSessionLost
	case ev.Code == 21:
		// send result: 00 success, otherwise radio-level delivery failure
		if ev.Arg != "" && ev.Arg != "00" {
			return nil, fmt.Errorf("%w: send result %s", ErrSessionLost, ev.Arg)
		}
		return nil, nil
	case ev.IsUDP():
		pkt := ev.UDP
		if pkt == nil || strings.HasPrefix(pkt.Dest, "FF02") {
			// multicast chatter is not a reply
			return nil, nil
		}
		if pkt.HasRSSI {
			c.mu.Lock()
			c.lastRSSI = pkt.RSSI
			c.hasRSSI = true
			c.mu.Unlock()
		}
		frame, err := DecodeFrame(pkt.Data)
		if err != nil {
			c.logger.WithError(err).WithField("data", hex.EncodeToString(pkt.Data)).Debug("skadapter: frame discarded")
			return nil, nil
		}
		if frame.TID != tid {
			// a mismatched transaction must not resolve this request
			c.logger.WithFields(log.Fields{
				"expected": fmt.Sprintf("%04X", tid),
				"got":      fmt.Sprintf("%04X", frame.TID),
			}).Debug("skadapter: transaction id mismatch, frame discarded")
			return nil, nil
		}
		return frame, nil
	default:
		return nil, nil
	}
}
