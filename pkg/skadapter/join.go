package skadapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// JoinState tracks the join engine's progress through the B-route
// authentication sequence.
type JoinState int

const (
	JoinIdle JoinState = iota
	JoinCredentialsSet
	JoinScanning
	JoinScanned
	JoinJoining
	JoinJoined
	JoinFailed
)

func (s JoinState) String() string {
	switch s {
	case JoinIdle:
		return "idle"
	case JoinCredentialsSet:
		return "credentials_set"
	case JoinScanning:
		return "scanning"
	case JoinScanned:
		return "scanned"
	case JoinJoining:
		return "joining"
	case JoinJoined:
		return "joined"
	default:
		return "failed"
	}
}

const (
	baseScanDuration    = 4
	maxScanDuration     = 7
	maxScanAttempts     = 4
	maxFastPathFailures = 2
	joinTimeout         = 30 * time.Second
)

// Joiner drives channel scan, credential setup and the PANA join handshake,
// producing a validated Session. A successful join is persisted to the
// connection cache for fast re-join.
type Joiner struct {
	tr       *Transport
	id       string
	password string
	cache    *ConnectionCache
	logger   *log.Logger

	state            JoinState
	fastPathFailures int
}

type panCandidate struct {
	Channel string
	PanID   string
	Addr    string
	LQI     int
}

func NewJoiner(tr *Transport, brouteID, password string, cache *ConnectionCache, logger *log.Logger) *Joiner {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Joiner{
		tr:       tr,
		id:       brouteID,
		password: password,
		cache:    cache,
		logger:   logger,
	}
}

func (j *Joiner) State() JoinState {
	return j.state
}

// Join establishes a session, using the cached parameters when available.
// The first two consecutive fast-path failures each surface as a
// JoinFailure; the second one also clears the cache so the next attempt
// runs a full scan.
func (j *Joiner) Join(ctx context.Context) (*Session, error) {
	if err := j.handshake(); err != nil {
		j.state = JoinFailed
		return nil, err
	}

	if j.cache != nil {
		cached, err := j.cache.Load()
		if err != nil {
			j.logger.WithError(err).Warn("skadapter: connection cache unreadable, scanning")
		} else if cached != nil {
			j.logger.WithField("channel", cached.Channel).Info("skadapter: trying cached connection")
			sess, err := j.joinSession(ctx, cached)
			if err == nil {
				j.fastPathFailures = 0
				return sess, nil
			}
			j.fastPathFailures++
			if j.fastPathFailures >= maxFastPathFailures {
				j.logger.Warn("skadapter: cached connection failed twice, invalidating cache")
				if ierr := j.cache.Invalidate(); ierr != nil {
					j.logger.WithError(ierr).Warn("skadapter: cache invalidation failed")
				}
				j.fastPathFailures = 0
			}
			j.state = JoinFailed
			return nil, err
		}
	}

	candidate, err := j.scan(ctx)
	if err != nil {
		j.state = JoinFailed
		return nil, err
	}
	j.state = JoinScanned

	sess, err := j.joinSession(ctx, &Session{
		Channel: candidate.Channel,
		PanID:   candidate.PanID,
		MacAddr: candidate.Addr,
	})
	if err != nil {
		j.state = JoinFailed
		return nil, err
	}
	if j.cache != nil {
		if err := j.cache.Save(sess); err != nil {
			j.logger.WithError(err).Warn("skadapter: could not persist connection cache")
		}
	}
	return sess, nil
}

// Rejoin re-establishes a lost session without scanning: terminate,
// reset the protocol stack, re-push credentials and registers, join.
func (j *Joiner) Rejoin(ctx context.Context, sess *Session) (*Session, error) {
	j.logger.Info("skadapter: attempting fast re-join")

	// SKTERM fails when no session is active, which is fine here.
	if _, err := j.tr.SendCommand("SKTERM", nil, []string{"OK"}, 2*time.Second); err != nil {
		j.logger.WithError(err).Debug("skadapter: SKTERM")
	}
	if _, err := j.tr.SendCommand("SKRESET", nil, []string{"OK"}, 3*time.Second); err != nil {
		return nil, err
	}
	if err := j.handshake(); err != nil {
		return nil, err
	}

	renewed, err := j.joinSession(ctx, sess)
	if err != nil {
		j.fastPathFailures++
		if j.fastPathFailures >= maxFastPathFailures && j.cache != nil {
			j.logger.Warn("skadapter: fast re-join failed twice, invalidating cache")
			if ierr := j.cache.Invalidate(); ierr != nil {
				j.logger.WithError(ierr).Warn("skadapter: cache invalidation failed")
			}
			j.fastPathFailures = 0
		}
		return nil, err
	}
	j.fastPathFailures = 0
	return renewed, nil
}

// handshake verifies the adapter responds and pushes credentials.
func (j *Joiner) handshake() error {
	lines, err := j.tr.SendCommand("SKVER", nil, []string{"OK"}, 5*time.Second)
	if err != nil {
		return &JoinFailure{Stage: "adapter handshake", Err: err}
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "EVER") {
			j.logger.WithField("firmware", line).Info("skadapter: adapter present")
		}
	}
	if _, err := j.tr.SendCommand("SKSETRBID "+j.id, nil, []string{"OK"}, 0); err != nil {
		return &JoinFailure{Stage: "set route-B id", Err: err}
	}
	if _, err := j.tr.SendCommand("SKSETPWD C "+j.password, nil, []string{"OK"}, 0); err != nil {
		return &JoinFailure{Stage: "set password", Err: err}
	}
	// SA2=1 adds the RSSI column to ERXUDP notifications
	if _, err := j.tr.SendCommand("SKSREG SA2 1", nil, []string{"OK"}, 0); err != nil {
		return &JoinFailure{Stage: "enable rssi", Err: err}
	}
	j.state = JoinCredentialsSet
	return nil
}

// scan runs active scans with escalating duration until a PAN answers.
// Longer durations find weak meters at the cost of join latency, so start
// small and escalate only when nothing is heard.
func (j *Joiner) scan(ctx context.Context) (*panCandidate, error) {
	j.state = JoinScanning
	duration := baseScanDuration
	for attempt := 1; attempt <= maxScanAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j.logger.WithFields(log.Fields{
			"attempt":  attempt,
			"duration": duration,
		}).Info("skadapter: scanning for smart meter")

		cmd := fmt.Sprintf("SKSCAN 2 FFFFFFFF %d 0", duration)
		lines, err := j.tr.SendCommand(cmd, nil, []string{"EVENT 22"}, scanTimeout(duration))
		if err != nil {
			return nil, &JoinFailure{Stage: "scan", Err: err}
		}

		candidates := parseScanResults(lines)
		if len(candidates) > 0 {
			best := candidates[0]
			for _, c := range candidates[1:] {
				if c.LQI > best.LQI {
					best = c
				}
			}
			j.logger.WithFields(log.Fields{
				"channel": best.Channel,
				"pan_id":  best.PanID,
				"lqi":     best.LQI,
			}).Info("skadapter: smart meter found")
			return &best, nil
		}

		if duration < maxScanDuration {
			duration++
		}
	}
	return nil, &JoinFailure{Stage: "scan", Err: fmt.Errorf("no PAN found after %d attempts", maxScanAttempts)}
}

// joinSession programs channel and PAN id, resolves the link-local address
// and waits for the PANA authentication result.
func (j *Joiner) joinSession(ctx context.Context, sess *Session) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.state = JoinJoining

	if _, err := j.tr.SendCommand("SKSREG S2 "+sess.Channel, nil, []string{"OK"}, 0); err != nil {
		return nil, &JoinFailure{Stage: "set channel", Err: err}
	}
	if _, err := j.tr.SendCommand("SKSREG S3 "+sess.PanID, nil, []string{"OK"}, 0); err != nil {
		return nil, &JoinFailure{Stage: "set pan id", Err: err}
	}

	ipv6 := sess.IPv6Addr
	if ipv6 == "" {
		addr, err := j.resolveLinkLocal(sess.MacAddr)
		if err != nil {
			return nil, err
		}
		ipv6 = addr
	}

	lines, err := j.tr.SendCommand("SKJOIN "+ipv6, nil, []string{"EVENT 25", "EVENT 24"}, joinTimeout)
	if err != nil {
		return nil, &JoinFailure{Stage: "join", Err: err}
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "EVENT 24") {
			return nil, &JoinFailure{Stage: "authentication", Err: fmt.Errorf("PANA authentication rejected")}
		}
	}

	j.state = JoinJoined
	j.logger.WithFields(log.Fields{
		"channel": sess.Channel,
		"pan_id":  sess.PanID,
	}).Info("skadapter: joined")

	// late scan/join chatter must not be mistaken for a reply later
	j.tr.DrainEvents()

	return &Session{
		Channel:       sess.Channel,
		PanID:         sess.PanID,
		MacAddr:       sess.MacAddr,
		IPv6Addr:      ipv6,
		EstablishedAt: time.Now(),
	}, nil
}

func (j *Joiner) resolveLinkLocal(mac string) (string, error) {
	lines, err := j.tr.SendCommand("SKLL64 "+mac, nil, []string{"FE80"}, 5*time.Second)
	if err != nil {
		return "", &JoinFailure{Stage: "link-local resolution", Err: err}
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "FE80") {
			return line, nil
		}
	}
	return "", &JoinFailure{Stage: "link-local resolution", Err: fmt.Errorf("no address in reply")}
}

// parseScanResults extracts EPANDESC blocks from an SKSCAN reply.
func parseScanResults(lines []string) []panCandidate {
	var candidates []panCandidate
	var current *panCandidate
	flush := func() {
		if current != nil && current.Channel != "" && current.PanID != "" && current.Addr != "" {
			candidates = append(candidates, *current)
		}
		current = nil
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "EPANDESC") {
			flush()
			current = &panCandidate{}
			continue
		}
		if current == nil {
			continue
		}
		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Channel":
			current.Channel = value
		case "Pan ID":
			current.PanID = value
		case "Addr":
			current.Addr = value
		case "LQI":
			if lqi, err := strconv.ParseUint(value, 16, 16); err == nil {
				current.LQI = int(lqi)
			}
		}
	}
	flush()
	return candidates
}

func scanTimeout(duration int) time.Duration {
	// per-channel dwell time doubles with each duration step
	return 30 * time.Second << (duration - baseScanDuration)
}
