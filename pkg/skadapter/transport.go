package skadapter

import (
	"bufio"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event is an asynchronous notification from the adapter: an EVENT line or
// an incoming radio frame (ERXUDP).
type Event struct {
	Code int
	Raw  string
	Arg  string
	UDP  *UDPPacket
}

// UDPPacket is a parsed ERXUDP notification.
type UDPPacket struct {
	Sender  string
	Dest    string
	RSSI    int
	HasRSSI bool
	Data    []byte
}

func (e Event) IsUDP() bool {
	return e.UDP != nil
}

const defaultCommandTimeout = 3 * time.Second

// Transport owns the adapter's command console. All writes are serialized:
// at most one command awaits its reply at any time, because the console is
// a single half-duplex line where concurrent writers would interleave
// response lines unpredictably.
//
// A single reader goroutine classifies every incoming line. Synchronous
// reply lines go to the pending command; EVENT/ERXUDP lines go to the event
// channel, and are additionally visible to a pending command whose
// terminator is an event line (SKJOIN, SKSCAN).
type Transport struct {
	port   io.ReadWriteCloser
	logger *log.Logger

	mu      sync.Mutex
	pending chan string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewTransport(port io.ReadWriteCloser, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.StandardLogger()
	}
	t := &Transport{
		port:   port,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Events returns the asynchronous event feed. The channel is buffered;
// when the consumer lags, the oldest event is dropped so the reader never
// blocks on the serial line.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// DrainEvents empties the buffered event feed and returns what it held.
// Used after join and before issuing a request, so late arrivals from a
// previous exchange cannot satisfy the next one; callers may still inspect
// the drained events for link-level notifications that arrived while idle.
func (t *Transport) DrainEvents() []Event {
	var drained []Event
	for {
		select {
		case ev := <-t.events:
			drained = append(drained, ev)
		default:
			return drained
		}
	}
}

// SendCommand writes cmd (plus payload bytes, if any, with no trailing
// CRLF) and collects reply lines until one starts with any of the given
// terminators or the timeout elapses. A FAIL line always terminates the
// command with a CommandError. The transport never retries.
func (t *Transport) SendCommand(cmd string, payload []byte, terminators []string, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	t.mu.Lock()
	if t.pending != nil {
		t.mu.Unlock()
		return nil, ErrBusy
	}
	lines := make(chan string, 128)
	t.pending = lines
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()
	}()

	out := []byte(cmd)
	if payload != nil {
		out = append(out, payload...)
	} else {
		out = append(out, '\r', '\n')
	}
	if _, err := t.port.Write(out); err != nil {
		return nil, err
	}

	var collected []string
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case line := <-lines:
			collected = append(collected, line)
			if strings.HasPrefix(line, "FAIL") {
				code := strings.TrimSpace(strings.TrimPrefix(line, "FAIL"))
				return collected, &CommandError{Cmd: firstWord(cmd), Code: code}
			}
			for _, term := range terminators {
				if strings.HasPrefix(line, term) {
					return collected, nil
				}
			}
		case <-deadline.C:
			return collected, &TimeoutError{Op: firstWord(cmd)}
		case <-t.done:
			return collected, io.ErrClosedPipe
		}
	}
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.port.Close()
	})
	return err
}

func (t *Transport) readLoop() {
	scanner := bufio.NewScanner(t.port)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		select {
		case <-t.done:
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t.dispatch(line)
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-t.done:
		default:
			t.logger.WithError(err).Error("skadapter: read loop terminated")
		}
	}
}

func (t *Transport) dispatch(line string) {
	t.logger.WithField("line", truncateLine(line)).Trace("skadapter: recv")

	// Async notifications are re-delivered to event subscribers even when
	// they arrive interleaved with a pending command's reply.
	if strings.HasPrefix(line, "EVENT ") || strings.HasPrefix(line, "ERXUDP ") {
		t.publishEvent(parseEventLine(line))
	}

	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	if pending != nil {
		select {
		case pending <- line:
		default:
			t.logger.Warn("skadapter: pending reply buffer full, line dropped")
		}
	}
}

func (t *Transport) publishEvent(ev Event) {
	for {
		select {
		case t.events <- ev:
			return
		default:
			// drop-oldest so a lagging consumer never stalls the reader
			select {
			case <-t.events:
			default:
			}
		}
	}
}

func parseEventLine(line string) Event {
	if strings.HasPrefix(line, "ERXUDP ") {
		return Event{Raw: line, UDP: parseERXUDP(line)}
	}
	ev := Event{Raw: line}
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		if code, err := strconv.Atoi(fields[1]); err == nil {
			ev.Code = code
		}
	}
	if len(fields) >= 3 {
		ev.Arg = fields[len(fields)-1]
	}
	return ev
}

// parseERXUDP understands both register layouts:
//
//	SA2=1: ERXUDP SENDER DEST RPORT LPORT SENDERLLA RSSI SECURED SIDE DATALEN DATA
//	SA2=0: ERXUDP SENDER DEST RPORT LPORT SENDERLLA SECURED SIDE DATALEN DATA
func parseERXUDP(line string) *UDPPacket {
	parts := strings.Fields(line)
	pkt := &UDPPacket{}
	var rawData string
	switch {
	case len(parts) >= 11:
		pkt.Sender = parts[1]
		pkt.Dest = parts[2]
		if raw, err := strconv.ParseUint(parts[6], 16, 16); err == nil {
			pkt.RSSI = int(raw) - 107
			pkt.HasRSSI = true
		}
		rawData = parts[10]
	case len(parts) >= 10:
		pkt.Sender = parts[1]
		pkt.Dest = parts[2]
		rawData = parts[9]
	default:
		return nil
	}
	data, err := hex.DecodeString(rawData)
	if err != nil {
		return nil
	}
	pkt.Data = data
	return pkt
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

func truncateLine(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
