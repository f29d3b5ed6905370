package skadapter

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakePort is a scripted serial endpoint. Every Write is handed to the
// script, whose reply lines are queued for the reader.
type fakePort struct {
	mu       sync.Mutex
	script   func(written []byte) []string
	commands [][]byte

	reads  chan byte
	closed chan struct{}
	once   sync.Once
}

func newFakePort(script func(written []byte) []string) *fakePort {
	return &fakePort{
		script: script,
		reads:  make(chan byte, 64*1024),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case b := <-p.reads:
		buf[0] = b
		return 1, nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	p.commands = append(p.commands, append([]byte(nil), data...))
	script := p.script
	p.mu.Unlock()
	if script != nil {
		for _, line := range script(data) {
			p.pushLine(line)
		}
	}
	return len(data), nil
}

func (p *fakePort) pushLine(line string) {
	for _, b := range []byte(line + "\r\n") {
		p.reads <- b
	}
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) sawCommand(prefix string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cmd := range p.commands {
		if strings.HasPrefix(string(cmd), prefix) {
			return true
		}
	}
	return false
}

func TestSendCommandCollectsUntilTerminator(t *testing.T) {
	port := newFakePort(func(written []byte) []string {
		if strings.HasPrefix(string(written), "SKVER") {
			return []string{"EVER 1.5.2", "OK"}
		}
		return nil
	})
	tr := NewTransport(port, nil)
	defer tr.Close()

	lines, err := tr.SendCommand("SKVER", nil, []string{"OK"}, time.Second)
	assert.NoError(t, err)
	assert.Equal(t, []string{"EVER 1.5.2", "OK"}, lines)
}

func TestSendCommandFailLine(t *testing.T) {
	port := newFakePort(func([]byte) []string {
		return []string{"FAIL ER04"}
	})
	tr := NewTransport(port, nil)
	defer tr.Close()

	_, err := tr.SendCommand("SKSETPWD C wrong", nil, []string{"OK"}, time.Second)
	var cmdErr *CommandError
	assert.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "ER04", cmdErr.Code)
}

func TestSendCommandTimeout(t *testing.T) {
	port := newFakePort(nil)
	tr := NewTransport(port, nil)
	defer tr.Close()

	_, err := tr.SendCommand("SKVER", nil, []string{"OK"}, 50*time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestSecondConcurrentSendIsRejected(t *testing.T) {
	port := newFakePort(nil)
	tr := NewTransport(port, nil)
	defer tr.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = tr.SendCommand("SKVER", nil, []string{"OK"}, 300*time.Millisecond)
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := tr.SendCommand("SKAPPVER", nil, []string{"OK"}, time.Second)
	assert.ErrorIs(t, err, ErrBusy)
	<-done
}

func TestEventsInterleavedWithReplyAreRedelivered(t *testing.T) {
	port := newFakePort(func(written []byte) []string {
		if strings.HasPrefix(string(written), "SKSENDTO") {
			return []string{"EVENT 21 FE80:0000:0000:0000:0000:0000:0000:0001 0 00", "OK"}
		}
		return nil
	})
	tr := NewTransport(port, nil)
	defer tr.Close()

	lines, err := tr.SendCommand("SKSENDTO 1", nil, []string{"OK"}, time.Second)
	assert.NoError(t, err)
	assert.Len(t, lines, 2)

	// the event line reached the subscriber feed as well
	select {
	case ev := <-tr.Events():
		assert.Equal(t, 21, ev.Code)
		assert.Equal(t, "00", ev.Arg)
	case <-time.After(time.Second):
		t.Fatal("event was not re-delivered to subscribers")
	}
}

func TestEventBufferDropsOldestWhenFull(t *testing.T) {
	port := newFakePort(nil)
	tr := NewTransport(port, nil)
	defer tr.Close()

	for i := 0; i < 200; i++ {
		tr.publishEvent(Event{Code: i})
	}

	// the reader never blocked and the newest events survived
	var last Event
	for {
		select {
		case ev := <-tr.Events():
			last = ev
			continue
		default:
		}
		break
	}
	assert.Equal(t, 199, last.Code)
}

func TestParseERXUDPWithRSSI(t *testing.T) {
	line := "ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:0000:0000:0000:0001 0E1A 0E1A 001D129012345678 2A 1 0 0012 1081000102880105FF017201E70400000402"
	pkt := parseERXUDP(line)
	if assert.NotNil(t, pkt) {
		assert.True(t, pkt.HasRSSI)
		assert.Equal(t, -65, pkt.RSSI) // 0x2A - 107
		assert.Equal(t, byte(0x10), pkt.Data[0])
	}
}

func TestParseERXUDPWithoutRSSI(t *testing.T) {
	line := "ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:0000:0000:0000:0001 0E1A 0E1A 001D129012345678 1 0 0004 10810001"
	pkt := parseERXUDP(line)
	if assert.NotNil(t, pkt) {
		assert.False(t, pkt.HasRSSI)
		assert.Len(t, pkt.Data, 4)
	}
}
