package domain

import (
	"wisun2web/pkg/skadapter"
)

// LinkState is the poller's view of the B-route link.
type LinkState int

const (
	LinkConnecting LinkState = iota
	LinkConnected
	LinkDegraded
	LinkDisconnected
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// Usable reports whether consumers should treat readings as live.
func (s LinkState) Usable() bool {
	return s == LinkConnected || s == LinkDegraded
}

// History is a fixed-capacity ring of instant readings, oldest evicted
// first. Not safe for concurrent use; it lives inside the poller actor.
type History struct {
	buf   []skadapter.InstantReading
	start int
	count int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		buf: make([]skadapter.InstantReading, capacity),
	}
}

func (h *History) Append(r skadapter.InstantReading) {
	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = r
		h.count++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int {
	return h.count
}

func (h *History) Capacity() int {
	return len(h.buf)
}

// Snapshot copies the most recent readings in chronological order. A
// non-positive limit, or a limit above the current length, returns all.
func (h *History) Snapshot(limit int) []skadapter.InstantReading {
	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]skadapter.InstantReading, n)
	first := h.count - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+first+i)%len(h.buf)]
	}
	return out
}
