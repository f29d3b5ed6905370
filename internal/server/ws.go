package server

import (
	"net/http"
	"time"

	"wisun2web/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	// per-connection buffer, slow readers lose oldest samples
	wsSendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the bridge lives on a trusted LAN, browsers embed the dashboard
	// from arbitrary origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

type powerStreamFrame struct {
	Reading     instantReadingDTO `json:"reading"`
	LinkState   string            `json:"link_state"`
	RSSI        *int              `json:"rssi,omitempty"`
	RSSIQuality string            `json:"rssi_quality,omitempty"`
}

func snapshotToFrame(ev domain.InstantReadingSnapshotEvent) powerStreamFrame {
	frame := powerStreamFrame{
		Reading:   *instantReadingToDTO(&ev.Reading),
		LinkState: ev.LinkState.String(),
	}
	if ev.Connection.HasRSSI {
		rssi := ev.Connection.RSSI
		frame.RSSI = &rssi
		frame.RSSIQuality = ev.Connection.Quality
	}
	return frame
}

// PowerStreamHandler pushes every fast-cycle reading to the client as a
// JSON frame. The latest known reading is sent immediately on connect.
func (s *Server) PowerStreamHandler(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	frames := make(chan powerStreamFrame, wsSendBuffer)
	sub := s.eventStream.Subscribe(func(evt any) {
		ev, ok := evt.(domain.InstantReadingSnapshotEvent)
		if !ok {
			return
		}
		for {
			select {
			case frames <- snapshotToFrame(ev):
				return
			default:
				// full, drop the oldest queued frame
				select {
				case <-frames:
				default:
				}
			}
		}
	})
	defer s.eventStream.Unsubscribe(sub)

	// drain the read side so close frames are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// send the last known reading so clients do not wait a full cycle
	if live, err := s.liveState(0); err == nil && live.Instant != nil {
		initial := snapshotToFrame(domain.InstantReadingSnapshotEvent{
			Reading:    *live.Instant,
			Connection: live.Connection,
			LinkState:  live.LinkState,
		})
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(initial); err != nil {
			return nil
		}
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case frame := <-frames:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return nil
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-done:
			return nil
		}
	}
}
