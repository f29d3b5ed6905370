package server

import (
	"net/http"
	"strconv"
	"time"

	"wisun2web/internal/core/domain"
	"wisun2web/pkg/skadapter"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const liveStateTimeout = 5 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/power", s.PowerHandler)
	api.GET("/energy", s.EnergyHandler)
	api.GET("/history", s.HistoryHandler)
	api.GET("/status", s.StatusHandler)
	api.POST("/reconnect", s.ReconnectHandler)

	e.GET("/ws/power", s.PowerStreamHandler)

	return e
}

type instantReadingDTO struct {
	PowerWatt   int32     `json:"power_watt"`
	CurrentRAmp float64   `json:"current_r_amp"`
	CurrentTAmp float64   `json:"current_t_amp"`
	Timestamp   time.Time `json:"timestamp"`
}

type energyReadingDTO struct {
	CumulativeKWh        float64         `json:"cumulative_kwh"`
	CumulativeReverseKWh float64         `json:"cumulative_reverse_kwh"`
	Fixed                *fixedEnergyDTO `json:"fixed,omitempty"`
	UnitKWh              float64         `json:"unit_kwh"`
	Timestamp            time.Time       `json:"timestamp"`
}

type fixedEnergyDTO struct {
	EnergyKWh float64   `json:"energy_kwh"`
	Timestamp time.Time `json:"timestamp"`
}

type connectionDTO struct {
	Channel     string `json:"channel,omitempty"`
	PanID       string `json:"pan_id,omitempty"`
	IPv6Addr    string `json:"ipv6_addr,omitempty"`
	RSSI        *int   `json:"rssi,omitempty"`
	RSSIQuality string `json:"rssi_quality,omitempty"`
}

type statusDTO struct {
	Version      string        `json:"version"`
	MockMode     bool          `json:"mock_mode"`
	LinkState    string        `json:"link_state"`
	Stale        bool          `json:"stale"`
	HistoryCount int           `json:"history_count"`
	Connection   connectionDTO `json:"connection"`
}

type errorDTO struct {
	Error string `json:"error"`
}

func instantReadingToDTO(r *skadapter.InstantReading) *instantReadingDTO {
	if r == nil {
		return nil
	}
	return &instantReadingDTO{
		PowerWatt:   r.PowerWatt,
		CurrentRAmp: r.CurrentRAmp,
		CurrentTAmp: r.CurrentTAmp,
		Timestamp:   r.Timestamp,
	}
}

func energyReadingToDTO(r *skadapter.EnergyReading) *energyReadingDTO {
	if r == nil {
		return nil
	}
	dto := &energyReadingDTO{
		CumulativeKWh:        r.CumulativeKWh,
		CumulativeReverseKWh: r.CumulativeReverseKWh,
		UnitKWh:              r.UnitKWh,
		Timestamp:            r.Timestamp,
	}
	if r.Fixed != nil {
		dto.Fixed = &fixedEnergyDTO{
			EnergyKWh: r.Fixed.EnergyKWh,
			Timestamp: r.Fixed.Timestamp,
		}
	}
	return dto
}

func connectionToDTO(info skadapter.ConnectionInfo) connectionDTO {
	dto := connectionDTO{
		Channel:  info.Channel,
		PanID:    info.PanID,
		IPv6Addr: info.IPv6Addr,
	}
	if info.HasRSSI {
		rssi := info.RSSI
		dto.RSSI = &rssi
		dto.RSSIQuality = info.Quality
	}
	return dto
}

func (s *Server) liveState(historyLimit int) (*domain.GetLiveStateResponse, error) {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetLiveStateRequest{HistoryLimit: historyLimit}, liveStateTimeout).Result()
	if err != nil {
		return nil, err
	}
	live, ok := res.(domain.GetLiveStateResponse)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	return &live, nil
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) PowerHandler(c echo.Context) error {
	live, err := s.liveState(0)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	if live.Instant == nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: "no reading available yet"})
	}
	return c.JSON(http.StatusOK, struct {
		*instantReadingDTO
		Stale bool `json:"stale"`
	}{instantReadingToDTO(live.Instant), live.Stale})
}

func (s *Server) EnergyHandler(c echo.Context) error {
	live, err := s.liveState(0)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	if live.Energy == nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: "no reading available yet"})
	}
	return c.JSON(http.StatusOK, energyReadingToDTO(live.Energy))
}

func (s *Server) HistoryHandler(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, errorDTO{Error: "limit must be a non-negative integer"})
		}
		limit = parsed
	}
	live, err := s.liveState(limit)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	readings := make([]instantReadingDTO, 0, len(live.History))
	for i := range live.History {
		readings = append(readings, *instantReadingToDTO(&live.History[i]))
	}
	return c.JSON(http.StatusOK, struct {
		Readings []instantReadingDTO `json:"readings"`
		Count    int                 `json:"count"`
	}{readings, live.HistoryCount})
}

func (s *Server) StatusHandler(c echo.Context) error {
	live, err := s.liveState(0)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, statusDTO{
		Version:      versioninfo.Short(),
		MockMode:     s.mockMode,
		LinkState:    live.LinkState.String(),
		Stale:        live.Stale,
		HistoryCount: live.HistoryCount,
		Connection:   connectionToDTO(live.Connection),
	})
}

func (s *Server) ReconnectHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ForceReconnectRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: err.Error()})
	}
	force, ok := res.(domain.ForceReconnectResponse)
	if !ok || force.HasResponseError() {
		return c.JSON(http.StatusServiceUnavailable, errorDTO{Error: "reconnect could not be started"})
	}
	return c.JSON(http.StatusAccepted, struct {
		LinkState string `json:"link_state"`
	}{force.LinkState.String()})
}
