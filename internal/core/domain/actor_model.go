package domain

import "wisun2web/pkg/skadapter"

const (
	ACTOR_ID_MASTER = "master"
	ACTOR_ID_METER  = "meter"
	ACTOR_ID_POLLER = "poller"
	ACTOR_ID_MQTT   = "mqtt"
)

// Meter actor protocol. Each request triggers exactly one exchange on the
// B-route link; the meter actor serializes them through its mailbox.

type GetInstantReadingRequest struct {
	ActorRequestMixIn
}

type GetInstantReadingResponse struct {
	ActorResponseMixIn
	Reading    *skadapter.InstantReading
	Connection skadapter.ConnectionInfo
}

type GetEnergyReadingRequest struct {
	ActorRequestMixIn
}

type GetEnergyReadingResponse struct {
	ActorResponseMixIn
	Reading *skadapter.EnergyReading
}

type ReconnectRequest struct {
	ActorRequestMixIn
}

type ReconnectResponse struct {
	ActorResponseMixIn
}

// Poller actor protocol.

// ForceReconnectRequest asks the poller to drop the link state machine
// straight into a reconnect attempt, skipping any pending backoff delay.
type ForceReconnectRequest struct {
	ActorRequestMixIn
}

type ForceReconnectResponse struct {
	ActorResponseMixIn
	LinkState LinkState
}

// GetLiveStateRequest returns the poller's last known snapshot. It never
// touches the hardware, so it answers immediately even with the link down.
type GetLiveStateRequest struct {
	ActorRequestMixIn
	HistoryLimit int
}

type GetLiveStateResponse struct {
	ActorResponseMixIn
	Instant      *skadapter.InstantReading
	Energy       *skadapter.EnergyReading
	Connection   skadapter.ConnectionInfo
	LinkState    LinkState
	Stale        bool
	History      []skadapter.InstantReading
	HistoryCount int
}

// Health check protocol, fanned out by the master actor.

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
