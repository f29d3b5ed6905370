package actor

import (
	"errors"
	"fmt"
	"time"

	"wisun2web/internal/config"
	"wisun2web/internal/core/domain"
	"wisun2web/internal/core/events"
	. "wisun2web/internal/util/actorutil"
	"wisun2web/pkg/skadapter"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	instantRequestTimeout   = 15 * time.Second
	energyRequestTimeout    = 45 * time.Second
	reconnectRequestTimeout = 6 * time.Minute
	// delay before refreshing the energy counters after (re)connect
	energyRefreshDelay = 5 * time.Second
)

// PollerActor drives the dual-cadence polling loop and owns the link state
// machine. Instant readings go out on the fast cadence, cumulative energy
// on the slow one, and consecutive failures walk the link through
// degraded into disconnected with a backoff-driven reconnect loop.
type PollerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	meterActor  *actor.PID
	config      *config.Config
	eventStream *eventstream.EventStream

	linkState           domain.LinkState
	consecutiveFailures uint
	backoff             time.Duration

	// one outstanding timer per series; rescheduling cancels the previous
	// one so a reconnect can never leave two chains ticking
	fastCancel      scheduler.CancelFunc
	slowCancel      scheduler.CancelFunc
	reconnectCancel scheduler.CancelFunc

	history        *domain.History
	lastInstant    *skadapter.InstantReading
	lastInstantAt  time.Time
	lastEnergy     *skadapter.EnergyReading
	lastConnection skadapter.ConnectionInfo

	logger *zap.Logger
}

type fastTick struct {
}

type slowTick struct {
}

type reconnectTick struct {
}

func NewPollerActor(config *config.Config, meterActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		config:      config,
		meterActor:  meterActor,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		eventStream: eventStream,
		linkState:   domain.LinkConnecting,
		backoff:     time.Duration(config.Poll.ReconnectBackoffSeconds) * time.Second,
		history:     domain.NewHistory(config.Poll.HistoryCapacity()),
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		// the meter actor stashes requests until its link is up, so the
		// first ticks double as the initial readings after connect
		state.scheduleFastTick(ctx)
		state.scheduleSlowTick(ctx, energyRefreshDelay)
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: state.linkState != domain.LinkDisconnected,
			State:   state.linkState.String(),
		})
	case domain.GetLiveStateRequest:
		state.logger.Debug("poller@default GetLiveStateRequest")
		ctx.Respond(state.liveState(msg.HistoryLimit))
	case domain.ForceReconnectRequest:
		state.logger.Info("poller@default forced reconnect")
		state.backoff = state.baseBackoff()
		if state.linkState != domain.LinkDisconnected {
			state.setLinkState(domain.LinkDisconnected)
		}
		state.suspendPolling()
		state.cancelReconnect()
		ctx.Send(ctx.Self(), reconnectTick{})
		ctx.Respond(domain.ForceReconnectResponse{LinkState: state.linkState})
	case fastTick:
		if state.linkState == domain.LinkDisconnected {
			return
		}
		state.logger.Debug("poller@default fast tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetInstantReadingRequest{}, instantRequestTimeout), func(err error) any {
			return domain.GetInstantReadingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.scheduleFastTick(ctx)
		state.behavior.BecomeStacked(state.WaitingInstantReceive)
	case slowTick:
		if state.linkState == domain.LinkDisconnected {
			return
		}
		state.logger.Debug("poller@default slow tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetEnergyReadingRequest{}, energyRequestTimeout), func(err error) any {
			return domain.GetEnergyReadingResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.scheduleSlowTick(ctx, state.slowInterval())
		state.behavior.BecomeStacked(state.WaitingEnergyReceive)
	case reconnectTick:
		if state.linkState != domain.LinkDisconnected {
			return
		}
		state.logger.Info("poller@default reconnect attempt")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.ReconnectRequest{}, reconnectRequestTimeout), func(err error) any {
			return domain.ReconnectResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.WaitingReconnectReceive)
	default:
		state.logger.Debug("poller@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingInstantReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetInstantReadingResponse:
		if msg.HasResponseError() {
			state.logger.Error("poller@waitingInstant read failed", zap.Error(msg.GetResponseError()))
			state.behavior.UnbecomeStacked()
			state.recordFailure(ctx, msg.GetResponseError())
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Debug("poller@waitingInstant GetInstantReadingResponse", zap.Int32("power", msg.Reading.PowerWatt))
		state.recordSuccess()
		state.lastInstant = msg.Reading
		state.lastInstantAt = time.Now()
		state.lastConnection = msg.Connection
		state.history.Append(*msg.Reading)
		for _, ev := range events.InstantReadingToUpdateEvents(msg.Reading) {
			state.eventStream.Publish(ev)
		}
		for _, ev := range events.ConnectionInfoToUpdateEvents(msg.Connection) {
			state.eventStream.Publish(ev)
		}
		state.eventStream.Publish(domain.InstantReadingSnapshotEvent{
			Reading:    *msg.Reading,
			Connection: msg.Connection,
			LinkState:  state.linkState,
		})
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@waitingInstant stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingEnergyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetEnergyReadingResponse:
		if msg.HasResponseError() {
			state.logger.Error("poller@waitingEnergy read failed", zap.Error(msg.GetResponseError()))
			state.behavior.UnbecomeStacked()
			state.recordFailure(ctx, msg.GetResponseError())
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Debug("poller@waitingEnergy GetEnergyReadingResponse", zap.Float64("kwh", msg.Reading.CumulativeKWh))
		state.recordSuccess()
		state.lastEnergy = msg.Reading
		for _, ev := range events.EnergyReadingToUpdateEvents(msg.Reading) {
			state.eventStream.Publish(ev)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@waitingEnergy stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingReconnectReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReconnectResponse:
		state.behavior.UnbecomeStacked()
		if msg.HasResponseError() {
			state.logger.Error("poller@waitingReconnect reconnect failed", zap.Error(msg.GetResponseError()),
				zap.Duration("next_attempt", state.backoff))
			state.scheduleReconnect(ctx, state.backoff)
			state.backoff = min(state.backoff*2, state.maxBackoff())
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Info("poller@waitingReconnect reconnected")
		state.consecutiveFailures = 0
		state.backoff = state.baseBackoff()
		state.cancelReconnect()
		state.setLinkState(domain.LinkConnected)
		state.scheduleFastTick(ctx)
		state.scheduleSlowTick(ctx, energyRefreshDelay)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@waitingReconnect stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) recordSuccess() {
	state.consecutiveFailures = 0
	if state.linkState != domain.LinkConnected {
		state.setLinkState(domain.LinkConnected)
	}
}

func (state *PollerActor) recordFailure(ctx actor.Context, err error) {
	state.consecutiveFailures++
	// a torn-down session never recovers on its own, skip the degraded walk
	sessionLost := errors.Is(err, skadapter.ErrSessionLost)
	switch {
	case sessionLost || state.consecutiveFailures >= state.config.Poll.DisconnectThreshold:
		if state.linkState != domain.LinkDisconnected {
			state.setLinkState(domain.LinkDisconnected)
			state.suspendPolling()
			state.backoff = state.baseBackoff()
			state.scheduleReconnect(ctx, state.backoff)
			state.backoff = min(state.backoff*2, state.maxBackoff())
		}
	case state.consecutiveFailures >= state.config.Poll.DegradedThreshold:
		if state.linkState == domain.LinkConnected {
			state.setLinkState(domain.LinkDegraded)
		}
	}
}

func (state *PollerActor) setLinkState(newState domain.LinkState) {
	if state.linkState == newState {
		return
	}
	state.logger.Info("poller link state change", zap.String("from", state.linkState.String()),
		zap.String("to", newState.String()))
	state.linkState = newState
	for _, ev := range events.LinkStateToUpdateEvents(newState) {
		state.eventStream.Publish(ev)
	}
}

func (state *PollerActor) liveState(historyLimit int) domain.GetLiveStateResponse {
	stale := !state.linkState.Usable() || state.lastInstantAt.IsZero() ||
		time.Since(state.lastInstantAt) > 3*state.fastInterval()
	return domain.GetLiveStateResponse{
		Instant:      state.lastInstant,
		Energy:       state.lastEnergy,
		Connection:   state.lastConnection,
		LinkState:    state.linkState,
		Stale:        stale,
		History:      state.history.Snapshot(historyLimit),
		HistoryCount: state.history.Len(),
	}
}

func (state *PollerActor) scheduleFastTick(ctx actor.Context) {
	if state.fastCancel != nil {
		state.fastCancel()
	}
	state.fastCancel = state.scheduler.RequestOnce(state.fastInterval(), ctx.Self(), fastTick{})
}

func (state *PollerActor) scheduleSlowTick(ctx actor.Context, delay time.Duration) {
	if state.slowCancel != nil {
		state.slowCancel()
	}
	state.slowCancel = state.scheduler.RequestOnce(delay, ctx.Self(), slowTick{})
}

func (state *PollerActor) scheduleReconnect(ctx actor.Context, delay time.Duration) {
	if state.reconnectCancel != nil {
		state.reconnectCancel()
	}
	state.reconnectCancel = state.scheduler.RequestOnce(delay, ctx.Self(), reconnectTick{})
}

// suspendPolling stops both cycle chains; reconnection success starts
// fresh ones, so a downed link sends no hardware requests at all.
func (state *PollerActor) suspendPolling() {
	if state.fastCancel != nil {
		state.fastCancel()
		state.fastCancel = nil
	}
	if state.slowCancel != nil {
		state.slowCancel()
		state.slowCancel = nil
	}
}

func (state *PollerActor) cancelReconnect() {
	if state.reconnectCancel != nil {
		state.reconnectCancel()
		state.reconnectCancel = nil
	}
}

func (state *PollerActor) fastInterval() time.Duration {
	return time.Duration(state.config.Poll.FastIntervalSeconds) * time.Second
}

func (state *PollerActor) slowInterval() time.Duration {
	return time.Duration(state.config.Poll.SlowIntervalMinutes) * time.Minute
}

func (state *PollerActor) baseBackoff() time.Duration {
	return time.Duration(state.config.Poll.ReconnectBackoffSeconds) * time.Second
}

func (state *PollerActor) maxBackoff() time.Duration {
	return time.Duration(state.config.Poll.ReconnectBackoffMaxSecs) * time.Second
}
