package actor

import (
	"context"
	"fmt"
	"time"

	"wisun2web/internal/core/domain"
	"wisun2web/internal/util/actorutil"
	"wisun2web/pkg/skadapter"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	// a cold join can scan four times with escalating dwell times
	meterConnectTimeout = 5 * time.Minute
	instantReadTimeout  = 10 * time.Second
	energyReadTimeout   = 30 * time.Second
)

// MeterActor owns the MeterDataSource. Every hardware exchange flows
// through its mailbox, so the half-duplex link never sees two requests at
// once; while an exchange is in flight it stacks into a waiting state and
// stashes everything else.
type MeterActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	source   skadapter.MeterDataSource
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

type connectResult struct {
	err error
}

func NewMeterActor(source skadapter.MeterDataSource, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		source:   source,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		// the join sequence runs for minutes; do it off the mailbox and
		// re-enter with the outcome
		actorutil.NewBackgroundTaskNoError(ctx, func() *connectResult {
			return &connectResult{err: state.source.Connect(context.Background())}
		}).WithTimeout(meterConnectTimeout).Recover(func(err error) connectResult {
			return connectResult{err: err}
		}).PipeTo(ctx.Self())
	case connectResult:
		if msg.err != nil {
			// let the supervisor restart us with backoff
			state.logger.Error("meter@starting connect failed", zap.Error(msg.err))
			panic(msg.err)
		}
		state.logger.Info("meter@starting connected")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.source.Close()
	default:
		state.logger.Debug("meter@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "connected",
		})
	case domain.GetInstantReadingRequest:
		state.logger.Debug("meter@default GetInstantReadingRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getInstantReading),
			mapTaskResult[domain.GetInstantReadingResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetInstantReadingResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(instantReadTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetEnergyReadingRequest:
		state.logger.Debug("meter@default GetEnergyReadingRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getEnergyReading),
			mapTaskResult[domain.GetEnergyReadingResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetEnergyReadingResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(energyReadTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.ReconnectRequest:
		state.logger.Info("meter@default ReconnectRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.reconnect),
			mapTaskResult[domain.ReconnectResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ReconnectResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(meterConnectTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case *actor.Stopping:
		state.source.Close()
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.source.Close()
	default:
		state.logger.Debug("meter@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *MeterActor) getInstantReading() (*domain.GetInstantReadingResponse, error) {
	reading, err := a.source.GetInstantReading(context.Background())
	if err != nil {
		return nil, err
	}
	return &domain.GetInstantReadingResponse{
		Reading:    reading,
		Connection: a.source.GetConnectionInfo(),
	}, nil
}

func (a *MeterActor) getEnergyReading() (*domain.GetEnergyReadingResponse, error) {
	reading, err := a.source.GetEnergyReading(context.Background())
	if err != nil {
		return nil, err
	}
	return &domain.GetEnergyReadingResponse{
		Reading: reading,
	}, nil
}

func (a *MeterActor) reconnect() (*domain.ReconnectResponse, error) {
	if err := a.source.Reconnect(context.Background()); err != nil {
		return nil, err
	}
	return &domain.ReconnectResponse{}, nil
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
