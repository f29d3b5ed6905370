package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "wisun2web/internal/adapter/actor"
	"wisun2web/internal/core/domain"
	"wisun2web/internal/util"
	"wisun2web/pkg/skadapter"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.MQTT.Enable = true
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, &es, func() *adactor.MeterActor {
			return adactor.NewMeterActor(skadapter.NewMockMeterSource(nil), logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(3 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	// live state queries route through to the poller
	res, err = context.RequestFuture(pid, domain.GetLiveStateRequest{HistoryLimit: 5}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	live, ok := res.(domain.GetLiveStateResponse)
	assert.True(t, ok)
	assert.True(t, live.LinkState.Usable())
	assert.NotNil(t, live.Instant)

	context.Stop(pid)

	as.Shutdown()
}
