package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	adactor "wisun2web/internal/adapter/actor"
	coreactor "wisun2web/internal/core/actor"
	"wisun2web/internal/util"
	"wisun2web/internal/util/actorutil"
	"wisun2web/pkg/skadapter"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor {
		return coreactor.NewMasterOfPuppetsActor(cfg, es, func() *adactor.MeterActor {
			return adactor.NewMeterActor(skadapter.NewMockMeterSource(nil), logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, logger)
	})
	masterPID, err := context.SpawnNamed(props, "master")
	require.NoError(t, err)

	// test config polls every second, let a couple of cycles run
	time.Sleep(3 * time.Second)

	httpServer := NewServer(cfg, context, masterPID, es)
	ts := httptest.NewServer(httpServer.Handler)

	return ts, func() {
		ts.Close()
		context.Stop(masterPID)
		as.Shutdown()
	}
}

func TestServerEndpoints(t *testing.T) {

	assert := assert.New(t)

	ts, teardown := newTestServer(t)
	defer teardown()

	// healthcheck
	resp, err := http.Get(ts.URL + "/healthcheck")
	require.NoError(t, err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// instant power
	resp, err = http.Get(ts.URL + "/api/power")
	require.NoError(t, err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	var power struct {
		PowerWatt int32 `json:"power_watt"`
		Stale     bool  `json:"stale"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&power))
	resp.Body.Close()
	assert.True(power.PowerWatt >= 0)
	assert.False(power.Stale)

	// cumulative energy
	resp, err = http.Get(ts.URL + "/api/energy")
	require.NoError(t, err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	var energy energyReadingDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&energy))
	resp.Body.Close()
	assert.True(energy.CumulativeKWh > 0)
	assert.Equal(0.1, energy.UnitKWh)

	// history with limit
	resp, err = http.Get(ts.URL + "/api/history?limit=2")
	require.NoError(t, err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	var history struct {
		Readings []instantReadingDTO `json:"readings"`
		Count    int                 `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	assert.Len(history.Readings, 2)
	assert.True(history.Count >= 2)

	// bad history limit
	resp, err = http.Get(ts.URL + "/api/history?limit=abc")
	require.NoError(t, err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// status
	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	var status statusDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(status.MockMode)
	assert.Equal("connected", status.LinkState)
	assert.NotNil(status.Connection.RSSI)

	// forced reconnect
	resp, err = http.Post(ts.URL+"/api/reconnect", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}

func TestServerPowerStream(t *testing.T) {

	assert := assert.New(t)

	ts, teardown := newTestServer(t)
	defer teardown()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/power"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// first frame is the initial snapshot, second one a live sample
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var frame powerStreamFrame
		require.NoError(t, conn.ReadJSON(&frame))
		assert.True(frame.Reading.PowerWatt >= 0)
		assert.NotEmpty(frame.LinkState)
	}
}
