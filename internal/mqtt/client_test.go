package mqtt

import (
	"testing"

	"wisun2web/internal/config"

	"github.com/stretchr/testify/assert"
)

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			Enable:    true,
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "wisun2web",
		},
	}
}

func TestTopicScheme(t *testing.T) {

	assert := assert.New(t)

	cfg := testConfig()
	client := CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)

	assert.Equal("wisun2web/bridge/state", client.BridgeStateTopic())
	assert.Equal("wisun2web/sensor/instant_power/state", client.SensorStateTopic("instant_power"))
	assert.Equal("wisun2web/binary_sensor/link_state/state", client.BinarySensorStateTopic("link_state"))
}

func TestOptsCarryLastWill(t *testing.T) {

	assert := assert.New(t)

	opts := OptsFromConfig(testConfig())

	assert.True(opts.WillEnabled)
	assert.Equal("wisun2web/bridge/state", opts.WillTopic)
	assert.Equal(MQTT_PAYLOAD_OFFLINE, string(opts.WillPayload))
	assert.True(opts.WillRetained)
}
