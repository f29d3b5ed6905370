package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Serial: SerialConfig{Device: "/dev/ttyUSB0", BaudRate: 115200},
		BRoute: BRouteConfig{
			Id:       strings.Repeat("0", 32),
			Password: strings.Repeat("A", 12),
		},
		Poll: PollConfig{
			FastIntervalSeconds:     5,
			SlowIntervalMinutes:     30,
			DegradedThreshold:       3,
			DisconnectThreshold:     5,
			ReconnectBackoffSeconds: 5,
			ReconnectBackoffMaxSecs: 300,
		},
		Port: 8080,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, Validate(&cfg))
}

func TestValidateRequiresCredentialsUnlessMock(t *testing.T) {
	cfg := validConfig()
	cfg.BRoute.Id = "too_short"
	assert.Error(t, Validate(&cfg))

	cfg.Mock = true
	assert.NoError(t, Validate(&cfg), "mock mode needs no credentials")
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Poll.DisconnectThreshold = cfg.Poll.DegradedThreshold
	assert.Error(t, Validate(&cfg))
}

func TestValidateNormalizesBaseTopic(t *testing.T) {
	cfg := validConfig()
	cfg.MQTT = MQTTConfig{Enable: true, Host: "localhost", Port: 1883, BaseTopic: "WiSUN2Web"}
	assert.NoError(t, Validate(&cfg))
	assert.Equal(t, "wisun2web", cfg.MQTT.BaseTopic)

	cfg.MQTT.BaseTopic = "bad/topic"
	assert.Error(t, Validate(&cfg))
}

func TestHistoryCapacity(t *testing.T) {
	assert.Equal(t, 720, PollConfig{FastIntervalSeconds: 5}.HistoryCapacity())
	assert.Equal(t, 3600, PollConfig{FastIntervalSeconds: 1}.HistoryCapacity())
	assert.Equal(t, 1, PollConfig{}.HistoryCapacity())
}
